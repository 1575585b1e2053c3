package stream

import (
	"fmt"
)

// Pages adapts a Stream into the generic page-store interface the
// B+Tree package expects: one tree page per block in the chain,
// addressed by the block's Index.
type Pages struct {
	s *Stream
}

// NewPages wraps s so its blocks can serve as B+Tree pages.
func NewPages(s *Stream) *Pages { return &Pages{s: s} }

// ReadPage returns the Data payload of the block at chain position index.
func (p *Pages) ReadPage(index int32) ([]byte, error) {
	if err := p.s.Wind(uint32(index)); err != nil {
		return nil, err
	}
	hot, err := p.s.Hot()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(hot.Data))
	copy(out, hot.Data[:])
	return out, nil
}

// WritePage overwrites the Data payload of the block at chain position index.
func (p *Pages) WritePage(index int32, data []byte) error {
	if err := p.s.Wind(uint32(index)); err != nil {
		return err
	}
	hot, err := p.s.Hot()
	if err != nil {
		return err
	}
	if len(data) != len(hot.Data) {
		return fmt.Errorf("stream: tree page must be %d bytes, got %d", len(hot.Data), len(data))
	}
	copy(hot.Data[:], data)
	p.s.MarkDirty()
	return p.s.Save(false)
}

// AppendPage extends the chain with a new block holding data and returns
// its chain position.
func (p *Pages) AppendPage(data []byte) (int32, error) {
	if p.s.Count() > 0 {
		if err := p.s.End(); err != nil {
			return 0, err
		}
	}
	if err := p.s.Extend(); err != nil {
		return 0, err
	}
	hot, err := p.s.Hot()
	if err != nil {
		return 0, err
	}
	if len(data) != len(hot.Data) {
		return 0, fmt.Errorf("stream: tree page must be %d bytes, got %d", len(hot.Data), len(data))
	}
	copy(hot.Data[:], data)
	p.s.MarkDirty()
	if err := p.s.Save(true); err != nil {
		return 0, err
	}
	return int32(hot.Index), nil
}

// PageCount returns the number of blocks (pages) in the chain.
func (p *Pages) PageCount() int32 { return int32(p.s.Count()) }

// Underlying returns the wrapped Stream, e.g. so a caller can Save/Close it.
func (p *Pages) Underlying() *Stream { return p.s }
