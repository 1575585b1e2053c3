package stream

import (
	"fmt"

	"github.com/diskfs/archive7/internal/block"
)

// blockStore is the minimal block-allocation surface a Stream needs from
// its owning manager.
type blockStore interface {
	newBlock() (*block.Block, error)
	loadBlock(idx int32) (*block.Block, error)
	saveBlock(blk *block.Block) error
}

// Stream is a cursor over one chain of blocks: the current "hot" block,
// whether it has unsaved changes, and the stream's descriptor.
type Stream struct {
	store   blockStore
	desc    Descriptor
	hot     *block.Block
	changed bool
}

func newStream(store blockStore, desc Descriptor) *Stream {
	return &Stream{store: store, desc: desc}
}

// Descriptor returns the stream's current persisted-shape descriptor.
func (s *Stream) Descriptor() Descriptor { return s.desc }

// Length returns the stream's logical byte length.
func (s *Stream) Length() uint64 { return s.desc.Length }

// SetLength updates the descriptor's logical byte length.
func (s *Stream) SetLength(n uint64) { s.desc.Length = n }

// Count returns the number of blocks in the chain.
func (s *Stream) Count() uint32 { return s.desc.Count }

// Hot returns the current block the cursor sits on, loading the head
// block first if nothing has been loaded yet.
func (s *Stream) Hot() (*block.Block, error) {
	if s.hot != nil {
		return s.hot, nil
	}
	if s.desc.Count == 0 {
		return nil, nil
	}
	blk, err := s.store.loadBlock(s.desc.Begin)
	if err != nil {
		return nil, err
	}
	s.hot = blk
	return blk, nil
}

// MarkDirty flags the hot block as needing a save before it is replaced.
func (s *Stream) MarkDirty() { s.changed = true }

// Save writes the hot block back if it is dirty, or unconditionally if force is true.
func (s *Stream) Save(force bool) error {
	if s.hot == nil || (!s.changed && !force) {
		return nil
	}
	s.hot.UpdateDigest()
	if err := s.store.saveBlock(s.hot); err != nil {
		return err
	}
	s.changed = false
	return nil
}

// Next advances the cursor to the hot block's successor. It reports
// false without error if already at the tail.
func (s *Stream) Next() (bool, error) {
	hot, err := s.Hot()
	if err != nil {
		return false, err
	}
	if hot == nil || hot.Next == block.None {
		return false, nil
	}
	if err := s.Save(false); err != nil {
		return false, err
	}
	next, err := s.store.loadBlock(hot.Next)
	if err != nil {
		return false, err
	}
	s.hot = next
	return true, nil
}

// Previous retreats the cursor to the hot block's predecessor.
func (s *Stream) Previous() (bool, error) {
	hot, err := s.Hot()
	if err != nil {
		return false, err
	}
	if hot == nil || hot.Previous == block.None {
		return false, nil
	}
	if err := s.Save(false); err != nil {
		return false, err
	}
	prev, err := s.store.loadBlock(hot.Previous)
	if err != nil {
		return false, err
	}
	s.hot = prev
	return true, nil
}

// End winds the cursor to the tail block.
func (s *Stream) End() error {
	if s.desc.Count == 0 {
		return nil
	}
	if err := s.Save(false); err != nil {
		return err
	}
	blk, err := s.store.loadBlock(s.desc.End)
	if err != nil {
		return err
	}
	s.hot = blk
	return nil
}

// Wind moves the cursor to the block at the given zero-based index,
// following links forward or backward from wherever it currently sits.
func (s *Stream) Wind(index uint32) error {
	if index >= s.desc.Count {
		return fmt.Errorf("%w: index %d (count %d)", ErrBounds, index, s.desc.Count)
	}
	hot, err := s.Hot()
	if err != nil {
		return err
	}
	if hot == nil {
		return fmt.Errorf("%w: empty stream", ErrBounds)
	}
	for hot.Index != index {
		if hot.Index < index {
			if _, err := s.Next(); err != nil {
				return err
			}
		} else {
			if _, err := s.Previous(); err != nil {
				return err
			}
		}
		hot, err = s.Hot()
		if err != nil {
			return err
		}
	}
	return nil
}

// Extend appends a newly allocated block after the tail. It is only
// valid when the hot block is the stream's current tail (or the stream
// is empty).
func (s *Stream) Extend() error {
	if s.desc.Count > 0 {
		hot, err := s.Hot()
		if err != nil {
			return err
		}
		if hot == nil || !hot.IsTail() {
			return ErrNotTail
		}
	}
	blk, err := s.store.newBlock()
	if err != nil {
		return err
	}
	return s.Push(blk)
}

// Push appends an already-allocated block as the new tail, relinking it
// into this stream's chain and updating the descriptor.
func (s *Stream) Push(blk *block.Block) error {
	if err := s.Save(false); err != nil {
		return err
	}
	blk.Stream = s.desc.Identity
	blk.Index = s.desc.Count
	blk.Next = block.None
	blk.Previous = block.None

	if s.desc.Count == 0 {
		s.desc.Begin = blk.Page
	} else {
		prev, err := s.store.loadBlock(s.desc.End)
		if err != nil {
			return err
		}
		prev.Next = blk.Page
		prev.UpdateDigest()
		if err := s.store.saveBlock(prev); err != nil {
			return err
		}
		blk.Previous = prev.Page
	}
	blk.UpdateDigest()
	if err := s.store.saveBlock(blk); err != nil {
		return err
	}

	s.desc.End = blk.Page
	s.desc.Count++
	s.hot = blk
	s.changed = false
	return nil
}

// Pop removes and returns the tail block, shrinking the chain by one. It
// fails if only one block remains.
func (s *Stream) Pop() (*block.Block, error) {
	if s.desc.Count <= 1 {
		return nil, ErrSinglePage
	}
	if err := s.End(); err != nil {
		return nil, err
	}
	tail := s.hot

	newTail, err := s.store.loadBlock(tail.Previous)
	if err != nil {
		return nil, err
	}
	newTail.Next = block.None
	newTail.UpdateDigest()
	if err := s.store.saveBlock(newTail); err != nil {
		return nil, err
	}

	s.desc.End = newTail.Page
	s.desc.Count--
	s.hot = newTail
	s.changed = false
	return tail, nil
}

// Truncate shrinks the stream so at most length bytes remain addressable,
// popping whole tail blocks as needed and updating the descriptor's byte
// length. Popped blocks are returned to the caller for recycling.
func (s *Stream) Truncate(length uint64) ([]*block.Block, error) {
	var popped []*block.Block
	wantBlocks := uint32(0)
	if length > 0 {
		wantBlocks = uint32((length-1)/block.DataSize) + 1
	}
	for s.desc.Count > wantBlocks && s.desc.Count > 0 {
		if s.desc.Count == 1 {
			// Dropping the last block empties the stream entirely; handle
			// it directly since Pop refuses to remove the sole block.
			blk, err := s.Hot()
			if err != nil {
				return popped, err
			}
			popped = append(popped, blk)
			s.desc.Begin = block.None
			s.desc.End = block.None
			s.desc.Count = 0
			s.hot = nil
			s.changed = false
			break
		}
		blk, err := s.Pop()
		if err != nil {
			return popped, err
		}
		popped = append(popped, blk)
	}
	s.desc.Length = length
	return popped, nil
}
