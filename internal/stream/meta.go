package stream

import (
	"fmt"

	uuid "github.com/satori/go.uuid"

	"github.com/diskfs/archive7/internal/block"
	"github.com/diskfs/archive7/internal/cipher"
	"github.com/diskfs/archive7/internal/header"
	"github.com/diskfs/archive7/internal/pager"
)

// metaPageMarker is the sentinel Page value used for the metadata
// prologue's block framing. It is distinct from block.None (-1, a
// legitimate "no link" value) so the block layer's self-link check never
// false-positives on an untouched previous/next pair.
const metaPageMarker int32 = -2

// descriptorAreaStart is the byte offset, within the metadata block's
// Data payload, where the reserved internal-stream descriptors begin.
const descriptorAreaStart = block.DataSize - DescriptorSlotSize*SpecialStreamCount

// metaBlock is the archive's single metadata page: an ordinary block
// whose Data payload holds the archive header at offset 0 and the
// reserved internal-stream descriptors packed at the tail.
type metaBlock struct {
	blk *block.Block
}

func loadMeta(p *pager.Pager, key cipher.Key) (*metaBlock, error) {
	raw, err := p.Meta()
	if err != nil {
		return nil, err
	}
	plain, err := cipher.Open(key, raw)
	if err != nil {
		return nil, fmt.Errorf("stream: decrypting metadata page: %w", err)
	}
	blk, err := block.FromBytes(metaPageMarker, plain)
	if err != nil {
		return nil, fmt.Errorf("stream: parsing metadata page: %w", err)
	}
	return &metaBlock{blk: blk}, nil
}

func initMeta(p *pager.Pager, key cipher.Key) (*metaBlock, error) {
	blk := block.New(metaPageMarker, uuid.Nil, 0)
	m := &metaBlock{blk: blk}
	if err := m.save(p, key); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metaBlock) save(p *pager.Pager, key cipher.Key) error {
	m.blk.UpdateDigest()
	plain := m.blk.ToBytes()
	ciphertext, err := cipher.Seal(key, plain)
	if err != nil {
		return fmt.Errorf("stream: sealing metadata page: %w", err)
	}
	if _, err := p.Meta(ciphertext); err != nil {
		return err
	}
	return nil
}

func (m *metaBlock) header() (header.Header, error) {
	return header.FromBytes(m.blk.Data[:])
}

func (m *metaBlock) setHeader(h header.Header) error {
	b, err := h.ToBytes()
	if err != nil {
		return err
	}
	copy(m.blk.Data[0:header.Size], b)
	return nil
}

func (m *metaBlock) descriptor(i int) (Descriptor, error) {
	off := descriptorAreaStart + i*DescriptorSlotSize
	return DescriptorFromBytes(m.blk.Data[off : off+DescriptorSlotSize])
}

func (m *metaBlock) setDescriptor(i int, d Descriptor) {
	off := descriptorAreaStart + i*DescriptorSlotSize
	copy(m.blk.Data[off:off+DescriptorSlotSize], d.ToBytes())
}
