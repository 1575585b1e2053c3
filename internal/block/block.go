// Package block implements the archive's plaintext block framing: the
// fixed-size record that the stream layer chains together to form byte
// streams, and that the cipher layer seals one-to-one onto disk pages.
package block

import (
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"

	uuid "github.com/satori/go.uuid"
)

const (
	// DataSize is the number of plaintext bytes available for payload in
	// a single block.
	DataSize = 4020

	headerSize   = 4 + 4 + 4 + 16 + 20
	digestSize   = 20
	// Size is the total plaintext size of a block record (header + data).
	Size = headerSize + DataSize

	// None marks an absent previous/next link.
	None int32 = -1
)

// ErrDigest is returned when a loaded block's digest does not match its data.
var ErrDigest = errors.New("block: digest mismatch")

// ErrSelfLink is returned when previous or next would point at the block itself.
var ErrSelfLink = errors.New("block: self-referential link")

// Block is the in-memory record for a single plaintext page payload.
type Block struct {
	Page     int32 // page index this block occupies (pager-relative)
	Previous int32
	Next     int32
	Index    uint32
	Stream   uuid.UUID
	Digest   [digestSize]byte
	Data     [DataSize]byte
}

// New returns a zeroed block for the given page, stream and index.
func New(page int32, stream uuid.UUID, index uint32) *Block {
	b := &Block{
		Page:     page,
		Previous: None,
		Next:     None,
		Index:    index,
		Stream:   stream,
	}
	b.UpdateDigest()
	return b
}

// UpdateDigest recomputes Digest from Data. Call after any mutation of Data.
func (b *Block) UpdateDigest() {
	b.Digest = sha1.Sum(b.Data[:])
}

// VerifyDigest reports whether the stored digest matches the data.
func (b *Block) VerifyDigest() bool {
	return sha1.Sum(b.Data[:]) == b.Digest
}

// VerifyLinks reports whether previous/next do not self-reference this page.
func (b *Block) VerifyLinks() bool {
	return b.Previous != b.Page && b.Next != b.Page
}

// ToBytes serializes the block to its Size-byte plaintext representation.
func (b *Block) ToBytes() []byte {
	out := make([]byte, Size)
	binary.BigEndian.PutUint32(out[0:4], uint32(b.Previous))
	binary.BigEndian.PutUint32(out[4:8], uint32(b.Next))
	binary.BigEndian.PutUint32(out[8:12], b.Index)
	copy(out[12:28], b.Stream.Bytes())
	copy(out[28:48], b.Digest[:])
	copy(out[48:], b.Data[:])
	return out
}

// FromBytes parses a Size-byte plaintext block at the given page index. It
// verifies the digest and link invariants.
func FromBytes(page int32, raw []byte) (*Block, error) {
	if len(raw) != Size {
		return nil, fmt.Errorf("block: expected %d bytes, got %d", Size, len(raw))
	}
	b := &Block{Page: page}
	b.Previous = int32(binary.BigEndian.Uint32(raw[0:4]))
	b.Next = int32(binary.BigEndian.Uint32(raw[4:8]))
	b.Index = binary.BigEndian.Uint32(raw[8:12])
	streamID, err := uuid.FromBytes(raw[12:28])
	if err != nil {
		return nil, fmt.Errorf("block: parsing stream uuid: %w", err)
	}
	b.Stream = streamID
	copy(b.Digest[:], raw[28:48])
	copy(b.Data[:], raw[48:])

	if !b.VerifyDigest() {
		return nil, fmt.Errorf("block: page %d: %w", page, ErrDigest)
	}
	if !b.VerifyLinks() {
		return nil, fmt.Errorf("block: page %d: %w", page, ErrSelfLink)
	}
	return b, nil
}

// IsHead reports whether this is the first block of its stream.
func (b *Block) IsHead() bool { return b.Previous == None }

// IsTail reports whether this is the last block of its stream.
func (b *Block) IsTail() bool { return b.Next == None }
