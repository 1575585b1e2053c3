package stream

import (
	"encoding/binary"
	"fmt"

	uuid "github.com/satori/go.uuid"

	"github.com/diskfs/archive7/internal/block"
	"github.com/diskfs/archive7/internal/idutil"
)

// DescriptorSlotSize is the reserved on-disk stride per stream descriptor
// inside the metadata page. The packed fields below occupy the first
// descriptorPackedSize bytes of each slot; the remainder is zero padding
// reserved for future descriptor fields.
const DescriptorSlotSize = 56

const descriptorPackedSize = 16 + 4 + 4 + 4 + 8 + 2 // 38

// SpecialStreamCount is the number of reserved internal stream ids.
const SpecialStreamCount = 5

// Reserved internal stream indexes, in the order their descriptors are
// packed into the metadata page.
const (
	StreamTrash = iota
	StreamIndex
	StreamEntries
	StreamPaths
	StreamListings
)

// ReservedStreamID returns the fixed uuid for reserved internal stream i.
func ReservedStreamID(i int) uuid.UUID {
	return idutil.FromInt(i)
}

// Descriptor is the persisted state of one stream: its head/tail pages,
// block count, logical byte length, and compression selector.
type Descriptor struct {
	Identity    uuid.UUID
	Begin       int32
	End         int32
	Count       uint32
	Length      uint64
	Compression uint16
}

// NewDescriptor returns an empty descriptor for a freshly created stream.
func NewDescriptor(id uuid.UUID) Descriptor {
	return Descriptor{Identity: id, Begin: block.None, End: block.None}
}

// ToBytes packs d into a DescriptorSlotSize-byte slot.
func (d Descriptor) ToBytes() []byte {
	buf := make([]byte, DescriptorSlotSize)
	copy(buf[0:16], d.Identity.Bytes())
	binary.BigEndian.PutUint32(buf[16:20], uint32(d.Begin))
	binary.BigEndian.PutUint32(buf[20:24], uint32(d.End))
	binary.BigEndian.PutUint32(buf[24:28], d.Count)
	binary.BigEndian.PutUint64(buf[28:36], d.Length)
	binary.BigEndian.PutUint16(buf[36:38], d.Compression)
	return buf
}

// DescriptorFromBytes unpacks a descriptor from a DescriptorSlotSize-byte slot.
func DescriptorFromBytes(raw []byte) (Descriptor, error) {
	var d Descriptor
	if len(raw) < descriptorPackedSize {
		return d, fmt.Errorf("stream: descriptor slot too short: %d bytes", len(raw))
	}
	id, err := uuid.FromBytes(raw[0:16])
	if err != nil {
		return d, fmt.Errorf("stream: parsing descriptor identity: %w", err)
	}
	d.Identity = id
	d.Begin = int32(binary.BigEndian.Uint32(raw[16:20]))
	d.End = int32(binary.BigEndian.Uint32(raw[20:24]))
	d.Count = binary.BigEndian.Uint32(raw[24:28])
	d.Length = binary.BigEndian.Uint64(raw[28:36])
	d.Compression = binary.BigEndian.Uint16(raw[36:38])
	return d, nil
}

// Empty reports whether the descriptor describes a zero-block stream.
func (d Descriptor) Empty() bool {
	return d.Count == 0
}
