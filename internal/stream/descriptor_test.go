package stream

import (
	"testing"

	uuid "github.com/satori/go.uuid"

	"github.com/diskfs/archive7/internal/block"
)

func TestDescriptorRoundTrip(t *testing.T) {
	d := Descriptor{
		Identity:    uuid.NewV4(),
		Begin:       3,
		End:         9,
		Count:       4,
		Length:      123456,
		Compression: CompressionLZ4,
	}
	raw := d.ToBytes()
	if len(raw) != DescriptorSlotSize {
		t.Fatalf("ToBytes length = %d, want %d", len(raw), DescriptorSlotSize)
	}

	got, err := DescriptorFromBytes(raw)
	if err != nil {
		t.Fatalf("DescriptorFromBytes: %v", err)
	}
	if got != d {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, d)
	}
}

func TestNewDescriptorIsEmpty(t *testing.T) {
	d := NewDescriptor(uuid.NewV4())
	if !d.Empty() {
		t.Fatal("a freshly created descriptor should be Empty")
	}
	if d.Begin != block.None || d.End != block.None {
		t.Fatalf("fresh descriptor should have no links: %+v", d)
	}
}

func TestReservedStreamIDsAreDistinct(t *testing.T) {
	ids := make(map[uuid.UUID]bool)
	for i := 0; i < SpecialStreamCount; i++ {
		id := ReservedStreamID(i)
		if ids[id] {
			t.Fatalf("reserved stream id %d collides with an earlier one", i)
		}
		ids[id] = true
	}
}
