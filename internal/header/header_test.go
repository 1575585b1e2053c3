package header

import (
	"testing"

	uuid "github.com/satori/go.uuid"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := New(uuid.NewV4(), uuid.NewV4(), uuid.NewV4(), uuid.NewV4(), "my archive")
	raw, err := h.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	if len(raw) != Size {
		t.Fatalf("ToBytes length = %d, want %d", len(raw), Size)
	}

	got, err := FromBytes(raw)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if got.ID != h.ID || got.Owner != h.Owner || got.Domain != h.Domain || got.Node != h.Node {
		t.Fatalf("round trip id mismatch: got %+v, want %+v", got, h)
	}
	if got.Title != h.Title {
		t.Fatalf("round trip title = %q, want %q", got.Title, h.Title)
	}
	if got.Created != h.Created {
		t.Fatalf("round trip created = %d, want %d", got.Created, h.Created)
	}
	if got.Major != MajorVersion || got.Minor != MinorVersion {
		t.Fatalf("round trip version = %d.%d, want %d.%d", got.Major, got.Minor, MajorVersion, MinorVersion)
	}
}

func TestFromBytesRejectsBadMagic(t *testing.T) {
	h := New(uuid.NewV4(), uuid.NewV4(), uuid.NewV4(), uuid.NewV4(), "")
	raw, err := h.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	raw[0] = 'x'
	if _, err := FromBytes(raw); err == nil {
		t.Fatal("expected a bad-magic error")
	}
}

func TestToBytesRejectsOverlongTitle(t *testing.T) {
	long := make([]byte, titleLen+1)
	for i := range long {
		long[i] = 'a'
	}
	h := New(uuid.NewV4(), uuid.NewV4(), uuid.NewV4(), uuid.NewV4(), string(long))
	if _, err := h.ToBytes(); err == nil {
		t.Fatal("expected an overlong-title error")
	}
}
