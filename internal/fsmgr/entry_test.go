package fsmgr

import (
	"testing"

	"github.com/go-test/deep"
	uuid "github.com/satori/go.uuid"
)

func TestEntryRoundTrip(t *testing.T) {
	e := Entry{
		Type:        TypeFile,
		ID:          uuid.NewV4(),
		Parent:      uuid.NewV4(),
		Owner:       uuid.NewV4(),
		Stream:      uuid.NewV4(),
		Created:     1111,
		Modified:    2222,
		Size:        333,
		Length:      444,
		Compression: 1,
		Deleted:     true,
		Name:        "notes.txt",
		User:        "alice",
		Group:       "staff",
		Perms:       0o640,
	}
	raw, err := e.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	if len(raw) != EntrySize {
		t.Fatalf("ToBytes length = %d, want %d", len(raw), EntrySize)
	}

	got, err := EntryFromBytes(raw)
	if err != nil {
		t.Fatalf("EntryFromBytes: %v", err)
	}
	if diff := deep.Equal(got, e); diff != nil {
		t.Fatalf("round trip mismatch: %v", diff)
	}
}

func TestEntryRejectsOverlongName(t *testing.T) {
	long := make([]byte, maxNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	e := Entry{Name: string(long)}
	if _, err := e.ToBytes(); err == nil {
		t.Fatal("expected an overlong-name error")
	}
}

func TestLinkEntryRoundTrip(t *testing.T) {
	e := Entry{
		Type:   TypeLink,
		ID:     uuid.NewV4(),
		Parent: uuid.NewV4(),
		Name:   "shortcut",
		Target: "/docs/readme.txt",
		Perms:  0o777,
	}
	raw, err := e.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	got, err := EntryFromBytes(raw)
	if err != nil {
		t.Fatalf("EntryFromBytes: %v", err)
	}
	if diff := deep.Equal(got, e); diff != nil {
		t.Fatalf("round trip mismatch: %v", diff)
	}
}

func TestEntryRejectsOverlongTarget(t *testing.T) {
	long := make([]byte, maxTargetLen+1)
	for i := range long {
		long[i] = 'a'
	}
	e := Entry{Type: TypeLink, Target: string(long)}
	if _, err := e.ToBytes(); err == nil {
		t.Fatal("expected an overlong-target error")
	}
}
