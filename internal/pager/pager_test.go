package pager

import (
	"bytes"
	"path/filepath"
	"testing"
)

func page(b byte) []byte {
	return bytes.Repeat([]byte{b}, PageSize)
}

func TestAppendReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.bin")
	p, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	if p.Count() != 0 {
		t.Fatalf("fresh pager Count = %d, want 0", p.Count())
	}

	idx, err := p.Append(page(0xaa))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if idx != 0 {
		t.Fatalf("first Append index = %d, want 0", idx)
	}
	if p.Count() != 1 {
		t.Fatalf("Count after Append = %d, want 1", p.Count())
	}

	got, err := p.Read(0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, page(0xaa)) {
		t.Fatal("read back mismatch")
	}

	if err := p.Write(0, page(0xbb)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err = p.Read(0)
	if err != nil {
		t.Fatalf("Read after Write: %v", err)
	}
	if !bytes.Equal(got, page(0xbb)) {
		t.Fatal("read back after write mismatch")
	}

	if _, err := p.Read(5); err == nil {
		t.Fatal("expected ErrBounds reading an out-of-range page")
	}
}

func TestOpenRejectsConcurrentLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.bin")
	p1, err := Open(path, true)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	defer p1.Close()

	if _, err := Open(path, false); err == nil {
		t.Fatal("expected ErrLocked on a second concurrent Open")
	}
}

func TestMetaReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.bin")
	p, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	if _, err := p.Meta(page(0x42)); err != nil {
		t.Fatalf("writing meta: %v", err)
	}
	got, err := p.Meta()
	if err != nil {
		t.Fatalf("reading meta: %v", err)
	}
	if !bytes.Equal(got, page(0x42)) {
		t.Fatal("meta prologue round trip mismatch")
	}
}
