package stream

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"path/filepath"
	"testing"

	uuid "github.com/satori/go.uuid"

	"github.com/diskfs/archive7/internal/block"
	"github.com/diskfs/archive7/internal/cipher"
	"github.com/diskfs/archive7/internal/header"
	"github.com/diskfs/archive7/internal/pager"
)

func testKey(t *testing.T) cipher.Key {
	t.Helper()
	raw := make([]byte, cipher.KeySize)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("generating key: %v", err)
	}
	k, err := cipher.NewKey(raw)
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	return k
}

func newFreshArchive(t *testing.T) (*DynamicManager, string) {
	dm, path, _ := newFreshArchiveWithKey(t)
	return dm, path
}

func newFreshArchiveWithKey(t *testing.T) (*DynamicManager, string, cipher.Key) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.archive7")
	p, err := pager.Open(path, true)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	key := testKey(t)
	h := header.New(uuid.NewV4(), uuid.NewV4(), uuid.NewV4(), uuid.NewV4(), "test")
	dm, err := NewDynamicManager(p, key, h)
	if err != nil {
		t.Fatalf("NewDynamicManager: %v", err)
	}
	return dm, path, key
}

func TestFileWriteReadSingleBlock(t *testing.T) {
	dm, _ := newFreshArchive(t)
	defer dm.Close()

	id, err := dm.NewStream(CompressionNone)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	f, err := OpenFile(dm, id)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	payload := []byte("hello, archive")
	if _, err := f.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(f, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read back %q, want %q", got, payload)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFileCrossesBlockBoundary(t *testing.T) {
	dm, _ := newFreshArchive(t)
	defer dm.Close()

	id, err := dm.NewStream(CompressionNone)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	f, err := OpenFile(dm, id)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	// spans from inside the first block across the 4020-byte boundary
	payload := make([]byte, block.DataSize+1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := f.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if f.Descriptor().Count != 2 {
		t.Fatalf("expected 2 blocks, got %d", f.Descriptor().Count)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(f, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("cross-block read does not match what was written")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSeekBeyondEndIsNoop(t *testing.T) {
	dm, _ := newFreshArchive(t)
	defer dm.Close()

	id, err := dm.NewStream(CompressionNone)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	f, err := OpenFile(dm, id)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	before := f.Position()
	pos, err := f.Seek(1000, io.SeekStart)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pos != before {
		t.Fatalf("Seek past EOF moved the cursor: got %d, want unchanged %d", pos, before)
	}
}

func TestTruncateRecyclesBlocksForReuse(t *testing.T) {
	dm, _ := newFreshArchive(t)
	defer dm.Close()

	id, err := dm.NewStream(CompressionNone)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	f, err := OpenFile(dm, id)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	payload := make([]byte, block.DataSize*3)
	if _, err := f.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Truncate(0); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	before := dm.PageCount()
	id2, err := dm.NewStream(CompressionNone)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	f2, err := OpenFile(dm, id2)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f2.Write(make([]byte, block.DataSize)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	after := dm.PageCount()
	if after != before {
		t.Fatalf("expected a recycled trash block to be reused (page count %d -> %d)", before, after)
	}
}

func TestReopenPreservesData(t *testing.T) {
	dm, path, key := newFreshArchiveWithKey(t)
	id, err := dm.NewStream(CompressionNone)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	f, err := OpenFile(dm, id)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	payload := []byte("persisted across reopen")
	if _, err := f.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := dm.Close(); err != nil {
		t.Fatalf("Close manager: %v", err)
	}

	p2, err := pager.Open(path, false)
	if err != nil {
		t.Fatalf("reopening pager: %v", err)
	}
	dm2, err := OpenDynamicManager(p2, key)
	if err != nil {
		t.Fatalf("OpenDynamicManager: %v", err)
	}
	defer dm2.Close()

	f2, err := OpenFile(dm2, id)
	if err != nil {
		t.Fatalf("OpenFile after reopen: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(f2, got); err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reopened data = %q, want %q", got, payload)
	}
}

// TestOpenStreamTwiceFails exercises the already-open guard: a second
// handle onto a still-open stream must fail rather than silently share
// the first handle's cursor and dirty state.
func TestOpenStreamTwiceFails(t *testing.T) {
	dm, _ := newFreshArchive(t)
	defer dm.Close()

	id, err := dm.NewStream(CompressionNone)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	f, err := OpenFile(dm, id)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	if _, err := OpenFile(dm, id); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("second concurrent OpenFile error = %v, want ErrAlreadyOpen", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	f2, err := OpenFile(dm, id)
	if err != nil {
		t.Fatalf("OpenFile after first handle closed: %v", err)
	}
	if err := f2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestFileCompressedRoundTrip exercises the lz4 buffer path: a
// compressed file's bytes go through CompressBytes/DecompressBytes
// transparently to Read/Write/Seek/Truncate callers.
func TestFileCompressedRoundTrip(t *testing.T) {
	dm, _ := newFreshArchive(t)
	defer dm.Close()

	id, err := dm.NewStream(CompressionLZ4)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	f, err := OpenFile(dm, id)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	payload := bytes.Repeat([]byte("archive7 compressed payload "), 200)
	if _, err := f.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f2, err := OpenFile(dm, id)
	if err != nil {
		t.Fatalf("OpenFile after close: %v", err)
	}
	defer f2.Close()

	if f2.Descriptor().Length >= uint64(len(payload)) {
		t.Fatalf("on-disk length %d should be smaller than the uncompressed payload %d", f2.Descriptor().Length, len(payload))
	}

	got := make([]byte, len(payload))
	if _, err := io.ReadFull(f2, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("decompressed read does not match what was written")
	}
}
