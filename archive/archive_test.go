package archive

import (
	"bytes"
	"crypto/rand"
	"io"
	"path/filepath"
	"testing"

	uuid "github.com/satori/go.uuid"

	"github.com/diskfs/archive7/internal/cipher"
	"github.com/diskfs/archive7/internal/fsmgr"
)

func testKey(t *testing.T) cipher.Key {
	t.Helper()
	raw := make([]byte, cipher.KeySize)
	rand.Read(raw)
	k, err := cipher.NewKey(raw)
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	return k
}

func TestSetupMkdirCreateReadWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.archive7")
	key := testKey(t)

	a, err := Setup(path, key, Options{Owner: uuid.NewV4(), Node: uuid.NewV4(), Title: "test archive"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if _, err := a.Mkdir("/docs"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := a.Create("/docs/readme.txt", 0o644, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	f, err := a.OpenFile("/docs/readme.txt")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	payload := []byte("hello, world")
	if _, err := f.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close file: %v", err)
	}

	f2, err := a.OpenFile("/docs/readme.txt")
	if err != nil {
		t.Fatalf("OpenFile second time: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(f2, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read back %q, want %q", got, payload)
	}
	f2.Close()

	children, err := a.List("/docs")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(children) != 1 || children[0].Name != "readme.txt" {
		t.Fatalf("List = %+v", children)
	}

	stats, err := a.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Title != "test archive" {
		t.Fatalf("stats.Title = %q", stats.Title)
	}
	if stats.Major != 2 || stats.Minor != 0 {
		t.Fatalf("stats version = %d.%d, want 2.0", stats.Major, stats.Minor)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRenameMoveRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "b.archive7")
	key := testKey(t)

	a, err := Setup(path, key, Options{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer a.Close()

	if _, err := a.Mkdir("/one"); err != nil {
		t.Fatalf("Mkdir one: %v", err)
	}
	if _, err := a.Mkdir("/two"); err != nil {
		t.Fatalf("Mkdir two: %v", err)
	}
	if _, err := a.Create("/one/file.txt", 0o644, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := a.Rename("/one/file.txt", "renamed.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := a.Move("/one/renamed.txt", "/two"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := a.Stat("/two/renamed.txt"); err != nil {
		t.Fatalf("Stat after move: %v", err)
	}

	if err := a.Remove("/two/renamed.txt", fsmgr.DeleteErase); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := a.Stat("/two/renamed.txt"); err == nil {
		t.Fatal("removed entry should no longer resolve")
	}
}

func TestFsckCleanOnFreshArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.archive7")
	key := testKey(t)

	a, err := Setup(path, key, Options{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer a.Close()

	if _, err := a.Mkdir("/x"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := a.Create("/x/y", 0o644, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	report, err := a.Fsck()
	if err != nil {
		t.Fatalf("Fsck: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected a clean report, got %+v", report)
	}
}
