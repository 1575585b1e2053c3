package query

import (
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/diskfs/archive7/internal/cipher"
	"github.com/diskfs/archive7/internal/fsmgr"
	"github.com/diskfs/archive7/internal/header"
	"github.com/diskfs/archive7/internal/pager"
	"github.com/diskfs/archive7/internal/stream"
)

func newTestFS(t *testing.T) *fsmgr.Manager {
	t.Helper()
	dir := t.TempDir()
	p, err := pager.Open(filepath.Join(dir, "q.archive7"), true)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	raw := make([]byte, cipher.KeySize)
	rand.Read(raw)
	key, err := cipher.NewKey(raw)
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	h := header.New(uuid.NewV4(), uuid.NewV4(), uuid.NewV4(), uuid.NewV4(), "query test")
	dm, err := stream.NewDynamicManager(p, key, h)
	if err != nil {
		t.Fatalf("NewDynamicManager: %v", err)
	}
	fs, err := fsmgr.New(dm, time.Now().Unix())
	if err != nil {
		t.Fatalf("fsmgr.New: %v", err)
	}
	return fs
}

func TestGlobMatchesNames(t *testing.T) {
	fs := newTestFS(t)
	now := time.Now().Unix()

	if _, err := fs.CreateEntry(fsmgr.RootID, "report.txt", fsmgr.Entry{Type: fsmgr.TypeFile}, now); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if _, err := fs.CreateEntry(fsmgr.RootID, "report.csv", fsmgr.Entry{Type: fsmgr.TypeFile}, now); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if _, err := fs.CreateEntry(fsmgr.RootID, "notes.md", fsmgr.Entry{Type: fsmgr.TypeFile}, now); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}

	q := Query{Root: fsmgr.RootID, Glob: "report.*"}
	entries, _, err := q.Run(fs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d matches, want 2: %+v", len(entries), entries)
	}
}

func TestFilterByDeleted(t *testing.T) {
	fs := newTestFS(t)
	now := time.Now().Unix()

	a, err := fs.CreateEntry(fsmgr.RootID, "a.txt", fsmgr.Entry{Type: fsmgr.TypeFile}, now)
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if _, err := fs.CreateEntry(fsmgr.RootID, "b.txt", fsmgr.Entry{Type: fsmgr.TypeFile}, now); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if err := fs.DeleteEntry(a.ID, fsmgr.DeleteSoft); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}

	q := Query{
		Root: fsmgr.RootID,
		Glob: "*",
		Filters: []Filter{
			{Field: "deleted", Op: OpEq, Value: true},
		},
	}
	entries, _, err := q.Run(fs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Fatalf("got %+v, want only a.txt", entries)
	}
}
