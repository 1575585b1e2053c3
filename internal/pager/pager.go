// Package pager implements raw, positional page I/O over a single host
// file: a reserved metadata prologue followed by a sequence of
// fixed-size encrypted pages. The pager knows nothing about what a page
// contains; it only moves bytes and enforces the file's shape.
package pager

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/diskfs/archive7/internal/cipher"
)

// PlaintextSize is the size in bytes of one block's plaintext payload
// (block header + data), fixed by the block layer's framing.
const PlaintextSize = 4068

// PageSize is the on-disk size of one encrypted page: plaintext plus the
// cipher's fixed framing overhead.
const PageSize = PlaintextSize + cipher.Overhead

// MetaSize is the size in bytes of the reserved metadata prologue at the
// start of the file. It is encrypted the same way as a regular page.
const MetaSize = PageSize

var (
	// ErrLocked is returned when the host file is already locked by
	// another process.
	ErrLocked = errors.New("pager: host file is locked by another process")
	// ErrFormat is returned when the file length is not a whole number
	// of pages beyond the metadata prologue.
	ErrFormat = errors.New("pager: file length does not align to page size")
	// ErrBounds is returned for an out-of-range page index.
	ErrBounds = errors.New("pager: page index out of bounds")
	// ErrShortWrite is returned when a write does not complete in full.
	ErrShortWrite = errors.New("pager: short write")
)

// Pager owns the host file handle, its exclusive lock, and raw page
// addressing. Page indexes are zero-based and exclude the metadata
// prologue.
type Pager struct {
	file  *os.File
	count int64 // number of pages currently present
}

// Open opens an existing archive file, taking a non-blocking exclusive
// lock. create, when true, permits the file to not yet exist and
// initializes a zeroed metadata prologue.
func Open(path string, create bool) (*Pager, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("pager: opening %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrLocked, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pager: stat %s: %w", path, err)
	}

	size := info.Size()
	if size == 0 && create {
		if err := initMeta(f); err != nil {
			f.Close()
			return nil, err
		}
		size = MetaSize
	}
	if size < MetaSize || (size-MetaSize)%PageSize != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: length %d", ErrFormat, size)
	}

	return &Pager{file: f, count: (size - MetaSize) / PageSize}, nil
}

func initMeta(f *os.File) error {
	zero := make([]byte, MetaSize)
	n, err := f.WriteAt(zero, 0)
	if err != nil {
		return fmt.Errorf("pager: initializing metadata prologue: %w", err)
	}
	if n != MetaSize {
		return ErrShortWrite
	}
	return f.Sync()
}

// Count returns the number of pages currently allocated.
func (p *Pager) Count() int32 { return int32(p.count) }

func (p *Pager) offset(idx int32) (int64, error) {
	if idx < 0 || int64(idx) >= p.count {
		return 0, fmt.Errorf("%w: %d (have %d)", ErrBounds, idx, p.count)
	}
	return MetaSize + int64(idx)*PageSize, nil
}

// Read returns the raw PageSize bytes stored at page idx.
func (p *Pager) Read(idx int32) ([]byte, error) {
	off, err := p.offset(idx)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("pager: reading page %d: %w", idx, err)
	}
	return buf, nil
}

// Write stores raw (exactly PageSize bytes) at page idx and fsyncs.
func (p *Pager) Write(idx int32, raw []byte) error {
	if len(raw) != PageSize {
		return fmt.Errorf("pager: write payload must be %d bytes, got %d", PageSize, len(raw))
	}
	off, err := p.offset(idx)
	if err != nil {
		return err
	}
	n, err := p.file.WriteAt(raw, off)
	if err != nil {
		return fmt.Errorf("pager: writing page %d: %w", idx, err)
	}
	if n != len(raw) {
		return fmt.Errorf("%w: page %d", ErrShortWrite, idx)
	}
	return p.file.Sync()
}

// Append writes raw as a brand-new page at the end of the file, growing
// Count by one, and returns its index.
func (p *Pager) Append(raw []byte) (int32, error) {
	if len(raw) != PageSize {
		return 0, fmt.Errorf("pager: append payload must be %d bytes, got %d", PageSize, len(raw))
	}
	idx := int32(p.count)
	off := MetaSize + int64(idx)*PageSize
	n, err := p.file.WriteAt(raw, off)
	if err != nil {
		return 0, fmt.Errorf("pager: appending page: %w", err)
	}
	if n != len(raw) {
		return 0, fmt.Errorf("%w: append", ErrShortWrite)
	}
	if err := p.file.Sync(); err != nil {
		return 0, fmt.Errorf("pager: syncing after append: %w", err)
	}
	p.count++
	return idx, nil
}

// Meta reads (len(b)==0) or writes (len(b)>0) the raw metadata prologue.
// Meta([]byte) with a non-empty argument replaces the prologue contents;
// it must be exactly MetaSize bytes.
func (p *Pager) Meta(b ...[]byte) ([]byte, error) {
	if len(b) == 0 || b[0] == nil {
		buf := make([]byte, MetaSize)
		if _, err := p.file.ReadAt(buf, 0); err != nil {
			return nil, fmt.Errorf("pager: reading metadata prologue: %w", err)
		}
		return buf, nil
	}
	raw := b[0]
	if len(raw) != MetaSize {
		return nil, fmt.Errorf("pager: metadata prologue must be %d bytes, got %d", MetaSize, len(raw))
	}
	n, err := p.file.WriteAt(raw, 0)
	if err != nil {
		return nil, fmt.Errorf("pager: writing metadata prologue: %w", err)
	}
	if n != len(raw) {
		return nil, fmt.Errorf("%w: metadata prologue", ErrShortWrite)
	}
	return raw, p.file.Sync()
}

// Close fsyncs and releases the host-file lock.
func (p *Pager) Close() error {
	syncErr := p.file.Sync()
	unlockErr := unix.Flock(int(p.file.Fd()), unix.LOCK_UN)
	closeErr := p.file.Close()
	switch {
	case syncErr != nil:
		return fmt.Errorf("pager: sync on close: %w", syncErr)
	case unlockErr != nil:
		return fmt.Errorf("pager: unlock on close: %w", unlockErr)
	case closeErr != nil:
		return fmt.Errorf("pager: close: %w", closeErr)
	}
	return nil
}
