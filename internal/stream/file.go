package stream

import (
	"fmt"
	"io"

	uuid "github.com/satori/go.uuid"

	"github.com/diskfs/archive7/internal/block"
)

// File is a byte-cursor view over a stream's block chain: seek, read,
// write and truncate in terms of absolute byte offsets rather than block
// indexes.
//
// When the underlying stream's descriptor selects a compression codec,
// the block chain holds the *compressed* bytes and File instead serves
// Read/Write/Seek/Truncate against an in-memory decompressed copy,
// decoded once on open and re-encoded once on close: lz4's frame format
// is sequential, so it cannot be read or written at an arbitrary block
// offset the way the plain, uncompressed path does.
type File struct {
	dm       *DynamicManager
	id       uuid.UUID
	s        *Stream
	position int64
	dynamic  bool

	compression uint16
	buf         []byte
	bufDirty    bool
}

// OpenFile opens id's stream (creating its first block lazily on first
// write) and returns a byte-cursor File over it. If the stream's
// descriptor selects a compression codec, its on-disk bytes are
// decompressed into memory immediately.
func OpenFile(dm *DynamicManager, id uuid.UUID) (*File, error) {
	s, err := dm.OpenStream(id)
	if err != nil {
		return nil, err
	}
	f := &File{dm: dm, id: id, s: s, dynamic: true, compression: s.Descriptor().Compression}
	if f.compression != CompressionNone {
		raw := make([]byte, s.Length())
		var pos int64
		if _, err := readChain(s, &pos, raw); err != nil && err != io.EOF {
			return nil, err
		}
		buf, err := DecompressBytes(f.compression, raw)
		if err != nil {
			return nil, fmt.Errorf("stream: decompressing %s on open: %w", id, err)
		}
		f.buf = buf
	}
	return f, nil
}

// Descriptor returns the underlying stream's current descriptor.
func (f *File) Descriptor() Descriptor { return f.s.Descriptor() }

// Position returns the current byte cursor.
func (f *File) Position() int64 { return f.position }

func (f *File) logicalLength() int64 {
	if f.compression != CompressionNone {
		return int64(len(f.buf))
	}
	return int64(f.s.Length())
}

// Read copies up to len(b) bytes starting at the cursor, advancing it.
// It returns (0, io.EOF) at end of stream.
func (f *File) Read(b []byte) (int, error) {
	if f.compression != CompressionNone {
		if f.position >= int64(len(f.buf)) {
			return 0, io.EOF
		}
		n := copy(b, f.buf[f.position:])
		f.position += int64(n)
		return n, nil
	}
	n, err := readChain(f.s, &f.position, b)
	return n, err
}

// readChain reads raw bytes directly from s's block chain starting at
// *pos, advancing *pos as it goes. It is the block-level read primitive
// shared by plain files and by OpenFile's one-time decode of a
// compressed file's on-disk bytes.
func readChain(s *Stream, pos *int64, b []byte) (int, error) {
	length := int64(s.Length())
	if *pos >= length {
		return 0, io.EOF
	}
	total := 0
	for total < len(b) && *pos < length {
		blockIdx := uint32(*pos / block.DataSize)
		within := int(*pos % block.DataSize)
		if err := s.Wind(blockIdx); err != nil {
			return total, err
		}
		hot, err := s.Hot()
		if err != nil {
			return total, err
		}
		avail := block.DataSize - within
		remaining := int(length - *pos)
		if remaining < avail {
			avail = remaining
		}
		want := len(b) - total
		if want < avail {
			avail = want
		}
		copy(b[total:total+avail], hot.Data[within:within+avail])
		total += avail
		*pos += int64(avail)
	}
	return total, nil
}

// Write copies all of p into the stream starting at the cursor,
// extending the block chain as needed and growing the stream's logical
// length when writing past the current end.
func (f *File) Write(p []byte) (int, error) {
	if f.compression != CompressionNone {
		end := f.position + int64(len(p))
		if end > int64(len(f.buf)) {
			grown := make([]byte, end)
			copy(grown, f.buf)
			f.buf = grown
		}
		copy(f.buf[f.position:end], p)
		f.position = end
		f.bufDirty = true
		return len(p), nil
	}
	return writeChain(f.s, &f.position, p)
}

// writeChain writes raw bytes directly into s's block chain starting at
// *pos, extending the chain as needed and advancing *pos. It is the
// block-level write primitive shared by plain files and by Close's
// one-time encode of a compressed file's buffered content.
func writeChain(s *Stream, pos *int64, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		blockIdx := uint32(*pos / block.DataSize)
		within := int(*pos % block.DataSize)

		if blockIdx >= s.Count() {
			if err := extendChain(s, blockIdx); err != nil {
				return total, err
			}
		}
		if err := s.Wind(blockIdx); err != nil {
			return total, err
		}
		hot, err := s.Hot()
		if err != nil {
			return total, err
		}
		room := block.DataSize - within
		n := len(p) - total
		if n > room {
			n = room
		}
		copy(hot.Data[within:within+n], p[total:total+n])
		s.MarkDirty()
		total += n
		*pos += int64(n)
		if uint64(*pos) > s.Length() {
			s.SetLength(uint64(*pos))
		}
	}
	return total, nil
}

// extendChain grows s's chain with zeroed blocks until it has at least
// blockIdx+1 blocks.
func extendChain(s *Stream, blockIdx uint32) error {
	if s.Count() > 0 {
		if err := s.End(); err != nil {
			return err
		}
	}
	for s.Count() <= blockIdx {
		if err := s.Extend(); err != nil {
			return fmt.Errorf("%w: %v", ErrNoSpace, err)
		}
	}
	return nil
}

// Seek whence semantics mirror io.Seeker. Seeking beyond EOF leaves the
// cursor unchanged, matching the stream layer's soft-failure policy.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	length := f.logicalLength()
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = f.position + offset
	case io.SeekEnd:
		target = length + offset
	default:
		return f.position, fmt.Errorf("stream: invalid whence %d", whence)
	}
	if target < 0 || target > length {
		return f.position, nil
	}
	if f.compression == CompressionNone && target > 0 {
		blockIdx := uint32((target - 1) / block.DataSize)
		if err := f.s.Wind(blockIdx); err != nil {
			return f.position, nil
		}
	}
	f.position = target
	return f.position, nil
}

// Truncate resizes the stream to size bytes (or the current cursor
// position if size is negative), recycling any freed blocks.
func (f *File) Truncate(size int64) error {
	if size < 0 {
		size = f.position
	}
	if f.compression != CompressionNone {
		if size > int64(len(f.buf)) {
			grown := make([]byte, size)
			copy(grown, f.buf)
			f.buf = grown
		} else {
			f.buf = f.buf[:size]
		}
		f.bufDirty = true
		if f.position > size {
			f.position = size
		}
		return nil
	}
	popped, err := f.s.Truncate(uint64(size))
	if err != nil {
		return err
	}
	for _, blk := range popped {
		if err := f.dm.Manager.Recycle(blk); err != nil {
			return err
		}
	}
	if f.position > size {
		f.position = size
	}
	return nil
}

// flushCompressed re-encodes the in-memory buffer and rewrites it over
// the stream's block chain, replacing whatever compressed bytes were
// there before.
func (f *File) flushCompressed() error {
	compressed, err := CompressBytes(f.compression, f.buf)
	if err != nil {
		return fmt.Errorf("stream: compressing %s on close: %w", f.id, err)
	}
	popped, err := f.s.Truncate(0)
	if err != nil {
		return err
	}
	for _, blk := range popped {
		if err := f.dm.Manager.Recycle(blk); err != nil {
			return err
		}
	}
	var pos int64
	if _, err := writeChain(f.s, &pos, compressed); err != nil {
		return err
	}
	f.bufDirty = false
	return nil
}

// Close saves the hot block and, for dynamic (non-reserved) streams,
// releases the stream back to the manager, persisting its descriptor.
// For a compressed file with unflushed writes, the buffered content is
// re-encoded and written back to the block chain first.
func (f *File) Close() error {
	if f.compression != CompressionNone && f.bufDirty {
		if err := f.flushCompressed(); err != nil {
			return err
		}
	}
	if f.dynamic {
		return f.dm.CloseStream(f.id)
	}
	return f.s.Save(false)
}
