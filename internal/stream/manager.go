package stream

import (
	"fmt"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/diskfs/archive7/internal/block"
	"github.com/diskfs/archive7/internal/cipher"
	"github.com/diskfs/archive7/internal/header"
	"github.com/diskfs/archive7/internal/pager"
)

// Manager is the fixed-multi stream manager: it owns the pager and the
// cipher, keeps the decrypted metadata block (header plus reserved
// stream descriptors) in memory, and maintains a single recyclable
// free-block stack (the trash stream). All operations assume a single
// writer, per the archive's concurrency model; one mutex guards the
// metadata block accessors, while block I/O itself takes no lock.
type Manager struct {
	mu    sync.Mutex
	pager *pager.Pager
	key   cipher.Key
	meta  *metaBlock
	trash *Stream
}

// NewManager creates a fresh archive: it initializes the metadata page,
// writes h as the archive header, and brings up an empty trash stream.
func NewManager(p *pager.Pager, key cipher.Key, h header.Header) (*Manager, error) {
	meta, err := initMeta(p, key)
	if err != nil {
		return nil, err
	}
	if err := meta.setHeader(h); err != nil {
		return nil, err
	}
	for i := 0; i < SpecialStreamCount; i++ {
		meta.setDescriptor(i, NewDescriptor(ReservedStreamID(i)))
	}
	if err := meta.save(p, key); err != nil {
		return nil, err
	}
	m := &Manager{pager: p, key: key, meta: meta}
	desc, err := meta.descriptor(StreamTrash)
	if err != nil {
		return nil, err
	}
	m.trash = newStream(m, desc)
	return m, nil
}

// OpenManager loads an existing archive's metadata page and trash stream.
func OpenManager(p *pager.Pager, key cipher.Key) (*Manager, error) {
	meta, err := loadMeta(p, key)
	if err != nil {
		return nil, err
	}
	m := &Manager{pager: p, key: key, meta: meta}
	desc, err := meta.descriptor(StreamTrash)
	if err != nil {
		return nil, err
	}
	m.trash = newStream(m, desc)
	return m, nil
}

// Header returns the parsed archive header.
func (m *Manager) Header() (header.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta.header()
}

// Descriptor reads reserved internal stream slot i.
func (m *Manager) Descriptor(i int) (Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta.descriptor(i)
}

// SetDescriptor writes reserved internal stream slot i and persists the metadata page.
func (m *Manager) SetDescriptor(i int, d Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta.setDescriptor(i, d)
	return m.meta.save(m.pager, m.key)
}

// PageCount returns the total number of pages currently allocated in
// the host file, including pages on the trash stream's free list.
func (m *Manager) PageCount() int32 {
	return m.pager.Count()
}

// WalkChain loads every block in desc's chain, head to tail, calling fn
// with each page index. It stops early if fn returns false. Unlike a
// Stream cursor, it does no caching or dirty-tracking: it is meant for
// read-only accounting passes such as Fsck.
func (m *Manager) WalkChain(desc Descriptor, fn func(idx int32) bool) error {
	idx := desc.Begin
	for idx != block.None {
		blk, err := m.loadBlock(idx)
		if err != nil {
			return err
		}
		if !fn(idx) {
			return nil
		}
		idx = blk.Next
	}
	return nil
}

// Lock and Unlock expose the manager's single outer mutex so higher
// layers (streams spanning multiple manager calls, the filesystem
// manager) can serialize a whole compound operation.
func (m *Manager) Lock()   { m.mu.Lock() }
func (m *Manager) Unlock() { m.mu.Unlock() }

// --- blockStore implementation, also used directly by callers ---

// NewBlock returns a block ready for use: recycled from the trash stream
// if one is available, otherwise a freshly appended all-zero page.
func (m *Manager) NewBlock() (*block.Block, error) {
	return m.newBlock()
}

func (m *Manager) newBlock() (*block.Block, error) {
	blk, err := m.reuse()
	if err != nil {
		return nil, err
	}
	if blk != nil {
		page := blk.Page
		*blk = *block.New(page, uuid.Nil, 0)
		return blk, nil
	}
	return m.appendZeroBlock()
}

func (m *Manager) appendZeroBlock() (*block.Block, error) {
	idx := m.pager.Count()
	blk := block.New(idx, uuid.Nil, 0)
	raw := blk.ToBytes()
	ciphertext, err := cipher.Seal(m.key, raw)
	if err != nil {
		return nil, fmt.Errorf("stream: sealing new block: %w", err)
	}
	got, err := m.pager.Append(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if got != idx {
		return nil, fmt.Errorf("%w: expected page %d, pager returned %d", ErrWrite, idx, got)
	}
	return blk, nil
}

// LoadBlock reads, decrypts, and parses the block at page idx.
func (m *Manager) LoadBlock(idx int32) (*block.Block, error) {
	return m.loadBlock(idx)
}

func (m *Manager) loadBlock(idx int32) (*block.Block, error) {
	raw, err := m.pager.Read(idx)
	if err != nil {
		return nil, err
	}
	plain, err := cipher.Open(m.key, raw)
	if err != nil {
		return nil, fmt.Errorf("stream: decrypting page %d: %w", idx, err)
	}
	return block.FromBytes(idx, plain)
}

// SaveBlock encrypts and writes blk at idx, refusing if idx does not
// match the block's own page.
func (m *Manager) SaveBlock(idx int32, blk *block.Block) error {
	if idx != blk.Page {
		return fmt.Errorf("%w: save target %d, block page %d", ErrMismatch, idx, blk.Page)
	}
	return m.saveBlock(blk)
}

func (m *Manager) saveBlock(blk *block.Block) error {
	blk.UpdateDigest()
	raw := blk.ToBytes()
	ciphertext, err := cipher.Seal(m.key, raw)
	if err != nil {
		return fmt.Errorf("stream: sealing page %d: %w", blk.Page, err)
	}
	return m.pager.Write(blk.Page, ciphertext)
}

// Recycle pushes blk onto the trash stream's free-block stack.
func (m *Manager) Recycle(blk *block.Block) error {
	if err := m.trash.Push(blk); err != nil {
		return err
	}
	return m.SetDescriptor(StreamTrash, m.trash.Descriptor())
}

// reuse pops a block off the trash stream, or returns (nil, nil) if empty.
func (m *Manager) reuse() (*block.Block, error) {
	if m.trash.Count() == 0 {
		return nil, nil
	}
	var blk *block.Block
	if m.trash.Count() == 1 {
		// Pop refuses the sole block; Truncate(0) empties the stream instead.
		popped, err := m.trash.Truncate(0)
		if err != nil {
			return nil, err
		}
		blk = popped[0]
	} else {
		var err error
		if blk, err = m.trash.Pop(); err != nil {
			return nil, err
		}
	}
	if err := m.SetDescriptor(StreamTrash, m.trash.Descriptor()); err != nil {
		return nil, err
	}
	return blk, nil
}

// Close saves the trash descriptor and metadata page, fsyncs, and
// releases the host-file lock.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta.setDescriptor(StreamTrash, m.trash.Descriptor())
	if err := m.meta.save(m.pager, m.key); err != nil {
		return err
	}
	return m.pager.Close()
}
