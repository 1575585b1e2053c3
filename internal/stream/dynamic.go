package stream

import (
	"fmt"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/diskfs/archive7/internal/btree"
	"github.com/diskfs/archive7/internal/cipher"
	"github.com/diskfs/archive7/internal/header"
	"github.com/diskfs/archive7/internal/pager"
)

// DynamicManager extends Manager with a registry of user (and
// non-reserved internal) streams, indexed by a B+Tree whose pages live
// in the reserved STREAM_INDEX stream.
type DynamicManager struct {
	*Manager

	mu      sync.Mutex
	index   *btree.Simple
	streams map[uuid.UUID]*Stream
}

// NewDynamicManager creates a fresh archive: metadata page, empty trash,
// and an empty STREAM_INDEX tree.
func NewDynamicManager(p *pager.Pager, key cipher.Key, h header.Header) (*DynamicManager, error) {
	m, err := NewManager(p, key, h)
	if err != nil {
		return nil, err
	}
	desc, err := m.Descriptor(StreamIndex)
	if err != nil {
		return nil, err
	}
	idxStream := newStream(m, desc)
	idx, err := btree.CreateSimple(NewPages(idxStream), DescriptorSlotSize)
	if err != nil {
		return nil, fmt.Errorf("stream: creating stream index: %w", err)
	}
	if err := m.SetDescriptor(StreamIndex, idxStream.Descriptor()); err != nil {
		return nil, err
	}
	return &DynamicManager{
		Manager: m,
		index:   idx,
		streams: make(map[uuid.UUID]*Stream),
	}, nil
}

// OpenDynamicManager loads an existing archive's metadata page, trash,
// and STREAM_INDEX tree.
func OpenDynamicManager(p *pager.Pager, key cipher.Key) (*DynamicManager, error) {
	m, err := OpenManager(p, key)
	if err != nil {
		return nil, err
	}
	desc, err := m.Descriptor(StreamIndex)
	if err != nil {
		return nil, err
	}
	idxStream := newStream(m, desc)
	idx, err := btree.OpenSimple(NewPages(idxStream))
	if err != nil {
		return nil, fmt.Errorf("stream: opening stream index: %w", err)
	}
	return &DynamicManager{
		Manager: m,
		index:   idx,
		streams: make(map[uuid.UUID]*Stream),
	}, nil
}

func reservedSlot(id uuid.UUID) (int, bool) {
	for i := 0; i < SpecialStreamCount; i++ {
		if ReservedStreamID(i) == id {
			return i, true
		}
	}
	return 0, false
}

// NewStream allocates a fresh, empty, registered stream and returns its id.
func (dm *DynamicManager) NewStream(compression uint16) (uuid.UUID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	id := uuid.NewV4()
	desc := NewDescriptor(id)
	desc.Compression = compression
	if err := dm.index.Insert(id, desc.ToBytes()[:DescriptorSlotSize]); err != nil {
		return uuid.UUID{}, fmt.Errorf("stream: registering stream %s: %w", id, err)
	}
	return id, nil
}

// OpenStream loads id's descriptor and registers a live Stream for it.
// It fails with ErrAlreadyOpen while id is still open.
func (dm *DynamicManager) OpenStream(id uuid.UUID) (*Stream, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.openStreamLocked(id)
}

// CloseStream saves the stream's hot block, persists its descriptor, and
// releases it from the open-stream registry.
func (dm *DynamicManager) CloseStream(id uuid.UUID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.closeStreamLocked(id)
}

func (dm *DynamicManager) closeStreamLocked(id uuid.UUID) error {
	s, ok := dm.streams[id]
	if !ok {
		return nil
	}
	if err := s.Save(false); err != nil {
		return err
	}
	if err := dm.persistDescriptor(id, s.Descriptor()); err != nil {
		return err
	}
	delete(dm.streams, id)
	return nil
}

func (dm *DynamicManager) persistDescriptor(id uuid.UUID, desc Descriptor) error {
	if slot, reserved := reservedSlot(id); reserved {
		return dm.Manager.SetDescriptor(slot, desc)
	}
	return dm.index.Update(id, desc.ToBytes()[:DescriptorSlotSize])
}

// DelStream truncates id's stream to zero length (recycling every
// block), removes it from the STREAM_INDEX, and unregisters it.
func (dm *DynamicManager) DelStream(id uuid.UUID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	s, ok := dm.streams[id]
	if !ok {
		var err error
		s, err = dm.openStreamLocked(id)
		if err != nil {
			return err
		}
	}
	popped, err := s.Truncate(0)
	if err != nil {
		return err
	}
	for _, blk := range popped {
		if err := dm.Manager.Recycle(blk); err != nil {
			return err
		}
	}
	delete(dm.streams, id)
	if _, reserved := reservedSlot(id); !reserved {
		if err := dm.index.Delete(id); err != nil {
			return err
		}
	}
	return nil
}

func (dm *DynamicManager) openStreamLocked(id uuid.UUID) (*Stream, error) {
	if _, ok := dm.streams[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, id)
	}
	var desc Descriptor
	if slot, reserved := reservedSlot(id); reserved {
		d, err := dm.Manager.Descriptor(slot)
		if err != nil {
			return nil, err
		}
		desc = d
	} else {
		raw, found, err := dm.index.Get(id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStream, id)
		}
		desc, err = DescriptorFromBytes(raw)
		if err != nil {
			return nil, err
		}
	}
	s := newStream(dm.Manager, desc)
	dm.streams[id] = s
	return s, nil
}

// AllDescriptors returns the descriptors of every reserved stream plus
// every registered user stream, for accounting passes that need to walk
// the whole archive (e.g. Fsck's page reachability check).
func (dm *DynamicManager) AllDescriptors() ([]Descriptor, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var out []Descriptor
	for i := 0; i < SpecialStreamCount; i++ {
		if s, ok := dm.streams[ReservedStreamID(i)]; ok {
			out = append(out, s.Descriptor())
			continue
		}
		d, err := dm.Manager.Descriptor(i)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	var iterErr error
	err := dm.index.Iterate(func(_ uuid.UUID, value []byte) bool {
		d, err := DescriptorFromBytes(value)
		if err != nil {
			iterErr = err
			return false
		}
		if s, ok := dm.streams[d.Identity]; ok {
			d = s.Descriptor()
		}
		out = append(out, d)
		return true
	})
	if err != nil {
		return nil, err
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return out, nil
}

// Close closes every still-open stream, then the underlying manager.
func (dm *DynamicManager) Close() error {
	dm.mu.Lock()
	for id := range dm.streams {
		if err := dm.closeStreamLocked(id); err != nil {
			dm.mu.Unlock()
			return err
		}
	}
	dm.mu.Unlock()
	return dm.Manager.Close()
}
