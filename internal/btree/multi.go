package btree

import (
	"bytes"
	"fmt"

	uuid "github.com/satori/go.uuid"
)

// Multi is a B+Tree holding a set of fixed-size items per key, spilled
// into an overflow chain of Items pages when more than one page's worth
// accumulates.
type Multi struct {
	t            *Tree
	itemSize     int
	itemsPerPage int
}

// CreateMulti initializes a brand-new multi tree over store, with items
// of itemSize bytes each (e.g. 16 for raw uuid listing entries).
func CreateMulti(store PageStore, itemSize uint32) (*Multi, error) {
	t, err := create(store, MetaMulti, itemSize)
	if err != nil {
		return nil, err
	}
	return newMulti(t), nil
}

// OpenMulti loads an existing multi tree from store.
func OpenMulti(store PageStore) (*Multi, error) {
	t, err := open(store, MetaMulti)
	if err != nil {
		return nil, err
	}
	return newMulti(t), nil
}

func newMulti(t *Tree) *Multi {
	itemSize := int(t.valueSize)
	return &Multi{
		t:            t,
		itemSize:     itemSize,
		itemsPerPage: (PageSize - headerSize) / itemSize,
	}
}

// Get returns the items stored for key, in chain order.
func (m *Multi) Get(key uuid.UUID) ([][]byte, bool, error) {
	leafIdx, _, err := m.t.search(key)
	if err != nil {
		return nil, false, err
	}
	leaf, err := m.t.readNode(leafIdx)
	if err != nil {
		return nil, false, err
	}
	i, found := findRecord(leaf.records, key)
	if !found {
		return nil, false, nil
	}
	items, err := m.readChain(leaf.records[i].page)
	if err != nil {
		return nil, false, err
	}
	return items, true, nil
}

// InsertEmpty creates a new record for key with zero items (used, e.g.,
// to create a directory's empty listing set).
func (m *Multi) InsertEmpty(key uuid.UUID) error {
	return m.insertRecord(key, -1, 0)
}

func (m *Multi) insertRecord(key uuid.UUID, head int32, count uint32) error {
	leafIdx, path, err := m.t.search(key)
	if err != nil {
		return err
	}
	leaf, err := m.t.readNode(leafIdx)
	if err != nil {
		return err
	}
	i, found := findRecord(leaf.records, key)
	if found {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}

	rec := record{page: head, key: key, count: count}
	recs := append([]record{}, leaf.records[:i]...)
	recs = append(recs, rec)
	recs = append(recs, leaf.records[i:]...)
	leaf.records = recs

	if uint32(len(recs)) <= m.t.order {
		return m.t.writeNode(leafIdx, leaf)
	}
	wasStart := leaf.kind == KindStart
	rightIdx, promoted, err := m.t.splitLeaf(leafIdx, leaf)
	if err != nil {
		return err
	}
	if wasStart {
		return nil
	}
	return m.t.insertReference(path, reference{before: leafIdx, after: rightIdx, key: promoted})
}

// Update replaces key's item set with (existing items ∪ insertions) \
// deletions, recycling the old overflow chain and building a fresh one
// in a single pass, per spec §4.5.
func (m *Multi) Update(key uuid.UUID, insertions, deletions [][]byte) error {
	leafIdx, _, err := m.t.search(key)
	if err != nil {
		return err
	}
	leaf, err := m.t.readNode(leafIdx)
	if err != nil {
		return err
	}
	i, found := findRecord(leaf.records, key)
	if !found {
		return fmt.Errorf("btree: update: %w: %s", errNotFound, key)
	}
	existing, err := m.readChain(leaf.records[i].page)
	if err != nil {
		return err
	}
	oldHead := leaf.records[i].page

	merged := make([][]byte, 0, len(existing)+len(insertions))
	merged = append(merged, existing...)
	merged = append(merged, insertions...)
	final := merged[:0]
	for _, it := range merged {
		if !containsItem(deletions, it) {
			final = append(final, it)
		}
	}

	newHead, err := m.writeChain(final)
	if err != nil {
		return err
	}
	if err := m.unlinkChain(oldHead); err != nil {
		return err
	}

	leaf.records[i].page = newHead
	leaf.records[i].count = uint32(len(final))
	return m.t.writeNode(leafIdx, leaf)
}

// Delete removes key's record entirely, unlinking and recycling its
// overflow chain first. No leaf rebalancing is performed, matching
// Simple.Delete.
func (m *Multi) Delete(key uuid.UUID) error {
	leafIdx, _, err := m.t.search(key)
	if err != nil {
		return err
	}
	leaf, err := m.t.readNode(leafIdx)
	if err != nil {
		return err
	}
	i, found := findRecord(leaf.records, key)
	if !found {
		return fmt.Errorf("btree: delete: %w: %s", errNotFound, key)
	}
	if err := m.unlinkChain(leaf.records[i].page); err != nil {
		return err
	}
	leaf.records = append(leaf.records[:i], leaf.records[i+1:]...)
	return m.t.writeNode(leafIdx, leaf)
}

// Iterate calls fn for every key and its item set in ascending key order.
func (m *Multi) Iterate(fn func(key uuid.UUID, items [][]byte) bool) error {
	return m.t.walkLeaves(func(n *node) (bool, error) {
		for _, rec := range n.records {
			items, err := m.readChain(rec.page)
			if err != nil {
				return false, err
			}
			if !fn(rec.key, items) {
				return false, nil
			}
		}
		return true, nil
	})
}

func (m *Multi) readChain(head int32) ([][]byte, error) {
	if head == -1 {
		return nil, nil
	}
	var items [][]byte
	idx := head
	for idx != -1 {
		n, err := m.t.readNode(idx)
		if err != nil {
			return nil, err
		}
		items = append(items, n.items...)
		idx = n.next
	}
	return items, nil
}

func (m *Multi) unlinkChain(head int32) error {
	idx := head
	for idx != -1 {
		n, err := m.t.readNode(idx)
		if err != nil {
			return err
		}
		next := n.next
		if err := m.t.recyclePage(idx); err != nil {
			return err
		}
		idx = next
	}
	return nil
}

// writeChain packs items into a freshly allocated chain of Items pages
// and returns the head page index (-1 if items is empty).
func (m *Multi) writeChain(items [][]byte) (int32, error) {
	if len(items) == 0 {
		return -1, nil
	}
	n := (len(items) + m.itemsPerPage - 1) / m.itemsPerPage
	indexes := make([]int32, n)
	for i := 0; i < n; i++ {
		idx, err := m.t.allocPage()
		if err != nil {
			return 0, err
		}
		indexes[i] = idx
	}
	for i := 0; i < n; i++ {
		off := i * m.itemsPerPage
		end := off + m.itemsPerPage
		if end > len(items) {
			end = len(items)
		}
		next := int32(-1)
		if i+1 < n {
			next = indexes[i+1]
		}
		chunk := &node{kind: KindItems, next: next, items: items[off:end]}
		if err := m.t.writeNode(indexes[i], chunk); err != nil {
			return 0, err
		}
	}
	return indexes[0], nil
}

func containsItem(set [][]byte, item []byte) bool {
	for _, s := range set {
		if bytes.Equal(s, item) {
			return true
		}
	}
	return false
}
