package btree

import (
	"fmt"

	uuid "github.com/satori/go.uuid"
)

// Simple is a B+Tree holding exactly one fixed-size value per key.
type Simple struct {
	t *Tree
}

// CreateSimple initializes a brand-new simple tree over store.
func CreateSimple(store PageStore, valueSize uint32) (*Simple, error) {
	t, err := create(store, MetaSimple, valueSize)
	if err != nil {
		return nil, err
	}
	return &Simple{t: t}, nil
}

// OpenSimple loads an existing simple tree from store.
func OpenSimple(store PageStore) (*Simple, error) {
	t, err := open(store, MetaSimple)
	if err != nil {
		return nil, err
	}
	return &Simple{t: t}, nil
}

// Get returns the value stored for key, or (nil, false) if absent.
func (s *Simple) Get(key uuid.UUID) ([]byte, bool, error) {
	leafIdx, _, err := s.t.search(key)
	if err != nil {
		return nil, false, err
	}
	leaf, err := s.t.readNode(leafIdx)
	if err != nil {
		return nil, false, err
	}
	i, found := findRecord(leaf.records, key)
	if !found {
		return nil, false, nil
	}
	return leaf.records[i].value, true, nil
}

// Insert adds key -> value. It fails with ErrDuplicate if key already exists.
func (s *Simple) Insert(key uuid.UUID, value []byte) error {
	if uint32(len(value)) != s.t.valueSize {
		return fmt.Errorf("btree: value must be %d bytes, got %d", s.t.valueSize, len(value))
	}
	leafIdx, path, err := s.t.search(key)
	if err != nil {
		return err
	}
	leaf, err := s.t.readNode(leafIdx)
	if err != nil {
		return err
	}
	i, found := findRecord(leaf.records, key)
	if found {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}

	rec := record{page: -1, key: key, value: append([]byte(nil), value...)}
	recs := append([]record{}, leaf.records[:i]...)
	recs = append(recs, rec)
	recs = append(recs, leaf.records[i:]...)
	leaf.records = recs

	if uint32(len(recs)) <= s.t.order {
		return s.t.writeNode(leafIdx, leaf)
	}

	wasStart := leaf.kind == KindStart
	rightIdx, promoted, err := s.t.splitLeaf(leafIdx, leaf)
	if err != nil {
		return err
	}
	if wasStart {
		// splitLeaf already grew a fresh root referencing leafIdx/rightIdx.
		return nil
	}
	return s.t.insertReference(path, reference{before: leafIdx, after: rightIdx, key: promoted})
}

// Update replaces the value for an existing key in place, without
// touching tree structure.
func (s *Simple) Update(key uuid.UUID, value []byte) error {
	if uint32(len(value)) != s.t.valueSize {
		return fmt.Errorf("btree: value must be %d bytes, got %d", s.t.valueSize, len(value))
	}
	leafIdx, _, err := s.t.search(key)
	if err != nil {
		return err
	}
	leaf, err := s.t.readNode(leafIdx)
	if err != nil {
		return err
	}
	i, found := findRecord(leaf.records, key)
	if !found {
		return fmt.Errorf("btree: update: %w: %s", errNotFound, key)
	}
	leaf.records[i].value = append([]byte(nil), value...)
	return s.t.writeNode(leafIdx, leaf)
}

// Delete removes key's record from its leaf. Per spec §4.5, simple-tree
// delete performs no merge or redistribution: leaf underflow is
// tolerated and only resolved by a future full tree rebuild.
func (s *Simple) Delete(key uuid.UUID) error {
	leafIdx, _, err := s.t.search(key)
	if err != nil {
		return err
	}
	leaf, err := s.t.readNode(leafIdx)
	if err != nil {
		return err
	}
	i, found := findRecord(leaf.records, key)
	if !found {
		return fmt.Errorf("btree: delete: %w: %s", errNotFound, key)
	}
	leaf.records = append(leaf.records[:i], leaf.records[i+1:]...)
	return s.t.writeNode(leafIdx, leaf)
}

// Iterate calls fn for every key/value pair in ascending key order,
// stopping early if fn returns false.
func (s *Simple) Iterate(fn func(key uuid.UUID, value []byte) bool) error {
	return s.t.walkLeaves(func(n *node) (bool, error) {
		for _, rec := range n.records {
			if !fn(rec.key, rec.value) {
				return false, nil
			}
		}
		return true, nil
	})
}
