package btree

import (
	"fmt"
	"testing"

	uuid "github.com/satori/go.uuid"
)

// memStore is a trivial in-memory PageStore for exercising the tree
// logic without a real stream underneath.
type memStore struct {
	pages [][]byte
}

func newMemStore() *memStore { return &memStore{} }

func (m *memStore) ReadPage(idx int32) ([]byte, error) {
	if int(idx) < 0 || int(idx) >= len(m.pages) {
		return nil, fmt.Errorf("memStore: page %d out of range", idx)
	}
	out := make([]byte, len(m.pages[idx]))
	copy(out, m.pages[idx])
	return out, nil
}

func (m *memStore) WritePage(idx int32, data []byte) error {
	if int(idx) < 0 || int(idx) >= len(m.pages) {
		return fmt.Errorf("memStore: page %d out of range", idx)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.pages[idx] = buf
	return nil
}

func (m *memStore) AppendPage(data []byte) (int32, error) {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.pages = append(m.pages, buf)
	return int32(len(m.pages) - 1), nil
}

func (m *memStore) PageCount() int32 { return int32(len(m.pages)) }

func val(b byte, n int) []byte {
	v := make([]byte, n)
	for i := range v {
		v[i] = b
	}
	return v
}

func TestSimpleInsertGetUpdateDelete(t *testing.T) {
	s, err := CreateSimple(newMemStore(), 8)
	if err != nil {
		t.Fatalf("CreateSimple: %v", err)
	}

	k1, k2 := uuid.NewV4(), uuid.NewV4()
	if err := s.Insert(k1, val(1, 8)); err != nil {
		t.Fatalf("Insert k1: %v", err)
	}
	if err := s.Insert(k2, val(2, 8)); err != nil {
		t.Fatalf("Insert k2: %v", err)
	}
	if err := s.Insert(k1, val(9, 8)); err == nil {
		t.Fatal("expected ErrDuplicate re-inserting k1")
	}

	got, found, err := s.Get(k1)
	if err != nil || !found {
		t.Fatalf("Get k1: found=%v err=%v", found, err)
	}
	if got[0] != 1 {
		t.Fatalf("Get k1 value = %v, want all-1s", got)
	}

	if err := s.Update(k1, val(5, 8)); err != nil {
		t.Fatalf("Update k1: %v", err)
	}
	got, _, _ = s.Get(k1)
	if got[0] != 5 {
		t.Fatalf("after Update, Get k1 = %v, want all-5s", got)
	}

	if err := s.Delete(k2); err != nil {
		t.Fatalf("Delete k2: %v", err)
	}
	if _, found, _ := s.Get(k2); found {
		t.Fatal("k2 should be gone after Delete")
	}
}

func TestSimpleManyKeysSplitsAndIterates(t *testing.T) {
	s, err := CreateSimple(newMemStore(), 4)
	if err != nil {
		t.Fatalf("CreateSimple: %v", err)
	}

	const n = 500
	keys := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		keys[i] = uuid.NewV4()
		if err := s.Insert(keys[i], val(byte(i), 4)); err != nil {
			t.Fatalf("Insert #%d: %v", i, err)
		}
	}

	for i, k := range keys {
		v, found, err := s.Get(k)
		if err != nil || !found {
			t.Fatalf("Get #%d: found=%v err=%v", i, found, err)
		}
		if v[0] != byte(i) {
			t.Fatalf("Get #%d value = %v, want %d", i, v, byte(i))
		}
	}

	seen := 0
	var last *uuid.UUID
	err = s.Iterate(func(key uuid.UUID, value []byte) bool {
		seen++
		if last != nil && compareUUID(*last, key) >= 0 {
			t.Fatalf("Iterate not in ascending order at key %s", key)
		}
		k := key
		last = &k
		return true
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if seen != n {
		t.Fatalf("Iterate visited %d keys, want %d", seen, n)
	}
}

func TestMultiInsertUpdateDelete(t *testing.T) {
	m, err := CreateMulti(newMemStore(), 16)
	if err != nil {
		t.Fatalf("CreateMulti: %v", err)
	}

	key := uuid.NewV4()
	if err := m.InsertEmpty(key); err != nil {
		t.Fatalf("InsertEmpty: %v", err)
	}

	items, found, err := m.Get(key)
	if err != nil || !found || len(items) != 0 {
		t.Fatalf("Get after InsertEmpty: items=%v found=%v err=%v", items, found, err)
	}

	a := val(0xaa, 16)
	b := val(0xbb, 16)
	if err := m.Update(key, [][]byte{a, b}, nil); err != nil {
		t.Fatalf("Update add: %v", err)
	}
	items, found, err = m.Get(key)
	if err != nil || !found || len(items) != 2 {
		t.Fatalf("Get after add: items=%d found=%v err=%v", len(items), found, err)
	}

	if err := m.Update(key, nil, [][]byte{a}); err != nil {
		t.Fatalf("Update remove: %v", err)
	}
	items, _, err = m.Get(key)
	if err != nil || len(items) != 1 {
		t.Fatalf("Get after remove: items=%d err=%v", len(items), err)
	}

	if err := m.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := m.Get(key); found {
		t.Fatal("key should be gone after Delete")
	}
}

func TestMultiOverflowChain(t *testing.T) {
	m, err := CreateMulti(newMemStore(), 16)
	if err != nil {
		t.Fatalf("CreateMulti: %v", err)
	}
	key := uuid.NewV4()
	if err := m.InsertEmpty(key); err != nil {
		t.Fatalf("InsertEmpty: %v", err)
	}

	// enough items to spill across multiple Items pages
	const n = 400
	var items [][]byte
	for i := 0; i < n; i++ {
		items = append(items, val(byte(i), 16))
	}
	if err := m.Update(key, items, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, found, err := m.Get(key)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if len(got) != n {
		t.Fatalf("Get returned %d items, want %d", len(got), n)
	}
}
