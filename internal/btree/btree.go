// Package btree implements the archive's generic key/value index: a
// B+Tree whose pages are fixed-size blobs supplied by a PageStore (in
// practice, the data blocks of a stream). Two flavours share this
// skeleton: Simple (one value per key) and Multi (a set of fixed-size
// items per key, spilled into an overflow chain).
package btree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	uuid "github.com/satori/go.uuid"
)

// PageSize is the usable payload size of one tree page. It matches the
// data capacity of a single stream block, since tree pages live directly
// in a data stream.
const PageSize = 4020

const headerSize = 1 + 4 + 4 // kind byte, next int32, count uint32

const metaSize = 1 + 4 + 4 + 4 + 4 + 4 // kind, root, empty, order, ref_order, value_size

const referenceSize = 4 + 4 + 16 // before, after, key

// Kind identifies the role of a tree page.
type Kind byte

const (
	KindStart     Kind = 'S' // root when the tree fits in one node
	KindLeaf      Kind = 'L' // record leaf
	KindRoot      Kind = 'R' // reference-root, tree has >= 2 levels
	KindStructure Kind = 'F' // internal reference node
	KindData      Kind = 'D' // deprecated single-blob page, read-compat only
	KindItems     Kind = 'I' // overflow chain of fixed items (multi-tree)
	KindEmpty     Kind = 'E' // recycled node, pushed onto the empty-list stack
)

func (k Kind) leaf() bool      { return k == KindStart || k == KindLeaf }
func (k Kind) reference() bool { return k == KindRoot || k == KindStructure }

// MetaKind distinguishes a Simple tree from a Multi tree.
type MetaKind byte

const (
	MetaSimple MetaKind = 's'
	MetaMulti  MetaKind = 'm'
)

// PageStore is the minimal stream-backed page interface a Tree needs.
// Index 0 is always the tree's meta page.
type PageStore interface {
	ReadPage(index int32) ([]byte, error)
	WritePage(index int32, data []byte) error
	AppendPage(data []byte) (int32, error)
	PageCount() int32
}

var (
	// ErrChecksum is returned when a record's checksum byte does not match its contents.
	ErrChecksum = errors.New("btree: record checksum mismatch")
	// errNotFound is used internally by search; it never escapes the tree API.
	errNotFound = errors.New("btree: key not found")
	// ErrDuplicate is returned by Simple.Insert on a key that already exists.
	ErrDuplicate = errors.New("btree: duplicate key")
	// ErrFormat is returned for corrupt or unrecognized page kinds.
	ErrFormat = errors.New("btree: unrecognized node kind")
)

// Tree is the shared skeleton for Simple and Multi trees.
type Tree struct {
	store PageStore

	kind      MetaKind
	root      int32
	empty     int32
	order     uint32
	refOrder  uint32
	valueSize uint32

	recordSize int
}

func recordSize(kind MetaKind, valueSize uint32) int {
	if kind == MetaMulti {
		return 4 + 16 + 4 + 1 // page(head of items chain), key, item count, checksum
	}
	return 4 + 16 + int(valueSize) + 1 // page(unused, -1), key, value, checksum
}

// create initializes a brand-new tree's meta page (page 0) in store.
func create(store PageStore, kind MetaKind, valueSize uint32) (*Tree, error) {
	rs := recordSize(kind, valueSize)
	order := uint32((PageSize - headerSize) / rs)
	if order < 2 {
		return nil, fmt.Errorf("btree: value size %d leaves no room for records", valueSize)
	}
	refOrder := uint32((int(order) * rs) / referenceSize)
	if refOrder < 2 {
		refOrder = 2
	}

	t := &Tree{
		store:      store,
		kind:       kind,
		root:       0,
		empty:      -1,
		order:      order,
		refOrder:   refOrder,
		valueSize:  valueSize,
		recordSize: rs,
	}

	metaPage := make([]byte, PageSize)
	if _, err := store.AppendPage(metaPage); err != nil {
		return nil, fmt.Errorf("btree: allocating meta page: %w", err)
	}

	rootIdx, err := t.allocPage()
	if err != nil {
		return nil, err
	}
	t.root = rootIdx
	if err := t.writeNode(rootIdx, &node{kind: KindStart}); err != nil {
		return nil, err
	}
	if err := t.saveMeta(); err != nil {
		return nil, err
	}
	return t, nil
}

// open loads an existing tree from its meta page.
func open(store PageStore, wantKind MetaKind) (*Tree, error) {
	raw, err := store.ReadPage(0)
	if err != nil {
		return nil, fmt.Errorf("btree: reading meta page: %w", err)
	}
	if len(raw) < metaSize {
		return nil, fmt.Errorf("%w: meta page too short", ErrFormat)
	}
	kind := MetaKind(raw[0])
	if kind != wantKind {
		return nil, fmt.Errorf("%w: meta page kind %q, want %q", ErrFormat, kind, wantKind)
	}
	t := &Tree{
		store:     store,
		kind:      kind,
		root:      int32(binary.BigEndian.Uint32(raw[1:5])),
		empty:     int32(binary.BigEndian.Uint32(raw[5:9])),
		order:     binary.BigEndian.Uint32(raw[9:13]),
		refOrder:  binary.BigEndian.Uint32(raw[13:17]),
		valueSize: binary.BigEndian.Uint32(raw[17:21]),
	}
	t.recordSize = recordSize(t.kind, t.valueSize)
	return t, nil
}

func (t *Tree) saveMeta() error {
	buf := make([]byte, PageSize)
	buf[0] = byte(t.kind)
	binary.BigEndian.PutUint32(buf[1:5], uint32(t.root))
	binary.BigEndian.PutUint32(buf[5:9], uint32(t.empty))
	binary.BigEndian.PutUint32(buf[9:13], t.order)
	binary.BigEndian.PutUint32(buf[13:17], t.refOrder)
	binary.BigEndian.PutUint32(buf[17:21], t.valueSize)
	return t.store.WritePage(0, buf)
}

// allocPage pops a recycled page off the empty-list stack, falling back
// to appending a fresh one.
func (t *Tree) allocPage() (int32, error) {
	if t.empty != -1 {
		idx := t.empty
		n, err := t.readNode(idx)
		if err != nil {
			return 0, err
		}
		if n.kind != KindEmpty {
			return 0, fmt.Errorf("%w: empty-list entry %d is not Empty", ErrFormat, idx)
		}
		t.empty = n.next
		return idx, nil
	}
	idx, err := t.store.AppendPage(make([]byte, PageSize))
	if err != nil {
		return 0, fmt.Errorf("btree: allocating page: %w", err)
	}
	return idx, nil
}

// recyclePage pushes idx onto the empty-list stack.
func (t *Tree) recyclePage(idx int32) error {
	n := &node{kind: KindEmpty, next: t.empty}
	if err := t.writeNode(idx, n); err != nil {
		return err
	}
	t.empty = idx
	return nil
}

// node is the decoded form of one tree page.
type node struct {
	kind       Kind
	next       int32 // Items chain link, or empty-list link
	records    []record
	refs       []reference
	items      [][]byte
}

type record struct {
	page     int32
	key      uuid.UUID
	value    []byte // Simple: the value; Multi: unused
	count    uint32 // Multi only: item count
	checksum byte
}

type reference struct {
	before int32
	after  int32
	key    uuid.UUID
}

func checksum(key uuid.UUID, value []byte) byte {
	var sum int
	for _, b := range key.Bytes() {
		sum += int(b)
	}
	for _, b := range value {
		sum += int(b)
	}
	return byte(sum % 256)
}

func (t *Tree) readNode(idx int32) (*node, error) {
	raw, err := t.store.ReadPage(idx)
	if err != nil {
		return nil, fmt.Errorf("btree: reading page %d: %w", idx, err)
	}
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: page %d too short", ErrFormat, idx)
	}
	kind := Kind(raw[0])
	next := int32(binary.BigEndian.Uint32(raw[1:5]))
	count := binary.BigEndian.Uint32(raw[5:9])
	body := raw[headerSize:]

	n := &node{kind: kind, next: next}
	switch {
	case kind == KindEmpty:
		// nothing else to decode
	case kind.leaf():
		recs := make([]record, 0, count)
		off := 0
		for i := uint32(0); i < count; i++ {
			rec, used, err := decodeRecord(t.kind, t.valueSize, body[off:])
			if err != nil {
				return nil, fmt.Errorf("btree: page %d record %d: %w", idx, i, err)
			}
			recs = append(recs, rec)
			off += used
		}
		n.records = recs
	case kind.reference():
		refs := make([]reference, 0, count)
		off := 0
		for i := uint32(0); i < count; i++ {
			r, err := decodeReference(body[off:])
			if err != nil {
				return nil, fmt.Errorf("btree: page %d reference %d: %w", idx, i, err)
			}
			refs = append(refs, r)
			off += referenceSize
		}
		n.refs = refs
	case kind == KindItems || kind == KindData:
		items := make([][]byte, 0, count)
		off := 0
		itemSize := int(t.valueSize)
		for i := uint32(0); i < count; i++ {
			item := make([]byte, itemSize)
			copy(item, body[off:off+itemSize])
			items = append(items, item)
			off += itemSize
		}
		n.items = items
	default:
		return nil, fmt.Errorf("%w: page %d kind %q", ErrFormat, idx, kind)
	}
	return n, nil
}

func (t *Tree) writeNode(idx int32, n *node) error {
	buf := make([]byte, PageSize)
	buf[0] = byte(n.kind)
	binary.BigEndian.PutUint32(buf[1:5], uint32(n.next))

	body := buf[headerSize:]
	off := 0
	var count int
	switch {
	case n.kind == KindEmpty:
		count = 0
	case n.kind.leaf():
		for _, rec := range n.records {
			used := encodeRecord(t.kind, body[off:], rec)
			off += used
		}
		count = len(n.records)
	case n.kind.reference():
		for _, r := range n.refs {
			encodeReference(body[off:], r)
			off += referenceSize
		}
		count = len(n.refs)
	case n.kind == KindItems || n.kind == KindData:
		itemSize := int(t.valueSize)
		for _, item := range n.items {
			copy(body[off:off+itemSize], item)
			off += itemSize
		}
		count = len(n.items)
	default:
		return fmt.Errorf("%w: kind %q", ErrFormat, n.kind)
	}
	binary.BigEndian.PutUint32(buf[5:9], uint32(count))
	return t.store.WritePage(idx, buf)
}

func decodeRecord(kind MetaKind, valueSize uint32, b []byte) (record, int, error) {
	var rec record
	page := int32(binary.BigEndian.Uint32(b[0:4]))
	key, err := uuid.FromBytes(b[4:20])
	if err != nil {
		return rec, 0, fmt.Errorf("parsing key: %w", err)
	}
	rec.page = page
	rec.key = key
	if kind == MetaMulti {
		rec.count = binary.BigEndian.Uint32(b[20:24])
		rec.checksum = b[24]
		if checksum(key, countBytes(rec.count)) != rec.checksum {
			return rec, 0, ErrChecksum
		}
		return rec, 25, nil
	}
	value := make([]byte, valueSize)
	copy(value, b[20:20+valueSize])
	rec.value = value
	rec.checksum = b[20+valueSize]
	if checksum(key, value) != rec.checksum {
		return rec, 0, ErrChecksum
	}
	return rec, int(20 + valueSize + 1), nil
}

func encodeRecord(kind MetaKind, b []byte, rec record) int {
	binary.BigEndian.PutUint32(b[0:4], uint32(rec.page))
	copy(b[4:20], rec.key.Bytes())
	if kind == MetaMulti {
		binary.BigEndian.PutUint32(b[20:24], rec.count)
		b[24] = checksum(rec.key, countBytes(rec.count))
		return 25
	}
	copy(b[20:20+len(rec.value)], rec.value)
	b[20+len(rec.value)] = checksum(rec.key, rec.value)
	return 20 + len(rec.value) + 1
}

func countBytes(n uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return b[:]
}

func decodeReference(b []byte) (reference, error) {
	if len(b) < referenceSize {
		return reference{}, fmt.Errorf("reference truncated")
	}
	before := int32(binary.BigEndian.Uint32(b[0:4]))
	after := int32(binary.BigEndian.Uint32(b[4:8]))
	key, err := uuid.FromBytes(b[8:24])
	if err != nil {
		return reference{}, err
	}
	return reference{before: before, after: after, key: key}, nil
}

func encodeReference(b []byte, r reference) {
	binary.BigEndian.PutUint32(b[0:4], uint32(r.before))
	binary.BigEndian.PutUint32(b[4:8], uint32(r.after))
	copy(b[8:24], r.key.Bytes())
}

// compareUUID orders keys by big-endian byte value.
func compareUUID(a, b uuid.UUID) int {
	return bytes.Compare(a.Bytes(), b.Bytes())
}

// search descends from root to the leaf page that would contain key,
// returning the path of reference-node page indexes visited (root first).
func (t *Tree) search(key uuid.UUID) (leaf int32, path []int32, err error) {
	idx := t.root
	for {
		n, err := t.readNode(idx)
		if err != nil {
			return 0, nil, err
		}
		if n.kind.leaf() {
			return idx, path, nil
		}
		if !n.kind.reference() {
			return 0, nil, fmt.Errorf("%w: expected leaf or reference at page %d, got %q", ErrFormat, idx, n.kind)
		}
		path = append(path, idx)
		idx = descend(n.refs, key)
	}
}

// descend picks the child page pointer for key per the ordering rule in
// spec §4.5: before the least key, after the greatest, otherwise the
// after of the adjacent pair straddling key.
func descend(refs []reference, key uuid.UUID) int32 {
	if len(refs) == 0 {
		return -1
	}
	if compareUUID(key, refs[0].key) < 0 {
		return refs[0].before
	}
	last := refs[len(refs)-1]
	if compareUUID(key, last.key) >= 0 {
		return last.after
	}
	for i := 0; i < len(refs)-1; i++ {
		if compareUUID(refs[i].key, key) <= 0 && compareUUID(key, refs[i+1].key) < 0 {
			return refs[i].after
		}
	}
	return last.after
}

func findRecord(recs []record, key uuid.UUID) (int, bool) {
	i := sort.Search(len(recs), func(i int) bool {
		return compareUUID(recs[i].key, key) >= 0
	})
	if i < len(recs) && compareUUID(recs[i].key, key) == 0 {
		return i, true
	}
	return i, false
}

// insertReference inserts a freshly split child's reference into the
// last reference node on path, splitting that parent in turn if it
// overflows, and growing a new root when path is empty.
func (t *Tree) insertReference(path []int32, newRef reference) error {
	if len(path) == 0 {
		return t.growRoot(newRef)
	}
	parentIdx := path[len(path)-1]
	parent, err := t.readNode(parentIdx)
	if err != nil {
		return err
	}
	i := sort.Search(len(parent.refs), func(i int) bool {
		return compareUUID(parent.refs[i].key, newRef.key) >= 0
	})
	refs := append([]reference{}, parent.refs[:i]...)
	refs = append(refs, newRef)
	refs = append(refs, parent.refs[i:]...)

	if uint32(len(refs)) <= t.refOrder {
		parent.refs = refs
		return t.writeNode(parentIdx, parent)
	}

	mid := len(refs) / 2
	promoted := refs[mid]
	leftRefs := refs[:mid]
	rightRefs := refs[mid+1:]

	rightIdx, err := t.allocPage()
	if err != nil {
		return err
	}
	rightKind := KindStructure
	parent.refs = leftRefs
	if err := t.writeNode(parentIdx, parent); err != nil {
		return err
	}
	if err := t.writeNode(rightIdx, &node{kind: rightKind, refs: rightRefs}); err != nil {
		return err
	}
	return t.insertReference(path[:len(path)-1], reference{before: parentIdx, after: rightIdx, key: promoted.key})
}

// growRoot is called when the root node itself overflowed and split;
// newRef.before/newRef.after are the two new top-level pages.
func (t *Tree) growRoot(newRef reference) error {
	rootIdx, err := t.allocPage()
	if err != nil {
		return err
	}
	if err := t.writeNode(rootIdx, &node{kind: KindRoot, refs: []reference{newRef}}); err != nil {
		return err
	}
	t.root = rootIdx
	return t.saveMeta()
}

// walkLeaves performs a left-to-right in-order traversal of every leaf
// page reachable from the root, calling fn with each leaf's node. fn
// returns false to stop the walk early.
func (t *Tree) walkLeaves(fn func(n *node) (bool, error)) error {
	_, err := t.walk(t.root, fn)
	return err
}

func (t *Tree) walk(idx int32, fn func(n *node) (bool, error)) (bool, error) {
	n, err := t.readNode(idx)
	if err != nil {
		return false, err
	}
	if n.kind.leaf() {
		return fn(n)
	}
	if !n.kind.reference() {
		return false, fmt.Errorf("%w: page %d kind %q", ErrFormat, idx, n.kind)
	}
	children := referenceChain(n.refs)
	for _, child := range children {
		cont, err := t.walk(child, fn)
		if err != nil {
			return false, err
		}
		if !cont {
			return false, nil
		}
	}
	return true, nil
}

// referenceChain flattens a reference array into its distinct child page
// pointers, relying on the invariant R[i].after == R[i+1].before.
func referenceChain(refs []reference) []int32 {
	if len(refs) == 0 {
		return nil
	}
	out := make([]int32, 0, len(refs)+1)
	out = append(out, refs[0].before)
	for _, r := range refs {
		out = append(out, r.after)
	}
	return out
}

// splitLeaf splits a full leaf node in place (keeping its page index for
// the lower half) and returns the new right-hand page along with the key
// to promote.
func (t *Tree) splitLeaf(idx int32, n *node) (rightIdx int32, promotedKey uuid.UUID, err error) {
	mid := len(n.records) / 2
	left := n.records[:mid]
	right := n.records[mid:]

	rightIdx, err = t.allocPage()
	if err != nil {
		return 0, uuid.UUID{}, err
	}

	wasRoot := n.kind == KindStart
	n.kind = KindLeaf
	n.records = left
	if err := t.writeNode(idx, n); err != nil {
		return 0, uuid.UUID{}, err
	}
	if err := t.writeNode(rightIdx, &node{kind: KindLeaf, records: right}); err != nil {
		return 0, uuid.UUID{}, err
	}

	if wasRoot {
		if err := t.growRoot(reference{before: idx, after: rightIdx, key: right[0].key}); err != nil {
			return 0, uuid.UUID{}, err
		}
	}
	return rightIdx, right[0].key, nil
}
