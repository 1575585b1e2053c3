package fsmgr

import (
	"fmt"
	"strings"

	uuid "github.com/satori/go.uuid"

	"github.com/diskfs/archive7/internal/btree"
	"github.com/diskfs/archive7/internal/idutil"
	"github.com/diskfs/archive7/internal/stream"
)

// RootID is the fixed id of the archive's root directory entry.
var RootID = idutil.FromInt(0)

// Manager is the filesystem layer: an entry tree (id -> Entry), a path
// tree (uuid5(parent, name) -> child id, one tree lookup per path
// component) and
// a listing tree (parent id -> set of raw child ids), all built over
// streams owned by a DynamicManager.
type Manager struct {
	dm *stream.DynamicManager

	entries  *btree.Simple
	paths    *btree.Simple
	listings *btree.Multi
}

func openTrees(dm *stream.DynamicManager) (*btree.Simple, *btree.Simple, *btree.Multi, error) {
	entriesStream, err := dm.OpenStream(stream.ReservedStreamID(stream.StreamEntries))
	if err != nil {
		return nil, nil, nil, err
	}
	pathsStream, err := dm.OpenStream(stream.ReservedStreamID(stream.StreamPaths))
	if err != nil {
		return nil, nil, nil, err
	}
	listingsStream, err := dm.OpenStream(stream.ReservedStreamID(stream.StreamListings))
	if err != nil {
		return nil, nil, nil, err
	}
	entries, err := btree.OpenSimple(stream.NewPages(entriesStream))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fsmgr: opening entry tree: %w", err)
	}
	paths, err := btree.OpenSimple(stream.NewPages(pathsStream))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fsmgr: opening path tree: %w", err)
	}
	listings, err := btree.OpenMulti(stream.NewPages(listingsStream))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fsmgr: opening listing tree: %w", err)
	}
	return entries, paths, listings, nil
}

// New creates the filesystem layer's three trees and the root directory
// entry over a freshly created DynamicManager.
func New(dm *stream.DynamicManager, createdAt int64) (*Manager, error) {
	entriesStream, err := dm.OpenStream(stream.ReservedStreamID(stream.StreamEntries))
	if err != nil {
		return nil, err
	}
	pathsStream, err := dm.OpenStream(stream.ReservedStreamID(stream.StreamPaths))
	if err != nil {
		return nil, err
	}
	listingsStream, err := dm.OpenStream(stream.ReservedStreamID(stream.StreamListings))
	if err != nil {
		return nil, err
	}
	entries, err := btree.CreateSimple(stream.NewPages(entriesStream), EntrySize)
	if err != nil {
		return nil, fmt.Errorf("fsmgr: creating entry tree: %w", err)
	}
	paths, err := btree.CreateSimple(stream.NewPages(pathsStream), 16)
	if err != nil {
		return nil, fmt.Errorf("fsmgr: creating path tree: %w", err)
	}
	listings, err := btree.CreateMulti(stream.NewPages(listingsStream), 16)
	if err != nil {
		return nil, fmt.Errorf("fsmgr: creating listing tree: %w", err)
	}

	m := &Manager{dm: dm, entries: entries, paths: paths, listings: listings}

	root := Entry{
		Type:     TypeDir,
		ID:       RootID,
		Parent:   RootID,
		Created:  createdAt,
		Modified: createdAt,
		Name:     "",
		Perms:    0o755,
	}
	raw, err := root.ToBytes()
	if err != nil {
		return nil, err
	}
	if err := m.entries.Insert(RootID, raw); err != nil {
		return nil, fmt.Errorf("fsmgr: creating root entry: %w", err)
	}
	if err := m.listings.InsertEmpty(RootID); err != nil {
		return nil, fmt.Errorf("fsmgr: creating root listing: %w", err)
	}
	return m, nil
}

// Open loads the filesystem layer's trees from an already-open
// DynamicManager.
func Open(dm *stream.DynamicManager) (*Manager, error) {
	entries, paths, listings, err := openTrees(dm)
	if err != nil {
		return nil, err
	}
	return &Manager{dm: dm, entries: entries, paths: paths, listings: listings}, nil
}

func pathKey(parent uuid.UUID, name string) uuid.UUID {
	return uuid.NewV5(parent, name)
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetEntry returns the entry with the given id.
func (m *Manager) GetEntry(id uuid.UUID) (Entry, error) {
	raw, found, err := m.entries.Get(id)
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, ErrNotFound
	}
	return EntryFromBytes(raw)
}

// ResolvePath walks path component by component from the root via the
// path tree and returns the final entry. When followLinks is true, a
// link encountered along the way is dereferenced to its target's
// parent before the next component is looked up, per the link target
// semantics described in Open Question resolutions; the final entry
// returned for a path ending in a link is therefore the link target's
// parent directory rather than the link entry itself.
func (m *Manager) ResolvePath(path string, followLinks bool) (Entry, error) {
	parts := splitPath(path)
	current := RootID
	entry, err := m.GetEntry(RootID)
	if err != nil {
		return Entry{}, err
	}
	for _, name := range parts {
		raw, found, err := m.paths.Get(pathKey(current, name))
		if err != nil {
			return Entry{}, err
		}
		if !found {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		childID, err := uuid.FromBytes(raw)
		if err != nil {
			return Entry{}, err
		}
		entry, err = m.GetEntry(childID)
		if err != nil {
			return Entry{}, err
		}
		current = childID

		if followLinks && entry.Type == TypeLink {
			target, err := m.ResolvePath(entry.Target, followLinks)
			if err != nil {
				return Entry{}, fmt.Errorf("%w: %s", ErrLinkTarget, entry.Target)
			}
			parent, err := m.GetEntry(target.Parent)
			if err != nil {
				return Entry{}, err
			}
			entry = parent
			current = parent.ID
		}
	}
	return entry, nil
}

// CreateEntry creates a new entry named name under parentID. The caller
// supplies the new entry's type, owner, permissions and (for files) a
// pre-allocated data stream id; ID, Parent and Name are assigned here.
func (m *Manager) CreateEntry(parentID uuid.UUID, name string, e Entry, now int64) (Entry, error) {
	if name == "" || strings.Contains(name, "/") {
		return Entry{}, ErrBadName
	}
	parent, err := m.GetEntry(parentID)
	if err != nil {
		return Entry{}, err
	}
	if parent.Type != TypeDir {
		return Entry{}, ErrNotDir
	}
	key := pathKey(parentID, name)
	if _, found, err := m.paths.Get(key); err != nil {
		return Entry{}, err
	} else if found {
		return Entry{}, fmt.Errorf("%w: %s", ErrExists, name)
	}
	if e.Type == TypeLink {
		if target, err := m.ResolvePath(e.Target, false); err == nil && target.Type == TypeLink {
			return Entry{}, ErrLinkToLink
		}
	}

	e.ID = uuid.NewV4()
	e.Parent = parentID
	e.Name = name
	e.Created = now
	e.Modified = now
	e.Deleted = false

	raw, err := e.ToBytes()
	if err != nil {
		return Entry{}, err
	}
	if err := m.entries.Insert(e.ID, raw); err != nil {
		return Entry{}, err
	}
	if err := m.paths.Insert(key, e.ID.Bytes()); err != nil {
		return Entry{}, err
	}
	if err := m.listings.Update(parentID, [][]byte{e.ID.Bytes()}, nil); err != nil {
		return Entry{}, err
	}
	if e.Type == TypeDir {
		if err := m.listings.InsertEmpty(e.ID); err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}

// UpdateEntry loads the entry with id, applies mutate, and persists the result.
func (m *Manager) UpdateEntry(id uuid.UUID, mutate func(*Entry)) (Entry, error) {
	e, err := m.GetEntry(id)
	if err != nil {
		return Entry{}, err
	}
	mutate(&e)
	raw, err := e.ToBytes()
	if err != nil {
		return Entry{}, err
	}
	if err := m.entries.Update(id, raw); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// DeleteEntry removes id according to mode: Soft only flags it deleted;
// Hard additionally releases its data stream; Erase additionally removes
// it from every tree.
func (m *Manager) DeleteEntry(id uuid.UUID, mode DeleteMode) error {
	if id == RootID {
		return ErrRoot
	}
	e, err := m.GetEntry(id)
	if err != nil {
		return err
	}
	if e.Type == TypeDir && mode != DeleteErase {
		items, _, err := m.listings.Get(id)
		if err != nil {
			return err
		}
		if len(items) > 0 {
			return ErrNotEmpty
		}
	}

	if mode == DeleteSoft {
		_, err := m.UpdateEntry(id, func(entry *Entry) { entry.Deleted = true })
		return err
	}

	if e.Type == TypeFile && e.Stream != (uuid.UUID{}) {
		if err := m.dm.DelStream(e.Stream); err != nil {
			return err
		}
	}

	if mode == DeleteHard {
		_, err := m.UpdateEntry(id, func(entry *Entry) {
			entry.Deleted = true
			entry.Stream = uuid.UUID{}
		})
		return err
	}

	// DeleteErase: unlink from parent listing and path tree, drop the entry record.
	if err := m.listings.Update(e.Parent, nil, [][]byte{id.Bytes()}); err != nil {
		return err
	}
	if err := m.paths.Delete(pathKey(e.Parent, e.Name)); err != nil {
		return err
	}
	if e.Type == TypeDir {
		if err := m.listings.Delete(id); err != nil {
			return err
		}
	}
	return m.entries.Delete(id)
}

// ListChildren returns the immediate children of directory id, in no
// particular order. Listing items whose id no longer resolves to an
// entry are reported as synthetic TypeErr entries.
func (m *Manager) ListChildren(id uuid.UUID) ([]Entry, error) {
	dir, err := m.GetEntry(id)
	if err != nil {
		return nil, err
	}
	if dir.Type != TypeDir {
		return nil, ErrNotDir
	}
	items, _, err := m.listings.Get(id)
	if err != nil {
		return nil, err
	}
	children := make([]Entry, 0, len(items))
	for _, raw := range items {
		childID, err := uuid.FromBytes(raw)
		if err != nil {
			return nil, err
		}
		child, err := m.GetEntry(childID)
		if err != nil {
			child = Entry{Type: TypeErr, ID: childID, Parent: id, Name: "<error>"}
		}
		children = append(children, child)
	}
	return children, nil
}

// ChangeName renames id within its current parent.
func (m *Manager) ChangeName(id uuid.UUID, newName string) (Entry, error) {
	if id == RootID {
		return Entry{}, ErrRoot
	}
	if newName == "" || strings.Contains(newName, "/") {
		return Entry{}, ErrBadName
	}
	e, err := m.GetEntry(id)
	if err != nil {
		return Entry{}, err
	}
	newKey := pathKey(e.Parent, newName)
	if _, found, err := m.paths.Get(newKey); err != nil {
		return Entry{}, err
	} else if found {
		return Entry{}, fmt.Errorf("%w: %s", ErrExists, newName)
	}
	oldKey := pathKey(e.Parent, e.Name)
	if err := m.paths.Delete(oldKey); err != nil {
		return Entry{}, err
	}
	if err := m.paths.Insert(newKey, id.Bytes()); err != nil {
		return Entry{}, err
	}
	return m.UpdateEntry(id, func(entry *Entry) { entry.Name = newName })
}

// ChangeParent moves id from its current parent to newParentID, keeping its name.
func (m *Manager) ChangeParent(id, newParentID uuid.UUID) (Entry, error) {
	if id == RootID {
		return Entry{}, ErrRoot
	}
	e, err := m.GetEntry(id)
	if err != nil {
		return Entry{}, err
	}
	newParent, err := m.GetEntry(newParentID)
	if err != nil {
		return Entry{}, err
	}
	if newParent.Type != TypeDir {
		return Entry{}, ErrNotDir
	}
	newKey := pathKey(newParentID, e.Name)
	if _, found, err := m.paths.Get(newKey); err != nil {
		return Entry{}, err
	} else if found {
		return Entry{}, fmt.Errorf("%w: %s", ErrExists, e.Name)
	}

	oldKey := pathKey(e.Parent, e.Name)
	if err := m.paths.Delete(oldKey); err != nil {
		return Entry{}, err
	}
	if err := m.paths.Insert(newKey, id.Bytes()); err != nil {
		return Entry{}, err
	}
	if err := m.listings.Update(e.Parent, nil, [][]byte{id.Bytes()}); err != nil {
		return Entry{}, err
	}
	if err := m.listings.Update(newParentID, [][]byte{id.Bytes()}, nil); err != nil {
		return Entry{}, err
	}
	return m.UpdateEntry(id, func(entry *Entry) { entry.Parent = newParentID })
}

// OpenFile returns a byte-cursor File over a file entry's data stream.
func (m *Manager) OpenFile(id uuid.UUID) (*stream.File, error) {
	e, err := m.GetEntry(id)
	if err != nil {
		return nil, err
	}
	if e.Type != TypeFile {
		return nil, ErrOpen
	}
	return stream.OpenFile(m.dm, e.Stream)
}

// TraverseHierarchy walks the directory tree depth-first starting at
// rootID, calling fn with each entry and its path (slash-joined from
// rootID). A listing entry whose id is missing from the entry tree is
// reported as a synthetic TypeErr entry named "<error>" rather than
// aborting the walk. Traversal stops early if fn returns false.
func (m *Manager) TraverseHierarchy(rootID uuid.UUID, fn func(e Entry, path string) bool) error {
	root, err := m.GetEntry(rootID)
	if err != nil {
		return err
	}
	_, err = m.traverse(root, "", fn)
	return err
}

func (m *Manager) traverse(e Entry, path string, fn func(Entry, string) bool) (bool, error) {
	if !fn(e, path) {
		return false, nil
	}
	if e.Type != TypeDir {
		return true, nil
	}
	items, _, err := m.listings.Get(e.ID)
	if err != nil {
		return false, err
	}
	for _, raw := range items {
		childID, err := uuid.FromBytes(raw)
		if err != nil {
			return false, err
		}
		childPath := path + "/" + childID.String()
		child, err := m.GetEntry(childID)
		if err != nil {
			child = Entry{Type: TypeErr, ID: childID, Parent: e.ID, Name: "<error>"}
		} else {
			childPath = path + "/" + child.Name
		}
		cont, err := m.traverse(child, childPath, fn)
		if err != nil || !cont {
			return cont, err
		}
	}
	return true, nil
}
