package archive

import (
	"path"
	"time"

	"github.com/diskfs/archive7/internal/fsmgr"
	"github.com/diskfs/archive7/internal/query"
	"github.com/diskfs/archive7/internal/stream"
)

func splitParentName(p string) (string, string) {
	dir, name := path.Split(path.Clean("/"+p))
	return dir, name
}

// Stat resolves p and returns its entry.
func (a *Archive) Stat(p string) (fsmgr.Entry, error) {
	val, err := a.exec.do(func() (interface{}, error) {
		return a.fs.ResolvePath(p, true)
	})
	if err != nil {
		return fsmgr.Entry{}, err
	}
	return val.(fsmgr.Entry), nil
}

// Mkdir creates an empty directory at p; its parent must already exist.
func (a *Archive) Mkdir(p string) (fsmgr.Entry, error) {
	dir, name := splitParentName(p)
	val, err := a.trace("mkdir "+p, func() (interface{}, error) {
		parent, err := a.fs.ResolvePath(dir, true)
		if err != nil {
			return nil, err
		}
		return a.fs.CreateEntry(parent.ID, name, fsmgr.Entry{Type: fsmgr.TypeDir, Perms: 0o755}, time.Now().Unix())
	})
	if err != nil {
		return fsmgr.Entry{}, err
	}
	return val.(fsmgr.Entry), nil
}

// Create creates an empty file entry at p backed by a fresh data
// stream, using compression for new writes to it.
func (a *Archive) Create(p string, perms uint16, compression uint16) (fsmgr.Entry, error) {
	dir, name := splitParentName(p)
	val, err := a.trace("create "+p, func() (interface{}, error) {
		parent, err := a.fs.ResolvePath(dir, true)
		if err != nil {
			return nil, err
		}
		sid, err := a.dm.NewStream(compression)
		if err != nil {
			return nil, err
		}
		return a.fs.CreateEntry(parent.ID, name, fsmgr.Entry{
			Type:   fsmgr.TypeFile,
			Stream: sid,
			Perms:  perms,
		}, time.Now().Unix())
	})
	if err != nil {
		return fsmgr.Entry{}, err
	}
	return val.(fsmgr.Entry), nil
}

// OpenFile resolves p and returns a byte-cursor File over its data stream.
func (a *Archive) OpenFile(p string) (*stream.File, error) {
	val, err := a.exec.do(func() (interface{}, error) {
		e, err := a.fs.ResolvePath(p, true)
		if err != nil {
			return nil, err
		}
		return a.fs.OpenFile(e.ID)
	})
	if err != nil {
		return nil, err
	}
	return val.(*stream.File), nil
}

// List returns the immediate children of directory p.
func (a *Archive) List(p string) ([]fsmgr.Entry, error) {
	val, err := a.exec.do(func() (interface{}, error) {
		dir, err := a.fs.ResolvePath(p, true)
		if err != nil {
			return nil, err
		}
		return a.fs.ListChildren(dir.ID)
	})
	if err != nil {
		return nil, err
	}
	return val.([]fsmgr.Entry), nil
}

// Remove deletes the entry at p under mode.
func (a *Archive) Remove(p string, mode fsmgr.DeleteMode) error {
	_, err := a.trace("remove "+p, func() (interface{}, error) {
		e, err := a.fs.ResolvePath(p, true)
		if err != nil {
			return nil, err
		}
		return nil, a.fs.DeleteEntry(e.ID, mode)
	})
	return err
}

// Rename changes the last path component of p to newName.
func (a *Archive) Rename(p, newName string) (fsmgr.Entry, error) {
	val, err := a.trace("rename "+p, func() (interface{}, error) {
		e, err := a.fs.ResolvePath(p, true)
		if err != nil {
			return nil, err
		}
		return a.fs.ChangeName(e.ID, newName)
	})
	if err != nil {
		return fsmgr.Entry{}, err
	}
	return val.(fsmgr.Entry), nil
}

// Move relocates the entry at p to be a child of newParentPath, keeping its name.
func (a *Archive) Move(p, newParentPath string) (fsmgr.Entry, error) {
	val, err := a.trace("move "+p, func() (interface{}, error) {
		e, err := a.fs.ResolvePath(p, true)
		if err != nil {
			return nil, err
		}
		parent, err := a.fs.ResolvePath(newParentPath, true)
		if err != nil {
			return nil, err
		}
		return a.fs.ChangeParent(e.ID, parent.ID)
	})
	if err != nil {
		return fsmgr.Entry{}, err
	}
	return val.(fsmgr.Entry), nil
}

// SetOwnership mirrors an extracted file's owner/group strings into the
// entry at p, leaving either field unchanged when passed "".
func (a *Archive) SetOwnership(p, user, group string) (fsmgr.Entry, error) {
	val, err := a.trace("chown "+p, func() (interface{}, error) {
		e, err := a.fs.ResolvePath(p, true)
		if err != nil {
			return nil, err
		}
		return a.fs.UpdateEntry(e.ID, func(entry *fsmgr.Entry) {
			if user != "" {
				entry.User = user
			}
			if group != "" {
				entry.Group = group
			}
		})
	})
	if err != nil {
		return fsmgr.Entry{}, err
	}
	return val.(fsmgr.Entry), nil
}

// Touch sets the modification time of the entry at p.
func (a *Archive) Touch(p string, modified int64) (fsmgr.Entry, error) {
	val, err := a.trace("touch "+p, func() (interface{}, error) {
		e, err := a.fs.ResolvePath(p, true)
		if err != nil {
			return nil, err
		}
		return a.fs.UpdateEntry(e.ID, func(entry *fsmgr.Entry) { entry.Modified = modified })
	})
	if err != nil {
		return fsmgr.Entry{}, err
	}
	return val.(fsmgr.Entry), nil
}

// Query runs q (rooted at a path, not an id) against the filesystem.
func (a *Archive) Query(rootPath string, q query.Query) ([]fsmgr.Entry, []string, error) {
	type qresult struct {
		entries []fsmgr.Entry
		paths   []string
	}
	val, err := a.exec.do(func() (interface{}, error) {
		root, err := a.fs.ResolvePath(rootPath, true)
		if err != nil {
			return nil, err
		}
		q.Root = root.ID
		entries, paths, err := q.Run(a.fs)
		if err != nil {
			return nil, err
		}
		return qresult{entries: entries, paths: paths}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	r := val.(qresult)
	return r.entries, r.paths, nil
}
