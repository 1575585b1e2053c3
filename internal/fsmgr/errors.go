package fsmgr

import "errors"

var (
	// ErrNotFound is returned when a path or entry id does not resolve.
	ErrNotFound = errors.New("fsmgr: not found")
	// ErrExists is returned by create_entry when the target name already
	// exists under the given parent.
	ErrExists = errors.New("fsmgr: entry already exists")
	// ErrNotDir is returned when an operation expects a directory entry
	// and finds something else.
	ErrNotDir = errors.New("fsmgr: not a directory")
	// ErrNotEmpty is returned by delete_entry when a non-erase delete
	// targets a directory with a non-empty listing.
	ErrNotEmpty = errors.New("fsmgr: directory not empty")
	// ErrRoot is returned when an operation that cannot apply to the
	// root directory is attempted against it (rename, reparent, delete).
	ErrRoot = errors.New("fsmgr: operation not valid on root")
	// ErrOpen is returned when open is called on a non-file entry.
	ErrOpen = errors.New("fsmgr: not a file")
	// ErrBadName rejects names containing the path separator or empty names.
	ErrBadName = errors.New("fsmgr: invalid name")
	// ErrLinkToLink is returned by CreateEntry when a link's target itself
	// resolves to a link entry.
	ErrLinkToLink = errors.New("fsmgr: cannot create a link to a link")
	// ErrLinkTarget is returned by ResolvePath when following a link
	// whose target does not resolve to an entry.
	ErrLinkTarget = errors.New("fsmgr: target of link doesn't exist")
)
