// Package fsmgr implements the filesystem layer: hierarchical entries
// indexed by the entry, path and listing B+Trees, and the path
// resolution and mutation API that sits on top of them.
package fsmgr

import (
	"encoding/binary"
	"fmt"

	uuid "github.com/satori/go.uuid"
)

// EntryType distinguishes the kind of filesystem object an Entry names.
type EntryType byte

const (
	TypeFile EntryType = 1
	TypeDir  EntryType = 2
	TypeLink EntryType = 3
	// TypeErr marks a synthetic entry synthesized by traverse when a
	// listing references an id missing from the entry tree. It is never
	// persisted.
	TypeErr EntryType = 4
)

const (
	maxNameLen   = 256
	maxUserLen   = 32
	maxGroupLen  = 16
	maxTargetLen = 256
)

// EntrySize is the packed byte length of an Entry record.
const EntrySize = 1 + 16 + 16 + 16 + 16 + 8 + 8 + 8 + 8 + 2 + 1 +
	(1 + maxNameLen) + (1 + maxUserLen) + (1 + maxGroupLen) + (1 + maxTargetLen) + 2

// DeleteMode governs how much of an entry delete_entry releases.
type DeleteMode int

const (
	// DeleteSoft only flags the entry as deleted.
	DeleteSoft DeleteMode = 1
	// DeleteHard flags the entry as deleted and releases its data stream.
	DeleteHard DeleteMode = 2
	// DeleteErase removes the entry from every tree and releases its data stream.
	DeleteErase DeleteMode = 3
)

// Entry is a filesystem object: a file, directory, or link.
type Entry struct {
	Type        EntryType
	ID          uuid.UUID
	Parent      uuid.UUID
	Owner       uuid.UUID
	Stream      uuid.UUID // data-stream id for files; zero otherwise
	Created     int64
	Modified    int64
	Size        uint64 // compressed size
	Length      uint64 // uncompressed length
	Compression uint16
	Deleted     bool
	Name        string
	User        string
	Group       string
	Target      string // link destination path; only meaningful for TypeLink
	Perms       uint16 // masked to 0o000-0o777
}

func clampPerms(p uint16) uint16 { return p & 0o777 }

// ToBytes packs e into an EntrySize-byte buffer.
func (e Entry) ToBytes() ([]byte, error) {
	if len(e.Name) > maxNameLen {
		return nil, fmt.Errorf("fsmgr: entry name longer than %d bytes", maxNameLen)
	}
	if len(e.User) > maxUserLen {
		return nil, fmt.Errorf("fsmgr: entry user longer than %d bytes", maxUserLen)
	}
	if len(e.Group) > maxGroupLen {
		return nil, fmt.Errorf("fsmgr: entry group longer than %d bytes", maxGroupLen)
	}
	if len(e.Target) > maxTargetLen {
		return nil, fmt.Errorf("fsmgr: entry target longer than %d bytes", maxTargetLen)
	}

	buf := make([]byte, EntrySize)
	off := 0
	buf[off] = byte(e.Type)
	off++
	copy(buf[off:off+16], e.ID.Bytes())
	off += 16
	copy(buf[off:off+16], e.Parent.Bytes())
	off += 16
	copy(buf[off:off+16], e.Owner.Bytes())
	off += 16
	copy(buf[off:off+16], e.Stream.Bytes())
	off += 16
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(e.Created))
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(e.Modified))
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], e.Size)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], e.Length)
	off += 8
	binary.BigEndian.PutUint16(buf[off:off+2], e.Compression)
	off += 2
	if e.Deleted {
		buf[off] = 1
	}
	off++
	off = putLenPrefixed(buf, off, e.Name, maxNameLen)
	off = putLenPrefixed(buf, off, e.User, maxUserLen)
	off = putLenPrefixed(buf, off, e.Group, maxGroupLen)
	off = putLenPrefixed(buf, off, e.Target, maxTargetLen)
	binary.BigEndian.PutUint16(buf[off:off+2], clampPerms(e.Perms))
	off += 2
	return buf, nil
}

func putLenPrefixed(buf []byte, off int, s string, max int) int {
	buf[off] = byte(len(s))
	off++
	copy(buf[off:off+max], s)
	return off + max
}

func getLenPrefixed(buf []byte, off int, max int) (string, int) {
	n := int(buf[off])
	off++
	if n > max {
		n = max
	}
	s := string(buf[off : off+n])
	return s, off + max
}

// EntryFromBytes unpacks an Entry from its EntrySize-byte packed form.
func EntryFromBytes(raw []byte) (Entry, error) {
	var e Entry
	if len(raw) != EntrySize {
		return e, fmt.Errorf("fsmgr: entry record must be %d bytes, got %d", EntrySize, len(raw))
	}
	off := 0
	e.Type = EntryType(raw[off])
	off++
	var err error
	if e.ID, err = uuid.FromBytes(raw[off : off+16]); err != nil {
		return e, err
	}
	off += 16
	if e.Parent, err = uuid.FromBytes(raw[off : off+16]); err != nil {
		return e, err
	}
	off += 16
	if e.Owner, err = uuid.FromBytes(raw[off : off+16]); err != nil {
		return e, err
	}
	off += 16
	if e.Stream, err = uuid.FromBytes(raw[off : off+16]); err != nil {
		return e, err
	}
	off += 16
	e.Created = int64(binary.BigEndian.Uint64(raw[off : off+8]))
	off += 8
	e.Modified = int64(binary.BigEndian.Uint64(raw[off : off+8]))
	off += 8
	e.Size = binary.BigEndian.Uint64(raw[off : off+8])
	off += 8
	e.Length = binary.BigEndian.Uint64(raw[off : off+8])
	off += 8
	e.Compression = binary.BigEndian.Uint16(raw[off : off+2])
	off += 2
	e.Deleted = raw[off] != 0
	off++
	e.Name, off = getLenPrefixed(raw, off, maxNameLen)
	e.User, off = getLenPrefixed(raw, off, maxUserLen)
	e.Group, off = getLenPrefixed(raw, off, maxGroupLen)
	e.Target, off = getLenPrefixed(raw, off, maxTargetLen)
	e.Perms = clampPerms(binary.BigEndian.Uint16(raw[off : off+2]))
	return e, nil
}
