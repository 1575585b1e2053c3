// Package idutil provides the archive's deterministic low-integer uuid
// encoding, used for reserved internal stream ids and the root directory
// entry id.
package idutil

import (
	"encoding/binary"

	uuid "github.com/satori/go.uuid"
)

// FromInt returns the fixed uuid(int=i): the big-endian encoding of i in
// the low 8 bytes of an otherwise-zero uuid. It is used only for the
// archive's small, finite set of reserved ids, never for general
// identifiers (those are random v4 uuids).
func FromInt(i int) uuid.UUID {
	var b [16]byte
	binary.BigEndian.PutUint64(b[8:], uint64(i))
	u, _ := uuid.FromBytes(b[:])
	return u
}
