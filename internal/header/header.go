// Package header packs and unpacks the archive's top-level identity
// block: the fixed fields written once at setup and read back by
// Archive.Stats.
package header

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	uuid "github.com/satori/go.uuid"
)

// Size is the packed byte length of a Header: "8s c H H b b b 16s 16s 16s 16s Q 256s".
const Size = 8 + 1 + 2 + 2 + 1 + 1 + 1 + 16 + 16 + 16 + 16 + 8 + 256

// Magic identifies an archive7 file.
const Magic = "archive7"

// FormatByte is the single-byte format identifier.
const FormatByte = 'a'

const (
	MajorVersion uint16 = 2
	MinorVersion uint16 = 0
)

const titleLen = 256

// Header is the archive's identity block, stored in the metadata page's
// payload at offset 0.
type Header struct {
	Major   uint16
	Minor   uint16
	Type    byte
	Role    byte
	Use     byte
	ID      uuid.UUID
	Owner   uuid.UUID
	Domain  uuid.UUID
	Node    uuid.UUID
	Created int64
	Title   string
}

// New returns a fresh Header with the current version and creation time.
func New(id, owner, domain, node uuid.UUID, title string) Header {
	return Header{
		Major:   MajorVersion,
		Minor:   MinorVersion,
		ID:      id,
		Owner:   owner,
		Domain:  domain,
		Node:    node,
		Created: time.Now().Unix(),
		Title:   title,
	}
}

// ToBytes serializes h into a Size-byte buffer.
func (h Header) ToBytes() ([]byte, error) {
	if len(h.Title) > titleLen {
		return nil, fmt.Errorf("header: title longer than %d bytes", titleLen)
	}
	buf := make([]byte, Size)
	copy(buf[0:8], Magic)
	buf[8] = FormatByte
	binary.BigEndian.PutUint16(buf[9:11], MajorVersion)
	binary.BigEndian.PutUint16(buf[11:13], MinorVersion)
	buf[13] = h.Type
	buf[14] = h.Role
	buf[15] = h.Use
	copy(buf[16:32], h.ID.Bytes())
	copy(buf[32:48], h.Owner.Bytes())
	copy(buf[48:64], h.Domain.Bytes())
	copy(buf[64:80], h.Node.Bytes())
	binary.BigEndian.PutUint64(buf[80:88], uint64(h.Created))
	copy(buf[88:88+titleLen], h.Title)
	return buf, nil
}

// FromBytes parses a Header from its first Size bytes.
func FromBytes(raw []byte) (Header, error) {
	var h Header
	if len(raw) < Size {
		return h, fmt.Errorf("header: need %d bytes, got %d", Size, len(raw))
	}
	if !bytes.Equal(raw[0:8], []byte(Magic)) {
		return h, fmt.Errorf("header: bad magic %q", raw[0:8])
	}
	if raw[8] != FormatByte {
		return h, fmt.Errorf("header: unsupported format byte 0x%x", raw[8])
	}
	major := binary.BigEndian.Uint16(raw[9:11])
	minor := binary.BigEndian.Uint16(raw[11:13])
	if major != MajorVersion {
		return h, fmt.Errorf("header: unsupported major version %d", major)
	}
	h.Type = raw[13]
	h.Role = raw[14]
	h.Use = raw[15]
	var err error
	if h.ID, err = uuid.FromBytes(raw[16:32]); err != nil {
		return h, fmt.Errorf("header: parsing id: %w", err)
	}
	if h.Owner, err = uuid.FromBytes(raw[32:48]); err != nil {
		return h, fmt.Errorf("header: parsing owner: %w", err)
	}
	if h.Domain, err = uuid.FromBytes(raw[48:64]); err != nil {
		return h, fmt.Errorf("header: parsing domain: %w", err)
	}
	if h.Node, err = uuid.FromBytes(raw[64:80]); err != nil {
		return h, fmt.Errorf("header: parsing node: %w", err)
	}
	h.Created = int64(binary.BigEndian.Uint64(raw[80:88]))
	title := raw[88 : 88+titleLen]
	if i := bytes.IndexByte(title, 0); i >= 0 {
		title = title[:i]
	}
	h.Title = string(title)
	h.Major = major
	h.Minor = minor
	return h, nil
}
