// Package archive is the public facade over the encrypted, single-file,
// content-addressed virtual filesystem: cipher, pager, block, stream and
// filesystem layers composed into one open handle, with an asynchronous
// submission queue sitting in front of the archive's single-writer core.
package archive

import (
	"fmt"
	"time"

	googleuuid "github.com/google/uuid"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/diskfs/archive7/internal/cipher"
	"github.com/diskfs/archive7/internal/fsmgr"
	"github.com/diskfs/archive7/internal/header"
	"github.com/diskfs/archive7/internal/pager"
	"github.com/diskfs/archive7/internal/stream"
)

// DefaultCompression is the selector for an uncompressed stream. Nothing
// in this package reads it: Create takes each new stream's compression
// as an argument.
const DefaultCompression = stream.CompressionNone

// Options configures a freshly set up archive.
type Options struct {
	Owner       uuid.UUID
	Domain      uuid.UUID
	Node        uuid.UUID
	Title       string
	Compression uint16 // not read by Setup or Open
	Log         *logrus.Logger
}

// Archive is an open handle onto one archive file. All mutating
// operations are serialized through a single internal executor, so
// concurrent callers never race the underlying trees or streams.
type Archive struct {
	path string
	dm   *stream.DynamicManager
	fs   *fsmgr.Manager
	log  *logrus.Logger
	exec *executor
}

func defaultLog() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Setup creates a brand-new archive file at path under key, writing a
// fresh identity header and an empty root directory.
func Setup(path string, key cipher.Key, opts Options) (*Archive, error) {
	log := opts.Log
	if log == nil {
		log = defaultLog()
	}
	p, err := pager.Open(path, true)
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", path, err)
	}
	id := uuid.NewV4()
	h := header.New(id, opts.Owner, opts.Domain, opts.Node, opts.Title)
	dm, err := stream.NewDynamicManager(p, key, h)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("archive: initializing %s: %w", path, err)
	}
	fs, err := fsmgr.New(dm, time.Now().Unix())
	if err != nil {
		dm.Close()
		return nil, fmt.Errorf("archive: initializing filesystem layer: %w", err)
	}
	log.WithField("path", path).WithField("id", id).Info("archive: set up")
	return &Archive{path: path, dm: dm, fs: fs, log: log, exec: newExecutor()}, nil
}

// Open loads an existing archive file at path under key.
func Open(path string, key cipher.Key, opts Options) (*Archive, error) {
	log := opts.Log
	if log == nil {
		log = defaultLog()
	}
	p, err := pager.Open(path, false)
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", path, err)
	}
	dm, err := stream.OpenDynamicManager(p, key)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("archive: loading %s: %w", path, err)
	}
	fs, err := fsmgr.Open(dm)
	if err != nil {
		dm.Close()
		return nil, fmt.Errorf("archive: loading filesystem layer: %w", err)
	}
	log.WithField("path", path).Info("archive: opened")
	return &Archive{path: path, dm: dm, fs: fs, log: log, exec: newExecutor()}, nil
}

// Close stops accepting new submissions, drains the queue, and closes
// the underlying streams and host file.
func (a *Archive) Close() error {
	a.exec.close()
	return a.dm.Close()
}

// trace submits fn to the executor and logs it under a request-scoped
// trace id. This id is a google/uuid value rather than the satori/uuid
// used for every on-disk identifier: it never touches the wire format,
// it only labels a log line, so keeping it a visibly distinct type
// avoids ever confusing a trace id for a real entry or stream id.
func (a *Archive) trace(op string, fn func() (interface{}, error)) (interface{}, error) {
	id := googleuuid.New()
	a.log.WithFields(logrus.Fields{"op": op, "trace": id}).Debug("archive: submit")
	val, err := a.exec.do(fn)
	if err != nil {
		a.log.WithFields(logrus.Fields{"op": op, "trace": id}).WithError(err).Warn("archive: failed")
	} else {
		a.log.WithFields(logrus.Fields{"op": op, "trace": id}).Debug("archive: done")
	}
	return val, err
}

// Stats summarizes an archive's identity and current size.
type Stats struct {
	ID        uuid.UUID
	Owner     uuid.UUID
	Domain    uuid.UUID
	Node      uuid.UUID
	Title     string
	Created   int64
	PageCount int32
	Major     uint16
	Minor     uint16
}

// Stats reports the archive's identity header and page count.
func (a *Archive) Stats() (Stats, error) {
	val, err := a.exec.do(func() (interface{}, error) {
		h, err := a.dm.Header()
		if err != nil {
			return nil, err
		}
		return Stats{
			ID:        h.ID,
			Owner:     h.Owner,
			Domain:    h.Domain,
			Node:      h.Node,
			Title:     h.Title,
			Created:   h.Created,
			PageCount: a.dm.PageCount(),
			Major:     h.Major,
			Minor:     h.Minor,
		}, nil
	})
	if err != nil {
		return Stats{}, err
	}
	return val.(Stats), nil
}
