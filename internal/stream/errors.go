package stream

import "errors"

var (
	// ErrBounds is returned for a seek/wind target outside a stream's block range.
	ErrBounds = errors.New("stream: index out of bounds")
	// ErrWrite is returned when a block allocation or append short-writes.
	ErrWrite = errors.New("stream: write failed")
	// ErrNoSpace is returned when a file-object write cannot allocate a new block.
	ErrNoSpace = errors.New("stream: no space for new block")
	// ErrSinglePage is returned by Pop when only one block remains in the stream.
	ErrSinglePage = errors.New("stream: cannot pop the only remaining block")
	// ErrNotTail is returned by Extend when the hot block is not the stream's tail.
	ErrNotTail = errors.New("stream: hot block is not the tail")
	// ErrMismatch is returned by SaveBlock when idx does not match the block's own page.
	ErrMismatch = errors.New("stream: block page mismatch")
	// ErrAlreadyOpen is returned when a stream is opened twice concurrently.
	ErrAlreadyOpen = errors.New("stream: already open")
	// ErrUnknownStream is returned when a stream id has no registered descriptor.
	ErrUnknownStream = errors.New("stream: unknown stream id")
)
