package stream

import (
	"bytes"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Compression selectors stored in a Descriptor's Compression field.
const (
	CompressionNone uint16 = 0
	CompressionLZ4  uint16 = 1
)

// CompressBytes encodes raw under the given compression selector. A
// selector of CompressionNone returns raw unchanged.
func CompressBytes(selector uint16, raw []byte) ([]byte, error) {
	switch selector {
	case CompressionNone:
		return raw, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("stream: lz4 compressing: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("stream: lz4 flush: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("stream: unknown compression selector %d", selector)
	}
}

// DecompressBytes reverses CompressBytes.
func DecompressBytes(selector uint16, raw []byte) ([]byte, error) {
	switch selector {
	case CompressionNone:
		return raw, nil
	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(raw))
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r); err != nil {
			return nil, fmt.Errorf("stream: lz4 decompressing: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("stream: unknown compression selector %d", selector)
	}
}
