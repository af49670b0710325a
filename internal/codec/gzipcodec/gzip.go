// Package gzipcodec provides a gzip codec for backends where zstd is not
// wanted, at a configurable compression level.
package gzipcodec

import (
	"compress/gzip"
	"io"

	"github.com/projectmirror/stash/internal/codec"
)

var _ codec.Codec = (*Codec)(nil)

// Codec implements gzip compression at a fixed level.
type Codec struct {
	level int
}

// New returns a gzip codec at the default level.
func New() *Codec {
	return NewLevel(gzip.DefaultCompression)
}

// NewLevel returns a gzip codec at the given level. Invalid levels fall
// back to the default.
func NewLevel(level int) *Codec {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &Codec{level: level}
}

// Reader wraps r to decompress gzip data.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// Writer wraps w to compress data with gzip.
func (c *Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, c.level)
}

// Extension returns "gz".
func (c *Codec) Extension() string {
	return "gz"
}
