// Package zstdcodec provides a zstd codec. The default level favors
// speed; cached record payloads are small and rewritten often.
package zstdcodec

import (
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/projectmirror/stash/internal/codec"
)

var _ codec.Codec = (*Codec)(nil)

// Codec implements zstd compression at a fixed encoder level.
type Codec struct {
	level zstd.EncoderLevel
}

// New returns a zstd codec at the default level.
func New() *Codec {
	return NewLevel(zstd.SpeedDefault)
}

// NewLevel returns a zstd codec encoding at the given level.
func NewLevel(level zstd.EncoderLevel) *Codec {
	return &Codec{level: level}
}

// Reader wraps r to decompress zstd data.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

// Writer wraps w to compress data with zstd.
func (c *Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(c.level))
}

// Extension returns "zst".
func (c *Codec) Extension() string {
	return "zst"
}
