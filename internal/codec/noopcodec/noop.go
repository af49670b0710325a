// Package noopcodec provides a pass-through codec for backends that
// store payloads uncompressed.
package noopcodec

import (
	"io"

	"github.com/projectmirror/stash/internal/codec"
)

var _ codec.Codec = (*Codec)(nil)

// Codec passes data through unchanged.
type Codec struct{}

// New returns a pass-through codec.
func New() *Codec {
	return &Codec{}
}

// Reader returns r as a ReadCloser.
func (c *Codec) Reader(r io.Reader) (io.ReadCloser, error) {
	if rc, ok := r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(r), nil
}

// Writer returns w as a WriteCloser.
func (c *Codec) Writer(w io.Writer) (io.WriteCloser, error) {
	if wc, ok := w.(io.WriteCloser); ok {
		return wc, nil
	}
	return nopWriteCloser{w}, nil
}

// Extension returns the empty string; payloads carry no codec suffix.
func (c *Codec) Extension() string {
	return ""
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
