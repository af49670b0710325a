// Package codec defines the payload compression contract used by the
// disk and remote backends.
package codec

import "io"

// Codec compresses payloads on the way to a backend and decompresses
// them on the way out.
type Codec interface {
	// Reader wraps r to decompress data read from it.
	Reader(r io.Reader) (io.ReadCloser, error)

	// Writer wraps w to compress data written to it.
	Writer(w io.Writer) (io.WriteCloser, error)

	// Extension is the dotless filename suffix for the encoding
	// ("zst", "gz"), empty when payloads are stored as-is.
	Extension() string
}
