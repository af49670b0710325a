package gzipcodec

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"
)

func roundTrip(t *testing.T, c *Codec, payload []byte) []byte {
	t.Helper()

	var compressed bytes.Buffer
	w, err := c.Writer(&compressed)
	if err != nil {
		t.Fatalf("Writer() error = %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	r, err := c.Reader(&compressed)
	if err != nil {
		t.Fatalf("Reader() error = %v", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return out
}

func TestCodec_RoundTrip(t *testing.T) {
	payload := []byte(`{"name":"demo-project","description":"a cached record"}`)

	if got := roundTrip(t, New(), payload); !bytes.Equal(got, payload) {
		t.Errorf("round trip = %q, want %q", got, payload)
	}
	if got := roundTrip(t, New(), nil); len(got) != 0 {
		t.Errorf("round trip of empty payload = %q, want empty", got)
	}
}

func TestNewLevel(t *testing.T) {
	payload := bytes.Repeat([]byte("project record "), 1000)

	best := roundTrip(t, NewLevel(gzip.BestCompression), payload)
	if !bytes.Equal(best, payload) {
		t.Error("round trip at BestCompression corrupted payload")
	}

	// Out-of-range levels fall back rather than failing every write.
	if got := roundTrip(t, NewLevel(42), payload); !bytes.Equal(got, payload) {
		t.Error("round trip at fallback level corrupted payload")
	}
}

func TestCodec_Reader_InvalidData(t *testing.T) {
	if _, err := New().Reader(bytes.NewReader([]byte("not gzip data"))); err == nil {
		t.Error("Reader() expected error for invalid gzip data, got nil")
	}
}

func TestCodec_Extension(t *testing.T) {
	if got := New().Extension(); got != "gz" {
		t.Errorf("Extension() = %q, want %q", got, "gz")
	}
}
