// Package diskbackend implements a disk-based backend with a byte quota.
//
// Each key is one file under the root directory, named by a base32 encoding
// of the key so arbitrary ids map to safe filenames. Values are run through
// a codec (zstd by default in callers) before hitting disk, and the quota is
// enforced against the bytes actually written.
package diskbackend

import (
	"bytes"
	"context"
	"encoding/base32"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/projectmirror/stash/internal/backend"
	"github.com/projectmirror/stash/internal/codec"
)

// Compile-time check that Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// keyEncoding maps arbitrary keys to filesystem-safe names. No padding:
// trailing '=' is hostile to some filesystems and tooling.
var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Backend is a disk-based key/value store with a byte quota.
type Backend struct {
	root  string
	codec codec.Codec
	quota int64 // 0 means unlimited

	mu   sync.Mutex
	used int64 // on-disk bytes across all value files
}

// New creates a disk backend rooted at dir, creating it if needed.
// quotaBytes bounds the total on-disk value bytes; zero means unlimited.
func New(dir string, c codec.Codec, quotaBytes int64) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backend directory: %w", err)
	}

	b := &Backend{
		root:  dir,
		codec: c,
		quota: quotaBytes,
	}
	if err := b.scan(); err != nil {
		return nil, err
	}
	return b, nil
}

// scan walks existing value files to initialize the usage counter.
func (b *Backend) scan() error {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return fmt.Errorf("scanning backend directory: %w", err)
	}
	var used int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		used += info.Size()
	}
	b.used = used
	return nil
}

// UsedBytes returns the current on-disk usage.
func (b *Backend) UsedBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Get reads and decodes the value stored under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	// Check for cancellation before starting I/O.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	raw, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("reading value: %w", err)
	}

	reader, err := b.codec.Reader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer reader.Close()

	value, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}
	return value, nil
}

// Set encodes and writes value under key, enforcing the quota against the
// encoded size. The write goes through a temp file and rename so readers
// never observe a partial value.
func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var encoded bytes.Buffer
	writer, err := b.codec.Writer(&encoded)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	if _, err := writer.Write(value); err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}

	path := b.path(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	var existing int64
	if info, err := os.Stat(path); err == nil {
		existing = info.Size()
	}
	projected := b.used + int64(encoded.Len()) - existing
	if b.quota > 0 && projected > b.quota {
		return backend.ErrQuotaExceeded
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded.Bytes(), 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing value: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing value: %w", err)
	}
	b.used = projected
	return nil
}

// Delete removes key. Absent keys are a no-op.
func (b *Backend) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	path := b.path(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat value: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting value: %w", err)
	}
	b.used -= info.Size()
	return nil
}

// Keys returns every key with a value file on disk.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("listing backend directory: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := b.codec.Extension(); ext != "" {
			var ok bool
			name, ok = strings.CutSuffix(name, "."+ext)
			if !ok {
				continue
			}
		}
		decoded, err := keyEncoding.DecodeString(name)
		if err != nil {
			// Not one of ours; leave foreign files alone.
			continue
		}
		keys = append(keys, string(decoded))
	}
	return keys, nil
}

// Clear removes every value file.
func (b *Backend) Clear(ctx context.Context) error {
	keys, err := b.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := b.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources held by the backend.
func (b *Backend) Close() error {
	return nil
}

// path returns the value file path for a key.
func (b *Backend) path(key string) string {
	name := keyEncoding.EncodeToString([]byte(key))
	if ext := b.codec.Extension(); ext != "" {
		name += "." + ext
	}
	return filepath.Join(b.root, name)
}
