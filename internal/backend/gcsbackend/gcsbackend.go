// Package gcsbackend implements a Google Cloud Storage backend.
//
// Buckets do not push back on size, so the byte quota is enforced by the
// adapter: usage is initialized from a prefix listing and maintained across
// writes, and Set reports ErrQuotaExceeded when a write would exceed the
// configured limit.
package gcsbackend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/projectmirror/stash/internal/backend"
	"github.com/projectmirror/stash/internal/codec"
)

// Compile-time check that Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// Backend is a Google Cloud Storage key/value backend.
type Backend struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	codec  codec.Codec
	quota  int64 // 0 means unlimited

	mu      sync.Mutex
	used    int64
	scanned bool
}

// New creates a new GCS backend. The bucket must already exist.
// The codec handles compression/decompression of stored values.
func New(ctx context.Context, bucketName string, c codec.Codec, opts ...Option) (*Backend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	b := &Backend{
		client: client,
		bucket: client.Bucket(bucketName),
		codec:  c,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Option configures a Backend.
type Option func(*Backend)

// WithPrefix sets an object-name prefix for all operations.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = strings.TrimSuffix(prefix, "/")
		if b.prefix != "" {
			b.prefix += "/"
		}
	}
}

// WithQuota sets the adapter-enforced byte quota. Zero means unlimited.
func WithQuota(quotaBytes int64) Option {
	return func(b *Backend) {
		b.quota = quotaBytes
	}
}

// Get reads and decodes the value stored under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := b.bucket.Object(b.prefix + key).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("creating reader: %w", err)
	}
	defer reader.Close()

	decompressor, err := b.codec.Reader(reader)
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer decompressor.Close()

	value, err := io.ReadAll(decompressor)
	if err != nil {
		return nil, fmt.Errorf("decoding value: %w", err)
	}
	return value, nil
}

// Set encodes and writes value under key, enforcing the quota against the
// encoded size.
func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	var encoded bytes.Buffer
	compressor, err := b.codec.Writer(&encoded)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	if _, err := compressor.Write(value); err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}

	obj := b.bucket.Object(b.prefix + key)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureScannedLocked(ctx); err != nil {
		return err
	}

	var existing int64
	if attrs, err := obj.Attrs(ctx); err == nil {
		existing = attrs.Size
	}
	projected := b.used + int64(encoded.Len()) - existing
	if b.quota > 0 && projected > b.quota {
		return backend.ErrQuotaExceeded
	}

	writer := obj.NewWriter(ctx)
	if _, err := writer.Write(encoded.Bytes()); err != nil {
		writer.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("committing object: %w", err)
	}
	b.used = projected
	return nil
}

// Delete removes key. Absent keys are a no-op.
func (b *Backend) Delete(ctx context.Context, key string) error {
	obj := b.bucket.Object(b.prefix + key)

	b.mu.Lock()
	defer b.mu.Unlock()

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil
		}
		return fmt.Errorf("stat object: %w", err)
	}
	if err := obj.Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return nil
		}
		return fmt.Errorf("deleting object: %w", err)
	}
	if b.scanned {
		b.used -= attrs.Size
	}
	return nil
}

// Keys returns every key under the configured prefix.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: b.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, b.prefix))
	}
	return keys, nil
}

// Clear removes every object under the configured prefix.
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

// Close releases resources.
func (b *Backend) Close() error {
	return b.client.Close()
}

// ensureScannedLocked initializes the usage counter from a prefix listing
// the first time quota enforcement needs it.
func (b *Backend) ensureScannedLocked(ctx context.Context) error {
	if b.scanned || b.quota <= 0 {
		b.scanned = true
		return nil
	}
	var used int64
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: b.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("scanning bucket usage: %w", err)
		}
		used += attrs.Size
	}
	b.used = used
	b.scanned = true
	return nil
}
