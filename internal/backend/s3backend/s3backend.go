// Package s3backend implements an AWS S3 backend.
//
// Like GCS, S3 never pushes back on size, so the byte quota is enforced by
// the adapter against a usage counter initialized from a prefix listing.
package s3backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/projectmirror/stash/internal/backend"
	"github.com/projectmirror/stash/internal/codec"
)

// Compile-time check that Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// Backend is an AWS S3 key/value backend.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
	codec  codec.Codec
	quota  int64 // 0 means unlimited

	mu      sync.Mutex
	used    int64
	scanned bool
}

// New creates a new S3 backend. The bucket must already exist.
// The codec handles compression/decompression of stored values.
func New(ctx context.Context, bucketName string, c codec.Codec, opts ...Option) (*Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	b := &Backend{
		client: s3.NewFromConfig(cfg),
		bucket: bucketName,
		codec:  c,
	}

	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Option configures a Backend.
type Option func(*Backend) error

// WithPrefix sets an object-key prefix for all operations.
func WithPrefix(prefix string) Option {
	return func(b *Backend) error {
		b.prefix = strings.TrimSuffix(prefix, "/")
		if b.prefix != "" {
			b.prefix += "/"
		}
		return nil
	}
}

// WithQuota sets the adapter-enforced byte quota. Zero means unlimited.
func WithQuota(quotaBytes int64) Option {
	return func(b *Backend) error {
		b.quota = quotaBytes
		return nil
	}
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(b *Backend) error {
		cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
		if err != nil {
			return fmt.Errorf("loading AWS config with region: %w", err)
		}
		b.client = s3.NewFromConfig(cfg)
		return nil
	}
}

// WithEndpoint sets a custom endpoint (for S3-compatible services like MinIO).
func WithEndpoint(endpoint string) Option {
	return func(b *Backend) error {
		cfg, err := config.LoadDefaultConfig(context.Background())
		if err != nil {
			return fmt.Errorf("loading AWS config for endpoint: %w", err)
		}
		b.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
		return nil
	}
}

// Get reads and decodes the value stored under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.prefix + key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("reading object: %w", err)
	}
	defer result.Body.Close()

	decompressor, err := b.codec.Reader(result.Body)
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

	fullKey := b.prefix + key

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureScannedLocked(ctx); err != nil {
		return err
	}

	existing := b.objectSize(ctx, fullKey)
	projected := b.used + int64(encoded.Len()) - existing
	if b.quota > 0 && projected > b.quota {
		return backend.ErrQuotaExceeded
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fullKey),
		Body:   bytes.NewReader(encoded.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("writing object: %w", err)
	}
	b.used = projected
	return nil
}

// Delete removes key. Absent keys are a no-op; S3 deletes are idempotent.
func (b *Backend) Delete(ctx context.Context, key string) error {
	fullKey := b.prefix + key

	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.objectSize(ctx, fullKey)
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return fmt.Errorf("deleting object: %w", err)
	}
	if b.scanned {
		b.used -= size
	}
	return nil
}

// Keys returns every key under the configured prefix.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), b.prefix))
		}
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
	// The S3 client does not need explicit closing.
	return nil
}

// objectSize returns the stored size of fullKey, or zero when absent.
func (b *Backend) objectSize(ctx context.Context, fullKey string) int64 {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return 0
	}
	return aws.ToInt64(head.ContentLength)
}

// ensureScannedLocked initializes the usage counter from a prefix listing
// the first time quota enforcement needs it.
func (b *Backend) ensureScannedLocked(ctx context.Context) error {
	if b.scanned || b.quota <= 0 {
		b.scanned = true
		return nil
	}
	var used int64
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("scanning bucket usage: %w", err)
		}
		for _, obj := range page.Contents {
			used += aws.ToInt64(obj.Size)
		}
	}
	b.used = used
	b.scanned = true
	return nil
}
