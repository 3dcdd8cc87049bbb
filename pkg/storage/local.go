package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalBucket keeps objects on the local filesystem under dir/bucket.
type LocalBucket struct {
	root    string
	bucket  string
	baseURL string
}

// NewLocalBucket creates the bucket directory if needed.
func NewLocalBucket(dir, bucket, baseURL string) (*LocalBucket, error) {
	root := filepath.Join(dir, bucket)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bucket directory: %w", err)
	}
	return &LocalBucket{root: root, bucket: bucket, baseURL: baseURL}, nil
}

// Put writes to a temp file and renames it into place so readers never see a partial object.
func (b *LocalBucket) Put(ctx context.Context, key string, r io.Reader) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dst := filepath.Join(b.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to store object: %w", err)
	}
	return nil
}

func (b *LocalBucket) PublicURL(key string) string {
	return publicURL(b.baseURL, b.bucket, key)
}

func (b *LocalBucket) Name() string {
	return b.bucket
}

var _ Bucket = (*LocalBucket)(nil)
