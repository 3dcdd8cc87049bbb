// Package storage writes uploaded objects to a bucket and issues their public URLs.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/config"
)

// Bucket stores objects and resolves the public URL they are served from.
type Bucket interface {
	// Put writes the object under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader) error
	// PublicURL returns the URL clients fetch the object from.
	PublicURL(key string) string
	// Name returns the bucket name.
	Name() string
}

// New builds the bucket selected by configuration.
func New(cfg *config.StorageConfig, logger *zap.Logger) (Bucket, error) {
	switch cfg.Backend {
	case config.StorageBackendLocal:
		return NewLocalBucket(cfg.LocalDir, cfg.Bucket, cfg.PublicBaseURL)
	case config.StorageBackendSFTP:
		return NewSFTPBucket(&cfg.SFTP, cfg.Bucket, cfg.PublicBaseURL, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// ValidateKey rejects keys that could escape the bucket.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key must not be empty")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid object key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid object key %q", key)
		}
	}
	return nil
}

// publicURL joins base, bucket and key, escaping each key segment.
func publicURL(base, bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(bucket) + "/" + path.Join(segments...)
}
