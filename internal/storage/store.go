package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ErrNoObject is returned when a key does not exist in the store.
var ErrNoObject = errors.New("storage: no object")

// Store is the object store used for media and transcription results.
type Store interface {
	Put(ctx context.Context, key string, r io.ReadSeeker, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// URL returns the public retrieval URL for key.
	URL(key string) string
	// Bucket names the bucket the store writes to.
	Bucket() string
}

// PublicURL derives the virtual-hosted S3 URL for bucket/key in region.
func PublicURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, escapeKey(key))
}

// KeyFromURL extracts the object key from an S3 URL that addresses bucket.
// Both virtual-hosted (bucket.s3.region.amazonaws.com/key) and path-style
// (s3.region.amazonaws.com/bucket/key) URLs are accepted, as is s3://bucket/key.
func KeyFromURL(bucket, raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	path := strings.TrimPrefix(u.Path, "/")

	switch {
	case u.Scheme == "s3":
		if u.Host != bucket || path == "" {
			return "", false
		}
		return path, true
	case strings.HasPrefix(u.Host, bucket+".s3.") || u.Host == bucket+".s3.amazonaws.com":
		if path == "" {
			return "", false
		}
		return path, true
	case strings.HasPrefix(u.Host, "s3.") || strings.HasPrefix(u.Host, "s3-"):
		prefix := bucket + "/"
		if !strings.HasPrefix(path, prefix) || len(path) == len(prefix) {
			return "", false
		}
		return strings.TrimPrefix(path, prefix), true
	}
	return "", false
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
