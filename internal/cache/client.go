// Package cache provides result caching for conversion runs.
//
// Values are opaque bytes; callers marshal what they store. A converted
// document is keyed by source content hash plus pipeline fingerprint, so a
// rerun with identical input and configuration can skip the engine entirely.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Close() error
}

// CacheKey joins key components with colons.
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// ResultKey is the cache key for a normalized conversion result: the source
// document's content hash scoped by the pipeline fingerprint, so changing
// either the file or the configuration misses.
func ResultKey(sourceSHA, fingerprint string) string {
	return CacheKey("result", sourceSHA, fingerprint)
}
