// Package cache provides the recommendation cache shared by the
// effectiveness analyzer and the relevance optimizer.
//
// Entries are advisory: concurrent writers of the same key race and the last
// writer wins. TTL is enforced when an entry is read.
package cache

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Store is a TTL-keyed cache of values of type V.
type Store[V any] interface {
	// Get returns the value stored under key and its age. ok is false when
	// the key is absent or older than the store's TTL.
	Get(ctx context.Context, key string) (value V, age time.Duration, ok bool)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value V) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// Key builds a cache key from its parts. Parts are escaped so that ids
// containing the separator cannot collide.
func Key(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.QueryEscape(p)
	}
	return strings.Join(escaped, ":")
}
