// Package cache provides decision caches for the authorization engine.
//
// Every implementation stores boolean decisions under string keys with a
// per-entry TTL and supports glob-style pattern deletion ("*" matches any
// run of characters, "?" a single character). Implementations are safe for
// concurrent use.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidPattern is returned when a deletion pattern cannot be compiled.
var ErrInvalidPattern = errors.New("cache: invalid pattern")

// Cache stores authorization decisions.
type Cache interface {
	// Get returns the stored decision and whether the key was present.
	Get(ctx context.Context, key string) (value bool, found bool, err error)
	// Set stores a decision. A ttl of zero or less stores the entry without expiry.
	Set(ctx context.Context, key string, value bool, ttl time.Duration) error
	// DeletePattern removes every key matching pattern and reports how many were removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)
}
