// Key-value accelerator for moderation counters, probation flags, dedupe keys and
// small cached payloads, with per-key TTLs.
//
// Includes an interface and implementations using redis and in-process memory. The
// relational store stays authoritative: callers hold a nil Store when no cache is
// configured and fall back to durable reads.
package cachestore

import (
	"context"
	"time"
)

const (
	// TTL results for missing keys and keys without expiry, matching redis semantics.
	TTLMissing   = time.Duration(-2)
	TTLNoExpiry  = time.Duration(-1)
	NoExpiration = time.Duration(0)
)

type Store interface {
	// Incr increments key and (re)sets its expiry to ttl. Returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns "" without error on miss.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
	// SetNX stores val only when key is absent. Returns true if stored.
	SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error

	SAdd(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// LPushTrim prepends val and trims the list to maxLen entries. Returns the new length.
	LPushTrim(ctx context.Context, key, val string, maxLen int64) (int64, error)
	LRange(ctx context.Context, key string, limit int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	// RPop removes the oldest list entry. Returns "" without error on an empty list.
	RPop(ctx context.Context, key string) (string, error)
}
