package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by typed helpers when the key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// KV is the shared expiring key-value abstraction behind the LLM cache, the
// user-context cache, conversation hot state, job records, and the
// idempotency cache. Values are opaque bytes; callers marshal.
type KV interface {
	// Get returns the value and true when the key exists and is unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// SetEx stores the value with a TTL (ttl > 0).
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources and stops background sweepers.
	Close() error
}

// GetJSON reads key and unmarshals it into a T. Returns ErrNotFound when the
// key is absent.
func GetJSON[T any](ctx context.Context, kv KV, key string) (T, error) {
	var out T
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return out, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if !ok {
		return out, ErrNotFound
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return out, nil
}

// SetJSON marshals v and stores it under key with the given TTL.
func SetJSON(ctx context.Context, kv KV, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := kv.SetEx(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
