package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUSetGet(t *testing.T) {
	c := NewLRU[string, int](4, time.Minute)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok, "expected key a to be present")
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRUEviction(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3, 0)

	assert.True(t, c.Contains("a"), "recently used entry should survive")
	assert.False(t, c.Contains("b"), "least recently used entry should be evicted")
	assert.True(t, c.Contains("c"))
	assert.Equal(t, 2, c.Size())
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRU[string, string](4, time.Minute)

	c.Set("short", "value", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok, "expired entry should not be returned")
}

func TestLRUCleanupExpired(t *testing.T) {
	c := NewLRU[string, string](8, time.Minute)

	c.Set("live", "v", time.Minute)
	c.Set("dead1", "v", 5*time.Millisecond)
	c.Set("dead2", "v", 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	removed := c.CleanupExpired()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Size())
}

func TestLRUInvalidatePrefix(t *testing.T) {
	testCases := []struct {
		name        string
		prefix      string
		wantRemoved int
		wantKept    []string
	}{
		{
			name:        "matching prefix removes group",
			prefix:      "user:1:",
			wantRemoved: 2,
			wantKept:    []string{"user:2:context"},
		},
		{
			name:        "no match removes nothing",
			prefix:      "session:",
			wantRemoved: 0,
			wantKept:    []string{"user:1:context", "user:1:prefs", "user:2:context"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewLRU[string, string](8, time.Minute)
			c.Set("user:1:context", "v", 0)
			c.Set("user:1:prefs", "v", 0)
			c.Set("user:2:context", "v", 0)

			removed := c.InvalidatePrefix(tc.prefix)
			assert.Equal(t, tc.wantRemoved, removed)
			for _, key := range tc.wantKept {
				assert.True(t, c.Contains(key), "expected %s to be kept", key)
			}
		})
	}
}

func TestLRUDefaults(t *testing.T) {
	c := NewLRU[string, int](0, 0)
	assert.Equal(t, 1000, c.Capacity())

	c.Set("k", 1, 0)
	_, ok := c.Get("k")
	assert.True(t, ok, "default TTL should keep fresh entries alive")
}
