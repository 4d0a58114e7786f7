package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory(16)
	defer kv.Close()

	require.NoError(t, kv.SetEx(ctx, "k", []byte("hello"), time.Minute))

	got, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)

	// The returned slice is a copy; mutating it must not poison the cache.
	got[0] = 'X'
	again, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), again)
}

func TestMemoryKVExpiry(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory(16)
	defer kv.Close()

	require.NoError(t, kv.SetEx(ctx, "short", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := kv.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok, "expired key should be gone")
}

func TestMemoryKVDelete(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory(16)
	defer kv.Close()

	require.NoError(t, kv.SetEx(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, kv.Delete(ctx, "k"))
	require.NoError(t, kv.Delete(ctx, "k"), "deleting an absent key is not an error")

	_, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJSONHelpers(t *testing.T) {
	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	ctx := context.Background()
	kv := NewMemory(16)
	defer kv.Close()

	in := record{Name: "reading", Count: 3}
	require.NoError(t, SetJSON(ctx, kv, "rec", in, time.Minute))

	out, err := GetJSON[record](ctx, kv, "rec")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = GetJSON[record](ctx, kv, "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}
