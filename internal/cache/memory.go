package cache

import (
	"context"
	"time"
)

const memorySweepInterval = time.Minute

// Memory is the in-process KV backend. Entries live in a TTL LRU and a
// background sweeper drops expired ones so the map does not grow unbounded
// between reads.
type Memory struct {
	lru  *LRU[string, []byte]
	done chan struct{}
}

var _ KV = (*Memory)(nil)

// NewMemory creates a memory-backed KV and starts its sweeper.
func NewMemory(capacity int) *Memory {
	m := &Memory{
		lru:  NewLRU[string, []byte](capacity, time.Hour),
		done: make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	// Copy so callers cannot mutate the cached slice.
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *Memory) SetEx(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.lru.Set(key, stored, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *Memory) Ping(_ context.Context) error {
	return nil
}

func (m *Memory) Close() error {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	return nil
}

// Size returns the current number of stored entries.
func (m *Memory) Size() int {
	return m.lru.Size()
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(memorySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.lru.CleanupExpired()
		case <-m.done:
			return
		}
	}
}
