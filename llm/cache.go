package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"log/slog"
	"time"

	"github.com/pulseplan/pulse/internal/cache"
	"github.com/pulseplan/pulse/internal/telemetry"
	"github.com/pulseplan/pulse/store"
)

const kvKeyPrefix = "llm:"

// CachedService wraps a Service with a two-layer response cache: the shared
// KV for hot lookups and the llm_cache table for durability across restarts.
// Only Chat responses are cached. Tool-call responses drive actions and must
// not be replayed, so ChatWithTools always goes to the provider.
type CachedService struct {
	inner   Service
	kv      cache.KV
	store   *store.Store
	metrics *telemetry.Telemetry
	model   string
	ttl     time.Duration

	now func() time.Time
}

var _ Service = (*CachedService)(nil)

// NewCachedService wraps inner with response caching. kv or st may be nil to
// disable that layer, metrics may be nil.
func NewCachedService(inner Service, kv cache.KV, st *store.Store, metrics *telemetry.Telemetry, model string, ttl time.Duration) *CachedService {
	if ttl <= 0 {
		ttl = 60 * time.Minute
	}
	return &CachedService{
		inner:   inner,
		kv:      kv,
		store:   st,
		metrics: metrics,
		model:   model,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *CachedService) Chat(ctx context.Context, messages []Message) (string, *CallStats, error) {
	key := CacheKey(c.model, messages)

	if content, ok := c.lookup(ctx, key); ok {
		c.metrics.RecordCacheHit("llm")
		return content, &CallStats{Cached: true}, nil
	}
	c.metrics.RecordCacheMiss("llm")

	content, stats, err := c.inner.Chat(ctx, messages)
	if err != nil {
		return "", stats, err
	}
	c.save(ctx, key, PromptHash(messages), content)
	return content, stats, nil
}

func (c *CachedService) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor) (*ChatResponse, *CallStats, error) {
	return c.inner.ChatWithTools(ctx, messages, tools)
}

func (c *CachedService) Warmup(ctx context.Context) {
	c.inner.Warmup(ctx)
}

func (c *CachedService) lookup(ctx context.Context, key string) (string, bool) {
	if c.kv != nil {
		raw, ok, err := c.kv.Get(ctx, kvKeyPrefix+key)
		if err != nil {
			slog.Warn("llm cache kv lookup failed", "error", err)
		} else if ok {
			return string(raw), true
		}
	}

	if c.store == nil {
		return "", false
	}
	entry, err := c.store.GetLLMCacheEntry(ctx, &store.FindLLMCacheEntry{CacheKey: key})
	if err != nil {
		slog.Warn("llm cache store lookup failed", "error", err)
		return "", false
	}
	if entry == nil || entry.ExpiresTs <= c.now().Unix() {
		return "", false
	}

	// Backfill the hot layer with the remaining lifetime.
	if c.kv != nil {
		remaining := time.Duration(entry.ExpiresTs-c.now().Unix()) * time.Second
		if remaining > 0 {
			if err := c.kv.SetEx(ctx, kvKeyPrefix+key, []byte(entry.Response), remaining); err != nil {
				slog.Warn("llm cache kv backfill failed", "error", err)
			}
		}
	}
	return entry.Response, true
}

func (c *CachedService) save(ctx context.Context, key, promptHash, content string) {
	if c.kv != nil {
		if err := c.kv.SetEx(ctx, kvKeyPrefix+key, []byte(content), c.ttl); err != nil {
			slog.Warn("llm cache kv write failed", "error", err)
		}
	}
	if c.store != nil {
		_, err := c.store.UpsertLLMCacheEntry(ctx, &store.UpsertLLMCacheEntry{
			CacheKey:   key,
			PromptHash: promptHash,
			Response:   content,
			ModelName:  c.model,
			ExpiresTs:  c.now().Add(c.ttl).Unix(),
		})
		if err != nil {
			slog.Warn("llm cache store write failed", "error", err)
		}
	}
}

// CacheKey derives the response cache key from the model and the full
// message list. Role and content both contribute, with separators so that
// shifted boundaries cannot collide.
func CacheKey(model string, messages []Message) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	writeMessages(h, messages)
	return hex.EncodeToString(h.Sum(nil))
}

// PromptHash hashes the message list alone, for grouping cache entries of
// the same prompt across models.
func PromptHash(messages []Message) string {
	h := sha256.New()
	writeMessages(h, messages)
	return hex.EncodeToString(h.Sum(nil))
}

func writeMessages(h hash.Hash, messages []Message) {
	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0x1f})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
}
