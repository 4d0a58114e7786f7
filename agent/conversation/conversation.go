// Package conversation manages durable chat history: conversations and their
// turns in the store, with a small per-conversation hot cache of recent turns
// in front of it. Appends and reads for one conversation serialize on a
// per-conversation lock.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pulseplan/pulse/internal/cache"
	"github.com/pulseplan/pulse/internal/config"
	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/llm"
	"github.com/pulseplan/pulse/store"
)

const (
	turnCacheKeyPrefix = "conversation_turns:"

	titleMaxWords = 5
	titleMaxRunes = 60
)

// cachedTurn is the hot-cache form of one turn.
type cachedTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Ts      int64  `json:"ts"`
}

// convContext is the JSON document in Conversation.Context.
type convContext struct {
	Summary      string `json:"summary,omitempty"`
	NeedsSummary bool   `json:"needs_summary,omitempty"`
}

// Manager owns conversation and turn persistence plus the recent-turn cache.
type Manager struct {
	store *store.Store
	kv    cache.KV

	cacheSize    int
	cacheTTL     time.Duration
	summaryAfter int

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewManager wires the conversation manager from the runtime config.
func NewManager(st *store.Store, kv cache.KV, cfg *config.Config) *Manager {
	return &Manager{
		store:        st,
		kv:           kv,
		cacheSize:    cfg.Cache.TurnCacheSize,
		cacheTTL:     time.Duration(cfg.Cache.TurnCacheTTLHours) * time.Hour,
		summaryAfter: cfg.Cache.SummaryAfterTurns,
		locks:        map[string]*sync.Mutex{},
		now:          time.Now,
	}
}

// lockFor returns the mutex serializing one conversation.
func (m *Manager) lockFor(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[conversationID] = l
	}
	return l
}

// Ensure returns the conversation, creating it when the id is empty or
// unknown.
func (m *Manager) Ensure(ctx context.Context, userID, conversationID string) (*store.Conversation, error) {
	if conversationID != "" {
		conv, err := m.store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
		if conv != nil {
			return conv, nil
		}
	}
	now := m.now().Unix()
	conv := &store.Conversation{
		ID:            conversationID,
		UserID:        userID,
		TitleSource:   store.TitleSourceDefault,
		IsActive:      true,
		LastMessageTs: now,
		CreatedTs:     now,
		UpdatedTs:     now,
	}
	if conv.ID == "" {
		conv.ID = "conv_" + util.GenShortUUID()
	}
	created, err := m.store.CreateConversation(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return created, nil
}

// AppendTurn persists one turn, refreshes the hot cache, and maintains the
// conversation row: last-message time, a derived title on the first user
// turn, and the summarization flag once the turn count crosses the
// threshold.
func (m *Manager) AppendTurn(ctx context.Context, conv *store.Conversation, role store.ChatRole, content, metadata string) error {
	l := m.lockFor(conv.ID)
	l.Lock()
	defer l.Unlock()

	now := m.now().Unix()
	if _, err := m.store.CreateChatTurn(ctx, &store.ChatTurn{
		ConversationID: conv.ID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		Ts:             now,
	}); err != nil {
		return fmt.Errorf("failed to append chat turn: %w", err)
	}

	m.pushCachedTurn(ctx, conv.ID, cachedTurn{Role: string(role), Content: content, Ts: now})

	update := &store.UpdateConversation{
		ID:            conv.ID,
		LastMessageTs: util.PointerOf(now),
		UpdatedTs:     util.PointerOf(now),
	}
	if role == store.ChatRoleUser && conv.Title == "" {
		title := deriveTitle(content)
		update.Title = &title
		update.TitleSource = util.PointerOf(store.TitleSourceDefault)
		conv.Title = title
	}
	if flagged, raw := m.summaryFlag(ctx, conv); flagged {
		update.Context = &raw
		conv.Context = raw
	}
	if _, err := m.store.UpdateConversation(ctx, update); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

// summaryFlag decides whether this append crosses the summarization
// threshold and returns the rewritten context document when it does.
func (m *Manager) summaryFlag(ctx context.Context, conv *store.Conversation) (bool, string) {
	cc := parseContext(conv.Context)
	if cc.NeedsSummary || cc.Summary != "" {
		return false, ""
	}
	count, err := m.store.CountChatTurns(ctx, conv.ID)
	if err != nil {
		slog.Warn("failed to count turns for summary flag", "conversation", conv.ID, "err", err)
		return false, ""
	}
	if count < m.summaryAfter {
		return false, ""
	}
	cc.NeedsSummary = true
	raw, err := json.Marshal(cc)
	if err != nil {
		return false, ""
	}
	return true, string(raw)
}

// History returns up to limit turns in chronological order as LLM messages.
// includeSummary prepends the rolling summary as a system turn when one
// exists.
func (m *Manager) History(ctx context.Context, conv *store.Conversation, limit int, includeSummary bool) ([]llm.Message, error) {
	l := m.lockFor(conv.ID)
	l.Lock()
	defer l.Unlock()

	if limit <= 0 || limit > m.cacheSize {
		limit = m.cacheSize
	}

	turns, err := m.recentTurns(ctx, conv.ID, limit)
	if err != nil {
		return nil, err
	}

	var out []llm.Message
	if includeSummary {
		if cc := parseContext(conv.Context); cc.Summary != "" {
			out = append(out, llm.SystemPrompt("Conversation so far: "+cc.Summary))
		}
	}
	for _, turn := range turns {
		out = append(out, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	return out, nil
}

// recentTurns serves from the hot cache, falling back to the store when the
// cache is cold or short.
func (m *Manager) recentTurns(ctx context.Context, conversationID string, limit int) ([]cachedTurn, error) {
	cached, err := cache.GetJSON[[]cachedTurn](ctx, m.kv, turnCacheKeyPrefix+conversationID)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		slog.Warn("turn cache read failed", "conversation", conversationID, "err", err)
	}
	if len(cached) >= limit {
		return cached[len(cached)-limit:], nil
	}

	rows, err := m.store.ListChatTurns(ctx, &store.FindChatTurn{
		ConversationID: &conversationID,
		Limit:          &limit,
		Descending:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list chat turns: %w", err)
	}
	turns := make([]cachedTurn, len(rows))
	for i, row := range rows {
		// Newest-first rows flip into chronological order.
		turns[len(rows)-1-i] = cachedTurn{Role: string(row.Role), Content: row.Content, Ts: row.Ts}
	}
	if len(turns) > 0 {
		m.setCachedTurns(ctx, conversationID, turns)
	}
	return turns, nil
}

func (m *Manager) pushCachedTurn(ctx context.Context, conversationID string, turn cachedTurn) {
	cached, err := cache.GetJSON[[]cachedTurn](ctx, m.kv, turnCacheKeyPrefix+conversationID)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		slog.Warn("turn cache read failed", "conversation", conversationID, "err", err)
		return
	}
	cached = append(cached, turn)
	if len(cached) > m.cacheSize {
		cached = cached[len(cached)-m.cacheSize:]
	}
	m.setCachedTurns(ctx, conversationID, cached)
}

func (m *Manager) setCachedTurns(ctx context.Context, conversationID string, turns []cachedTurn) {
	if err := cache.SetJSON(ctx, m.kv, turnCacheKeyPrefix+conversationID, turns, m.cacheTTL); err != nil {
		slog.Warn("turn cache write failed", "conversation", conversationID, "err", err)
	}
}

// Summary returns the stored rolling summary, if any.
func Summary(conv *store.Conversation) string {
	return parseContext(conv.Context).Summary
}

// NeedsSummary reports whether the conversation is flagged for offline
// summarization.
func NeedsSummary(conv *store.Conversation) bool {
	return parseContext(conv.Context).NeedsSummary
}

// SetSummary records a produced summary and clears the flag.
func (m *Manager) SetSummary(ctx context.Context, conv *store.Conversation, summary string) error {
	cc := parseContext(conv.Context)
	cc.Summary = summary
	cc.NeedsSummary = false
	raw, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("failed to encode conversation context: %w", err)
	}
	doc := string(raw)
	if _, err := m.store.UpdateConversation(ctx, &store.UpdateConversation{
		ID:        conv.ID,
		Context:   &doc,
		UpdatedTs: util.PointerOf(m.now().Unix()),
	}); err != nil {
		return fmt.Errorf("failed to store summary: %w", err)
	}
	conv.Context = doc
	return nil
}

func parseContext(raw string) convContext {
	var cc convContext
	if raw == "" {
		return cc
	}
	if err := json.Unmarshal([]byte(raw), &cc); err != nil {
		slog.Warn("unreadable conversation context, treating as empty", "err", err)
	}
	return cc
}

// deriveTitle builds a short default title from the first user message.
func deriveTitle(content string) string {
	words := strings.Fields(content)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	title := strings.Join(words, " ")
	title = strings.Trim(title, ".,!?:;")
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes])
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}
