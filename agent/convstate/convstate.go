// Package convstate keeps the hot per-conversation dialog state: the active
// workflow and any pending clarification questions. State lives in the KV
// cache with a short TTL; losing it degrades to a fresh conversation, never
// to an error.
package convstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulseplan/pulse/internal/cache"
	"github.com/pulseplan/pulse/internal/util"
)

const (
	stateKeyPrefix = "conv:state:"

	defaultStateTTL          = time.Hour
	defaultClarificationTTL  = 5 * time.Minute
	maxClarificationAttempts = 2
)

// Clarification is one pending question blocking a workflow. Context carries
// what the originating turn already established (intent, action, partial
// slots) so the follow-up can complete it.
type Clarification struct {
	ID        string            `json:"id"`
	Question  string            `json:"question"`
	Context   map[string]string `json:"context,omitempty"`
	Attempts  int               `json:"attempts"`
	CreatedTs int64             `json:"created_ts"`
}

// Action returns the originating action recorded in the clarification
// context, if any.
func (c *Clarification) Action() string {
	return c.Context["action"]
}

// State is the cached dialog state of one conversation.
type State struct {
	ConversationID        string          `json:"conversation_id"`
	UserID                string          `json:"user_id,omitempty"`
	ActiveWorkflow        string          `json:"active_workflow,omitempty"`
	PendingClarifications []Clarification `json:"pending_clarifications,omitempty"`
	UpdatedTs             int64           `json:"updated_ts"`
}

// PendingClarification returns the newest unexpired clarification, or nil.
func (s *State) PendingClarification() *Clarification {
	if len(s.PendingClarifications) == 0 {
		return nil
	}
	return &s.PendingClarifications[len(s.PendingClarifications)-1]
}

// Manager reads and writes conversation state. Every mutation rewrites the
// full record and refreshes the TTL.
type Manager struct {
	kv cache.KV

	stateTTL         time.Duration
	clarificationTTL time.Duration
	now              func() time.Time
}

// Option tunes the manager.
type Option func(*Manager)

// WithTTLs overrides the state and clarification lifetimes.
func WithTTLs(state, clarification time.Duration) Option {
	return func(m *Manager) {
		if state > 0 {
			m.stateTTL = state
		}
		if clarification > 0 {
			m.clarificationTTL = clarification
		}
	}
}

// NewManager creates a state manager over the shared KV.
func NewManager(kv cache.KV, opts ...Option) *Manager {
	m := &Manager{
		kv:               kv,
		stateTTL:         defaultStateTTL,
		clarificationTTL: defaultClarificationTTL,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get loads the state, filtering out expired clarifications. A cache miss
// returns a fresh empty state. When expiry drops something, the pruned state
// is written back.
func (m *Manager) Get(ctx context.Context, conversationID string) (*State, error) {
	st, err := cache.GetJSON[*State](ctx, m.kv, stateKeyPrefix+conversationID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return &State{ConversationID: conversationID}, nil
		}
		return nil, fmt.Errorf("failed to load conversation state: %w", err)
	}

	cutoff := m.now().Add(-m.clarificationTTL).Unix()
	kept := st.PendingClarifications[:0]
	for _, c := range st.PendingClarifications {
		if c.CreatedTs > cutoff {
			kept = append(kept, c)
		}
	}
	if len(kept) != len(st.PendingClarifications) {
		st.PendingClarifications = kept
		if err := m.Save(ctx, st); err != nil {
			slog.Warn("failed to write back pruned conversation state",
				"conversation", conversationID, "err", err)
		}
	}
	return st, nil
}

// Save rewrites the state and refreshes its TTL.
func (m *Manager) Save(ctx context.Context, st *State) error {
	st.UpdatedTs = m.now().Unix()
	if err := cache.SetJSON(ctx, m.kv, stateKeyPrefix+st.ConversationID, st, m.stateTTL); err != nil {
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	return nil
}

// AddClarification appends a pending question and returns its id.
func (m *Manager) AddClarification(ctx context.Context, conversationID, question string, context map[string]string) (string, error) {
	st, err := m.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	c := Clarification{
		ID:        "clar_" + util.GenShortUUID(),
		Question:  question,
		Context:   context,
		CreatedTs: m.now().Unix(),
	}
	st.PendingClarifications = append(st.PendingClarifications, c)
	if err := m.Save(ctx, st); err != nil {
		return "", err
	}
	return c.ID, nil
}

// ResolveClarification removes the clarification by id. Resolving an unknown
// id is a no-op.
func (m *Manager) ResolveClarification(ctx context.Context, conversationID, clarificationID string) error {
	st, err := m.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	kept := st.PendingClarifications[:0]
	for _, c := range st.PendingClarifications {
		if c.ID != clarificationID {
			kept = append(kept, c)
		}
	}
	st.PendingClarifications = kept
	return m.Save(ctx, st)
}

// BumpClarification counts a failed re-prompt. Past the attempt budget the
// clarification is dropped and false is returned, telling the caller to
// reset the dialog instead of asking again.
func (m *Manager) BumpClarification(ctx context.Context, conversationID, clarificationID string) (bool, error) {
	st, err := m.Get(ctx, conversationID)
	if err != nil {
		return false, err
	}
	for i := range st.PendingClarifications {
		if st.PendingClarifications[i].ID != clarificationID {
			continue
		}
		st.PendingClarifications[i].Attempts++
		if st.PendingClarifications[i].Attempts > maxClarificationAttempts {
			st.PendingClarifications = append(
				st.PendingClarifications[:i], st.PendingClarifications[i+1:]...)
			return false, m.Save(ctx, st)
		}
		return true, m.Save(ctx, st)
	}
	return false, nil
}

// SwitchWorkflow sets the active workflow and clears every pending
// clarification; the old questions belong to the abandoned flow.
func (m *Manager) SwitchWorkflow(ctx context.Context, conversationID, workflow string) (*State, error) {
	st, err := m.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	st.ActiveWorkflow = workflow
	st.PendingClarifications = nil
	if err := m.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}
