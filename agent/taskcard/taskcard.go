// Package taskcard owns the lifecycle of agent task cards: the user-facing
// progress objects behind long-running agent work. Cards live in memory for
// the duration of the workflow, persist to the store for reconnect
// reconciliation, and emit websocket events on every transition.
package taskcard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pulseplan/pulse/agent/notify"
	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/store"
)

// Cleanup delays before a terminal card leaves the in-memory map. The store
// row stays either way.
const (
	completedCleanupDelay = 60 * time.Second
	failedCleanupDelay    = 120 * time.Second
)

var defaultRetryBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// entry serializes all mutations of one card.
type entry struct {
	mu        sync.Mutex
	card      *store.AgentTask
	persisted bool
}

// Manager drives task cards. Process-wide; card mutations serialize per card
// id, reads are concurrent.
type Manager struct {
	store    *store.Store
	notifier *notify.Notifier

	mu    sync.RWMutex
	cards map[string]*entry

	retryBackoff []time.Duration
	sleep        func(time.Duration)
	after        func(time.Duration, func())
	now          func() time.Time
}

// New creates a card manager. notifier may be nil when nothing listens.
func New(st *store.Store, notifier *notify.Notifier) *Manager {
	return &Manager{
		store:        st,
		notifier:     notifier,
		cards:        make(map[string]*entry),
		retryBackoff: defaultRetryBackoff,
		sleep:        time.Sleep,
		after:        func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		now:          time.Now,
	}
}

// CreateParams describes a new workflow card.
type CreateParams struct {
	UserID                   string
	ConversationID           string
	TaskType                 string
	WorkflowType             string
	Title                    string
	Description              string
	Steps                    []string
	CanCancel                bool
	EstimatedDurationSeconds int
}

// CreateWorkflowTask builds a pending card, persists it, and announces it.
func (m *Manager) CreateWorkflowTask(ctx context.Context, p CreateParams) (*store.AgentTask, error) {
	if p.UserID == "" {
		return nil, fmt.Errorf("userId is required")
	}
	now := m.now().Unix()
	steps := make([]store.AgentTaskStep, len(p.Steps))
	for i, name := range p.Steps {
		steps[i] = store.AgentTaskStep{Name: name, Status: store.AgentTaskStepStatusPending}
	}
	card := &store.AgentTask{
		ID:                       "card_" + util.GenShortUUID(),
		UserID:                   p.UserID,
		TaskType:                 p.TaskType,
		WorkflowType:             p.WorkflowType,
		Title:                    p.Title,
		Description:              p.Description,
		Status:                   store.AgentTaskStatusPending,
		Steps:                    steps,
		CanCancel:                p.CanCancel,
		EstimatedDurationSeconds: p.EstimatedDurationSeconds,
		StartedTs:                util.PointerOf(now),
		CreatedTs:                now,
		UpdatedTs:                now,
	}
	if p.ConversationID != "" {
		card.ConversationID = util.PointerOf(p.ConversationID)
	}

	e := &entry{card: card}
	m.mu.Lock()
	m.cards[card.ID] = e
	m.mu.Unlock()

	e.mu.Lock()
	m.persist(ctx, e)
	e.mu.Unlock()

	m.emit(card, notify.EventTaskCreated)
	return m.Get(card.ID), nil
}

// UpdateTaskProgress advances the percent and/or the named step. A pending
// step named here moves to in_progress. An optional status moves the card.
func (m *Manager) UpdateTaskProgress(ctx context.Context, taskID string, progress *int, currentStep string, status *store.AgentTaskStatus) error {
	return m.mutate(ctx, taskID, notify.EventTaskProgress, func(card *store.AgentTask) error {
		if progress != nil {
			card.Progress = util.ClampInt(*progress, 0, 100)
		}
		if currentStep != "" {
			for i := range card.Steps {
				if card.Steps[i].Name != currentStep {
					continue
				}
				if card.Steps[i].Status == store.AgentTaskStepStatusPending {
					card.Steps[i].Status = store.AgentTaskStepStatusInProgress
					card.Steps[i].Timestamp = m.now().Unix()
				}
				break
			}
		}
		if status != nil {
			card.Status = *status
		} else if card.Status == store.AgentTaskStatusPending {
			card.Status = store.AgentTaskStatusInProgress
		}
		return nil
	})
}

// CompleteTaskStep marks one step completed and recomputes the percent from
// the step ratio.
func (m *Manager) CompleteTaskStep(ctx context.Context, taskID, stepName, details string) error {
	return m.mutate(ctx, taskID, notify.EventStepCompleted, func(card *store.AgentTask) error {
		found := false
		completed := 0
		for i := range card.Steps {
			if card.Steps[i].Name == stepName {
				card.Steps[i].Status = store.AgentTaskStepStatusCompleted
				card.Steps[i].Timestamp = m.now().Unix()
				card.Steps[i].Details = details
				found = true
			}
			if card.Steps[i].Status == store.AgentTaskStepStatusCompleted {
				completed++
			}
		}
		if !found {
			return fmt.Errorf("unknown step %q on card %s", stepName, taskID)
		}
		if len(card.Steps) > 0 {
			card.Progress = completed * 100 / len(card.Steps)
		}
		if card.Status == store.AgentTaskStatusPending {
			card.Status = store.AgentTaskStatusInProgress
		}
		return nil
	})
}

// CompleteTask finishes the card: every step completed, progress 100.
func (m *Manager) CompleteTask(ctx context.Context, taskID, result string) error {
	err := m.mutate(ctx, taskID, notify.EventTaskCompleted, func(card *store.AgentTask) error {
		for i := range card.Steps {
			if card.Steps[i].Status != store.AgentTaskStepStatusCompleted {
				card.Steps[i].Status = store.AgentTaskStepStatusCompleted
				card.Steps[i].Timestamp = m.now().Unix()
			}
		}
		card.Status = store.AgentTaskStatusCompleted
		card.Progress = 100
		card.CompletedTs = util.PointerOf(m.now().Unix())
		if result != "" {
			card.Result = util.PointerOf(result)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.scheduleCleanup(taskID, completedCleanupDelay)
	return nil
}

// FailTask marks the card failed with a user-visible message.
func (m *Manager) FailTask(ctx context.Context, taskID, errorMessage string) error {
	err := m.mutate(ctx, taskID, notify.EventTaskFailed, func(card *store.AgentTask) error {
		card.Status = store.AgentTaskStatusFailed
		card.ErrorMessage = util.PointerOf(errorMessage)
		card.CompletedTs = util.PointerOf(m.now().Unix())
		return nil
	})
	if err != nil {
		return err
	}
	m.scheduleCleanup(taskID, failedCleanupDelay)
	return nil
}

// CancelTask cancels a cancellable, non-terminal card and drops it from
// memory immediately.
func (m *Manager) CancelTask(ctx context.Context, taskID, reason string) error {
	err := m.mutate(ctx, taskID, notify.EventTaskCancelled, func(card *store.AgentTask) error {
		if !card.CanCancel {
			return fmt.Errorf("card %s cannot be cancelled", taskID)
		}
		switch card.Status {
		case store.AgentTaskStatusCompleted, store.AgentTaskStatusFailed, store.AgentTaskStatusCancelled:
			return fmt.Errorf("card %s is already %s", taskID, card.Status)
		}
		card.Status = store.AgentTaskStatusCancelled
		if reason != "" {
			card.Result = util.PointerOf(reason)
		}
		card.CompletedTs = util.PointerOf(m.now().Unix())
		return nil
	})
	if err != nil {
		return err
	}
	m.remove(taskID)
	return nil
}

// Get returns a copy of the in-memory card, or nil when unknown.
func (m *Manager) Get(taskID string) *store.AgentTask {
	m.mu.RLock()
	e, ok := m.cards[taskID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	clone := *e.card
	clone.Steps = append([]store.AgentTaskStep(nil), e.card.Steps...)
	return &clone
}

// CRUDCard is the one-shot acknowledgement for a direct CRUD operation. It
// has no lifecycle; it is emitted once and never stored.
type CRUDCard struct {
	ID                     string `json:"id"`
	UserID                 string `json:"user_id"`
	Operation              string `json:"operation"` // created | updated | deleted
	EntityType             string `json:"entity_type"`
	EntityTitle            string `json:"entity_title"`
	EntityID               string `json:"entity_id,omitempty"`
	Details                string `json:"details,omitempty"`
	AcknowledgementMessage string `json:"acknowledgement_message,omitempty"`
	Timestamp              int64  `json:"timestamp"`
}

// EmitCRUDSuccess announces a completed CRUD operation.
func (m *Manager) EmitCRUDSuccess(userID, conversationID string, card CRUDCard) bool {
	return m.emitCRUD(userID, conversationID, card, notify.EventCrudSuccess)
}

// EmitCRUDFailure announces a failed CRUD operation.
func (m *Manager) EmitCRUDFailure(userID, conversationID string, card CRUDCard) bool {
	return m.emitCRUD(userID, conversationID, card, notify.EventCrudFailure)
}

func (m *Manager) emitCRUD(userID, conversationID string, card CRUDCard, event notify.EventType) bool {
	if card.ID == "" {
		card.ID = "crud_" + util.GenShortUUID()
	}
	card.UserID = userID
	card.Timestamp = m.now().Unix()
	payload := map[string]any{"card": card}
	if conversationID != "" {
		payload["conversation_id"] = conversationID
	}
	return m.notifier != nil && m.notifier.EmitToUser(userID, event, payload)
}

// mutate runs fn on the locked card, persists, and emits.
func (m *Manager) mutate(ctx context.Context, taskID string, event notify.EventType, fn func(*store.AgentTask) error) error {
	m.mu.RLock()
	e, ok := m.cards[taskID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown task card %s", taskID)
	}

	e.mu.Lock()
	if err := fn(e.card); err != nil {
		e.mu.Unlock()
		return err
	}
	e.card.UpdatedTs = m.now().Unix()
	m.persist(ctx, e)
	card := *e.card
	card.Steps = append([]store.AgentTaskStep(nil), e.card.Steps...)
	e.mu.Unlock()

	m.emit(&card, event)
	return nil
}

// persist writes the card through, retrying transient failures with backoff.
// The card stays live in memory whether or not the write lands. Caller holds
// the entry lock.
func (m *Manager) persist(ctx context.Context, e *entry) {
	var write func() error
	if !e.persisted {
		write = func() error {
			_, err := m.store.CreateAgentTask(ctx, e.card)
			return err
		}
	} else {
		card := e.card
		write = func() error {
			_, err := m.store.UpdateAgentTask(ctx, &store.UpdateAgentTask{
				ID:           card.ID,
				Title:        &card.Title,
				Description:  &card.Description,
				Status:       &card.Status,
				Progress:     &card.Progress,
				Steps:        &card.Steps,
				Result:       card.Result,
				ErrorMessage: card.ErrorMessage,
				CanCancel:    &card.CanCancel,
				StartedTs:    card.StartedTs,
				CompletedTs:  card.CompletedTs,
				UpdatedTs:    &card.UpdatedTs,
			})
			return err
		}
	}

	err := write()
	for attempt := 0; err != nil && transient(err) && attempt < len(m.retryBackoff); attempt++ {
		slog.Warn("task card write failed, retrying",
			"card", e.card.ID, "attempt", attempt+1, "err", err)
		m.sleep(m.retryBackoff[attempt])
		err = write()
	}
	if err != nil {
		slog.Error("task card write failed, card continues in memory", "card", e.card.ID, "err", err)
		return
	}
	e.persisted = true
}

// transient reports whether a write error is worth retrying.
func transient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "timed out", "connection", "network", "gateway", "temporar", "unavailable"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (m *Manager) emit(card *store.AgentTask, event notify.EventType) {
	if m.notifier == nil {
		return
	}
	payload := map[string]any{"task": cardPayload(card)}
	if card.ConversationID != nil {
		payload["conversation_id"] = *card.ConversationID
	}
	m.notifier.EmitToUser(card.UserID, event, payload)
}

// cardPayload is the wire form of a card inside task lifecycle envelopes.
func cardPayload(card *store.AgentTask) map[string]any {
	steps := make([]map[string]any, len(card.Steps))
	for i, s := range card.Steps {
		steps[i] = map[string]any{
			"name":   s.Name,
			"status": string(s.Status),
		}
		if s.Details != "" {
			steps[i]["details"] = s.Details
		}
		if s.Timestamp != 0 {
			steps[i]["timestamp"] = s.Timestamp
		}
	}
	out := map[string]any{
		"id":            card.ID,
		"user_id":       card.UserID,
		"task_type":     card.TaskType,
		"workflow_type": card.WorkflowType,
		"title":         card.Title,
		"description":   card.Description,
		"status":        string(card.Status),
		"progress":      card.Progress,
		"steps":         steps,
		"can_cancel":    card.CanCancel,
	}
	if card.Result != nil {
		out["result"] = *card.Result
	}
	if card.ErrorMessage != nil {
		out["error_message"] = *card.ErrorMessage
	}
	return out
}

func (m *Manager) scheduleCleanup(taskID string, delay time.Duration) {
	m.after(delay, func() { m.remove(taskID) })
}

func (m *Manager) remove(taskID string) {
	m.mu.Lock()
	delete(m.cards, taskID)
	m.mu.Unlock()
}
