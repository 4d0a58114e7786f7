// Package notify delivers agent events to connected websocket clients. There
// is no buffering: a user without a registered connection simply misses the
// event, and clients reconcile from persisted task cards on reconnect.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pulseplan/pulse/internal/telemetry"
)

// EventType names one websocket envelope type. The set is closed; Emit
// rejects anything else.
type EventType string

const (
	EventTaskCreated          EventType = "task_created"
	EventTaskProgress         EventType = "task_progress"
	EventStepCompleted        EventType = "step_completed"
	EventTaskCompleted        EventType = "task_completed"
	EventTaskFailed           EventType = "task_failed"
	EventTaskCancelled        EventType = "task_cancelled"
	EventCrudSuccess          EventType = "crud_success"
	EventCrudFailure          EventType = "crud_failure"
	EventImmediateResponse    EventType = "immediate_response"
	EventClarificationRequest EventType = "clarification_request"
	EventWorkflowSwitch       EventType = "workflow_switch"
)

// ValidEventType reports whether t belongs to the closed event set.
func ValidEventType(t EventType) bool {
	switch t {
	case EventTaskCreated, EventTaskProgress, EventStepCompleted,
		EventTaskCompleted, EventTaskFailed, EventTaskCancelled,
		EventCrudSuccess, EventCrudFailure, EventImmediateResponse,
		EventClarificationRequest, EventWorkflowSwitch:
		return true
	}
	return false
}

// Conn is one client connection. *WebsocketConn implements it; tests use a
// recording fake.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Notifier is the per-user connection registry. One connection per user; a
// new registration replaces and closes the previous one.
type Notifier struct {
	mu    sync.RWMutex
	conns map[string]Conn

	tel *telemetry.Telemetry
	now func() time.Time
}

// New creates an empty registry. tel may be nil.
func New(tel *telemetry.Telemetry) *Notifier {
	return &Notifier{
		conns: make(map[string]Conn),
		tel:   tel,
		now:   time.Now,
	}
}

// Register binds the user's connection, closing any previous one.
func (n *Notifier) Register(userID string, conn Conn) {
	n.mu.Lock()
	old := n.conns[userID]
	n.conns[userID] = conn
	count := len(n.conns)
	n.mu.Unlock()

	if old != nil && old != conn {
		_ = old.Close()
	}
	n.tel.SetWebsocketConnections(count)
	slog.Info("websocket registered", "user", userID, "connections", count)
}

// Unregister removes the user's connection if it is still conn. Safe to call
// twice.
func (n *Notifier) Unregister(userID string, conn Conn) {
	n.mu.Lock()
	if current, ok := n.conns[userID]; ok && current == conn {
		delete(n.conns, userID)
	}
	count := len(n.conns)
	n.mu.Unlock()

	n.tel.SetWebsocketConnections(count)
	slog.Info("websocket unregistered", "user", userID, "connections", count)
}

// Connected reports whether the user currently has a connection.
func (n *Notifier) Connected(userID string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.conns[userID]
	return ok
}

// Count returns the number of registered connections.
func (n *Notifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.conns)
}

// EmitToUser sends one event envelope. Returns false when the user has no
// connection, the event type is unknown, or the write fails; a failed write
// also drops the connection. Never blocks the caller beyond the write itself.
func (n *Notifier) EmitToUser(userID string, event EventType, payload map[string]any) bool {
	if !ValidEventType(event) {
		slog.Error("dropping unknown websocket event type", "user", userID, "type", event)
		return false
	}

	n.mu.RLock()
	conn, ok := n.conns[userID]
	n.mu.RUnlock()
	if !ok {
		n.tel.RecordWebsocketEvent(string(event), false)
		return false
	}

	envelope := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		envelope[k] = v
	}
	envelope["type"] = string(event)
	envelope["timestamp"] = n.now().Unix()

	if err := conn.WriteJSON(envelope); err != nil {
		slog.Warn("websocket write failed, dropping connection", "user", userID, "type", event, "err", err)
		n.Unregister(userID, conn)
		_ = conn.Close()
		n.tel.RecordWebsocketEvent(string(event), false)
		return false
	}
	n.tel.RecordWebsocketEvent(string(event), true)
	return true
}
