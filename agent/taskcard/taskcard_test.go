package taskcard

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseplan/pulse/agent/notify"
	"github.com/pulseplan/pulse/internal/profile"
	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/store"
	"github.com/pulseplan/pulse/store/db/sqlite"
)

type recordingConn struct {
	mu     sync.Mutex
	events []map[string]any
}

func (r *recordingConn) WriteJSON(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, v.(map[string]any))
	return nil
}

func (r *recordingConn) Close() error { return nil }

func (r *recordingConn) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e["type"].(string)
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *store.Store, *recordingConn, *[]time.Duration) {
	t.Helper()
	p := &profile.Profile{
		Mode:   "demo",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "pulse_test.db"),
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	t.Cleanup(func() { _ = driver.Close() })
	st := store.New(driver, p)

	n := notify.New(nil)
	conn := &recordingConn{}
	n.Register("u1", conn)

	m := New(st, n)
	m.sleep = func(time.Duration) {}
	var cleanups []time.Duration
	m.after = func(d time.Duration, fn func()) {
		cleanups = append(cleanups, d)
		fn()
	}
	return m, st, conn, &cleanups
}

func createCard(t *testing.T, m *Manager) *store.AgentTask {
	t.Helper()
	card, err := m.CreateWorkflowTask(context.Background(), CreateParams{
		UserID:       "u1",
		TaskType:     "workflow",
		WorkflowType: "tasks",
		Title:        "Creating your task",
		Steps:        []string{"validate", "persist", "confirm"},
		CanCancel:    true,
	})
	require.NoError(t, err)
	return card
}

func TestCreateWorkflowTaskPersistsAndAnnounces(t *testing.T) {
	m, st, conn, _ := newTestManager(t)

	card := createCard(t, m)
	assert.Equal(t, store.AgentTaskStatusPending, card.Status)
	require.NotNil(t, card.StartedTs)
	require.Len(t, card.Steps, 3)

	rows, err := st.ListAgentTasks(context.Background(), &store.FindAgentTask{UserID: util.PointerOf("u1")})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, card.ID, rows[0].ID)

	assert.Equal(t, []string{"task_created"}, conn.types())
}

func TestCompleteTaskStepAdvancesProgress(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	card := createCard(t, m)

	require.NoError(t, m.CompleteTaskStep(context.Background(), card.ID, "validate", ""))
	got := m.Get(card.ID)
	assert.Equal(t, 33, got.Progress)
	assert.Equal(t, store.AgentTaskStepStatusCompleted, got.Steps[0].Status)
	assert.Equal(t, store.AgentTaskStatusInProgress, got.Status)

	require.NoError(t, m.CompleteTaskStep(context.Background(), card.ID, "persist", ""))
	assert.Equal(t, 66, m.Get(card.ID).Progress)

	err := m.CompleteTaskStep(context.Background(), card.ID, "nope", "")
	require.Error(t, err)
}

func TestCompleteTaskFinishesEverything(t *testing.T) {
	m, st, conn, cleanups := newTestManager(t)
	card := createCard(t, m)

	require.NoError(t, m.CompleteTask(context.Background(), card.ID, "done"))

	rows, err := st.ListAgentTasks(context.Background(), &store.FindAgentTask{ID: util.PointerOf(card.ID)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, store.AgentTaskStatusCompleted, rows[0].Status)
	assert.Equal(t, 100, rows[0].Progress)
	require.NotNil(t, rows[0].CompletedTs)
	for _, s := range rows[0].Steps {
		assert.Equal(t, store.AgentTaskStepStatusCompleted, s.Status)
	}

	assert.Contains(t, conn.types(), "task_completed")
	require.Len(t, *cleanups, 1)
	assert.Equal(t, 60*time.Second, (*cleanups)[0])
	assert.Nil(t, m.Get(card.ID), "terminal card leaves memory after cleanup")
}

func TestFailTaskKeepsLongerCleanup(t *testing.T) {
	m, _, conn, cleanups := newTestManager(t)
	card := createCard(t, m)

	require.NoError(t, m.FailTask(context.Background(), card.ID, "the calendar write failed"))

	assert.Contains(t, conn.types(), "task_failed")
	require.Len(t, *cleanups, 1)
	assert.Equal(t, 120*time.Second, (*cleanups)[0])
}

func TestCancelTaskRespectsCanCancel(t *testing.T) {
	m, _, conn, _ := newTestManager(t)

	locked, err := m.CreateWorkflowTask(context.Background(), CreateParams{
		UserID: "u1", Title: "uncancellable", CanCancel: false,
	})
	require.NoError(t, err)
	require.Error(t, m.CancelTask(context.Background(), locked.ID, "changed my mind"))

	card := createCard(t, m)
	require.NoError(t, m.CancelTask(context.Background(), card.ID, "changed my mind"))
	assert.Nil(t, m.Get(card.ID), "cancelled card leaves memory immediately")
	assert.Contains(t, conn.types(), "task_cancelled")

	require.Error(t, m.CancelTask(context.Background(), card.ID, "again"), "unknown after cleanup")
}

func TestCRUDCardsAreEmitOnly(t *testing.T) {
	m, st, conn, _ := newTestManager(t)

	ok := m.EmitCRUDSuccess("u1", "c1", CRUDCard{
		Operation:              "created",
		EntityType:             "task",
		EntityTitle:            "homework",
		AcknowledgementMessage: "Created the task \"homework\".",
	})
	assert.True(t, ok)

	rows, err := st.ListAgentTasks(context.Background(), &store.FindAgentTask{UserID: util.PointerOf("u1")})
	require.NoError(t, err)
	assert.Empty(t, rows, "CRUD cards never persist")

	require.Len(t, conn.events, 1)
	assert.Equal(t, "crud_success", conn.events[0]["type"])
	assert.Equal(t, "c1", conn.events[0]["conversation_id"])
}

func TestTransientErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", errors.New("write: i/o timeout"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"bad gateway", errors.New("502 bad gateway"), true},
		{"temporarily unavailable", errors.New("resource temporarily unavailable"), true},
		{"constraint violation", errors.New("UNIQUE constraint failed"), false},
		{"syntax error", errors.New("near \"SELEC\": syntax error"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, transient(tc.err))
		})
	}
}
