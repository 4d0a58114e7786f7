package convstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseplan/pulse/internal/cache"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	kv := cache.NewMemory(128)
	t.Cleanup(func() { _ = kv.Close() })
	return NewManager(kv)
}

func TestGetMissReturnsFreshState(t *testing.T) {
	m := newTestManager(t)

	st, err := m.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", st.ConversationID)
	assert.Empty(t, st.ActiveWorkflow)
	assert.Nil(t, st.PendingClarification())
}

func TestClarificationRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.AddClarification(ctx, "c1", "What task would you like me to create?",
		map[string]string{"action": "create_task"})
	require.NoError(t, err)

	st, err := m.Get(ctx, "c1")
	require.NoError(t, err)
	pending := st.PendingClarification()
	require.NotNil(t, pending)
	assert.Equal(t, id, pending.ID)
	assert.Equal(t, "create_task", pending.Action())

	require.NoError(t, m.ResolveClarification(ctx, "c1", id))
	st, err = m.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, st.PendingClarification())
}

func TestExpiredClarificationsAreFilteredOnRead(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	_, err := m.AddClarification(ctx, "c1", "Which task?", nil)
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(6 * time.Minute) }
	st, err := m.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, st.PendingClarification(), "clarifications expire after five minutes")

	// The pruned state was written back.
	st, err = m.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, st.PendingClarifications)
}

func TestSwitchWorkflowClearsClarifications(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.AddClarification(ctx, "c1", "Which task?", map[string]string{"action": "create_task"})
	require.NoError(t, err)

	st, err := m.SwitchWorkflow(ctx, "c1", "search")
	require.NoError(t, err)
	assert.Equal(t, "search", st.ActiveWorkflow)
	assert.Empty(t, st.PendingClarifications)

	st, err = m.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "search", st.ActiveWorkflow)
}

func TestBumpClarificationDropsAfterBudget(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.AddClarification(ctx, "c1", "Which task?", nil)
	require.NoError(t, err)

	again, err := m.BumpClarification(ctx, "c1", id)
	require.NoError(t, err)
	assert.True(t, again, "first re-prompt allowed")
	again, err = m.BumpClarification(ctx, "c1", id)
	require.NoError(t, err)
	assert.True(t, again, "second re-prompt allowed")
	again, err = m.BumpClarification(ctx, "c1", id)
	require.NoError(t, err)
	assert.False(t, again, "third failure drops the question")

	st, err := m.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, st.PendingClarification())
}
