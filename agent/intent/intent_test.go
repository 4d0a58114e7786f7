package intent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseplan/pulse/agent/convstate"
	"github.com/pulseplan/pulse/internal/cache"
	"github.com/pulseplan/pulse/internal/profile"
	"github.com/pulseplan/pulse/store"
	"github.com/pulseplan/pulse/store/db/sqlite"
)

// Monday morning.
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestProcessor(t *testing.T) (*Processor, *convstate.Manager) {
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

	kv := cache.NewMemory(128)
	t.Cleanup(func() { _ = kv.Close() })
	states := convstate.NewManager(kv)

	proc := NewProcessor(states, NewContextLoader(st), NewRuleClassifier(), nil, nil)
	proc.now = func() time.Time { return testNow }
	return proc, states
}

func TestActionWorkflowMapping(t *testing.T) {
	tests := []struct {
		action   Action
		workflow string
		card     bool
	}{
		{ActionCreateTask, "tasks", true},
		{ActionUpdateTask, "", false},
		{ActionScheduleEvent, "calendar", true},
		{ActionRescheduleDay, "scheduling", true},
		{ActionWebSearch, "search", true},
		{ActionWeeklySummary, "briefing", true},
		{ActionCasualConversation, "", false},
	}
	for _, tc := range tests {
		t.Run(string(tc.action), func(t *testing.T) {
			assert.Equal(t, tc.workflow, tc.action.Workflow())
			assert.Equal(t, tc.card, tc.action.RequiresTaskCard())
		})
	}

	_, ok := ParseAction("rm_rf")
	assert.False(t, ok)
}

func TestRuleClassifierRoutesKeywords(t *testing.T) {
	c := NewRuleClassifier()
	ctx := context.Background()

	tests := []struct {
		query  string
		action Action
	}{
		{"search python tutorials", ActionWebSearch},
		{"remind me to submit the lab report", ActionCreateTask},
		{"show my tasks", ActionListTasks},
		{"delete the gym task", ActionDeleteTask},
		{"reschedule my day", ActionRescheduleDay},
		{"block time for reading", ActionBlockTime},
		{"give me my daily briefing", ActionDailyBriefing},
		{"sync canvas please", ActionSyncCanvas},
		{"what a lovely morning", ActionGenerateResponse},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			cls, err := c.Classify(ctx, tc.query, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.action, cls.Action)
		})
	}

	cls, err := c.Classify(ctx, "search python tutorials", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "python tutorials", cls.Entities["search_query"].Value)

	cls, err = c.Classify(ctx, "remind me to submit the lab report", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "submit the lab report", cls.Entities["task_title"].Value)
}

func TestCreateTaskWithoutTitleAsksForOne(t *testing.T) {
	proc, states := newTestProcessor(t)
	ctx := context.Background()

	res, err := proc.ProcessUserQuery(ctx, "u1", "c1", "create a task", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionCreateTask, res.Action)
	assert.True(t, res.RequiresClarification)
	assert.Contains(t, res.ClarificationQuestion, "What task would you like me to create")
	assert.False(t, res.RequiresTaskCard)
	assert.Contains(t, res.DialogActs, DialogActAsk)

	st, err := states.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, st.PendingClarification())
	assert.Equal(t, string(ActionCreateTask), st.PendingClarification().Action())
}

func TestClarificationFollowUpCreatesTask(t *testing.T) {
	proc, states := newTestProcessor(t)
	ctx := context.Background()

	_, err := proc.ProcessUserQuery(ctx, "u1", "c1", "create a task", nil)
	require.NoError(t, err)

	res, err := proc.ProcessUserQuery(ctx, "u1", "c1", "homework", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionCreateTask, res.Action)
	require.NotNil(t, res.TaskInfo)
	assert.Equal(t, "homework", res.TaskInfo.TaskTitle)
	assert.False(t, res.RequiresClarification)
	assert.True(t, res.RequiresTaskCard)

	st, err := states.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, st.PendingClarification(), "answer resolves the question")
}

func TestClarificationDivertedToSearch(t *testing.T) {
	proc, states := newTestProcessor(t)
	ctx := context.Background()

	_, err := proc.ProcessUserQuery(ctx, "u1", "c1", "create a task", nil)
	require.NoError(t, err)

	res, err := proc.ProcessUserQuery(ctx, "u1", "c1", "search python tutorials", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionWebSearch, res.Action)
	assert.Equal(t, "python tutorials", res.Entities["search_query"].Value)
	assert.True(t, res.CanSwitchWorkflow)
	assert.Contains(t, res.SuggestedWorkflows, "search")

	st, err := states.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, st.PendingClarification(), "diversion clears the old question")
	assert.Equal(t, "search", st.ActiveWorkflow)
}

func TestClarifiedAnswerParsesDuePhrase(t *testing.T) {
	proc, _ := newTestProcessor(t)
	ctx := context.Background()

	_, err := proc.ProcessUserQuery(ctx, "u1", "c1", "create a task", nil)
	require.NoError(t, err)

	res, err := proc.ProcessUserQuery(ctx, "u1", "c1", "physics homework by friday 5pm", nil)
	require.NoError(t, err)
	require.NotNil(t, res.TaskInfo)
	assert.Equal(t, "physics homework", res.TaskInfo.TaskTitle)
	require.NotNil(t, res.TaskInfo.DueTs)
	want := time.Date(2026, 3, 6, 17, 0, 0, 0, time.UTC)
	assert.Equal(t, want.Unix(), *res.TaskInfo.DueTs)
}

func TestGenericAnswerReasksThenResets(t *testing.T) {
	proc, states := newTestProcessor(t)
	ctx := context.Background()

	_, err := proc.ProcessUserQuery(ctx, "u1", "c1", "create a task", nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := proc.ProcessUserQuery(ctx, "u1", "c1", "todo", nil)
		require.NoError(t, err)
		assert.True(t, res.RequiresClarification, "generic answer re-asks")
	}

	res, err := proc.ProcessUserQuery(ctx, "u1", "c1", "todo", nil)
	require.NoError(t, err)
	assert.False(t, res.RequiresClarification)
	assert.Contains(t, res.DialogActs, DialogActCancel)

	st, err := states.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, st.PendingClarification(), "budget exhausted drops the question")
}

func TestSmallTalkFastPath(t *testing.T) {
	proc, _ := newTestProcessor(t)

	res, err := proc.ProcessUserQuery(context.Background(), "u1", "c1", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionCasualConversation, res.Action)
	assert.NotEmpty(t, res.ImmediateResponse)
	assert.False(t, res.RequiresTaskCard)
}

func TestParseDuePhrase(t *testing.T) {
	tests := []struct {
		text string
		want time.Time
		ok   bool
	}{
		{"friday 5pm", time.Date(2026, 3, 6, 17, 0, 0, 0, time.UTC), true},
		{"by tomorrow", time.Date(2026, 3, 3, 17, 0, 0, 0, time.UTC), true},
		{"monday", time.Date(2026, 3, 9, 17, 0, 0, 0, time.UTC), true},
		{"at 9:30", time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), true},
		{"5pm", time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC), true},
		{"no date here", time.Time{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			got, ok := ParseDuePhrase(tc.text, testNow, time.UTC)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestParseDurationPhrase(t *testing.T) {
	mins, ok := ParseDurationPhrase("about 2 hours of work")
	require.True(t, ok)
	assert.Equal(t, 120, mins)

	mins, ok = ParseDurationPhrase("1 hour 30 minutes")
	require.True(t, ok)
	assert.Equal(t, 90, mins)

	_, ok = ParseDurationPhrase("a while")
	assert.False(t, ok)
}
