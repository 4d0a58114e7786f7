package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseplan/pulse/agent/conversation"
	"github.com/pulseplan/pulse/agent/convstate"
	"github.com/pulseplan/pulse/agent/intent"
	"github.com/pulseplan/pulse/agent/notify"
	"github.com/pulseplan/pulse/agent/taskcard"
	"github.com/pulseplan/pulse/internal/cache"
	"github.com/pulseplan/pulse/internal/config"
	"github.com/pulseplan/pulse/internal/profile"
	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/scheduler/service"
	"github.com/pulseplan/pulse/store"
	"github.com/pulseplan/pulse/store/db/sqlite"
)

var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

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

type fakeScheduler struct {
	resp *service.ScheduleResponse
	err  error
}

func (f *fakeScheduler) RescheduleMissed(context.Context, string, int) (*service.ScheduleResponse, error) {
	return f.resp, f.err
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store, *recordingConn) {
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

	kv := cache.NewMemory(256)
	t.Cleanup(func() { _ = kv.Close() })

	notifier := notify.New(nil)
	conn := &recordingConn{}
	notifier.Register("u1", conn)

	convs := conversation.NewManager(st, kv, config.Default())
	states := convstate.NewManager(kv)
	proc := intent.NewProcessor(states, intent.NewContextLoader(st), intent.NewRuleClassifier(), nil, nil)
	cards := taskcard.New(st, notifier)

	sched := &fakeScheduler{resp: &service.ScheduleResponse{
		Feasible: true,
		Blocks:   make([]service.ResponseBlock, 2),
	}}

	o := New(st, convs, proc, cards, notifier, nil, sched, nil)
	o.now = func() time.Time { return testNow }
	return o, st, conn
}

func TestHandleMessageRequiresUser(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	_, err := o.HandleMessage(context.Background(), "", "", "hello")
	require.Error(t, err)
}

func TestCreateTaskClarificationFlow(t *testing.T) {
	o, st, conn := newTestOrchestrator(t)
	ctx := context.Background()

	first, err := o.HandleMessage(ctx, "u1", "", "create a task")
	require.NoError(t, err)
	assert.True(t, first.RequiresFollowUp)
	assert.Contains(t, first.Message, "What task would you like me to create")
	assert.Contains(t, conn.types(), "clarification_request")

	second, err := o.HandleMessage(ctx, "u1", first.ConversationID, "homework")
	require.NoError(t, err)
	assert.False(t, second.RequiresFollowUp)
	assert.Contains(t, second.Message, "homework")
	assert.NotEmpty(t, second.TaskCardID)

	tasks, err := st.ListTasks(ctx, &store.FindTask{UserID: util.PointerOf("u1")})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "homework", tasks[0].Title)

	assert.Contains(t, conn.types(), "task_created")
	assert.Contains(t, conn.types(), "task_completed")
	assert.Contains(t, conn.types(), "crud_success")

	count, err := st.CountChatTurns(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 4, count, "two user and two assistant turns")
}

func TestCreateTaskWithDueDate(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	first, err := o.HandleMessage(ctx, "u1", "", "create a task")
	require.NoError(t, err)
	_, err = o.HandleMessage(ctx, "u1", first.ConversationID, "physics homework by friday 5pm")
	require.NoError(t, err)

	tasks, err := st.ListTasks(ctx, &store.FindTask{UserID: util.PointerOf("u1")})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "physics homework", tasks[0].Title)
	require.NotNil(t, tasks[0].Deadline)
	want := time.Date(2026, 3, 6, 17, 0, 0, 0, time.UTC)
	assert.Equal(t, want.Unix(), *tasks[0].Deadline)
}

func TestListTasksReply(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	for _, title := range []string{"read chapter 4", "lab writeup"} {
		_, err := st.CreateTask(ctx, &store.Task{
			ID: "task_" + title[:4], UserID: "u1", Title: title,
			Kind: store.TaskKindStudy, EstimatedMinutes: 60,
			MinBlockMinutes: 30, MaxBlockMinutes: 120, Weight: 1,
			CreatedTs: testNow.Unix(), UpdatedTs: testNow.Unix(),
		})
		require.NoError(t, err)
	}

	resp, err := o.HandleMessage(ctx, "u1", "", "show my tasks")
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "2 open task")
	assert.Contains(t, resp.Message, "read chapter 4")
	assert.Contains(t, resp.Message, "lab writeup")
}

func TestCompleteTaskViaClarification(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := st.CreateTask(ctx, &store.Task{
		ID: "task_gym", UserID: "u1", Title: "gym session",
		Kind: store.TaskKindHobby, EstimatedMinutes: 60,
		MinBlockMinutes: 30, MaxBlockMinutes: 120, Weight: 1,
		CreatedTs: testNow.Unix(), UpdatedTs: testNow.Unix(),
	})
	require.NoError(t, err)

	first, err := o.HandleMessage(ctx, "u1", "", "mark a task as done")
	require.NoError(t, err)
	assert.True(t, first.RequiresFollowUp)
	assert.Contains(t, first.Message, "Which task")

	second, err := o.HandleMessage(ctx, "u1", first.ConversationID, "gym")
	require.NoError(t, err)
	assert.Contains(t, second.Message, "gym session")

	task, err := st.GetTask(ctx, "task_gym", "u1")
	require.NoError(t, err)
	assert.True(t, task.Completed)
}

func TestRescheduleDayUsesScheduler(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	resp, err := o.HandleMessage(context.Background(), "u1", "", "reschedule my day")
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "2 block(s)")
}

func TestBlockTimeCreatesBusyEvent(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	ctx := context.Background()

	resp, err := o.HandleMessage(ctx, "u1", "", "block time tomorrow at 9:00 for 2 hours")
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "Blocked 120 minutes")

	events, err := st.ListBusyEvents(ctx, &store.FindBusyEvent{UserID: util.PointerOf("u1")})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, store.EventSourceManual, events[0].Source)
	assert.True(t, events[0].Hard)
	start := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, start.Unix(), events[0].StartTs)
	assert.Equal(t, start.Add(2*time.Hour).Unix(), events[0].EndTs)
}

func TestSmallTalkImmediateResponse(t *testing.T) {
	o, _, conn := newTestOrchestrator(t)

	resp, err := o.HandleMessage(context.Background(), "u1", "", "hello")
	require.NoError(t, err)
	assert.Equal(t, string(intent.ActionCasualConversation), resp.Action)
	assert.NotEmpty(t, resp.Message)
	assert.Empty(t, resp.TaskCardID)
	assert.Contains(t, conn.types(), "immediate_response")
}

func TestWebSearchNotConnected(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	resp, err := o.HandleMessage(context.Background(), "u1", "", "search python tutorials")
	require.NoError(t, err)
	assert.Equal(t, string(intent.ActionWebSearch), resp.Action)
	assert.Contains(t, resp.Message, "python tutorials")
}
