package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseplan/pulse/internal/cache"
	"github.com/pulseplan/pulse/internal/config"
	"github.com/pulseplan/pulse/internal/profile"
	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/store"
	"github.com/pulseplan/pulse/store/db/sqlite"
)

// Monday 08:00 UTC, one hour before the default workday opens.
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.Store) {
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

	kv := cache.NewMemory(1024)
	t.Cleanup(func() { _ = kv.Close() })

	svc := New(st, kv, config.NewManager(config.Default(), nil), nil, nil)
	svc.now = func() time.Time { return testNow }
	return svc, st
}

func seedTask(t *testing.T, st *store.Store, id string, minutes int, deadline *int64) *store.Task {
	t.Helper()
	task, err := st.CreateTask(context.Background(), &store.Task{
		ID:               id,
		UserID:           "u1",
		Title:            "Task " + id,
		Kind:             store.TaskKindStudy,
		EstimatedMinutes: minutes,
		MinBlockMinutes:  30,
		MaxBlockMinutes:  120,
		Weight:           1,
		Deadline:         deadline,
		CreatedTs:        testNow.Unix(),
		UpdatedTs:        testNow.Unix(),
	})
	require.NoError(t, err)
	return task
}

func TestScheduleRequiresUser(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Schedule(context.Background(), &ScheduleRequest{HorizonDays: 7})
	require.Error(t, err)
}

func TestScheduleRejectsBadHorizon(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Schedule(context.Background(), &ScheduleRequest{UserID: "u1", HorizonDays: 99})
	require.Error(t, err)
}

func TestPreviewPlacesTaskWithoutPersisting(t *testing.T) {
	svc, st := newTestService(t)
	seedTask(t, st, "t1", 60, nil)

	resp, err := svc.SchedulePreview(context.Background(), &ScheduleRequest{UserID: "u1", HorizonDays: 7})
	require.NoError(t, err)

	assert.True(t, resp.Feasible)
	assert.NotEmpty(t, resp.JobID)
	require.NotEmpty(t, resp.Blocks)
	total := 0
	for _, b := range resp.Blocks {
		total += b.Metadata.DurationMinutes
		assert.Equal(t, "t1", b.TaskID)
		assert.Equal(t, BlockProvider, b.Provider)
	}
	assert.GreaterOrEqual(t, total, 60)
	assert.NotEmpty(t, resp.Explanations)

	rows, err := st.ListScheduleBlocks(context.Background(), &store.FindScheduleBlock{UserID: util.PointerOf("u1")})
	require.NoError(t, err)
	assert.Empty(t, rows, "preview never writes blocks")
}

func TestPreviewIsDeterministic(t *testing.T) {
	svc, st := newTestService(t)
	seedTask(t, st, "t1", 90, nil)
	seedTask(t, st, "t2", 60, util.PointerOf(testNow.AddDate(0, 0, 2).Unix()))
	seedTask(t, st, "t3", 120, nil)

	req := &ScheduleRequest{UserID: "u1", HorizonDays: 7}
	first, err := svc.SchedulePreview(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.SchedulePreview(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Blocks, second.Blocks)
	assert.Equal(t, first.UnscheduledTasks, second.UnscheduledTasks)
}

func TestSchedulePersistsBlocks(t *testing.T) {
	svc, st := newTestService(t)
	seedTask(t, st, "t1", 60, nil)

	resp, err := svc.Schedule(context.Background(), &ScheduleRequest{UserID: "u1", HorizonDays: 7})
	require.NoError(t, err)
	require.True(t, resp.Feasible)

	rows, err := st.ListScheduleBlocks(context.Background(), &store.FindScheduleBlock{UserID: util.PointerOf("u1")})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for _, row := range rows {
		require.NotNil(t, row.JobID)
		assert.Equal(t, resp.JobID, *row.JobID)
	}
}

func TestScheduleIsIdempotentWithinTheHour(t *testing.T) {
	svc, st := newTestService(t)
	seedTask(t, st, "t1", 60, nil)

	req := &ScheduleRequest{UserID: "u1", HorizonDays: 7}
	first, err := svc.Schedule(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Schedule(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID, "identical requests coalesce onto one run")
	assert.Equal(t, first.Blocks, second.Blocks)
}

func TestScheduleImpossibleDeadline(t *testing.T) {
	svc, st := newTestService(t)
	seedTask(t, st, "t1", 60, util.PointerOf(testNow.Add(-24*time.Hour).Unix()))

	resp, err := svc.Schedule(context.Background(), &ScheduleRequest{UserID: "u1", HorizonDays: 7})
	require.NoError(t, err, "an unplaceable task is a result, not an error")

	assert.False(t, resp.Feasible)
	assert.Empty(t, resp.Blocks)
	require.Len(t, resp.UnscheduledTasks, 1)
	assert.Equal(t, "t1", resp.UnscheduledTasks[0].TaskID)
	assert.NotEmpty(t, resp.Explanations)
}

func TestGetJobAfterRun(t *testing.T) {
	svc, st := newTestService(t)
	seedTask(t, st, "t1", 60, nil)

	resp, err := svc.Schedule(context.Background(), &ScheduleRequest{UserID: "u1", HorizonDays: 7})
	require.NoError(t, err)

	job, err := svc.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "u1", job.UserID)
	assert.Equal(t, "completed", job.Status)
	assert.NotEmpty(t, job.WeightPreset)

	missing, err := svc.GetJob(context.Background(), "job_nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProcessFeedbackRecordsCompletions(t *testing.T) {
	svc, st := newTestService(t)
	seedTask(t, st, "t1", 60, nil)

	scheduledTs := testNow.Add(-2 * time.Hour).Unix()
	err := svc.ProcessFeedback(context.Background(), &FeedbackRequest{
		UserID: "u1",
		Completions: []CompletionFeedback{
			{TaskID: "t1", ScheduledTs: scheduledTs, Completed: true},
		},
	})
	require.NoError(t, err)

	events, err := st.ListCompletionEvents(context.Background(), &store.FindCompletionEvent{UserID: util.PointerOf("u1")})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "t1", events[0].TaskID)
	assert.Equal(t, scheduledTs, events[0].ScheduledTs)
	require.NotNil(t, events[0].CompletedTs)
}

func TestFeedbackCreditsTheChosenPreset(t *testing.T) {
	svc, st := newTestService(t)
	seedTask(t, st, "t1", 60, nil)

	resp, err := svc.Schedule(context.Background(), &ScheduleRequest{UserID: "u1", HorizonDays: 7})
	require.NoError(t, err)

	err = svc.ProcessFeedback(context.Background(), &FeedbackRequest{
		UserID:         "u1",
		JobID:          resp.JobID,
		CompletionRate: util.PointerOf(0.9),
	})
	require.NoError(t, err)

	diag, err := svc.Diagnostics(context.Background(), "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, diag.BanditTotalPulls)
	require.NotEmpty(t, diag.BanditArms)
}

func TestRescheduleMissedClearsStaleBlocksAndReplans(t *testing.T) {
	svc, st := newTestService(t)
	seedTask(t, st, "t1", 60, nil)

	// A block that ended yesterday with no completion event counts as missed.
	staleStart := testNow.Add(-23 * time.Hour)
	_, err := st.CreateScheduleBlock(context.Background(), &store.ScheduleBlock{
		UserID:  "u1",
		TaskID:  "t1",
		StartTs: staleStart.Unix(),
		EndTs:   staleStart.Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	resp, err := svc.RescheduleMissed(context.Background(), "u1", 3)
	require.NoError(t, err)
	assert.True(t, resp.Feasible)
	require.NotEmpty(t, resp.Blocks)

	past, err := st.ListScheduleBlocks(context.Background(), &store.FindScheduleBlock{
		UserID: util.PointerOf("u1"),
		From:   util.PointerOf(testNow.Add(-pastScanWindow).Unix()),
		To:     util.PointerOf(testNow.Unix()),
	})
	require.NoError(t, err)
	assert.Empty(t, past, "the missed block is gone")
}

func TestRescheduleMissedValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RescheduleMissed(context.Background(), "", 3)
	require.Error(t, err)
	_, err = svc.RescheduleMissed(context.Background(), "u1", 99)
	require.Error(t, err)
}

func TestHealthReportsComponents(t *testing.T) {
	svc, _ := newTestService(t)

	health := svc.Health(context.Background())
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Components["database"])
	assert.Equal(t, "ok", health.Components["cache"])
}

func TestRewardNeutralDefaults(t *testing.T) {
	w := config.Default().Learning.RewardWeights

	neutral := Reward(&FeedbackRequest{UserID: "u1"}, w)
	good := Reward(&FeedbackRequest{
		UserID:         "u1",
		CompletionRate: util.PointerOf(1.0),
		MissedRate:     util.PointerOf(0.0),
	}, w)
	bad := Reward(&FeedbackRequest{
		UserID:         "u1",
		CompletionRate: util.PointerOf(0.0),
		MissedRate:     util.PointerOf(1.0),
	}, w)

	assert.Greater(t, good, neutral)
	assert.LessOrEqual(t, bad, neutral)
	assert.GreaterOrEqual(t, bad, 0.0)
	assert.LessOrEqual(t, good, 1.0)
}
