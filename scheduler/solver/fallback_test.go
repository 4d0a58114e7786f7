package solver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/scheduler"
	"github.com/pulseplan/pulse/store"
)

func TestGreedyPlacesByDeadlineOrder(t *testing.T) {
	urgent := testTask("zz-urgent", 60)
	urgent.Deadline = util.PointerOf(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC).Unix())
	relaxed := testTask("aa-relaxed", 60)

	in := solveInput(t, []*store.Task{relaxed, urgent}, 1)
	sol := Greedy(in)

	assert.Equal(t, scheduler.StatusFallback, sol.SolverStatus)
	require.Len(t, sol.Blocks, 2)
	// The deadline task grabs the earliest gap despite its later id.
	assert.Equal(t, "zz-urgent", sol.Blocks[0].TaskID)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), sol.Blocks[0].Start)
	assert.Equal(t, "aa-relaxed", sol.Blocks[1].TaskID)
}

func TestGreedyIsFirstFit(t *testing.T) {
	in := solveInput(t, []*store.Task{testTask("t1", 90)}, 1)
	in.Events = []*store.BusyEvent{{
		ID:      "e1",
		StartTs: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC).Unix(),
		EndTs:   time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC).Unix(),
		Hard:    true,
	}}

	sol := Greedy(in)

	require.Len(t, sol.Blocks, 1)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC), sol.Blocks[0].Start)
	assert.Equal(t, 90, sol.Blocks[0].Minutes())
}

func TestGreedySplitsAcrossGaps(t *testing.T) {
	// A mid-day event forces the task into blocks around it.
	in := solveInput(t, []*store.Task{testTask("t1", 240)}, 1)
	in.Events = []*store.BusyEvent{{
		ID:      "lunch",
		StartTs: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC).Unix(),
		EndTs:   time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC).Unix(),
		Hard:    true,
	}}

	sol := Greedy(in)

	assert.Equal(t, scheduler.StatusFallback, sol.SolverStatus)
	assert.Empty(t, sol.UnscheduledTasks)
	assert.Equal(t, 240, totalMinutes(sol.Blocks, "t1"))
	for _, b := range sol.Blocks {
		assert.LessOrEqual(t, b.Minutes(), 120, "block within the max block size")
		assert.GreaterOrEqual(t, b.Minutes(), 30)
	}
}

func TestGreedyTracksUnscheduled(t *testing.T) {
	prefs := testPrefs()
	prefs.WorkdayStartMinutes = 9 * 60
	prefs.WorkdayEndMinutes = 10 * 60
	idx := testIndex(t, prefs, 1)
	in := Input{
		Tasks: []*store.Task{testTask("t1", 600)},
		Index: idx,
		Prefs: prefs,
	}

	sol := Greedy(in)

	assert.Equal(t, scheduler.StatusFallback, sol.SolverStatus)
	require.Len(t, sol.UnscheduledTasks, 1)
	assert.Equal(t, "t1", sol.UnscheduledTasks[0].TaskID)
	assert.Empty(t, sol.Blocks, "partial placement rolled back")
}

func TestGreedyHonorsAvoidWindows(t *testing.T) {
	task := testTask("t1", 60)
	task.AvoidWindows = []store.WeeklyWindow{{Day: 1, Start: "09:00", End: "13:00"}}
	in := solveInput(t, []*store.Task{task}, 1)

	sol := Greedy(in)

	require.Len(t, sol.Blocks, 1)
	assert.False(t, sol.Blocks[0].Start.Before(time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)))
}

func TestGreedyKeepsExistingBlocks(t *testing.T) {
	locked := scheduler.Block{
		TaskID: "t1",
		Start:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		End:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Locked: true,
	}
	in := solveInput(t, []*store.Task{testTask("t1", 60), testTask("t2", 60)}, 1)
	in.Existing = []scheduler.Block{locked}

	sol := Greedy(in)

	require.Len(t, sol.Blocks, 2)
	assert.True(t, sol.Blocks[0].Locked)
	assert.Equal(t, "t1", sol.Blocks[0].TaskID)
	assert.Equal(t, "t2", sol.Blocks[1].TaskID)
	assert.False(t, sol.Blocks[1].Overlaps(locked.Start, locked.End))
}

func TestGreedyErrorsOnMissingIndex(t *testing.T) {
	sol := Greedy(Input{Tasks: []*store.Task{testTask("t1", 60)}})

	assert.Equal(t, scheduler.StatusFallbackError, sol.SolverStatus)
	assert.False(t, sol.Feasible)
	assert.NotEmpty(t, sol.Diagnostics["error"])
}
