package determinism

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/scheduler"
	"github.com/pulseplan/pulse/store"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestStableSortTasks(t *testing.T) {
	early := int64(1000)
	late := int64(5000)
	tasks := []*store.Task{
		{ID: "d", Weight: 1.0},
		{ID: "c", Weight: 2.0},
		{ID: "b", Deadline: &late, Weight: 1.0},
		{ID: "a", Deadline: &early, Weight: 1.0},
		{ID: "e", Deadline: &early, Weight: 3.0},
		{ID: "f", Deadline: &early, Weight: 3.0, CourseID: util.PointerOf("cs101")},
	}

	sorted := StableSortTasks(tasks)

	var got []string
	for _, task := range sorted {
		got = append(got, task.ID)
	}
	// Earliest deadline first; within a deadline higher weight first, then
	// course and id; no deadline goes last ordered by weight.
	assert.Equal(t, []string{"e", "f", "a", "b", "c", "d"}, got)

	// Input order untouched.
	assert.Equal(t, "d", tasks[0].ID)
}

func TestRequestHashOrderIndependent(t *testing.T) {
	deadline := int64(9000)
	t1 := &store.Task{ID: "t1", Kind: store.TaskKindAssignment, EstimatedMinutes: 120, Deadline: &deadline, Weight: 2}
	t2 := &store.Task{ID: "t2", Kind: store.TaskKindReading, EstimatedMinutes: 60, Weight: 1, Prerequisites: []string{"t1"}}
	e1 := &store.BusyEvent{ID: "e1", StartTs: 100, EndTs: 200, Hard: true}
	e2 := &store.BusyEvent{ID: "e2", StartTs: 300, EndTs: 400}

	a := RequestHash([]*store.Task{t1, t2}, []*store.BusyEvent{e1, e2}, 7, "u1")
	b := RequestHash([]*store.Task{t2, t1}, []*store.BusyEvent{e2, e1}, 7, "u1")
	assert.Equal(t, a, b, "input order must not change the hash")

	// Any material change does.
	assert.NotEqual(t, a, RequestHash([]*store.Task{t1, t2}, []*store.BusyEvent{e1, e2}, 14, "u1"))
	assert.NotEqual(t, a, RequestHash([]*store.Task{t1, t2}, []*store.BusyEvent{e1, e2}, 7, "u2"))
	assert.NotEqual(t, a, RequestHash([]*store.Task{t1}, []*store.BusyEvent{e1, e2}, 7, "u1"))

	t1Heavier := *t1
	t1Heavier.Weight = 5
	assert.NotEqual(t, a, RequestHash([]*store.Task{&t1Heavier, t2}, []*store.BusyEvent{e1, e2}, 7, "u1"))
}

func TestRequestHashPrereqOrderInsensitive(t *testing.T) {
	a := &store.Task{ID: "t", Prerequisites: []string{"x", "y"}}
	b := &store.Task{ID: "t", Prerequisites: []string{"y", "x"}}
	assert.Equal(t,
		RequestHash([]*store.Task{a}, nil, 7, "u1"),
		RequestHash([]*store.Task{b}, nil, 7, "u1"))
}

func TestNewRNGIsReproducible(t *testing.T) {
	r1 := NewRNG(42)
	r2 := NewRNG(42)
	for i := 0; i < 10; i++ {
		assert.Equal(t, r1.Int63(), r2.Int63())
	}
}

func TestCompareAcceptsUnchangedSolution(t *testing.T) {
	now := ts("2026-03-02T08:00:00Z")
	blocks := []scheduler.Block{
		{TaskID: "t1", Start: ts("2026-03-02T09:00:00Z"), End: ts("2026-03-02T10:00:00Z")},
		{TaskID: "t2", Start: ts("2026-03-02T11:00:00Z"), End: ts("2026-03-02T12:00:00Z")},
	}

	report := Compare(blocks, blocks, now, DefaultThresholds())
	assert.True(t, report.Accepted())
	assert.Zero(t, report.Moved)
}

func TestCompareToleratesSmallShifts(t *testing.T) {
	now := ts("2026-03-02T08:00:00Z")
	prev := []scheduler.Block{
		{TaskID: "t1", Start: ts("2026-03-02T09:00:00Z"), End: ts("2026-03-02T10:00:00Z")},
	}
	next := []scheduler.Block{
		{TaskID: "t1", Start: ts("2026-03-02T09:15:00Z"), End: ts("2026-03-02T10:15:00Z")},
	}

	report := Compare(prev, next, now, DefaultThresholds())
	assert.True(t, report.Accepted(), "a 15-minute shift is within tolerance")
	assert.Zero(t, report.Moved)
}

func TestCompareFlagsFrozenWindowMove(t *testing.T) {
	now := ts("2026-03-02T08:00:00Z")
	prev := []scheduler.Block{
		// Starts 2h from now, well inside the 12h frozen window.
		{TaskID: "t1", Start: ts("2026-03-02T10:00:00Z"), End: ts("2026-03-02T11:00:00Z")},
	}
	next := []scheduler.Block{
		{TaskID: "t1", Start: ts("2026-03-02T14:00:00Z"), End: ts("2026-03-02T15:00:00Z")},
	}

	report := Compare(prev, next, now, DefaultThresholds())
	require.False(t, report.Accepted())
	assert.Equal(t, "frozen_moved", report.Violations[0].Kind)
	assert.Equal(t, "t1", report.Violations[0].TaskID)
}

func TestCompareAllowsMovesOutsideFrozenWindow(t *testing.T) {
	now := ts("2026-03-02T08:00:00Z")
	prev := make([]scheduler.Block, 0, 10)
	next := make([]scheduler.Block, 0, 10)
	base := ts("2026-03-04T09:00:00Z") // two days out
	for i := 0; i < 10; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		prev = append(prev, scheduler.Block{TaskID: taskID(i), Start: start, End: start.Add(30 * time.Minute)})
		shifted := start
		if i == 0 {
			shifted = start.Add(2 * time.Hour)
		}
		next = append(next, scheduler.Block{TaskID: taskID(i), Start: shifted, End: shifted.Add(30 * time.Minute)})
	}

	report := Compare(prev, next, now, DefaultThresholds())
	assert.True(t, report.Accepted(), "1 of 10 moved outside the frozen window is under the ratio")
	assert.Equal(t, 1, report.Moved)
	assert.InDelta(t, 0.1, report.MovedRatio, 1e-9)
}

func TestCompareFlagsExcessiveMoveRatio(t *testing.T) {
	now := ts("2026-03-02T08:00:00Z")
	var prev, next []scheduler.Block
	base := ts("2026-03-04T09:00:00Z")
	for i := 0; i < 10; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		prev = append(prev, scheduler.Block{TaskID: taskID(i), Start: start, End: start.Add(30 * time.Minute)})
		shifted := start
		if i < 4 {
			shifted = start.Add(2 * time.Hour)
		}
		next = append(next, scheduler.Block{TaskID: taskID(i), Start: shifted, End: shifted.Add(30 * time.Minute)})
	}

	report := Compare(prev, next, now, DefaultThresholds())
	require.False(t, report.Accepted())
	assert.InDelta(t, 0.4, report.MovedRatio, 1e-9)

	last := report.Violations[len(report.Violations)-1]
	assert.Equal(t, "ratio_exceeded", last.Kind)
}

func TestCompareFlagsLockedBlockAnyMove(t *testing.T) {
	now := ts("2026-03-02T08:00:00Z")
	prev := []scheduler.Block{
		{TaskID: "t1", Start: ts("2026-03-05T09:00:00Z"), End: ts("2026-03-05T10:00:00Z"), Locked: true},
	}
	next := []scheduler.Block{
		// Even a 5-minute shift on a locked block violates.
		{TaskID: "t1", Start: ts("2026-03-05T09:05:00Z"), End: ts("2026-03-05T10:05:00Z"), Locked: true},
	}

	report := Compare(prev, next, now, DefaultThresholds())
	require.False(t, report.Accepted())
	assert.Equal(t, "locked_moved", report.Violations[0].Kind)
}

func TestCompareFlagsDroppedBlock(t *testing.T) {
	now := ts("2026-03-02T08:00:00Z")
	prev := []scheduler.Block{
		{TaskID: "t1", Start: ts("2026-03-02T10:00:00Z"), End: ts("2026-03-02T11:00:00Z")},
	}

	report := Compare(prev, nil, now, DefaultThresholds())
	require.False(t, report.Accepted())
	assert.Equal(t, 1, report.Moved)
}

func TestCompareIgnoresPastBlocks(t *testing.T) {
	now := ts("2026-03-02T12:00:00Z")
	prev := []scheduler.Block{
		{TaskID: "t1", Start: ts("2026-03-02T08:00:00Z"), End: ts("2026-03-02T09:00:00Z")},
	}

	report := Compare(prev, nil, now, DefaultThresholds())
	assert.True(t, report.Accepted(), "finished blocks need no protection")
}

func TestMergeRetainsPreviousForConflicts(t *testing.T) {
	prev := []scheduler.Block{
		{TaskID: "t1", Start: ts("2026-03-02T09:00:00Z"), End: ts("2026-03-02T10:00:00Z")},
		{TaskID: "t2", Start: ts("2026-03-02T11:00:00Z"), End: ts("2026-03-02T12:00:00Z")},
	}
	next := []scheduler.Block{
		{TaskID: "t1", Start: ts("2026-03-02T14:00:00Z"), End: ts("2026-03-02T15:00:00Z")},
		{TaskID: "t2", Start: ts("2026-03-02T16:00:00Z"), End: ts("2026-03-02T17:00:00Z")},
	}
	violations := []Violation{{TaskID: "t1", Kind: "frozen_moved"}}

	merged := Merge(prev, next, violations)
	require.Len(t, merged, 2)
	assert.Equal(t, "t1", merged[0].TaskID)
	assert.Equal(t, ts("2026-03-02T09:00:00Z"), merged[0].Start, "conflicting task keeps its previous slot")
	assert.Equal(t, ts("2026-03-02T16:00:00Z"), merged[1].Start, "clean task keeps its new slot")
}

func taskID(i int) string {
	return string(rune('a' + i))
}
