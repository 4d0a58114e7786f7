package invariant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/scheduler"
	"github.com/pulseplan/pulse/scheduler/timeindex"
	"github.com/pulseplan/pulse/store"
)

func testInput(t *testing.T) Input {
	t.Helper()
	prefs := store.DefaultPreferences("u1")
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	idx, err := timeindex.New(prefs, start, start.AddDate(0, 0, 2))
	require.NoError(t, err)
	return Input{Index: idx, Prefs: prefs}
}

func task(id string, estimated int) *store.Task {
	return &store.Task{
		ID:               id,
		UserID:           "u1",
		Kind:             store.TaskKindStudy,
		EstimatedMinutes: estimated,
		MinBlockMinutes:  30,
		MaxBlockMinutes:  120,
	}
}

func block(taskID string, start, end time.Time) scheduler.Block {
	return scheduler.Block{TaskID: taskID, Start: start, End: end}
}

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func codes(violations []Violation) []string {
	var out []string
	for _, v := range violations {
		out = append(out, v.Code)
	}
	return out
}

func TestCheckCleanSchedule(t *testing.T) {
	in := testInput(t)
	in.Tasks = []*store.Task{task("t1", 60), task("t2", 90)}
	in.Blocks = []scheduler.Block{
		block("t1", at(9, 0), at(10, 0)),
		block("t2", at(10, 0), at(11, 30)),
	}

	assert.Empty(t, Check(in))
}

func TestCheckDetectsOverlap(t *testing.T) {
	in := testInput(t)
	in.Tasks = []*store.Task{task("t1", 60), task("t2", 60)}
	in.Blocks = []scheduler.Block{
		block("t1", at(9, 0), at(10, 0)),
		block("t2", at(9, 30), at(10, 30)),
	}

	assert.Contains(t, codes(Check(in)), CodeOverlap)
}

func TestCheckDetectsOffGrid(t *testing.T) {
	in := testInput(t)
	in.Tasks = []*store.Task{task("t1", 50)}
	in.Blocks = []scheduler.Block{
		block("t1", at(9, 10), at(10, 0)),
	}

	assert.Contains(t, codes(Check(in)), CodeOffGrid)
}

func TestCheckDetectsBlockSize(t *testing.T) {
	in := testInput(t)
	tk := task("t1", 240)
	in.Tasks = []*store.Task{tk}
	in.Blocks = []scheduler.Block{
		block("t1", at(9, 0), at(13, 0)), // 240 min, max is 120
	}

	got := codes(Check(in))
	assert.Contains(t, got, CodeBlockSize)
}

func TestCheckDetectsIncompleteTask(t *testing.T) {
	in := testInput(t)
	in.Tasks = []*store.Task{task("t1", 120)}
	in.Blocks = []scheduler.Block{
		block("t1", at(9, 0), at(10, 0)), // only 60 of 120
	}

	assert.Contains(t, codes(Check(in)), CodeIncomplete)
}

func TestCheckAcceptsDeclaredUnscheduled(t *testing.T) {
	in := testInput(t)
	in.Tasks = []*store.Task{task("t1", 120)}
	in.Unscheduled = []scheduler.UnscheduledTask{{TaskID: "t1", Reason: "no feasible slots"}}

	assert.Empty(t, Check(in))
}

func TestCheckDetectsDeadlineBreach(t *testing.T) {
	in := testInput(t)
	tk := task("t1", 60)
	tk.Deadline = util.PointerOf(at(9, 30).Unix())
	in.Tasks = []*store.Task{tk}
	in.Blocks = []scheduler.Block{
		block("t1", at(9, 0), at(10, 0)),
	}

	assert.Contains(t, codes(Check(in)), CodeDeadline)
}

func TestCheckDetectsHardBusyIntersection(t *testing.T) {
	in := testInput(t)
	in.Tasks = []*store.Task{task("t1", 60)}
	in.Blocks = []scheduler.Block{
		block("t1", at(9, 0), at(10, 0)),
	}
	in.Events = []*store.BusyEvent{{
		ID:      "e1",
		StartTs: at(9, 30).Unix(),
		EndTs:   at(10, 30).Unix(),
		Hard:    true,
	}}

	assert.Contains(t, codes(Check(in)), CodeHardBusy)
}

func TestCheckIgnoresSoftBusy(t *testing.T) {
	in := testInput(t)
	in.Tasks = []*store.Task{task("t1", 60)}
	in.Blocks = []scheduler.Block{
		block("t1", at(9, 0), at(10, 0)),
	}
	in.Events = []*store.BusyEvent{{
		ID:      "e1",
		StartTs: at(9, 30).Unix(),
		EndTs:   at(10, 30).Unix(),
	}}

	assert.Empty(t, Check(in))
}

func TestCheckDetectsNoStudyWhenHard(t *testing.T) {
	in := testInput(t)
	in.Prefs.NoStudyWindows = []store.WeeklyWindow{{Day: 1, Start: "09:00", End: "10:00"}}
	in.NoStudyHard = true
	in.Tasks = []*store.Task{task("t1", 60)}
	in.Blocks = []scheduler.Block{
		block("t1", at(9, 30), at(10, 30)),
	}

	assert.Contains(t, codes(Check(in)), CodeNoStudy)

	in.NoStudyHard = false
	assert.Empty(t, Check(in), "soft no-study windows are not violations")
}

func TestCheckDetectsDailyCapBreach(t *testing.T) {
	in := testInput(t)
	in.Prefs.MaxDailyEffortMinutes = 90
	in.Tasks = []*store.Task{task("t1", 60), task("t2", 60)}
	in.Blocks = []scheduler.Block{
		block("t1", at(9, 0), at(10, 0)),
		block("t2", at(10, 0), at(11, 0)),
	}

	got := Check(in)
	require.Contains(t, codes(got), CodeDailyCap)
}

func TestCheckDetectsPrerequisiteOrder(t *testing.T) {
	in := testInput(t)
	t1 := task("t1", 60)
	t2 := task("t2", 60)
	t2.Prerequisites = []string{"t1"}
	in.Tasks = []*store.Task{t1, t2}
	in.Blocks = []scheduler.Block{
		block("t2", at(9, 0), at(10, 0)),
		block("t1", at(10, 0), at(11, 0)),
	}

	assert.Contains(t, codes(Check(in)), CodePrerequisites)
}

func TestCheckSkipsManualBlocks(t *testing.T) {
	in := testInput(t)
	in.Tasks = []*store.Task{task("t1", 60)}
	manual := block("t1", at(9, 0), at(12, 30)) // oversized and over hard busy
	manual.Manual = true
	in.Blocks = []scheduler.Block{manual}
	in.Events = []*store.BusyEvent{{
		ID:      "e1",
		StartTs: at(9, 0).Unix(),
		EndTs:   at(9, 30).Unix(),
		Hard:    true,
	}}

	assert.Empty(t, Check(in), "manual placements are the user's call")
}

func TestCheckReportsAreStable(t *testing.T) {
	in := testInput(t)
	in.Tasks = []*store.Task{task("b", 120), task("a", 120)}
	in.Blocks = []scheduler.Block{
		block("b", at(9, 0), at(10, 0)),
		block("a", at(9, 30), at(10, 30)),
	}

	first := Check(in)
	second := Check(in)
	assert.Equal(t, first, second)
}
