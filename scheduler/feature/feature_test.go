package feature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/scheduler/timeindex"
	"github.com/pulseplan/pulse/store"
)

func col(t *testing.T, name string) int {
	t.Helper()
	for i, n := range Names {
		if n == name {
			return i
		}
	}
	t.Fatalf("unknown feature column %q", name)
	return -1
}

func TestExtractShapeAndAlignment(t *testing.T) {
	prefs := store.DefaultPreferences("u1")
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	idx, err := timeindex.New(prefs, start, start.Add(24*time.Hour))
	require.NoError(t, err)

	tasks := []*store.Task{
		{ID: "a", Kind: store.TaskKindStudy, EstimatedMinutes: 60, MinBlockMinutes: 30, MaxBlockMinutes: 60, Weight: 1},
		{ID: "b", Kind: store.TaskKindExam, EstimatedMinutes: 120, MinBlockMinutes: 30, MaxBlockMinutes: 60, Weight: 2},
	}

	m := Extract(Input{Tasks: tasks, Index: idx, Prefs: prefs, Now: start})

	require.Len(t, m.Rows, 2*idx.Len())
	for _, row := range m.Rows {
		require.Len(t, row, len(Names), "every row matches the column list")
	}

	// Exam flag differs between the two tasks for the same slot.
	isExam := col(t, "is_exam")
	assert.Equal(t, 0.0, m.Row(0, 0)[isExam])
	assert.Equal(t, 1.0, m.Row(1, 0)[isExam])
}

func TestTimeOfDayFeatures(t *testing.T) {
	prefs := store.DefaultPreferences("u1")
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // Monday
	idx, err := timeindex.New(prefs, start, start.Add(24*time.Hour))
	require.NoError(t, err)

	tasks := []*store.Task{{ID: "a", Kind: store.TaskKindStudy, EstimatedMinutes: 60, MinBlockMinutes: 30, MaxBlockMinutes: 60}}
	m := Extract(Input{Tasks: tasks, Index: idx, Prefs: prefs, Now: start})

	s10, _ := idx.IndexOf(start.Add(10 * time.Hour))
	row := m.Row(0, s10)
	assert.InDelta(t, 10.0/23.0, row[col(t, "hour_norm")], 1e-9)
	assert.Equal(t, 1.0, row[col(t, "is_morning")])
	assert.Equal(t, 0.0, row[col(t, "is_weekend")])
	assert.Equal(t, 1.0, row[col(t, "in_workday")])

	s20, _ := idx.IndexOf(start.Add(20 * time.Hour))
	row = m.Row(0, s20)
	assert.Equal(t, 1.0, row[col(t, "is_evening")])
	assert.Equal(t, 0.0, row[col(t, "in_workday")])
}

func TestUrgency(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name string
		due  *time.Time
		want float64
	}{
		{name: "no deadline", due: nil, want: 0},
		{name: "due now", due: util.PointerOf(now), want: 1},
		{name: "due in 7 days", due: util.PointerOf(now.Add(7 * 24 * time.Hour)), want: 0.5},
		{name: "due in 20 days", due: util.PointerOf(now.Add(20 * 24 * time.Hour)), want: 0},
		{name: "overdue", due: util.PointerOf(now.Add(-48 * time.Hour)), want: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			task := &store.Task{ID: "a"}
			if tc.due != nil {
				task.Deadline = util.PointerOf(tc.due.Unix())
			}
			assert.InDelta(t, tc.want, Urgency(task, now), 1e-9)
		})
	}
}

func TestContextFeatures(t *testing.T) {
	prefs := store.DefaultPreferences("u1")
	prefs.DeepWorkWindows = []store.WeeklyWindow{{Day: 1, Start: "09:00", End: "11:00"}}
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // Monday
	idx, err := timeindex.New(prefs, start, start.Add(24*time.Hour))
	require.NoError(t, err)

	task := &store.Task{
		ID: "a", Kind: store.TaskKindStudy, EstimatedMinutes: 60,
		MinBlockMinutes: 30, MaxBlockMinutes: 60,
		AvoidWindows: []store.WeeklyWindow{{Day: 1, Start: "14:00", End: "15:00"}},
	}
	events := []*store.BusyEvent{
		{ID: "e1", StartTs: start.Add(10 * time.Hour).Unix(), EndTs: start.Add(11 * time.Hour).Unix()},
	}

	m := Extract(Input{Tasks: []*store.Task{task}, Index: idx, Prefs: prefs, Events: events, Now: start})

	s930, _ := idx.IndexOf(start.Add(9*time.Hour + 30*time.Minute))
	row := m.Row(0, s930)
	assert.Equal(t, 1.0, row[col(t, "in_deep_work")])
	assert.Equal(t, 0.0, row[col(t, "is_blocked")])
	assert.Greater(t, row[col(t, "nearby_event_density")], 0.0, "event within 2h raises density")

	s1030, _ := idx.IndexOf(start.Add(10*time.Hour + 30*time.Minute))
	assert.Equal(t, 1.0, m.Row(0, s1030)[col(t, "is_blocked")])

	s1430, _ := idx.IndexOf(start.Add(14*time.Hour + 30*time.Minute))
	assert.Equal(t, 1.0, m.Row(0, s1430)[col(t, "in_avoid_window")])
}

func TestHistoryStatsDefaultsToNeutral(t *testing.T) {
	var stats *HistoryStats
	assert.Equal(t, 0.5, stats.HourRate(10))
	assert.Equal(t, 0.5, stats.DowRate(1))
	assert.Equal(t, 0.5, stats.KindRate(store.TaskKindStudy))
	assert.Equal(t, 0.5, stats.RecentRate())

	empty := BuildHistoryStats(nil, nil, time.UTC, time.Now(), 7*24*time.Hour)
	assert.Equal(t, 0.5, empty.HourRate(10))
}

func TestHistoryStatsRates(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	at := func(day, hour int) int64 {
		return time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC).Unix()
	}
	done := util.PointerOf(now.Unix())

	events := []*store.CompletionEvent{
		{TaskID: "t1", ScheduledTs: at(2, 10), CompletedTs: done}, // Mon 10:00 done
		{TaskID: "t1", ScheduledTs: at(2, 10), CompletedTs: nil},  // Mon 10:00 missed
		{TaskID: "t2", ScheduledTs: at(3, 21), CompletedTs: nil},  // Tue 21:00 missed
		{TaskID: "t1", ScheduledTs: at(8, 9), CompletedTs: done},  // recent, done
	}
	kinds := map[string]store.TaskKind{"t1": store.TaskKindStudy, "t2": store.TaskKindReading}

	stats := BuildHistoryStats(events, kinds, time.UTC, now, 48*time.Hour)

	assert.InDelta(t, 0.5, stats.HourRate(10), 1e-9, "1 of 2 at 10:00")
	assert.InDelta(t, 0.0, stats.HourRate(21), 1e-9)
	assert.Equal(t, 0.5, stats.HourRate(15), "no data stays neutral")
	assert.InDelta(t, 2.0/3.0, stats.KindRate(store.TaskKindStudy), 1e-9)
	assert.InDelta(t, 0.0, stats.KindRate(store.TaskKindReading), 1e-9)
	assert.InDelta(t, 1.0, stats.RecentRate(), 1e-9, "only the day-8 event is recent")
}
