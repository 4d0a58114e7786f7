package timeindex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseplan/pulse/store"
)

func testPrefs(tz string) *store.Preferences {
	prefs := store.DefaultPreferences("u1")
	prefs.Timezone = tz
	return prefs
}

func mustIndex(t *testing.T, prefs *store.Preferences, start, end time.Time) *Index {
	t.Helper()
	idx, err := New(prefs, start, end)
	require.NoError(t, err)
	return idx
}

func TestNewTilesHorizon(t *testing.T) {
	prefs := testPrefs("UTC")
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	idx := mustIndex(t, prefs, start, end)

	assert.Equal(t, 96, idx.Len(), "48h at 30min granularity")
	assert.Equal(t, start, idx.Start(), "grid-aligned start anchors at the horizon start")
	assert.Equal(t, end, idx.End())

	// Slot boundaries are exact and half-open.
	i, ok := idx.IndexOf(start)
	require.True(t, ok)
	assert.Equal(t, 0, i)
	i, ok = idx.IndexOf(start.Add(29 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, 0, i)
	i, ok = idx.IndexOf(start.Add(30 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = idx.IndexOf(end)
	assert.False(t, ok, "horizon end is exclusive")
}

func TestNewRejectsBadInput(t *testing.T) {
	prefs := testPrefs("UTC")
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	prefs.SessionGranularityMinutes = 20
	_, err := New(prefs, start, start.Add(time.Hour))
	assert.Error(t, err)

	prefs.SessionGranularityMinutes = 30
	_, err = New(prefs, start, start)
	assert.Error(t, err)

	prefs.Timezone = "Not/AZone"
	_, err = New(prefs, start, start.Add(time.Hour))
	assert.Error(t, err)
}

func TestOffGridStartAnchorsToMidnightGrid(t *testing.T) {
	prefs := testPrefs("UTC")
	start := time.Date(2026, 3, 2, 8, 17, 0, 0, time.UTC)
	idx := mustIndex(t, prefs, start, start.Add(4*time.Hour))

	// The anchor is the last midnight-aligned grid point at or before start.
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), idx.Start())
	assert.True(t, idx.OnGrid(idx.Start()))
	assert.True(t, idx.OnGrid(idx.Start().Add(30*time.Minute)))
	assert.False(t, idx.OnGrid(idx.Start().Add(17*time.Minute)))
}

func TestContextAndWorkday(t *testing.T) {
	prefs := testPrefs("America/New_York")
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Monday 2026-03-02 00:00 local.
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	idx := mustIndex(t, prefs, start, start.Add(7*24*time.Hour))

	i, ok := idx.IndexOf(time.Date(2026, 3, 2, 10, 0, 0, 0, loc))
	require.True(t, ok)
	sc := idx.Context(i, prefs)
	assert.Equal(t, 10, sc.Hour)
	assert.Equal(t, time.Monday, sc.Weekday)
	assert.False(t, sc.Weekend)
	assert.True(t, sc.Morning)
	assert.True(t, sc.InWorkday)

	// Saturday 20:00 local.
	i, ok = idx.IndexOf(time.Date(2026, 3, 7, 20, 0, 0, 0, loc))
	require.True(t, ok)
	sc = idx.Context(i, prefs)
	assert.True(t, sc.Weekend)
	assert.True(t, sc.Evening)
	assert.False(t, sc.InWorkday)
}

func TestWorkdayAcrossDSTSpringForward(t *testing.T) {
	// US DST starts 2026-03-08 02:00 local. The 09:00 workday start must stay
	// at 09:00 civil time on both sides of the transition.
	prefs := testPrefs("America/New_York")
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start := time.Date(2026, 3, 7, 0, 0, 0, 0, loc)
	idx := mustIndex(t, prefs, start, start.Add(3*24*time.Hour))

	for _, day := range []int{7, 8, 9} {
		at9 := time.Date(2026, 3, day, 9, 0, 0, 0, loc)
		i, ok := idx.IndexOf(at9)
		require.True(t, ok, "day %d", day)
		assert.True(t, idx.InWorkday(i, prefs), "09:00 local on day %d should be in workday", day)

		at8 := time.Date(2026, 3, day, 8, 30, 0, 0, loc)
		i, ok = idx.IndexOf(at8)
		require.True(t, ok)
		assert.False(t, idx.InWorkday(i, prefs), "08:30 local on day %d should be outside", day)
	}
}

func TestBlockedSlots(t *testing.T) {
	prefs := testPrefs("UTC")
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	idx := mustIndex(t, prefs, start, start.Add(24*time.Hour))

	events := []*store.BusyEvent{
		{ID: "e1", StartTs: start.Add(10 * time.Hour).Unix(), EndTs: start.Add(11 * time.Hour).Unix()},
		// Partially overlapping a slot blocks it.
		{ID: "e2", StartTs: start.Add(14*time.Hour + 45*time.Minute).Unix(), EndTs: start.Add(15*time.Hour + 10*time.Minute).Unix()},
		// Entirely outside the horizon.
		{ID: "e3", StartTs: start.Add(40 * time.Hour).Unix(), EndTs: start.Add(41 * time.Hour).Unix()},
	}

	blocked := idx.BlockedSlots(events)

	i10, _ := idx.IndexOf(start.Add(10 * time.Hour))
	assert.Contains(t, blocked, i10)
	assert.Contains(t, blocked, i10+1)
	assert.NotContains(t, blocked, i10+2, "11:00 slot is past the half-open event end")

	i1430, _ := idx.IndexOf(start.Add(14*time.Hour + 30*time.Minute))
	assert.Contains(t, blocked, i1430, "partial overlap blocks the slot")
	assert.Contains(t, blocked, i1430+1)
	assert.NotContains(t, blocked, i1430+2)
}

func TestFreeSlotsRespectWorkdayAndNoStudy(t *testing.T) {
	prefs := testPrefs("UTC")
	// Monday: no-study window 12:00-13:00.
	prefs.NoStudyWindows = []store.WeeklyWindow{{Day: 1, Start: "12:00", End: "13:00"}}

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // Monday
	idx := mustIndex(t, prefs, start, start.Add(24*time.Hour))

	events := []*store.BusyEvent{
		{ID: "e1", StartTs: start.Add(10 * time.Hour).Unix(), EndTs: start.Add(11 * time.Hour).Unix()},
	}

	gaps := idx.FreeSlots(events, prefs)
	require.Len(t, gaps, 3, "09-10, 11-12, 13-17")

	assert.Equal(t, "09:00", idx.TimeOf(gaps[0].StartIdx).Format("15:04"))
	assert.Equal(t, "10:00", idx.TimeOf(gaps[0].EndIdx).Format("15:04"))
	assert.Equal(t, "11:00", idx.TimeOf(gaps[1].StartIdx).Format("15:04"))
	assert.Equal(t, "12:00", idx.TimeOf(gaps[1].EndIdx).Format("15:04"))
	assert.Equal(t, "13:00", idx.TimeOf(gaps[2].StartIdx).Format("15:04"))
	assert.Equal(t, "17:00", idx.TimeOf(gaps[2].EndIdx).Format("15:04"))
}

func TestFreeSlotsNeverCrossDays(t *testing.T) {
	prefs := testPrefs("UTC")
	// A 24h workday would otherwise produce one continuous multi-day gap.
	prefs.WorkdayStartMinutes = 0
	prefs.WorkdayEndMinutes = 24 * 60

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	idx := mustIndex(t, prefs, start, start.Add(48*time.Hour))

	gaps := idx.FreeSlots(nil, prefs)
	require.Len(t, gaps, 2)
	assert.Equal(t, "2026-03-02", idx.DayKey(gaps[0].StartIdx))
	assert.Equal(t, "2026-03-03", idx.DayKey(gaps[1].StartIdx))
}

func TestInWindows(t *testing.T) {
	prefs := testPrefs("UTC")
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // Monday
	idx := mustIndex(t, prefs, start, start.Add(24*time.Hour))

	windows := []store.WeeklyWindow{{Day: 1, Start: "09:00", End: "10:30"}}

	i9, _ := idx.IndexOf(start.Add(9 * time.Hour))
	assert.True(t, idx.InWindows(i9, windows))
	i10, _ := idx.IndexOf(start.Add(10 * time.Hour))
	assert.True(t, idx.InWindows(i10, windows))
	i1030, _ := idx.IndexOf(start.Add(10*time.Hour + 30*time.Minute))
	assert.False(t, idx.InWindows(i1030, windows), "window end is exclusive")
	assert.False(t, idx.InWindows(i9, nil))
}

func TestCeilIndexOf(t *testing.T) {
	prefs := testPrefs("UTC")
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	idx := mustIndex(t, prefs, start, start.Add(2*time.Hour))

	i, ok := idx.CeilIndexOf(start.Add(-time.Hour))
	require.True(t, ok)
	assert.Equal(t, 0, i)

	i, ok = idx.CeilIndexOf(start.Add(10 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, 1, i)

	i, ok = idx.CeilIndexOf(start.Add(30 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = idx.CeilIndexOf(start.Add(3 * time.Hour))
	assert.False(t, ok)
}
