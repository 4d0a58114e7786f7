// Package feature builds the per-(task, slot) numeric vectors consumed by the
// completion model and the utility builder. Features come in four groups:
// time-of-day, task shape, slot context, and per-user completion history.
package feature

import (
	"math"
	"time"

	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/scheduler/timeindex"
	"github.com/pulseplan/pulse/store"
)

// neutralRate is the default for any completion statistic with no history.
const neutralRate = 0.5

// taskKinds fixes the one-hot order of the kind features.
var taskKinds = []store.TaskKind{
	store.TaskKindStudy,
	store.TaskKindAssignment,
	store.TaskKindExam,
	store.TaskKindReading,
	store.TaskKindProject,
	store.TaskKindHobby,
	store.TaskKindAdmin,
}

// Names is the fixed feature-column order. Indexed access into rows must go
// through this list so the completion model's saved weights stay aligned.
var Names = buildNames()

func buildNames() []string {
	names := []string{
		// Time of day.
		"hour_norm",
		"dow_norm",
		"is_weekend",
		"is_morning",
		"is_afternoon",
		"is_evening",
		"workday_distance",
		"in_workday",
		// Task.
		"duration_norm",
		"weight",
		"min_block_norm",
		"max_block_norm",
	}
	for _, kind := range taskKinds {
		names = append(names, "kind_"+string(kind))
	}
	names = append(names,
		"has_deadline",
		"urgency",
		"has_prereqs",
		"is_exam",
		"tag_count_norm",
		// Slot context.
		"is_blocked",
		"in_preferred_window",
		"in_avoid_window",
		"in_deep_work",
		"in_no_study",
		"break_need",
		"nearby_event_density",
		// History.
		"hour_completion_rate",
		"dow_completion_rate",
		"kind_completion_rate",
		"recent_performance",
	)
	return names
}

// Matrix holds one row per (task, slot) pair, tasks-major.
type Matrix struct {
	Names []string
	Rows  [][]float64
	Tasks int
	Slots int
}

// Row returns the vector for (task t, slot s).
func (m *Matrix) Row(t, s int) []float64 {
	return m.Rows[t*m.Slots+s]
}

// HistoryStats aggregates a user's completion events into the rates the
// history feature group reads. Zero-observation buckets report the neutral
// 0.5 default.
type HistoryStats struct {
	hourDone    [24]int
	hourTotal   [24]int
	dowDone     [7]int
	dowTotal    [7]int
	kindDone    map[store.TaskKind]int
	kindTotal   map[store.TaskKind]int
	recentDone  int
	recentTotal int
}

// BuildHistoryStats folds completion events into per-hour, per-day-of-week,
// per-kind, and recent-window rates. taskKinds maps task id to kind for the
// per-kind buckets; unknown task ids only count toward the time buckets.
func BuildHistoryStats(events []*store.CompletionEvent, kinds map[string]store.TaskKind, loc *time.Location, now time.Time, recentWindow time.Duration) *HistoryStats {
	if loc == nil {
		loc = time.UTC
	}
	stats := &HistoryStats{
		kindDone:  make(map[store.TaskKind]int),
		kindTotal: make(map[store.TaskKind]int),
	}
	recentCutoff := now.Add(-recentWindow)
	for _, ev := range events {
		at := time.Unix(ev.ScheduledTs, 0).In(loc)
		done := ev.CompletedTs != nil

		stats.hourTotal[at.Hour()]++
		stats.dowTotal[int(at.Weekday())]++
		if done {
			stats.hourDone[at.Hour()]++
			stats.dowDone[int(at.Weekday())]++
		}
		if kind, ok := kinds[ev.TaskID]; ok {
			stats.kindTotal[kind]++
			if done {
				stats.kindDone[kind]++
			}
		}
		if at.After(recentCutoff) {
			stats.recentTotal++
			if done {
				stats.recentDone++
			}
		}
	}
	return stats
}

// HourRate returns the completion rate for scheduled hour h.
func (h *HistoryStats) HourRate(hour int) float64 {
	if h == nil || h.hourTotal[hour] == 0 {
		return neutralRate
	}
	return float64(h.hourDone[hour]) / float64(h.hourTotal[hour])
}

// DowRate returns the completion rate for day-of-week d.
func (h *HistoryStats) DowRate(dow int) float64 {
	if h == nil || h.dowTotal[dow] == 0 {
		return neutralRate
	}
	return float64(h.dowDone[dow]) / float64(h.dowTotal[dow])
}

// KindRate returns the completion rate for a task kind.
func (h *HistoryStats) KindRate(kind store.TaskKind) float64 {
	if h == nil || h.kindTotal[kind] == 0 {
		return neutralRate
	}
	return float64(h.kindDone[kind]) / float64(h.kindTotal[kind])
}

// RecentRate returns the completion rate over the recent window.
func (h *HistoryStats) RecentRate() float64 {
	if h == nil || h.recentTotal == 0 {
		return neutralRate
	}
	return float64(h.recentDone) / float64(h.recentTotal)
}

// Input bundles everything the extractor reads.
type Input struct {
	Tasks   []*store.Task
	Index   *timeindex.Index
	Prefs   *store.Preferences
	Events  []*store.BusyEvent
	History *HistoryStats
	Now     time.Time
}

// Extract builds the dense (|tasks|·|slots|, f) matrix.
func Extract(in Input) *Matrix {
	slots := in.Index.Len()
	m := &Matrix{
		Names: Names,
		Rows:  make([][]float64, len(in.Tasks)*slots),
		Tasks: len(in.Tasks),
		Slots: slots,
	}

	blocked := in.Index.BlockedSlots(in.Events)
	density := eventDensity(in.Index, in.Events)

	// Slot-group features are task-independent; compute once per slot.
	slotPart := make([][]float64, slots)
	for s := 0; s < slots; s++ {
		sc := in.Index.Context(s, in.Prefs)
		slotPart[s] = []float64{
			float64(sc.Hour) / 23.0,
			float64(sc.Weekday) / 6.0,
			b2f(sc.Weekend),
			b2f(sc.Morning),
			b2f(sc.Afternoon),
			b2f(sc.Evening),
			workdayDistance(sc.Hour, in.Prefs),
			b2f(sc.InWorkday),
		}
	}

	for t, task := range in.Tasks {
		taskPart := taskFeatures(task, in.Now)
		for s := 0; s < slots; s++ {
			row := make([]float64, 0, len(Names))
			row = append(row, slotPart[s]...)
			row = append(row, taskPart...)

			_, isBlocked := blocked[s]
			row = append(row,
				b2f(isBlocked),
				b2f(in.Index.InWindows(s, task.PreferredWindows)),
				b2f(in.Index.InWindows(s, task.AvoidWindows)),
				b2f(in.Index.InWindows(s, in.Prefs.DeepWorkWindows)),
				b2f(in.Index.InWindows(s, in.Prefs.NoStudyWindows)),
				breakNeed(s, in.Index, in.Prefs),
				density[s],
			)

			sc := in.Index.Context(s, in.Prefs)
			row = append(row,
				in.History.HourRate(sc.Hour),
				in.History.DowRate(int(sc.Weekday)),
				in.History.KindRate(task.Kind),
				in.History.RecentRate(),
			)

			m.Rows[t*slots+s] = row
		}
	}
	return m
}

func taskFeatures(task *store.Task, now time.Time) []float64 {
	row := []float64{
		math.Min(float64(task.EstimatedMinutes)/480.0, 1.0),
		task.Weight,
		math.Min(float64(task.MinBlockMinutes)/240.0, 1.0),
		math.Min(float64(task.MaxBlockMinutes)/240.0, 1.0),
	}
	for _, kind := range taskKinds {
		row = append(row, b2f(task.Kind == kind))
	}
	row = append(row,
		b2f(task.Deadline != nil),
		Urgency(task, now),
		b2f(len(task.Prerequisites) > 0),
		b2f(task.Kind == store.TaskKindExam),
		math.Min(float64(len(task.Tags))/5.0, 1.0),
	)
	return row
}

// Urgency maps days-until-deadline into [0, 1]: 1 at or past the deadline,
// fading to 0 at 14 days out. Tasks without a deadline score 0.
func Urgency(task *store.Task, now time.Time) float64 {
	if task.Deadline == nil {
		return 0
	}
	days := time.Unix(*task.Deadline, 0).Sub(now).Hours() / 24.0
	return util.ClampFloat((14.0-days)/14.0, 0, 1)
}

// workdayDistance is the normalized distance of a slot hour from the nearest
// workday bound; 0 on the bounds, growing toward the middle and outside.
func workdayDistance(hour int, prefs *store.Preferences) float64 {
	startH := float64(prefs.WorkdayStartMinutes) / 60.0
	endH := float64(prefs.WorkdayEndMinutes) / 60.0
	d := math.Min(math.Abs(float64(hour)-startH), math.Abs(float64(hour)-endH))
	return math.Min(d/12.0, 1.0)
}

// breakNeed rises with consecutive workday slots since the last break
// opportunity, saturating at the preference's break cadence.
func breakNeed(s int, idx *timeindex.Index, prefs *store.Preferences) float64 {
	if prefs.BreakEveryMinutes <= 0 {
		return 0
	}
	g := idx.GranularityMinutes()
	run := 0
	for i := s - 1; i >= 0; i-- {
		if !idx.InWorkday(i, prefs) {
			break
		}
		run++
		if run*g >= prefs.BreakEveryMinutes {
			break
		}
	}
	return math.Min(float64(run*g)/float64(prefs.BreakEveryMinutes), 1.0)
}

// eventDensity counts, per slot, the fraction of surrounding slots (±2h)
// blocked by events.
func eventDensity(idx *timeindex.Index, events []*store.BusyEvent) []float64 {
	blocked := idx.BlockedSlots(events)
	window := 120 / idx.GranularityMinutes()
	density := make([]float64, idx.Len())
	for s := 0; s < idx.Len(); s++ {
		lo := s - window
		if lo < 0 {
			lo = 0
		}
		hi := s + window
		if hi >= idx.Len() {
			hi = idx.Len() - 1
		}
		count := 0
		for i := lo; i <= hi; i++ {
			if _, ok := blocked[i]; ok {
				count++
			}
		}
		density[s] = float64(count) / float64(hi-lo+1)
	}
	return density
}

func b2f(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
