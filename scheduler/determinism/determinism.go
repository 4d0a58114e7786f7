// Package determinism provides the stability contracts around the solver:
// seeded RNG construction, stable task ordering, order-independent request
// hashing, and the frozen-window / no-thrash acceptance gate between
// consecutive solutions.
package determinism

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/pulseplan/pulse/scheduler"
	"github.com/pulseplan/pulse/store"
)

// NewRNG builds the single seeded source every solve derives its randomness
// from. Wall-clock input must never reach the seed.
func NewRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// StableSortTasks orders tasks by (deadline asc with null last, weight desc,
// course id, id). The sort is stable so equal tasks keep their input order.
func StableSortTasks(tasks []*store.Task) []*store.Task {
	out := make([]*store.Task, len(tasks))
	copy(out, tasks)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Deadline != nil && b.Deadline == nil:
			return true
		case a.Deadline == nil && b.Deadline != nil:
			return false
		case a.Deadline != nil && b.Deadline != nil && *a.Deadline != *b.Deadline:
			return *a.Deadline < *b.Deadline
		}
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		ac, bc := courseOf(a), courseOf(b)
		if ac != bc {
			return ac < bc
		}
		return a.ID < b.ID
	})
	return out
}

func courseOf(t *store.Task) string {
	if t.CourseID == nil {
		return ""
	}
	return *t.CourseID
}

// RequestHash fingerprints a scheduling request canonically: reordering the
// task or event lists produces the same hash. Each element is digested
// independently, the digests are sorted, and the sorted list is hashed with
// the scalar fields.
func RequestHash(tasks []*store.Task, events []*store.BusyEvent, horizonDays int, userID string) string {
	digests := make([]string, 0, len(tasks)+len(events))
	for _, t := range tasks {
		digests = append(digests, taskDigest(t))
	}
	for _, e := range events {
		digests = append(digests, eventDigest(e))
	}
	sort.Strings(digests)

	h := sha256.New()
	fmt.Fprintf(h, "user=%s;horizon=%d;", userID, horizonDays)
	for _, d := range digests {
		h.Write([]byte(d))
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func taskDigest(t *store.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "task|%s|%s|%d|%d|%d|%g", t.ID, t.Kind, t.EstimatedMinutes, t.MinBlockMinutes, t.MaxBlockMinutes, t.Weight)
	fmt.Fprintf(&sb, "|%s|%s", i64(t.Deadline), i64(t.EarliestStart))
	prereqs := append([]string(nil), t.Prerequisites...)
	sort.Strings(prereqs)
	fmt.Fprintf(&sb, "|%s", strings.Join(prereqs, ","))
	fmt.Fprintf(&sb, "|%s|%s", windowsDigest(t.PreferredWindows), windowsDigest(t.AvoidWindows))
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func eventDigest(e *store.BusyEvent) string {
	s := fmt.Sprintf("event|%s|%d|%d|%t|%t", e.ID, e.StartTs, e.EndTs, e.Hard, e.Movable)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func windowsDigest(windows []store.WeeklyWindow) string {
	parts := make([]string, len(windows))
	for i, w := range windows {
		parts[i] = fmt.Sprintf("%d:%s-%s", w.Day, w.Start, w.End)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func i64(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

// Thresholds configures the no-thrash gate.
type Thresholds struct {
	// MaxMoveRatio is the accepted fraction of previous blocks that may move.
	MaxMoveRatio float64
	// FrozenWindow is how far ahead of now previous blocks are sticky.
	FrozenWindow time.Duration
	// MoveTolerance is the start shift below which a block has not "moved".
	MoveTolerance time.Duration
}

// DefaultThresholds mirror the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxMoveRatio:  0.2,
		FrozenWindow:  12 * time.Hour,
		MoveTolerance: 15 * time.Minute,
	}
}

// Violation describes one stability breach for a task's block.
type Violation struct {
	TaskID string
	Kind   string // "locked_moved", "frozen_moved", "ratio_exceeded"
	Shift  time.Duration
}

// Report is the outcome of comparing a new solution to the previous one.
type Report struct {
	MovedRatio float64
	Moved      int
	Violations []Violation
}

// Accepted reports whether the new solution passes the gate outright.
func (r Report) Accepted() bool { return len(r.Violations) == 0 }

// blocksByTask pairs previous and new blocks of a task in chronological rank,
// so a task with several blocks compares first-to-first, second-to-second.
func blocksByTask(blocks []scheduler.Block) map[string][]scheduler.Block {
	byTask := make(map[string][]scheduler.Block)
	for _, b := range blocks {
		byTask[b.TaskID] = append(byTask[b.TaskID], b)
	}
	for _, list := range byTask {
		sort.Slice(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })
	}
	return byTask
}

// Compare runs the no-thrash gate: previous vs next, relative to now.
// Locked and manual blocks may never move; blocks starting inside the frozen
// window may not move beyond the tolerance; and overall the moved ratio must
// stay at or below MaxMoveRatio.
func Compare(previous, next []scheduler.Block, now time.Time, th Thresholds) Report {
	report := Report{}
	if len(previous) == 0 {
		return report
	}

	prevByTask := blocksByTask(previous)
	nextByTask := blocksByTask(next)
	frozenEdge := now.Add(th.FrozenWindow)

	for taskID, prevBlocks := range prevByTask {
		nextBlocks := nextByTask[taskID]
		for i, prev := range prevBlocks {
			if !prev.End.After(now) {
				continue // already in the past, nothing to protect
			}
			var shift time.Duration
			dropped := i >= len(nextBlocks)
			if !dropped {
				shift = absDuration(nextBlocks[i].Start.Sub(prev.Start))
			}

			moved := dropped || shift > th.MoveTolerance
			if moved {
				report.Moved++
			}

			switch {
			case (prev.Locked || prev.Manual) && (dropped || shift > 0):
				report.Violations = append(report.Violations, Violation{TaskID: taskID, Kind: "locked_moved", Shift: shift})
			case moved && prev.Start.Before(frozenEdge):
				report.Violations = append(report.Violations, Violation{TaskID: taskID, Kind: "frozen_moved", Shift: shift})
			}
		}
	}

	report.MovedRatio = float64(report.Moved) / math.Max(1, float64(len(previous)))
	if report.MovedRatio > th.MaxMoveRatio {
		report.Violations = append(report.Violations, Violation{Kind: "ratio_exceeded"})
	}
	return report
}

// Merge retains the previous placement for every violating task and keeps the
// new placement for everything else. Used when the inertia rerun still
// violates the gate.
func Merge(previous, next []scheduler.Block, violations []Violation) []scheduler.Block {
	conflicting := make(map[string]struct{})
	for _, v := range violations {
		if v.TaskID != "" {
			conflicting[v.TaskID] = struct{}{}
		}
	}

	merged := make([]scheduler.Block, 0, len(next))
	for _, b := range next {
		if _, ok := conflicting[b.TaskID]; !ok {
			merged = append(merged, b)
		}
	}
	for _, b := range previous {
		if _, ok := conflicting[b.TaskID]; ok {
			merged = append(merged, b)
		}
	}
	scheduler.SortBlocks(merged)
	return merged
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
