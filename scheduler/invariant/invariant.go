// Package invariant validates a solution before it is allowed to persist.
// Any violation downgrades the run to an error; a violating schedule never
// reaches the store.
package invariant

import (
	"fmt"
	"sort"
	"time"

	"github.com/pulseplan/pulse/scheduler"
	"github.com/pulseplan/pulse/scheduler/timeindex"
	"github.com/pulseplan/pulse/store"
)

// Violation codes.
const (
	CodeOverlap       = "overlap"
	CodeOffGrid       = "off_grid"
	CodeBlockSize     = "block_size"
	CodeIncomplete    = "incomplete"
	CodeDeadline      = "deadline"
	CodeHardBusy      = "hard_busy"
	CodeNoStudy       = "no_study"
	CodeDailyCap      = "daily_cap"
	CodePrerequisites = "prerequisite_order"
)

// Violation pinpoints one broken rule.
type Violation struct {
	Code   string `json:"code"`
	TaskID string `json:"taskId,omitempty"`
	Detail string `json:"detail"`
}

func (v Violation) String() string {
	if v.TaskID == "" {
		return fmt.Sprintf("%s: %s", v.Code, v.Detail)
	}
	return fmt.Sprintf("%s[%s]: %s", v.Code, v.TaskID, v.Detail)
}

// Input is everything the checks need.
type Input struct {
	Blocks      []scheduler.Block
	Unscheduled []scheduler.UnscheduledTask
	Tasks       []*store.Task
	Events      []*store.BusyEvent
	Index       *timeindex.Index
	Prefs       *store.Preferences
	// NoStudyHard mirrors the solver option: when set, any intersection with
	// a no-study window is a violation.
	NoStudyHard bool
}

// Check runs every rule and returns all violations found, sorted by code then
// task so reports are stable.
func Check(in Input) []Violation {
	var out []Violation
	out = append(out, checkOverlap(in)...)
	out = append(out, checkGrid(in)...)
	out = append(out, checkBlockSizes(in)...)
	out = append(out, checkCompleteness(in)...)
	out = append(out, checkDeadlines(in)...)
	out = append(out, checkHardBusy(in)...)
	out = append(out, checkNoStudy(in)...)
	out = append(out, checkDailyCap(in)...)
	out = append(out, checkPrerequisites(in)...)

	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

func checkOverlap(in Input) []Violation {
	blocks := append([]scheduler.Block(nil), in.Blocks...)
	scheduler.SortBlocks(blocks)
	var out []Violation
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Start.Before(blocks[i-1].End) {
			out = append(out, Violation{
				Code:   CodeOverlap,
				TaskID: blocks[i].TaskID,
				Detail: fmt.Sprintf("block at %s overlaps block of %s", blocks[i].Start.Format(time.RFC3339), blocks[i-1].TaskID),
			})
		}
	}
	return out
}

func checkGrid(in Input) []Violation {
	if in.Index == nil {
		return nil
	}
	var out []Violation
	for _, b := range in.Blocks {
		if !in.Index.OnGrid(b.Start) || !in.Index.OnGrid(b.End) {
			out = append(out, Violation{
				Code:   CodeOffGrid,
				TaskID: b.TaskID,
				Detail: fmt.Sprintf("block %s-%s off the slot grid", b.Start.Format(time.RFC3339), b.End.Format(time.RFC3339)),
			})
		}
	}
	return out
}

func checkBlockSizes(in Input) []Violation {
	byID := taskMap(in.Tasks)
	var out []Violation
	for _, b := range in.Blocks {
		task, ok := byID[b.TaskID]
		if !ok || b.Manual {
			continue
		}
		minB := task.MinBlockMinutes
		maxB := task.MaxBlockMinutes
		if maxB < minB {
			maxB = minB
		}
		if mins := b.Minutes(); mins < minB || mins > maxB {
			out = append(out, Violation{
				Code:   CodeBlockSize,
				TaskID: b.TaskID,
				Detail: fmt.Sprintf("%d min outside [%d, %d]", mins, minB, maxB),
			})
		}
	}
	return out
}

func checkCompleteness(in Input) []Violation {
	unscheduled := map[string]bool{}
	for _, u := range in.Unscheduled {
		unscheduled[u.TaskID] = true
	}
	totals := map[string]int{}
	pinned := map[string]bool{}
	for _, b := range in.Blocks {
		totals[b.TaskID] += b.Minutes()
		if b.Locked || b.Manual {
			pinned[b.TaskID] = true
		}
	}

	var out []Violation
	for _, task := range in.Tasks {
		if unscheduled[task.ID] || pinned[task.ID] {
			continue
		}
		gran := 30
		if in.Index != nil {
			gran = in.Index.GranularityMinutes()
		}
		required := ceilTo(task.EstimatedMinutes, gran)
		if required < task.MinBlockMinutes {
			required = ceilTo(task.MinBlockMinutes, gran)
		}
		if totals[task.ID] != required {
			out = append(out, Violation{
				Code:   CodeIncomplete,
				TaskID: task.ID,
				Detail: fmt.Sprintf("scheduled %d min, need %d", totals[task.ID], required),
			})
		}
	}
	return out
}

func checkDeadlines(in Input) []Violation {
	byID := taskMap(in.Tasks)
	var out []Violation
	for _, b := range in.Blocks {
		task, ok := byID[b.TaskID]
		if !ok || task.Deadline == nil {
			continue
		}
		if b.End.After(time.Unix(*task.Deadline, 0)) {
			out = append(out, Violation{
				Code:   CodeDeadline,
				TaskID: b.TaskID,
				Detail: fmt.Sprintf("block ends %s after the deadline", b.End.Format(time.RFC3339)),
			})
		}
	}
	return out
}

func checkHardBusy(in Input) []Violation {
	var out []Violation
	for _, b := range in.Blocks {
		if b.Manual {
			continue
		}
		for _, ev := range in.Events {
			if !ev.Hard {
				continue
			}
			if b.Start.Unix() < ev.EndTs && ev.StartTs < b.End.Unix() {
				out = append(out, Violation{
					Code:   CodeHardBusy,
					TaskID: b.TaskID,
					Detail: fmt.Sprintf("intersects hard busy event %s", ev.ID),
				})
			}
		}
	}
	return out
}

func checkNoStudy(in Input) []Violation {
	if !in.NoStudyHard || in.Index == nil || in.Prefs == nil {
		return nil
	}
	var out []Violation
	for _, b := range in.Blocks {
		if b.Manual {
			continue
		}
		from, ok := in.Index.CeilIndexOf(b.Start)
		if !ok {
			continue
		}
		to, ok := in.Index.IndexOf(b.End)
		if !ok {
			to = in.Index.Len()
		}
		for s := from; s < to; s++ {
			if in.Index.InWindows(s, in.Prefs.NoStudyWindows) {
				out = append(out, Violation{
					Code:   CodeNoStudy,
					TaskID: b.TaskID,
					Detail: "intersects a no-study window",
				})
				break
			}
		}
	}
	return out
}

func checkDailyCap(in Input) []Violation {
	if in.Prefs == nil || in.Prefs.MaxDailyEffortMinutes <= 0 {
		return nil
	}
	loc := time.UTC
	if in.Index != nil {
		loc = in.Index.Location()
	}
	daily := map[string]int{}
	for _, b := range in.Blocks {
		daily[b.Start.In(loc).Format("2006-01-02")] += b.Minutes()
	}
	var out []Violation
	days := make([]string, 0, len(daily))
	for day := range daily {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		if daily[day] > in.Prefs.MaxDailyEffortMinutes {
			out = append(out, Violation{
				Code:   CodeDailyCap,
				Detail: fmt.Sprintf("%s has %d min scheduled, cap %d", day, daily[day], in.Prefs.MaxDailyEffortMinutes),
			})
		}
	}
	return out
}

func checkPrerequisites(in Input) []Violation {
	maxEnd := map[string]time.Time{}
	minStart := map[string]time.Time{}
	for _, b := range in.Blocks {
		if b.End.After(maxEnd[b.TaskID]) {
			maxEnd[b.TaskID] = b.End
		}
		if cur, ok := minStart[b.TaskID]; !ok || b.Start.Before(cur) {
			minStart[b.TaskID] = b.Start
		}
	}

	var out []Violation
	for _, task := range in.Tasks {
		start, scheduled := minStart[task.ID]
		if !scheduled {
			continue
		}
		for _, pre := range task.Prerequisites {
			end, ok := maxEnd[pre]
			if !ok {
				continue
			}
			if end.After(start) {
				out = append(out, Violation{
					Code:   CodePrerequisites,
					TaskID: task.ID,
					Detail: fmt.Sprintf("starts before prerequisite %s finishes", pre),
				})
			}
		}
	}
	return out
}

func taskMap(tasks []*store.Task) map[string]*store.Task {
	m := make(map[string]*store.Task, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}

func ceilTo(v, step int) int {
	if step <= 0 {
		return v
	}
	return ((v + step - 1) / step) * step
}
