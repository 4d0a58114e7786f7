package solver

import (
	"fmt"
	"sort"
	"time"

	"github.com/pulseplan/pulse/scheduler"
	"github.com/pulseplan/pulse/store"
)

// Greedy is the deterministic first-fit fallback: tasks ordered by deadline,
// then weight, then id, each placed into the first free gap that fits a block
// of clip(remaining, minBlock, maxBlock) slots. It needs no utilities and no
// randomness, so it always terminates fast with the same answer.
func Greedy(in Input) *scheduler.Solution {
	started := time.Now()
	sol := &scheduler.Solution{Diagnostics: map[string]string{}}

	if in.Index == nil || in.Prefs == nil {
		sol.SolverStatus = scheduler.StatusFallbackError
		sol.AddDiagnostic("error", "missing time index or preferences")
		return sol
	}

	tasks := make([]*store.Task, len(in.Tasks))
	copy(tasks, in.Tasks)
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
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
		return a.ID < b.ID
	})

	gran := in.Index.GranularityMinutes()
	slots := in.Index.Len()

	// Free gaps already honor the workday and no-study windows.
	occupied := make([]bool, slots)
	daily := map[string]int{}
	inGap := make([]bool, slots)
	for _, g := range in.Index.FreeSlots(in.Events, in.Prefs) {
		for s := g.StartIdx; s < g.EndIdx; s++ {
			inGap[s] = true
		}
	}
	existingTasks := map[string]bool{}
	for _, b := range in.Existing {
		existingTasks[b.TaskID] = true
		from, okFrom := in.Index.CeilIndexOf(b.Start)
		to, okTo := in.Index.IndexOf(b.End)
		if !okFrom {
			continue
		}
		if !okTo {
			to = slots
		}
		for s := from; s < to && s < slots; s++ {
			occupied[s] = true
			daily[in.Index.DayKey(s)] += gran
		}
		sol.Blocks = append(sol.Blocks, b)
	}

	for _, task := range tasks {
		if existingTasks[task.ID] {
			continue
		}
		minSlots := ceilDiv(task.MinBlockMinutes, gran)
		if minSlots < 1 {
			minSlots = 1
		}
		maxSlots := ceilDiv(task.MaxBlockMinutes, gran)
		if maxSlots < minSlots {
			maxSlots = minSlots
		}
		remaining := ceilDiv(task.EstimatedMinutes, gran)
		if remaining < minSlots {
			remaining = minSlots
		}

		lo := 0
		hi := slots
		if task.EarliestStart != nil {
			if idx, ok := in.Index.CeilIndexOf(time.Unix(*task.EarliestStart, 0)); ok {
				lo = idx
			} else if time.Unix(*task.EarliestStart, 0).After(in.Index.End()) {
				lo = slots
			}
		}
		if task.Deadline != nil {
			dl := time.Unix(*task.Deadline, 0)
			if idx, ok := in.Index.IndexOf(dl); ok {
				hi = idx
			} else if dl.Before(in.Index.Start()) {
				hi = 0
			}
		}

		var placed []scheduler.Block
		for remaining > 0 {
			length := remaining
			if length > maxSlots {
				length = maxSlots
			}
			for remaining-length > 0 && remaining-length < minSlots && length > minSlots {
				length--
			}
			if length < minSlots {
				length = minSlots
			}

			start, ok := firstFit(in, task, occupied, inGap, daily, lo, hi, length, gran)
			for !ok && length > minSlots {
				length--
				if remaining-length > 0 && remaining-length < minSlots {
					continue
				}
				start, ok = firstFit(in, task, occupied, inGap, daily, lo, hi, length, gran)
			}
			if !ok {
				break
			}
			day := in.Index.DayKey(start)
			for s := start; s < start+length; s++ {
				occupied[s] = true
			}
			daily[day] += length * gran
			placed = append(placed, scheduler.Block{
				TaskID: task.ID,
				Start:  in.Index.TimeOf(start),
				End:    in.Index.TimeOf(start + length),
			})
			remaining -= length
		}

		if remaining > 0 {
			// All or nothing: partial placements are rolled back so the task
			// shows up as unscheduled instead of half-done.
			for _, b := range placed {
				from, _ := in.Index.CeilIndexOf(b.Start)
				to, _ := in.Index.IndexOf(b.End)
				if to == 0 {
					to = slots
				}
				day := in.Index.DayKey(from)
				for s := from; s < to && s < slots; s++ {
					occupied[s] = false
				}
				daily[day] -= (to - from) * gran
			}
			sol.UnscheduledTasks = append(sol.UnscheduledTasks, scheduler.UnscheduledTask{
				TaskID: task.ID,
				Reason: "no gap fits the minimum block",
			})
			continue
		}
		sol.Blocks = append(sol.Blocks, placed...)
	}

	scheduler.SortBlocks(sol.Blocks)
	sort.Slice(sol.UnscheduledTasks, func(i, j int) bool {
		return sol.UnscheduledTasks[i].TaskID < sol.UnscheduledTasks[j].TaskID
	})
	sol.Feasible = len(sol.Blocks) > 0 || len(tasks) == 0
	sol.SolverStatus = scheduler.StatusFallback
	sol.SolveTimeMs = time.Since(started).Milliseconds()
	sol.AddDiagnostic("strategy", "greedy_first_fit")
	sol.AddDiagnostic("unscheduled", fmt.Sprintf("%d", len(sol.UnscheduledTasks)))
	return sol
}

// firstFit returns the earliest start of a contiguous run that stays inside
// one free gap and one local day, avoids the task's avoid windows, and fits
// under the daily effort cap.
func firstFit(in Input, task *store.Task, occupied, inGap []bool, daily map[string]int, lo, hi, length, gran int) (int, bool) {
	if hi > len(occupied) {
		hi = len(occupied)
	}
	for s := lo; s+length <= hi; s++ {
		day := in.Index.DayKey(s)
		fits := true
		for k := s; k < s+length; k++ {
			if !inGap[k] || occupied[k] || in.Index.DayKey(k) != day {
				fits = false
				break
			}
			if in.Index.InWindows(k, task.AvoidWindows) {
				fits = false
				break
			}
		}
		if !fits {
			continue
		}
		if in.Prefs.MaxDailyEffortMinutes > 0 && daily[day]+length*gran > in.Prefs.MaxDailyEffortMinutes {
			continue
		}
		return s, true
	}
	return 0, false
}
