// Package solver turns tasks, busy time, and per-(task,slot) utilities into
// concrete schedule blocks. The main solver runs a constructive pass plus
// seeded randomized restarts under a time budget; Greedy is the deterministic
// first-fit fallback used when the main solver cannot produce a usable result.
package solver

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/stat"

	"github.com/pulseplan/pulse/scheduler"
	"github.com/pulseplan/pulse/scheduler/timeindex"
	"github.com/pulseplan/pulse/store"
)

// Options bound one solve run.
type Options struct {
	// TimeLimit caps the whole solve, improvement restarts included.
	TimeLimit time.Duration
	// Workers is the number of concurrent restart builders. Default 1.
	Workers int
	// Seed drives every random choice. Wall-clock never reaches it.
	Seed int64
	// NoStudyHard excludes no-study window slots instead of penalizing them.
	NoStudyHard bool
	// AvoidHard excludes task avoid-window slots instead of penalizing them.
	AvoidHard bool
	// InertiaWeight penalizes displacement from the Previous blocks per slot
	// of shift. Zero disables inertia.
	InertiaWeight float64
}

func (o Options) withDefaults() Options {
	if o.TimeLimit <= 0 {
		o.TimeLimit = 10 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// Input is one fully-prepared solve request. Tasks must already be in stable
// order; Utility rows align with Tasks and columns with Index slots.
type Input struct {
	Tasks  []*store.Task
	Index  *timeindex.Index
	Events []*store.BusyEvent
	Prefs  *store.Preferences
	// Utility holds the per-(task,slot) objective contribution.
	Utility [][]float64
	// Probability optionally holds per-(task,slot) completion probabilities,
	// copied onto the emitted blocks.
	Probability [][]float64
	// Weights is the named penalty-weight set from the tuner.
	Weights map[string]float64
	// Existing blocks are locked or manual placements that must stay put.
	Existing []scheduler.Block
	// Previous is the prior solution, used only when InertiaWeight > 0.
	Previous []scheduler.Block
	Options  Options
}

const (
	slotEmpty = -1
	slotOther = -2 // occupied by an existing block of a task outside the set
)

// restartsPerWorker fixes the improvement budget so identical inputs explore
// identical candidate sets.
const restartsPerWorker = 4

// Solve runs the constructive pass and the budgeted improvement restarts.
func Solve(ctx context.Context, in Input) *scheduler.Solution {
	started := time.Now()
	opts := in.Options.withDefaults()

	sol := &scheduler.Solution{Diagnostics: map[string]string{}}
	if err := validate(in); err != nil {
		sol.SolverStatus = scheduler.StatusError
		sol.AddDiagnostic("error", err.Error())
		return sol
	}
	if len(in.Tasks) == 0 {
		sol.Feasible = true
		sol.SolverStatus = scheduler.StatusOptimal
		sol.Blocks = append(sol.Blocks, in.Existing...)
		scheduler.SortBlocks(sol.Blocks)
		return sol
	}

	deadline := started.Add(opts.TimeLimit)
	if parent, ok := ctx.Deadline(); ok && parent.Before(deadline) {
		deadline = parent
	}

	eng := newEngine(in, opts)

	// Base pass: deterministic best-candidate construction.
	base := eng.build(rand.New(rand.NewSource(opts.Seed)), false, deadline)
	if base.timedOut {
		sol.SolverStatus = scheduler.StatusTimeout
		sol.SolveTimeMs = time.Since(started).Milliseconds()
		sol.AddDiagnostic("phase", "construction")
		return sol
	}

	best := base
	restarts := opts.Workers * restartsPerWorker
	completed := eng.improve(ctx, &best, restarts, deadline)

	sol.Blocks = best.blocks(eng)
	sol.ObjectiveValue = best.objective
	sol.SolveTimeMs = time.Since(started).Milliseconds()
	sol.AddDiagnostic("restarts", fmt.Sprintf("%d/%d", completed, restarts))
	sol.AddDiagnostic("seed", fmt.Sprintf("%d", opts.Seed))

	for _, u := range best.unscheduled {
		sol.UnscheduledTasks = append(sol.UnscheduledTasks, u)
	}
	sort.Slice(sol.UnscheduledTasks, func(i, j int) bool {
		return sol.UnscheduledTasks[i].TaskID < sol.UnscheduledTasks[j].TaskID
	})

	switch {
	case len(best.unscheduled) == len(in.Tasks):
		sol.SolverStatus = scheduler.StatusInfeasible
	case len(best.unscheduled) > 0:
		sol.Feasible = true
		sol.SolverStatus = scheduler.StatusFeasible
	case completed < restarts:
		sol.Feasible = true
		sol.SolverStatus = scheduler.StatusFeasible
	default:
		sol.Feasible = true
		sol.SolverStatus = scheduler.StatusOptimal
	}
	return sol
}

func validate(in Input) error {
	if in.Index == nil {
		return fmt.Errorf("missing time index")
	}
	if in.Prefs == nil {
		return fmt.Errorf("missing preferences")
	}
	if len(in.Utility) < len(in.Tasks) {
		return fmt.Errorf("utility matrix has %d rows for %d tasks", len(in.Utility), len(in.Tasks))
	}
	for i, row := range in.Utility[:len(in.Tasks)] {
		if len(row) < in.Index.Len() {
			return fmt.Errorf("utility row %d has %d slots, index has %d", i, len(row), in.Index.Len())
		}
	}
	return nil
}

// engine holds everything immutable across restarts.
type engine struct {
	in   Input
	opts Options

	granMinutes int
	slots       int

	// eligible[t][s] means task t may occupy slot s under the hard rules.
	eligible [][]bool
	// baseOccupancy and baseDaily reflect the existing locked blocks.
	baseOccupancy []int
	baseDaily     map[string]int
	// totalSlots per task, rounded up to granularity and min block size.
	totalSlots []int
	minSlots   []int
	maxSlots   []int
	// order is the prerequisite-respecting placement order.
	order []int
	// cyclic tasks can never satisfy their prerequisites.
	cyclic map[int]bool
	// prevStart holds the previous first-block slot per task id for inertia.
	prevStart map[string]int

	taskIdx map[string]int
}

func newEngine(in Input, opts Options) *engine {
	e := &engine{
		in:          in,
		opts:        opts,
		granMinutes: in.Index.GranularityMinutes(),
		slots:       in.Index.Len(),
		baseDaily:   map[string]int{},
		prevStart:   map[string]int{},
		taskIdx:     map[string]int{},
	}
	for i, t := range in.Tasks {
		e.taskIdx[t.ID] = i
	}

	e.baseOccupancy = make([]int, e.slots)
	for i := range e.baseOccupancy {
		e.baseOccupancy[i] = slotEmpty
	}
	for _, b := range in.Existing {
		from, okFrom := in.Index.CeilIndexOf(b.Start)
		to, okTo := in.Index.IndexOf(b.End)
		if !okFrom {
			continue
		}
		if !okTo {
			to = e.slots
		}
		owner := slotOther
		if idx, ok := e.taskIdx[b.TaskID]; ok {
			owner = idx
		}
		for s := from; s < to && s < e.slots; s++ {
			e.baseOccupancy[s] = owner
			e.baseDaily[in.Index.DayKey(s)] += e.granMinutes
		}
	}

	if opts.InertiaWeight > 0 {
		for _, b := range in.Previous {
			if idx, ok := in.Index.CeilIndexOf(b.Start); ok {
				if cur, seen := e.prevStart[b.TaskID]; !seen || idx < cur {
					e.prevStart[b.TaskID] = idx
				}
			}
		}
	}

	e.buildEligibility()
	e.buildSizes()
	e.buildOrder()
	return e
}

func (e *engine) buildEligibility() {
	hardEvents := make([]*store.BusyEvent, 0, len(e.in.Events))
	for _, ev := range e.in.Events {
		if ev.Hard {
			hardEvents = append(hardEvents, ev)
		}
	}
	hardBusy := e.in.Index.BlockedSlots(hardEvents)

	e.eligible = make([][]bool, len(e.in.Tasks))
	for ti, task := range e.in.Tasks {
		row := make([]bool, e.slots)
		lo := 0
		hi := e.slots
		if task.EarliestStart != nil {
			if idx, ok := e.in.Index.CeilIndexOf(time.Unix(*task.EarliestStart, 0)); ok {
				lo = idx
			} else if time.Unix(*task.EarliestStart, 0).After(e.in.Index.End()) {
				lo = e.slots
			}
		}
		if task.Deadline != nil {
			dl := time.Unix(*task.Deadline, 0)
			if idx, ok := e.in.Index.IndexOf(dl); ok {
				hi = idx
			} else if dl.Before(e.in.Index.Start()) {
				hi = 0
			}
		}
		for s := lo; s < hi; s++ {
			if _, busy := hardBusy[s]; busy {
				continue
			}
			if !e.in.Index.InWorkday(s, e.in.Prefs) {
				continue
			}
			if e.opts.NoStudyHard && e.in.Index.InWindows(s, e.in.Prefs.NoStudyWindows) {
				continue
			}
			if e.opts.AvoidHard && e.in.Index.InWindows(s, task.AvoidWindows) {
				continue
			}
			row[s] = true
		}
		e.eligible[ti] = row
	}
}

func (e *engine) buildSizes() {
	n := len(e.in.Tasks)
	e.totalSlots = make([]int, n)
	e.minSlots = make([]int, n)
	e.maxSlots = make([]int, n)
	for i, task := range e.in.Tasks {
		e.minSlots[i] = ceilDiv(task.MinBlockMinutes, e.granMinutes)
		if e.minSlots[i] < 1 {
			e.minSlots[i] = 1
		}
		e.maxSlots[i] = ceilDiv(task.MaxBlockMinutes, e.granMinutes)
		if e.maxSlots[i] < e.minSlots[i] {
			e.maxSlots[i] = e.minSlots[i]
		}
		e.totalSlots[i] = ceilDiv(task.EstimatedMinutes, e.granMinutes)
		if e.totalSlots[i] < e.minSlots[i] {
			e.totalSlots[i] = e.minSlots[i]
		}
	}
}

// buildOrder sorts placement so every task follows its in-set prerequisites,
// keeping the caller's stable order among ready tasks. Tasks stuck in a
// prerequisite cycle are flagged and skipped during placement.
func (e *engine) buildOrder() {
	n := len(e.in.Tasks)
	placed := make([]bool, n)
	e.cyclic = map[int]bool{}
	e.order = make([]int, 0, n)

	for len(e.order) < n {
		progressed := false
		for i := 0; i < n; i++ {
			if placed[i] {
				continue
			}
			ready := true
			for _, pre := range e.in.Tasks[i].Prerequisites {
				if pi, ok := e.taskIdx[pre]; ok && !placed[pi] {
					ready = false
					break
				}
			}
			if ready {
				e.order = append(e.order, i)
				placed[i] = true
				progressed = true
			}
		}
		if !progressed {
			for i := 0; i < n; i++ {
				if !placed[i] {
					e.cyclic[i] = true
					e.order = append(e.order, i)
					placed[i] = true
				}
			}
		}
	}
}

// candidate is one fully-built assignment.
type candidate struct {
	occupancy   []int
	daily       map[string]int
	unscheduled map[string]scheduler.UnscheduledTask
	objective   float64
	signature   string
	timedOut    bool
}

// build constructs one assignment. With jitter the rng may pick among the top
// candidate runs instead of strictly the best, which is what the improvement
// restarts explore.
func (e *engine) build(rng *rand.Rand, jitter bool, deadline time.Time) candidate {
	c := candidate{
		occupancy:   append([]int(nil), e.baseOccupancy...),
		daily:       map[string]int{},
		unscheduled: map[string]scheduler.UnscheduledTask{},
	}
	for k, v := range e.baseDaily {
		c.daily[k] = v
	}

	for _, ti := range e.order {
		if time.Now().After(deadline) {
			c.timedOut = true
			return c
		}
		task := e.in.Tasks[ti]
		if e.cyclic[ti] {
			c.unscheduled[task.ID] = scheduler.UnscheduledTask{TaskID: task.ID, Reason: "prerequisite cycle"}
			continue
		}
		if e.hasExistingPlacement(ti) {
			continue // locked blocks already cover this task
		}
		if !e.placeTask(&c, ti, rng, jitter) {
			c.unscheduled[task.ID] = scheduler.UnscheduledTask{TaskID: task.ID, Reason: "no feasible slots"}
		}
	}

	c.objective = e.score(&c)
	c.signature = e.signature(&c)
	return c
}

func (e *engine) hasExistingPlacement(ti int) bool {
	for _, v := range e.baseOccupancy {
		if v == ti {
			return true
		}
	}
	return false
}

// earliestAfterPrereqs returns the first slot a task may start at given its
// prerequisites' placed blocks.
func (e *engine) earliestAfterPrereqs(c *candidate, ti int) int {
	lo := 0
	for _, pre := range e.in.Tasks[ti].Prerequisites {
		pi, ok := e.taskIdx[pre]
		if !ok {
			continue
		}
		for s := e.slots - 1; s >= 0; s-- {
			if c.occupancy[s] == pi {
				if s+1 > lo {
					lo = s + 1
				}
				break
			}
		}
	}
	return lo
}

// placeTask fills the task's required slots as contiguous blocks. Returns
// false (and rolls back) when the full requirement cannot be placed.
func (e *engine) placeTask(c *candidate, ti int, rng *rand.Rand, jitter bool) bool {
	remaining := e.totalSlots[ti]
	lo := e.earliestAfterPrereqs(c, ti)
	var placedRuns [][2]int

	for remaining > 0 {
		length := remaining
		if length > e.maxSlots[ti] {
			length = e.maxSlots[ti]
		}
		// Never leave a tail shorter than the minimum block.
		for remaining-length > 0 && remaining-length < e.minSlots[ti] && length > e.minSlots[ti] {
			length--
		}
		if length < e.minSlots[ti] {
			length = e.minSlots[ti]
		}

		run, ok := e.bestRun(c, ti, lo, length, rng, jitter)
		for !ok && length > e.minSlots[ti] {
			// Shrink toward the minimum block before giving up on the task.
			length--
			if remaining-length > 0 && remaining-length < e.minSlots[ti] {
				continue
			}
			run, ok = e.bestRun(c, ti, lo, length, rng, jitter)
		}
		if !ok {
			for _, r := range placedRuns {
				e.clearRun(c, r[0], r[1])
			}
			return false
		}
		e.applyRun(c, ti, run, length)
		placedRuns = append(placedRuns, [2]int{run, length})
		remaining -= length
	}
	return true
}

type runOption struct {
	start int
	score float64
}

// bestRun scans every feasible contiguous run of the given length for the
// task and returns the highest scoring start, earliest on ties.
func (e *engine) bestRun(c *candidate, ti, lo, length int, rng *rand.Rand, jitter bool) (int, bool) {
	var options []runOption
	for s := lo; s+length <= e.slots; s++ {
		if !e.runFeasible(c, ti, s, length) {
			continue
		}
		options = append(options, runOption{start: s, score: e.runScore(c, ti, s, length)})
	}
	if len(options) == 0 {
		return 0, false
	}
	sort.SliceStable(options, func(i, j int) bool {
		if options[i].score != options[j].score {
			return options[i].score > options[j].score
		}
		return options[i].start < options[j].start
	})
	pick := 0
	if jitter && len(options) > 1 {
		top := 3
		if top > len(options) {
			top = len(options)
		}
		pick = rng.Intn(top)
	}
	return options[pick].start, true
}

func (e *engine) runFeasible(c *candidate, ti, start, length int) bool {
	day := e.in.Index.DayKey(start)
	for s := start; s < start+length; s++ {
		if !e.eligible[ti][s] || c.occupancy[s] != slotEmpty {
			return false
		}
		if e.in.Index.DayKey(s) != day {
			return false // blocks never span a local day
		}
	}
	if e.in.Prefs.MaxDailyEffortMinutes > 0 &&
		c.daily[day]+length*e.granMinutes > e.in.Prefs.MaxDailyEffortMinutes {
		return false
	}
	return true
}

// runScore is the marginal objective of placing the run: utility minus the
// per-slot soft penalties and inertia displacement.
func (e *engine) runScore(c *candidate, ti, start, length int) float64 {
	task := e.in.Tasks[ti]
	score := 0.0
	for s := start; s < start+length; s++ {
		score += e.in.Utility[ti][s]
		ctx := e.in.Index.Context(s, e.in.Prefs)
		if ctx.Hour >= 21 {
			score -= e.weight("lateNight")
		}
		if ctx.Hour < 8 {
			score -= e.weight("morning")
		}
		if !e.opts.AvoidHard && e.in.Index.InWindows(s, task.AvoidWindows) {
			score -= e.weight("avoidWindow")
		}
		if !e.opts.NoStudyHard && e.in.Index.InWindows(s, e.in.Prefs.NoStudyWindows) {
			score -= e.weight("avoidWindow")
		}
	}
	if prev, ok := e.prevStart[task.ID]; ok {
		score -= e.opts.InertiaWeight * math.Abs(float64(start-prev))
	}
	// Adjacent different-task slots cost a context switch on each edge.
	if start > 0 && c.occupancy[start-1] != slotEmpty && c.occupancy[start-1] != ti {
		score -= e.weight("contextSwitch")
	}
	end := start + length
	if end < e.slots && c.occupancy[end] != slotEmpty && c.occupancy[end] != ti {
		score -= e.weight("contextSwitch")
	}
	return score
}

func (e *engine) applyRun(c *candidate, ti, start, length int) {
	day := e.in.Index.DayKey(start)
	for s := start; s < start+length; s++ {
		c.occupancy[s] = ti
	}
	c.daily[day] += length * e.granMinutes
}

func (e *engine) clearRun(c *candidate, start, length int) {
	day := e.in.Index.DayKey(start)
	for s := start; s < start+length; s++ {
		c.occupancy[s] = slotEmpty
	}
	c.daily[day] -= length * e.granMinutes
}

func (e *engine) weight(name string) float64 {
	return e.in.Weights[name]
}

// score computes the full objective of an assignment: utilities minus the
// weighted penalty terms.
func (e *engine) score(c *candidate) float64 {
	total := 0.0
	blocksPerTask := map[int]int{}
	blocksPerTaskDay := map[string]int{}
	switches := 0

	prevOwner := slotEmpty
	prevDay := ""
	for s := 0; s < e.slots; s++ {
		owner := c.occupancy[s]
		day := e.in.Index.DayKey(s)
		if owner >= 0 {
			total += e.in.Utility[owner][s]
			ctx := e.in.Index.Context(s, e.in.Prefs)
			if ctx.Hour >= 21 {
				total -= e.weight("lateNight")
			}
			if ctx.Hour < 8 {
				total -= e.weight("morning")
			}
			task := e.in.Tasks[owner]
			if !e.opts.AvoidHard && e.in.Index.InWindows(s, task.AvoidWindows) {
				total -= e.weight("avoidWindow")
			}
			if !e.opts.NoStudyHard && e.in.Index.InWindows(s, e.in.Prefs.NoStudyWindows) {
				total -= e.weight("avoidWindow")
			}
			if owner != prevOwner || day != prevDay {
				blocksPerTask[owner]++
				blocksPerTaskDay[fmt.Sprintf("%d|%s", owner, day)]++
			}
			if prevOwner >= 0 && prevOwner != owner && day == prevDay {
				switches++
			}
		}
		prevOwner = owner
		prevDay = day
	}

	total -= e.weight("contextSwitch") * float64(switches)
	for _, n := range blocksPerTask {
		if n > 1 {
			total -= e.weight("fragmentation") * float64(n-1)
		}
	}
	for _, n := range blocksPerTaskDay {
		if n > 1 {
			total -= e.weight("spacingViolation") * float64(n-1)
		}
	}
	total -= e.fairnessPenalty(c)
	total -= e.inertiaPenalty(c)
	return total
}

// fairnessPenalty is the spread of scheduled fraction across tasks of the
// same course, so one course's tasks do not hog the week.
func (e *engine) fairnessPenalty(c *candidate) float64 {
	assigned := make([]int, len(e.in.Tasks))
	for s := 0; s < e.slots; s++ {
		if c.occupancy[s] >= 0 {
			assigned[c.occupancy[s]]++
		}
	}
	byCourse := map[string][]float64{}
	for ti, task := range e.in.Tasks {
		if task.CourseID == nil || e.totalSlots[ti] == 0 {
			continue
		}
		frac := float64(assigned[ti]) / float64(e.totalSlots[ti])
		byCourse[*task.CourseID] = append(byCourse[*task.CourseID], frac)
	}
	penalty := 0.0
	for _, fracs := range byCourse {
		if len(fracs) >= 2 {
			penalty += e.weight("fairness") * stat.StdDev(fracs, nil)
		}
	}
	return penalty
}

func (e *engine) inertiaPenalty(c *candidate) float64 {
	if e.opts.InertiaWeight <= 0 {
		return 0
	}
	penalty := 0.0
	for taskID, prev := range e.prevStart {
		ti, ok := e.taskIdx[taskID]
		if !ok {
			continue
		}
		for s := 0; s < e.slots; s++ {
			if c.occupancy[s] == ti {
				penalty += e.opts.InertiaWeight * math.Abs(float64(s-prev))
				break
			}
		}
	}
	return penalty
}

// signature is the deterministic tie-breaker between equal-objective
// candidates: the lexicographically smaller signature prefers earlier starts
// and lower task ids.
func (e *engine) signature(c *candidate) string {
	var sb []byte
	prev := slotEmpty
	for s := 0; s < e.slots; s++ {
		owner := c.occupancy[s]
		if owner >= 0 && owner != prev {
			sb = append(sb, fmt.Sprintf("%06d:%s;", s, e.in.Tasks[owner].ID)...)
		}
		prev = owner
	}
	return string(sb)
}

// improve runs the fixed set of jittered restarts concurrently and keeps the
// best candidate. Returns how many restarts completed inside the budget.
func (e *engine) improve(ctx context.Context, best *candidate, restarts int, deadline time.Time) int {
	if restarts <= 0 {
		return 0
	}
	sem := semaphore.NewWeighted(int64(e.opts.Workers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	completed := 0

	for r := 0; r < restarts; r++ {
		if time.Now().After(deadline) {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(restart int) {
			defer wg.Done()
			defer sem.Release(1)
			// Derived seeds keep each restart reproducible independent of
			// scheduling order.
			cand := e.build(rand.New(rand.NewSource(e.opts.Seed+int64(restart)+1)), true, deadline)
			if cand.timedOut {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			completed++
			if betterThan(cand, *best) {
				*best = cand
			}
		}(r)
	}
	wg.Wait()
	return completed
}

func betterThan(a, b candidate) bool {
	if len(a.unscheduled) != len(b.unscheduled) {
		return len(a.unscheduled) < len(b.unscheduled)
	}
	if a.objective != b.objective {
		return a.objective > b.objective
	}
	return a.signature < b.signature
}

// blocks materializes the occupancy into sorted schedule blocks, folding the
// existing locked blocks back in untouched.
func (c candidate) blocks(e *engine) []scheduler.Block {
	var out []scheduler.Block

	existingTasks := map[string]bool{}
	for _, b := range e.in.Existing {
		out = append(out, b)
		existingTasks[b.TaskID] = true
	}

	start := -1
	prev := slotEmpty
	prevDay := ""
	flush := func(endIdx int) {
		if start == -1 || prev < 0 {
			return
		}
		task := e.in.Tasks[prev]
		if existingTasks[task.ID] {
			return
		}
		b := scheduler.Block{
			TaskID: task.ID,
			Start:  e.in.Index.TimeOf(start),
			End:    e.in.Index.TimeOf(endIdx),
		}
		n := 0.0
		for s := start; s < endIdx; s++ {
			b.UtilityScore += e.in.Utility[prev][s]
			if len(e.in.Probability) > prev && len(e.in.Probability[prev]) > s {
				b.CompletionProbability += e.in.Probability[prev][s]
			}
			n++
		}
		if n > 0 {
			b.UtilityScore /= n
			b.CompletionProbability /= n
		}
		out = append(out, b)
	}

	for s := 0; s < e.slots; s++ {
		owner := c.occupancy[s]
		day := e.in.Index.DayKey(s)
		if owner != prev || day != prevDay {
			flush(s)
			start = s
		}
		if owner < 0 {
			start = -1
		}
		prev = owner
		prevDay = day
	}
	flush(e.slots)

	scheduler.SortBlocks(out)
	return out
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
