// Package scheduler holds the types shared by the scheduling engine
// subpackages: solutions, blocks, solver statuses, and the typed error kinds
// the service surfaces.
package scheduler

import (
	"sort"
	"time"
)

// SolverStatus reports how a solution was produced.
type SolverStatus string

const (
	StatusOptimal       SolverStatus = "optimal"
	StatusFeasible      SolverStatus = "feasible"
	StatusInfeasible    SolverStatus = "infeasible"
	StatusTimeout       SolverStatus = "timeout"
	StatusError         SolverStatus = "error"
	StatusNoSolver      SolverStatus = "no_solver"
	StatusFallback      SolverStatus = "fallback"
	StatusFallbackError SolverStatus = "fallback_error"
)

// Block is one assignment of a task to a half-open interval [Start, End).
// Start and End always fall on the slot grid of the index that produced them.
type Block struct {
	TaskID                string
	Start                 time.Time
	End                   time.Time
	UtilityScore          float64
	CompletionProbability float64
	Locked                bool
	Manual                bool
}

// Minutes returns the block duration in whole minutes.
func (b Block) Minutes() int {
	return int(b.End.Sub(b.Start) / time.Minute)
}

// Overlaps reports whether two half-open intervals intersect.
func (b Block) Overlaps(start, end time.Time) bool {
	return b.Start.Before(end) && b.End.After(start)
}

// UnscheduledTask names a task the solver could not place, with a reason.
type UnscheduledTask struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// Solution is the outcome of one solve. Blocks are non-overlapping and
// sorted by (start, task id).
type Solution struct {
	Feasible         bool
	Blocks           []Block
	SolverStatus     SolverStatus
	SolveTimeMs      int64
	ObjectiveValue   float64
	UnscheduledTasks []UnscheduledTask
	Diagnostics      map[string]string
}

// SortBlocks orders blocks canonically by (start, task id). Every solution
// leaves the engine in this order.
func SortBlocks(blocks []Block) {
	sort.SliceStable(blocks, func(i, j int) bool {
		if !blocks[i].Start.Equal(blocks[j].Start) {
			return blocks[i].Start.Before(blocks[j].Start)
		}
		return blocks[i].TaskID < blocks[j].TaskID
	})
}

// AddDiagnostic records a key-value diagnostic, allocating the map lazily.
func (s *Solution) AddDiagnostic(key, value string) {
	if s.Diagnostics == nil {
		s.Diagnostics = make(map[string]string)
	}
	s.Diagnostics[key] = value
}
