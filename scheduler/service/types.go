package service

import (
	"encoding/json"
	"time"

	"github.com/pulseplan/pulse/scheduler"
)

// BlockProvider tags every emitted block.
const BlockProvider = "pulse"

// ScheduleOptions are the per-request solver overrides.
type ScheduleOptions struct {
	TimeLimitSeconds float64 `json:"timeLimitSeconds,omitempty"`
	Seed             *int64  `json:"seed,omitempty"`
	NoStudyHard      *bool   `json:"noStudyHard,omitempty"`
	AvoidHard        *bool   `json:"avoidHard,omitempty"`
}

// ScheduleRequest asks for a plan over the next HorizonDays.
type ScheduleRequest struct {
	UserID      string          `json:"userId"`
	HorizonDays int             `json:"horizonDays"`
	DryRun      bool            `json:"dryRun"`
	// LockExisting defaults to true: locked and manual blocks stay in place.
	LockExisting *bool           `json:"lockExisting,omitempty"`
	JobID        string          `json:"jobId,omitempty"`
	Options      ScheduleOptions `json:"options"`
}

func (r *ScheduleRequest) lockExisting() bool {
	return r.LockExisting == nil || *r.LockExisting
}

// BlockMetadata rides along with each response block.
type BlockMetadata struct {
	UtilityScore          float64 `json:"utility_score"`
	CompletionProbability float64 `json:"completion_probability"`
	DurationMinutes       int     `json:"duration_minutes"`
	TaskKind              string  `json:"task_kind"`
	CourseID              string  `json:"course_id,omitempty"`
	Locked                bool    `json:"locked,omitempty"`
	Manual                bool    `json:"manual,omitempty"`
}

// ResponseBlock is the wire form of one scheduled block.
type ResponseBlock struct {
	TaskID   string        `json:"taskId"`
	Title    string        `json:"title"`
	Start    string        `json:"start"` // RFC 3339 with offset
	End      string        `json:"end"`
	Provider string        `json:"provider"`
	Metadata BlockMetadata `json:"metadata"`
}

// Metrics summarize one schedule run.
type Metrics struct {
	Feasible              bool    `json:"feasible"`
	SolverStatus          string  `json:"solverStatus"`
	TotalBlocks           int     `json:"totalBlocks"`
	TotalScheduledMinutes int     `json:"totalScheduledMinutes"`
	SolveTimeMs           int64   `json:"solveTimeMs"`
	ObjectiveValue        float64 `json:"objectiveValue"`
	MovedRatio            float64 `json:"movedRatio"`
	UnscheduledCount      int     `json:"unscheduledCount"`
	WeightPreset          string  `json:"weightPreset,omitempty"`
	ErrorType             string  `json:"errorType,omitempty"`
}

// ScheduleResponse is always well formed; failures surface through
// feasible=false plus metrics.errorType and an explanation.
type ScheduleResponse struct {
	JobID            string                     `json:"jobId"`
	Feasible         bool                       `json:"feasible"`
	Blocks           []ResponseBlock            `json:"blocks"`
	UnscheduledTasks []scheduler.UnscheduledTask `json:"unscheduledTasks,omitempty"`
	Metrics          Metrics                    `json:"metrics"`
	Explanations     []string                   `json:"explanations"`
	Diagnostics      map[string]string          `json:"diagnostics,omitempty"`
}

// AsMap renders the response as a generic document for verification.
func (r *ScheduleResponse) AsMap() map[string]any {
	raw, err := json.Marshal(r)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	if out["blocks"] == nil {
		out["blocks"] = []any{}
	}
	if out["explanations"] == nil {
		out["explanations"] = []any{}
	}
	return out
}

// CompletionFeedback labels one scheduled slot.
type CompletionFeedback struct {
	TaskID      string `json:"taskId"`
	ScheduledTs int64  `json:"scheduledTs"`
	Completed   bool   `json:"completed"`
}

// FeedbackRequest reports schedule outcomes back into the learning loop.
// Absent rates are treated as neutral.
type FeedbackRequest struct {
	UserID            string               `json:"userId"`
	JobID             string               `json:"jobId,omitempty"`
	CompletionRate    *float64             `json:"completionRate,omitempty"`
	SatisfactionScore *float64             `json:"satisfactionScore,omitempty"`
	RescheduleRate    *float64             `json:"rescheduleRate,omitempty"`
	MissedRate        *float64             `json:"missedRate,omitempty"`
	Completions       []CompletionFeedback `json:"completions,omitempty"`
}

// JobStatus is the persisted record of one schedule run, kept in the KV
// cache for later lookup.
type JobStatus struct {
	JobID         string `json:"jobId"`
	UserID        string `json:"userId"`
	Status        string `json:"status"` // completed | failed
	Feasible      bool   `json:"feasible"`
	SolverStatus  string `json:"solverStatus"`
	TotalBlocks   int    `json:"totalBlocks"`
	WeightPreset  string `json:"weightPreset,omitempty"`
	BanditContext string `json:"banditContext,omitempty"`
	HorizonDays   int    `json:"horizonDays"`
	CreatedTs     int64  `json:"createdTs"`
}

// DiagnosticsResponse describes the learned state behind one user's plans.
type DiagnosticsResponse struct {
	UserID                 string    `json:"userId"`
	CompletionModelLoaded  bool      `json:"completionModelLoaded"`
	CompletionModelSamples int       `json:"completionModelSamples"`
	BanditTotalPulls       int64     `json:"banditTotalPulls"`
	BanditArms             []ArmInfo `json:"banditArms,omitempty"`
	GeneratedAt            time.Time `json:"generatedAt"`
}

// ArmInfo mirrors one bandit arm for diagnostics.
type ArmInfo struct {
	Key   string  `json:"key"`
	Pulls int     `json:"pulls"`
	Mean  float64 `json:"mean"`
}

// HealthStatus reports component availability.
type HealthStatus struct {
	Status     string            `json:"status"` // ok | degraded
	Components map[string]string `json:"components"`
	CheckedAt  time.Time         `json:"checkedAt"`
}
