package store

// AgentTaskStatus is the lifecycle state of an agent task card.
type AgentTaskStatus string

const (
	AgentTaskStatusPending    AgentTaskStatus = "pending"
	AgentTaskStatusInProgress AgentTaskStatus = "in_progress"
	AgentTaskStatusCompleted  AgentTaskStatus = "completed"
	AgentTaskStatusFailed     AgentTaskStatus = "failed"
	AgentTaskStatusCancelled  AgentTaskStatus = "cancelled"
)

// AgentTaskStepStatus is the lifecycle state of a single step on a card.
type AgentTaskStepStatus string

const (
	AgentTaskStepStatusPending    AgentTaskStepStatus = "pending"
	AgentTaskStepStatusInProgress AgentTaskStepStatus = "in_progress"
	AgentTaskStepStatusCompleted  AgentTaskStepStatus = "completed"
	AgentTaskStepStatusFailed     AgentTaskStepStatus = "failed"
)

// AgentTaskStep is one entry of a card's ordered step list, stored as JSON.
type AgentTaskStep struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Status      AgentTaskStepStatus `json:"status"`
	Timestamp   int64               `json:"timestamp,omitempty"`
	Details     string              `json:"details,omitempty"`
}

// AgentTask is the persisted form of a task card surfaced over the websocket.
type AgentTask struct {
	ID                       string
	UserID                   string
	ConversationID           *string
	TaskType                 string
	WorkflowType             string
	WorkflowID               *string
	Title                    string
	Description              string
	Status                   AgentTaskStatus
	Progress                 int // 0..100
	Steps                    []AgentTaskStep
	Result                   *string
	ErrorMessage             *string
	Metadata                 string // JSON
	CanCancel                bool
	EstimatedDurationSeconds int
	StartedTs                *int64
	CompletedTs              *int64
	CreatedTs                int64
	UpdatedTs                int64
}

type FindAgentTask struct {
	ID             *string
	UserID         *string
	ConversationID *string
	Status         *AgentTaskStatus
	Limit          *int
	Offset         *int
}

type UpdateAgentTask struct {
	Title        *string
	Description  *string
	Status       *AgentTaskStatus
	Progress     *int
	Steps        *[]AgentTaskStep
	Result       *string
	ErrorMessage *string
	Metadata     *string
	CanCancel    *bool
	StartedTs    *int64
	CompletedTs  *int64
	UpdatedTs    *int64
	ID           string
}

type DeleteAgentTask struct {
	ID string
}
