package store

// EventSource indicates where a busy event came from.
// - "calendar": imported from an external calendar
// - "canvas": imported by the course sync
// - "manual": created by the user through the agent
// - "scheduler": a confirmed block promoted to busy time
type EventSource string

const (
	EventSourceCalendar  EventSource = "calendar"
	EventSourceCanvas    EventSource = "canvas"
	EventSourceManual    EventSource = "manual"
	EventSourceScheduler EventSource = "scheduler"
)

// BusyEvent is an interval of unavailable time. Hard events can never be
// scheduled over; soft events only cost penalty. Movable is advisory for
// re-plans and never set on imported events.
type BusyEvent struct {
	ID        string
	UserID    string
	Source    EventSource
	StartTs   int64 // unix seconds, half-open [StartTs, EndTs)
	EndTs     int64
	Title     string
	Hard      bool
	Movable   bool
	CreatedTs int64
	UpdatedTs int64
}

type FindBusyEvent struct {
	ID     *string
	UserID *string
	Source *EventSource
	// From/To select events overlapping the half-open interval [From, To).
	From  *int64
	To    *int64
	Limit *int
}

type UpdateBusyEvent struct {
	Title     *string
	StartTs   *int64
	EndTs     *int64
	Hard      *bool
	Movable   *bool
	UpdatedTs *int64
	ID        string
	UserID    string
}

type DeleteBusyEvent struct {
	ID     string
	UserID string
}
