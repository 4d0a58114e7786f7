package store

// CompletionEvent records the outcome of one scheduled slot. A nil
// CompletedTs means the slot was missed. The learning loop trains on these.
type CompletionEvent struct {
	ID          int64
	UserID      string
	TaskID      string
	ScheduledTs int64  // start of the scheduled slot, unix seconds
	CompletedTs *int64 // nil = missed
	Metadata    string // JSON, free-form
	CreatedTs   int64
}

type FindCompletionEvent struct {
	UserID *string
	TaskID *string
	// Since filters on ScheduledTs.
	Since *int64
	Limit *int
}

type DeleteCompletionEvent struct {
	UserID string
	// Before drops events with ScheduledTs older than this, for retention.
	Before int64
}
