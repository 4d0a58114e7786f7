package store

// ScheduleBlock is one persisted assignment of a task to a half-open time
// interval. Locked blocks are never moved by a re-plan; manual blocks are
// user-placed and treated the same way.
type ScheduleBlock struct {
	ID                    int64
	UserID                string
	JobID                 *string
	TaskID                string
	StartTs               int64 // unix seconds, half-open [StartTs, EndTs)
	EndTs                 int64
	UtilityScore          float64
	CompletionProbability float64
	Locked                bool
	Manual                bool
	CreatedTs             int64
	UpdatedTs             int64
}

type FindScheduleBlock struct {
	ID     *int64
	UserID *string
	TaskID *string
	JobID  *string
	// From/To select blocks overlapping the half-open interval [From, To).
	From   *int64
	To     *int64
	Locked *bool
	Manual *bool
	Limit  *int
}

type UpdateScheduleBlock struct {
	StartTs               *int64
	EndTs                 *int64
	UtilityScore          *float64
	CompletionProbability *float64
	Locked                *bool
	Manual                *bool
	UpdatedTs             *int64
	ID                    int64
	UserID                string
}

type DeleteScheduleBlock struct {
	ID     *int64
	UserID string
	TaskID *string
}

// ReplaceScheduleBlocks swaps the user's plan over [From, To) in one
// transaction: unlocked, non-manual blocks overlapping the window are removed
// and Blocks are inserted in their place.
type ReplaceScheduleBlocks struct {
	UserID string
	JobID  string
	From   int64
	To     int64
	Blocks []*ScheduleBlock
}
