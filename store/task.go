package store

// TaskKind categorizes what a task is for. The feature pipeline one-hots it
// and the verifier echoes it back in block metadata.
type TaskKind string

const (
	TaskKindStudy      TaskKind = "study"
	TaskKindAssignment TaskKind = "assignment"
	TaskKindExam       TaskKind = "exam"
	TaskKindReading    TaskKind = "reading"
	TaskKindProject    TaskKind = "project"
	TaskKindHobby      TaskKind = "hobby"
	TaskKindAdmin      TaskKind = "admin"
)

// ValidTaskKind reports whether kind is one of the known task kinds.
func ValidTaskKind(kind TaskKind) bool {
	switch kind {
	case TaskKindStudy, TaskKindAssignment, TaskKindExam, TaskKindReading,
		TaskKindProject, TaskKindHobby, TaskKindAdmin:
		return true
	}
	return false
}

// WeeklyWindow is a recurring weekly interval. Day is 0=Sunday..6=Saturday;
// Start and End are "HH:MM" clock times in the owner's timezone, half-open.
type WeeklyWindow struct {
	Day   int    `json:"day"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type Task struct {
	ID               string
	UserID           string
	Title            string
	Kind             TaskKind
	EstimatedMinutes int
	MinBlockMinutes  int
	MaxBlockMinutes  int
	Deadline         *int64 // unix seconds
	EarliestStart    *int64 // unix seconds
	Weight           float64
	Prerequisites    []string
	PreferredWindows []WeeklyWindow
	AvoidWindows     []WeeklyWindow
	Tags             []string
	CourseID         *string
	Completed        bool
	CreatedTs        int64
	UpdatedTs        int64
}

type FindTask struct {
	ID             *string
	UserID         *string
	CourseID       *string
	Completed      *bool
	DeadlineBefore *int64
	Limit          *int
	Offset         *int
}

type UpdateTask struct {
	Title            *string
	Kind             *TaskKind
	EstimatedMinutes *int
	MinBlockMinutes  *int
	MaxBlockMinutes  *int
	Deadline         *int64
	EarliestStart    *int64
	Weight           *float64
	Prerequisites    *[]string
	PreferredWindows *[]WeeklyWindow
	AvoidWindows     *[]WeeklyWindow
	Tags             *[]string
	CourseID         *string
	Completed        *bool
	UpdatedTs        *int64
	ID               string
	UserID           string
}

type DeleteTask struct {
	ID     string
	UserID string
}
