package store

// Preferences is the per-user scheduling profile. Workday bounds are minutes
// after midnight in the user's timezone. Granularity must be 15 or 30.
type Preferences struct {
	UserID                    string
	Timezone                  string
	WorkdayStartMinutes       int
	WorkdayEndMinutes         int
	MaxDailyEffortMinutes     int
	SessionGranularityMinutes int
	BreakEveryMinutes         int
	BreakDurationMinutes      int
	DeepWorkWindows           []WeeklyWindow
	NoStudyWindows            []WeeklyWindow
	// Penalties overrides the configured default objective weights per user.
	// Unknown keys are ignored; missing keys fall back to the defaults.
	Penalties map[string]float64
	CreatedTs int64
	UpdatedTs int64
}

// DefaultPreferences returns the profile used when a user has never saved one.
func DefaultPreferences(userID string) *Preferences {
	return &Preferences{
		UserID:                    userID,
		Timezone:                  "UTC",
		WorkdayStartMinutes:       9 * 60,
		WorkdayEndMinutes:         17 * 60,
		MaxDailyEffortMinutes:     480,
		SessionGranularityMinutes: 30,
		BreakEveryMinutes:         120,
		BreakDurationMinutes:      15,
	}
}

type FindPreferences struct {
	UserID *string
}

type UpsertPreferences struct {
	UserID                    string
	Timezone                  string
	WorkdayStartMinutes       int
	WorkdayEndMinutes         int
	MaxDailyEffortMinutes     int
	SessionGranularityMinutes int
	BreakEveryMinutes         int
	BreakDurationMinutes      int
	DeepWorkWindows           []WeeklyWindow
	NoStudyWindows            []WeeklyWindow
	Penalties                 map[string]float64
}
