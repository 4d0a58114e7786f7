package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pulseplan/pulse/store"
)

const preferencesColumns = `user_id, timezone, workday_start, workday_end, max_daily_effort_minutes, session_granularity_minutes, break_every_minutes, break_duration_minutes, deep_work_windows, no_study_windows, penalties, created_ts, updated_ts`

func scanPreferences(row rowScanner) (*store.Preferences, error) {
	prefs := &store.Preferences{}
	var deepWork, noStudy, penalties string

	if err := row.Scan(
		&prefs.UserID,
		&prefs.Timezone,
		&prefs.WorkdayStartMinutes,
		&prefs.WorkdayEndMinutes,
		&prefs.MaxDailyEffortMinutes,
		&prefs.SessionGranularityMinutes,
		&prefs.BreakEveryMinutes,
		&prefs.BreakDurationMinutes,
		&deepWork,
		&noStudy,
		&penalties,
		&prefs.CreatedTs,
		&prefs.UpdatedTs,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(deepWork), &prefs.DeepWorkWindows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deep work windows: %w", err)
	}
	if err := json.Unmarshal([]byte(noStudy), &prefs.NoStudyWindows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal no study windows: %w", err)
	}
	if err := json.Unmarshal([]byte(penalties), &prefs.Penalties); err != nil {
		return nil, fmt.Errorf("failed to unmarshal penalties: %w", err)
	}

	return prefs, nil
}

func (d *DB) UpsertPreferences(ctx context.Context, upsert *store.UpsertPreferences) (*store.Preferences, error) {
	deepWork, err := marshalWindowList(upsert.DeepWorkWindows)
	if err != nil {
		return nil, err
	}
	noStudy, err := marshalWindowList(upsert.NoStudyWindows)
	if err != nil {
		return nil, err
	}
	penaltiesMap := upsert.Penalties
	if penaltiesMap == nil {
		penaltiesMap = map[string]float64{}
	}
	penalties, err := json.Marshal(penaltiesMap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal penalties: %w", err)
	}

	now := time.Now().Unix()
	stmt := `
		INSERT INTO preferences (` + preferencesColumns + `)
		VALUES (` + placeholders(13) + `)
		ON CONFLICT (user_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			workday_start = EXCLUDED.workday_start,
			workday_end = EXCLUDED.workday_end,
			max_daily_effort_minutes = EXCLUDED.max_daily_effort_minutes,
			session_granularity_minutes = EXCLUDED.session_granularity_minutes,
			break_every_minutes = EXCLUDED.break_every_minutes,
			break_duration_minutes = EXCLUDED.break_duration_minutes,
			deep_work_windows = EXCLUDED.deep_work_windows,
			no_study_windows = EXCLUDED.no_study_windows,
			penalties = EXCLUDED.penalties,
			updated_ts = EXCLUDED.updated_ts
		RETURNING ` + preferencesColumns
	prefs, err := scanPreferences(d.db.QueryRowContext(ctx, stmt,
		upsert.UserID,
		upsert.Timezone,
		upsert.WorkdayStartMinutes,
		upsert.WorkdayEndMinutes,
		upsert.MaxDailyEffortMinutes,
		upsert.SessionGranularityMinutes,
		upsert.BreakEveryMinutes,
		upsert.BreakDurationMinutes,
		deepWork,
		noStudy,
		string(penalties),
		now,
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert preferences: %w", err)
	}

	return prefs, nil
}

func (d *DB) GetPreferences(ctx context.Context, find *store.FindPreferences) (*store.Preferences, error) {
	if find.UserID == nil {
		return nil, fmt.Errorf("user id required")
	}

	query := `SELECT ` + preferencesColumns + ` FROM preferences WHERE user_id = ` + placeholder(1)
	prefs, err := scanPreferences(d.db.QueryRowContext(ctx, query, *find.UserID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	return prefs, nil
}
