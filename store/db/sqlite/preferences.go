package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

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
		return nil, errors.Wrap(err, "failed to unmarshal deep work windows")
	}
	if err := json.Unmarshal([]byte(noStudy), &prefs.NoStudyWindows); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal no study windows")
	}
	if err := json.Unmarshal([]byte(penalties), &prefs.Penalties); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal penalties")
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
		return nil, errors.Wrap(err, "failed to marshal penalties")
	}

	now := time.Now().Unix()
	stmt := `
		INSERT INTO preferences (` + preferencesColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			timezone = excluded.timezone,
			workday_start = excluded.workday_start,
			workday_end = excluded.workday_end,
			max_daily_effort_minutes = excluded.max_daily_effort_minutes,
			session_granularity_minutes = excluded.session_granularity_minutes,
			break_every_minutes = excluded.break_every_minutes,
			break_duration_minutes = excluded.break_duration_minutes,
			deep_work_windows = excluded.deep_work_windows,
			no_study_windows = excluded.no_study_windows,
			penalties = excluded.penalties,
			updated_ts = excluded.updated_ts
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
		return nil, errors.Wrap(err, "failed to upsert preferences")
	}

	return prefs, nil
}

func (d *DB) GetPreferences(ctx context.Context, find *store.FindPreferences) (*store.Preferences, error) {
	if find.UserID == nil {
		return nil, errors.New("user id required")
	}

	query := `SELECT ` + preferencesColumns + ` FROM preferences WHERE user_id = ?`
	prefs, err := scanPreferences(d.db.QueryRowContext(ctx, query, *find.UserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get preferences")
	}

	return prefs, nil
}
