package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/pulseplan/pulse/store"
)

func (d *DB) GetModelState(ctx context.Context, find *store.FindModelState) (*store.ModelState, error) {
	state := &store.ModelState{}
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, model_name, payload, version, updated_ts FROM model_state WHERE user_id = ? AND model_name = ?`,
		find.UserID, find.ModelName,
	).Scan(&state.UserID, &state.ModelName, &state.Payload, &state.Version, &state.UpdatedTs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get model_state")
	}

	return state, nil
}

func (d *DB) UpsertModelState(ctx context.Context, upsert *store.UpsertModelState) (*store.ModelState, error) {
	state := &store.ModelState{}
	stmt := `
		INSERT INTO model_state (user_id, model_name, payload, version, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, model_name) DO UPDATE SET
			payload = excluded.payload,
			version = model_state.version + 1,
			updated_ts = excluded.updated_ts
		RETURNING user_id, model_name, payload, version, updated_ts`
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.UserID, upsert.ModelName, upsert.Payload, 1, time.Now().Unix(),
	).Scan(&state.UserID, &state.ModelName, &state.Payload, &state.Version, &state.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert model_state")
	}

	return state, nil
}

func (d *DB) GetBanditState(ctx context.Context, find *store.FindBanditState) (*store.BanditState, error) {
	state := &store.BanditState{}
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, payload, total_pulls, updated_ts FROM bandit_state WHERE user_id = ?`,
		find.UserID,
	).Scan(&state.UserID, &state.Payload, &state.TotalPulls, &state.UpdatedTs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get bandit_state")
	}

	return state, nil
}

func (d *DB) UpsertBanditState(ctx context.Context, upsert *store.UpsertBanditState) (*store.BanditState, error) {
	state := &store.BanditState{}
	stmt := `
		INSERT INTO bandit_state (user_id, payload, total_pulls, updated_ts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			payload = excluded.payload,
			total_pulls = excluded.total_pulls,
			updated_ts = excluded.updated_ts
		RETURNING user_id, payload, total_pulls, updated_ts`
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.UserID, upsert.Payload, upsert.TotalPulls, time.Now().Unix(),
	).Scan(&state.UserID, &state.Payload, &state.TotalPulls, &state.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert bandit_state")
	}

	return state, nil
}
