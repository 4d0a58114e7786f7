package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/pulseplan/pulse/store"
)

func (d *DB) GetLLMCacheEntry(ctx context.Context, find *store.FindLLMCacheEntry) (*store.LLMCacheEntry, error) {
	entry := &store.LLMCacheEntry{}
	err := d.db.QueryRowContext(ctx,
		`SELECT cache_key, prompt_hash, response, model_name, expires_ts, created_ts FROM llm_cache WHERE cache_key = ?`,
		find.CacheKey,
	).Scan(&entry.CacheKey, &entry.PromptHash, &entry.Response, &entry.ModelName, &entry.ExpiresTs, &entry.CreatedTs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get llm_cache entry")
	}

	return entry, nil
}

func (d *DB) UpsertLLMCacheEntry(ctx context.Context, upsert *store.UpsertLLMCacheEntry) (*store.LLMCacheEntry, error) {
	entry := &store.LLMCacheEntry{}
	stmt := `
		INSERT INTO llm_cache (cache_key, prompt_hash, response, model_name, expires_ts, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			prompt_hash = excluded.prompt_hash,
			response = excluded.response,
			model_name = excluded.model_name,
			expires_ts = excluded.expires_ts
		RETURNING cache_key, prompt_hash, response, model_name, expires_ts, created_ts`
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.CacheKey, upsert.PromptHash, upsert.Response, upsert.ModelName, upsert.ExpiresTs, time.Now().Unix(),
	).Scan(&entry.CacheKey, &entry.PromptHash, &entry.Response, &entry.ModelName, &entry.ExpiresTs, &entry.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert llm_cache entry")
	}

	return entry, nil
}

func (d *DB) DeleteExpiredLLMCacheEntries(ctx context.Context, now int64) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM llm_cache WHERE expires_ts <= ?`, now)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired llm_cache entries")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

func (d *DB) GetUserContextCache(ctx context.Context, userID string) (*store.UserContextCache, error) {
	entry := &store.UserContextCache{}
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, context_data, preferences_hash, expires_ts, updated_ts FROM user_context_cache WHERE user_id = ?`,
		userID,
	).Scan(&entry.UserID, &entry.ContextData, &entry.PreferencesHash, &entry.ExpiresTs, &entry.UpdatedTs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get user_context_cache")
	}

	return entry, nil
}

func (d *DB) UpsertUserContextCache(ctx context.Context, upsert *store.UpsertUserContextCache) (*store.UserContextCache, error) {
	entry := &store.UserContextCache{}
	stmt := `
		INSERT INTO user_context_cache (user_id, context_data, preferences_hash, expires_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			context_data = excluded.context_data,
			preferences_hash = excluded.preferences_hash,
			expires_ts = excluded.expires_ts,
			updated_ts = excluded.updated_ts
		RETURNING user_id, context_data, preferences_hash, expires_ts, updated_ts`
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.UserID, upsert.ContextData, upsert.PreferencesHash, upsert.ExpiresTs, time.Now().Unix(),
	).Scan(&entry.UserID, &entry.ContextData, &entry.PreferencesHash, &entry.ExpiresTs, &entry.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert user_context_cache")
	}

	return entry, nil
}

func (d *DB) DeleteUserContextCache(ctx context.Context, userID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM user_context_cache WHERE user_id = ?`, userID); err != nil {
		return errors.Wrap(err, "failed to delete user_context_cache")
	}

	return nil
}
