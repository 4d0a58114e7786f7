package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pulseplan/pulse/store"
)

func (d *DB) GetLLMCacheEntry(ctx context.Context, find *store.FindLLMCacheEntry) (*store.LLMCacheEntry, error) {
	entry := &store.LLMCacheEntry{}
	err := d.db.QueryRowContext(ctx,
		`SELECT cache_key, prompt_hash, response, model_name, expires_ts, created_ts FROM llm_cache WHERE cache_key = `+placeholder(1),
		find.CacheKey,
	).Scan(&entry.CacheKey, &entry.PromptHash, &entry.Response, &entry.ModelName, &entry.ExpiresTs, &entry.CreatedTs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get llm_cache entry: %w", err)
	}

	return entry, nil
}

func (d *DB) UpsertLLMCacheEntry(ctx context.Context, upsert *store.UpsertLLMCacheEntry) (*store.LLMCacheEntry, error) {
	entry := &store.LLMCacheEntry{}
	stmt := `
		INSERT INTO llm_cache (cache_key, prompt_hash, response, model_name, expires_ts, created_ts)
		VALUES (` + placeholders(6) + `)
		ON CONFLICT (cache_key) DO UPDATE SET
			prompt_hash = EXCLUDED.prompt_hash,
			response = EXCLUDED.response,
			model_name = EXCLUDED.model_name,
			expires_ts = EXCLUDED.expires_ts
		RETURNING cache_key, prompt_hash, response, model_name, expires_ts, created_ts`
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.CacheKey, upsert.PromptHash, upsert.Response, upsert.ModelName, upsert.ExpiresTs, time.Now().Unix(),
	).Scan(&entry.CacheKey, &entry.PromptHash, &entry.Response, &entry.ModelName, &entry.ExpiresTs, &entry.CreatedTs)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert llm_cache entry: %w", err)
	}

	return entry, nil
}

func (d *DB) DeleteExpiredLLMCacheEntries(ctx context.Context, now int64) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM llm_cache WHERE expires_ts <= `+placeholder(1), now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired llm_cache entries: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

func (d *DB) GetUserContextCache(ctx context.Context, userID string) (*store.UserContextCache, error) {
	entry := &store.UserContextCache{}
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, context_data, preferences_hash, expires_ts, updated_ts FROM user_context_cache WHERE user_id = `+placeholder(1),
		userID,
	).Scan(&entry.UserID, &entry.ContextData, &entry.PreferencesHash, &entry.ExpiresTs, &entry.UpdatedTs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user_context_cache: %w", err)
	}

	return entry, nil
}

func (d *DB) UpsertUserContextCache(ctx context.Context, upsert *store.UpsertUserContextCache) (*store.UserContextCache, error) {
	entry := &store.UserContextCache{}
	stmt := `
		INSERT INTO user_context_cache (user_id, context_data, preferences_hash, expires_ts, updated_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (user_id) DO UPDATE SET
			context_data = EXCLUDED.context_data,
			preferences_hash = EXCLUDED.preferences_hash,
			expires_ts = EXCLUDED.expires_ts,
			updated_ts = EXCLUDED.updated_ts
		RETURNING user_id, context_data, preferences_hash, expires_ts, updated_ts`
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.UserID, upsert.ContextData, upsert.PreferencesHash, upsert.ExpiresTs, time.Now().Unix(),
	).Scan(&entry.UserID, &entry.ContextData, &entry.PreferencesHash, &entry.ExpiresTs, &entry.UpdatedTs)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user_context_cache: %w", err)
	}

	return entry, nil
}

func (d *DB) DeleteUserContextCache(ctx context.Context, userID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM user_context_cache WHERE user_id = `+placeholder(1), userID); err != nil {
		return fmt.Errorf("failed to delete user_context_cache: %w", err)
	}

	return nil
}
