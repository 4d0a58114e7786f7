package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS task (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'study',
	estimated_minutes INTEGER NOT NULL,
	min_block_minutes INTEGER NOT NULL DEFAULT 30,
	max_block_minutes INTEGER NOT NULL DEFAULT 120,
	deadline BIGINT,
	earliest_start BIGINT,
	weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	prerequisites TEXT NOT NULL DEFAULT '[]',
	preferred_windows TEXT NOT NULL DEFAULT '[]',
	avoid_windows TEXT NOT NULL DEFAULT '[]',
	tags TEXT NOT NULL DEFAULT '[]',
	course_id TEXT,
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_user_id ON task (user_id);
CREATE INDEX IF NOT EXISTS idx_task_user_deadline ON task (user_id, deadline);

CREATE TABLE IF NOT EXISTS busy_event (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT 'manual',
	start_ts BIGINT NOT NULL,
	end_ts BIGINT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	hard BOOLEAN NOT NULL DEFAULT TRUE,
	movable BOOLEAN NOT NULL DEFAULT FALSE,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_busy_event_user_start ON busy_event (user_id, start_ts);

CREATE TABLE IF NOT EXISTS preferences (
	user_id TEXT PRIMARY KEY,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	workday_start INTEGER NOT NULL DEFAULT 540,
	workday_end INTEGER NOT NULL DEFAULT 1020,
	max_daily_effort_minutes INTEGER NOT NULL DEFAULT 480,
	session_granularity_minutes INTEGER NOT NULL DEFAULT 30,
	break_every_minutes INTEGER NOT NULL DEFAULT 120,
	break_duration_minutes INTEGER NOT NULL DEFAULT 15,
	deep_work_windows TEXT NOT NULL DEFAULT '[]',
	no_study_windows TEXT NOT NULL DEFAULT '[]',
	penalties TEXT NOT NULL DEFAULT '{}',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS schedule_block (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	job_id TEXT,
	task_id TEXT NOT NULL,
	start_ts BIGINT NOT NULL,
	end_ts BIGINT NOT NULL,
	utility_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	completion_probability DOUBLE PRECISION NOT NULL DEFAULT 0,
	locked BOOLEAN NOT NULL DEFAULT FALSE,
	manual BOOLEAN NOT NULL DEFAULT FALSE,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_schedule_block_user_start ON schedule_block (user_id, start_ts);
CREATE INDEX IF NOT EXISTS idx_schedule_block_task ON schedule_block (task_id);

CREATE TABLE IF NOT EXISTS completion_event (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	scheduled_ts BIGINT NOT NULL,
	completed_ts BIGINT,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_completion_event_user_scheduled ON completion_event (user_id, scheduled_ts);

CREATE TABLE IF NOT EXISTS conversation (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	title_source TEXT NOT NULL DEFAULT 'default',
	context TEXT NOT NULL DEFAULT '{}',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	last_message_ts BIGINT NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversation_user_id ON conversation (user_id);

CREATE TABLE IF NOT EXISTS chat_turn (
	id BIGSERIAL PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	ts BIGINT NOT NULL,
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_turn_conversation ON chat_turn (conversation_id, id);

CREATE TABLE IF NOT EXISTS agent_task (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	conversation_id TEXT,
	task_type TEXT NOT NULL DEFAULT '',
	workflow_type TEXT NOT NULL DEFAULT '',
	workflow_id TEXT,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	progress INTEGER NOT NULL DEFAULT 0,
	steps TEXT NOT NULL DEFAULT '[]',
	result TEXT,
	error_message TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	can_cancel BOOLEAN NOT NULL DEFAULT TRUE,
	estimated_duration_seconds INTEGER NOT NULL DEFAULT 0,
	started_ts BIGINT,
	completed_ts BIGINT,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agent_task_user_status ON agent_task (user_id, status);

CREATE TABLE IF NOT EXISTS llm_cache (
	cache_key TEXT PRIMARY KEY,
	prompt_hash TEXT NOT NULL,
	response TEXT NOT NULL,
	model_name TEXT NOT NULL,
	expires_ts BIGINT NOT NULL,
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_llm_cache_expires ON llm_cache (expires_ts);

CREATE TABLE IF NOT EXISTS user_context_cache (
	user_id TEXT PRIMARY KEY,
	context_data TEXT NOT NULL DEFAULT '{}',
	preferences_hash TEXT NOT NULL DEFAULT '',
	expires_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS model_state (
	user_id TEXT NOT NULL,
	model_name TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	version INTEGER NOT NULL DEFAULT 0,
	updated_ts BIGINT NOT NULL,
	PRIMARY KEY (user_id, model_name)
);

CREATE TABLE IF NOT EXISTS bandit_state (
	user_id TEXT PRIMARY KEY,
	payload TEXT NOT NULL DEFAULT '{}',
	total_pulls BIGINT NOT NULL DEFAULT 0,
	updated_ts BIGINT NOT NULL
);
`

// Migrate creates missing tables and indexes. Safe to run on every start.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
