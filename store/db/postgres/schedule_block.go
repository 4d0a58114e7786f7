package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pulseplan/pulse/store"
)

const scheduleBlockColumns = `id, user_id, job_id, task_id, start_ts, end_ts, utility_score, completion_probability, locked, manual, created_ts, updated_ts`

func scanScheduleBlock(row rowScanner) (*store.ScheduleBlock, error) {
	block := &store.ScheduleBlock{}
	var jobID sql.NullString

	if err := row.Scan(
		&block.ID,
		&block.UserID,
		&jobID,
		&block.TaskID,
		&block.StartTs,
		&block.EndTs,
		&block.UtilityScore,
		&block.CompletionProbability,
		&block.Locked,
		&block.Manual,
		&block.CreatedTs,
		&block.UpdatedTs,
	); err != nil {
		return nil, err
	}

	if jobID.Valid {
		block.JobID = &jobID.String
	}
	return block, nil
}

func (d *DB) CreateScheduleBlock(ctx context.Context, create *store.ScheduleBlock) (*store.ScheduleBlock, error) {
	args := []any{
		create.UserID, create.JobID, create.TaskID, create.StartTs, create.EndTs,
		create.UtilityScore, create.CompletionProbability, create.Locked, create.Manual,
		create.CreatedTs, create.UpdatedTs,
	}
	stmt := `INSERT INTO schedule_block (user_id, job_id, task_id, start_ts, end_ts, utility_score, completion_probability, locked, manual, created_ts, updated_ts)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create schedule_block: %w", err)
	}

	return create, nil
}

func (d *DB) ListScheduleBlocks(ctx context.Context, find *store.FindScheduleBlock) ([]*store.ScheduleBlock, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.TaskID != nil {
		where, args = append(where, "task_id = "+placeholder(len(args)+1)), append(args, *find.TaskID)
	}
	if find.JobID != nil {
		where, args = append(where, "job_id = "+placeholder(len(args)+1)), append(args, *find.JobID)
	}
	// Half-open overlap: block overlaps [From, To) iff start < To && end > From.
	if find.To != nil {
		where, args = append(where, "start_ts < "+placeholder(len(args)+1)), append(args, *find.To)
	}
	if find.From != nil {
		where, args = append(where, "end_ts > "+placeholder(len(args)+1)), append(args, *find.From)
	}
	if find.Locked != nil {
		where, args = append(where, "locked = "+placeholder(len(args)+1)), append(args, *find.Locked)
	}
	if find.Manual != nil {
		where, args = append(where, "manual = "+placeholder(len(args)+1)), append(args, *find.Manual)
	}

	query := `SELECT ` + scheduleBlockColumns + ` FROM schedule_block WHERE ` + strings.Join(where, " AND ") + ` ORDER BY start_ts ASC, task_id ASC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule_blocks: %w", err)
	}
	defer rows.Close()

	list := make([]*store.ScheduleBlock, 0)
	for rows.Next() {
		block, err := scanScheduleBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule_block: %w", err)
		}
		list = append(list, block)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedule_blocks: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateScheduleBlock(ctx context.Context, update *store.UpdateScheduleBlock) (*store.ScheduleBlock, error) {
	set, args := []string{}, []any{}

	if update.StartTs != nil {
		set, args = append(set, "start_ts = "+placeholder(len(args)+1)), append(args, *update.StartTs)
	}
	if update.EndTs != nil {
		set, args = append(set, "end_ts = "+placeholder(len(args)+1)), append(args, *update.EndTs)
	}
	if update.UtilityScore != nil {
		set, args = append(set, "utility_score = "+placeholder(len(args)+1)), append(args, *update.UtilityScore)
	}
	if update.CompletionProbability != nil {
		set, args = append(set, "completion_probability = "+placeholder(len(args)+1)), append(args, *update.CompletionProbability)
	}
	if update.Locked != nil {
		set, args = append(set, "locked = "+placeholder(len(args)+1)), append(args, *update.Locked)
	}
	if update.Manual != nil {
		set, args = append(set, "manual = "+placeholder(len(args)+1)), append(args, *update.Manual)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID, update.UserID)
	stmt := `UPDATE schedule_block SET ` + strings.Join(set, ", ") +
		` WHERE id = ` + placeholder(len(args)-1) + ` AND user_id = ` + placeholder(len(args)) +
		` RETURNING ` + scheduleBlockColumns
	block, err := scanScheduleBlock(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("schedule_block not found")
		}
		return nil, fmt.Errorf("failed to update schedule_block: %w", err)
	}

	return block, nil
}

func (d *DB) DeleteScheduleBlocks(ctx context.Context, delete *store.DeleteScheduleBlock) error {
	where, args := []string{"user_id = " + placeholder(1)}, []any{delete.UserID}

	if delete.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *delete.ID)
	}
	if delete.TaskID != nil {
		where, args = append(where, "task_id = "+placeholder(len(args)+1)), append(args, *delete.TaskID)
	}

	stmt := `DELETE FROM schedule_block WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to delete schedule_blocks: %w", err)
	}

	return nil
}

// ReplaceScheduleBlocks swaps the plan over [From, To) in one transaction.
// Locked and manual blocks survive the delete.
func (d *DB) ReplaceScheduleBlocks(ctx context.Context, replace *store.ReplaceScheduleBlocks) ([]*store.ScheduleBlock, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleteStmt := `DELETE FROM schedule_block
		WHERE user_id = $1 AND start_ts < $2 AND end_ts > $3 AND NOT locked AND NOT manual`
	if _, err := tx.ExecContext(ctx, deleteStmt, replace.UserID, replace.To, replace.From); err != nil {
		return nil, fmt.Errorf("failed to clear schedule_blocks: %w", err)
	}

	insertStmt := `INSERT INTO schedule_block (user_id, job_id, task_id, start_ts, end_ts, utility_score, completion_probability, locked, manual, created_ts, updated_ts)
		VALUES (` + placeholders(11) + `)
		RETURNING id`
	inserted := make([]*store.ScheduleBlock, 0, len(replace.Blocks))
	for _, block := range replace.Blocks {
		block.UserID = replace.UserID
		if replace.JobID != "" {
			jobID := replace.JobID
			block.JobID = &jobID
		}
		err := tx.QueryRowContext(ctx, insertStmt,
			block.UserID, block.JobID, block.TaskID, block.StartTs, block.EndTs,
			block.UtilityScore, block.CompletionProbability, block.Locked, block.Manual,
			block.CreatedTs, block.UpdatedTs,
		).Scan(&block.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert schedule_block: %w", err)
		}
		inserted = append(inserted, block)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit schedule_block replacement: %w", err)
	}

	return inserted, nil
}
