package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

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
	stmt := `INSERT INTO schedule_block (user_id, job_id, task_id, start_ts, end_ts, utility_score, completion_probability, locked, manual, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`
	err := d.db.QueryRowContext(ctx, stmt,
		create.UserID, create.JobID, create.TaskID, create.StartTs, create.EndTs,
		create.UtilityScore, create.CompletionProbability, create.Locked, create.Manual,
		create.CreatedTs, create.UpdatedTs,
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create schedule_block")
	}

	return create, nil
}

func (d *DB) ListScheduleBlocks(ctx context.Context, find *store.FindScheduleBlock) ([]*store.ScheduleBlock, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.TaskID != nil {
		where, args = append(where, "task_id = ?"), append(args, *find.TaskID)
	}
	if find.JobID != nil {
		where, args = append(where, "job_id = ?"), append(args, *find.JobID)
	}
	// Half-open overlap: block overlaps [From, To) iff start < To && end > From.
	if find.To != nil {
		where, args = append(where, "start_ts < ?"), append(args, *find.To)
	}
	if find.From != nil {
		where, args = append(where, "end_ts > ?"), append(args, *find.From)
	}
	if find.Locked != nil {
		where, args = append(where, "locked = ?"), append(args, *find.Locked)
	}
	if find.Manual != nil {
		where, args = append(where, "manual = ?"), append(args, *find.Manual)
	}

	query := `SELECT ` + scheduleBlockColumns + ` FROM schedule_block WHERE ` + strings.Join(where, " AND ") + ` ORDER BY start_ts ASC, task_id ASC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schedule_blocks")
	}
	defer rows.Close()

	list := make([]*store.ScheduleBlock, 0)
	for rows.Next() {
		block, err := scanScheduleBlock(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule_block")
		}
		list = append(list, block)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateScheduleBlock(ctx context.Context, update *store.UpdateScheduleBlock) (*store.ScheduleBlock, error) {
	set, args := []string{}, []any{}

	if update.StartTs != nil {
		set, args = append(set, "start_ts = ?"), append(args, *update.StartTs)
	}
	if update.EndTs != nil {
		set, args = append(set, "end_ts = ?"), append(args, *update.EndTs)
	}
	if update.UtilityScore != nil {
		set, args = append(set, "utility_score = ?"), append(args, *update.UtilityScore)
	}
	if update.CompletionProbability != nil {
		set, args = append(set, "completion_probability = ?"), append(args, *update.CompletionProbability)
	}
	if update.Locked != nil {
		set, args = append(set, "locked = ?"), append(args, *update.Locked)
	}
	if update.Manual != nil {
		set, args = append(set, "manual = ?"), append(args, *update.Manual)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = ?"), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID, update.UserID)
	stmt := `UPDATE schedule_block SET ` + strings.Join(set, ", ") + ` WHERE id = ? AND user_id = ? RETURNING ` + scheduleBlockColumns
	block, err := scanScheduleBlock(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("schedule_block not found")
		}
		return nil, errors.Wrap(err, "failed to update schedule_block")
	}

	return block, nil
}

func (d *DB) DeleteScheduleBlocks(ctx context.Context, delete *store.DeleteScheduleBlock) error {
	where, args := []string{"user_id = ?"}, []any{delete.UserID}

	if delete.ID != nil {
		where, args = append(where, "id = ?"), append(args, *delete.ID)
	}
	if delete.TaskID != nil {
		where, args = append(where, "task_id = ?"), append(args, *delete.TaskID)
	}

	stmt := `DELETE FROM schedule_block WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete schedule_blocks")
	}

	return nil
}

// ReplaceScheduleBlocks swaps the plan over [From, To) in one transaction.
// Locked and manual blocks survive the delete.
func (d *DB) ReplaceScheduleBlocks(ctx context.Context, replace *store.ReplaceScheduleBlocks) ([]*store.ScheduleBlock, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	deleteStmt := `DELETE FROM schedule_block
		WHERE user_id = ? AND start_ts < ? AND end_ts > ? AND NOT locked AND NOT manual`
	if _, err := tx.ExecContext(ctx, deleteStmt, replace.UserID, replace.To, replace.From); err != nil {
		return nil, errors.Wrap(err, "failed to clear schedule_blocks")
	}

	insertStmt := `INSERT INTO schedule_block (user_id, job_id, task_id, start_ts, end_ts, utility_score, completion_probability, locked, manual, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
			return nil, errors.Wrap(err, "failed to insert schedule_block")
		}
		inserted = append(inserted, block)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit schedule_block replacement")
	}

	return inserted, nil
}
