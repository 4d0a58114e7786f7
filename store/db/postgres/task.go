package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pulseplan/pulse/store"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func marshalStringList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(raw), nil
}

func marshalWindowList(list []store.WeeklyWindow) (string, error) {
	if list == nil {
		list = []store.WeeklyWindow{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to marshal window list: %w", err)
	}
	return string(raw), nil
}

const taskColumns = `id, user_id, title, kind, estimated_minutes, min_block_minutes, max_block_minutes, deadline, earliest_start, weight, prerequisites, preferred_windows, avoid_windows, tags, course_id, completed, created_ts, updated_ts`

func scanTask(row rowScanner) (*store.Task, error) {
	task := &store.Task{}
	var deadline, earliestStart sql.NullInt64
	var courseID sql.NullString
	var prerequisites, preferredWindows, avoidWindows, tags string

	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Title,
		&task.Kind,
		&task.EstimatedMinutes,
		&task.MinBlockMinutes,
		&task.MaxBlockMinutes,
		&deadline,
		&earliestStart,
		&task.Weight,
		&prerequisites,
		&preferredWindows,
		&avoidWindows,
		&tags,
		&courseID,
		&task.Completed,
		&task.CreatedTs,
		&task.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	if deadline.Valid {
		task.Deadline = &deadline.Int64
	}
	if earliestStart.Valid {
		task.EarliestStart = &earliestStart.Int64
	}
	if courseID.Valid {
		task.CourseID = &courseID.String
	}
	if err := json.Unmarshal([]byte(prerequisites), &task.Prerequisites); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task prerequisites: %w", err)
	}
	if err := json.Unmarshal([]byte(preferredWindows), &task.PreferredWindows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task preferred windows: %w", err)
	}
	if err := json.Unmarshal([]byte(avoidWindows), &task.AvoidWindows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task avoid windows: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &task.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task tags: %w", err)
	}

	return task, nil
}

func (d *DB) CreateTask(ctx context.Context, create *store.Task) (*store.Task, error) {
	prerequisites, err := marshalStringList(create.Prerequisites)
	if err != nil {
		return nil, err
	}
	preferredWindows, err := marshalWindowList(create.PreferredWindows)
	if err != nil {
		return nil, err
	}
	avoidWindows, err := marshalWindowList(create.AvoidWindows)
	if err != nil {
		return nil, err
	}
	tags, err := marshalStringList(create.Tags)
	if err != nil {
		return nil, err
	}

	args := []any{
		create.ID, create.UserID, create.Title, create.Kind,
		create.EstimatedMinutes, create.MinBlockMinutes, create.MaxBlockMinutes,
		create.Deadline, create.EarliestStart, create.Weight,
		prerequisites, preferredWindows, avoidWindows, tags,
		create.CourseID, create.Completed, create.CreatedTs, create.UpdatedTs,
	}
	stmt := `INSERT INTO task (` + taskColumns + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	return create, nil
}

func (d *DB) ListTasks(ctx context.Context, find *store.FindTask) ([]*store.Task, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.CourseID != nil {
		where, args = append(where, "course_id = "+placeholder(len(args)+1)), append(args, *find.CourseID)
	}
	if find.Completed != nil {
		where, args = append(where, "completed = "+placeholder(len(args)+1)), append(args, *find.Completed)
	}
	if find.DeadlineBefore != nil {
		where, args = append(where, "deadline IS NOT NULL AND deadline < "+placeholder(len(args)+1)), append(args, *find.DeadlineBefore)
	}

	query := `SELECT ` + taskColumns + ` FROM task WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC, id ASC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
		if find.Offset != nil {
			query += fmt.Sprintf(" OFFSET %d", *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateTask(ctx context.Context, update *store.UpdateTask) (*store.Task, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.Kind != nil {
		set, args = append(set, "kind = "+placeholder(len(args)+1)), append(args, *update.Kind)
	}
	if update.EstimatedMinutes != nil {
		set, args = append(set, "estimated_minutes = "+placeholder(len(args)+1)), append(args, *update.EstimatedMinutes)
	}
	if update.MinBlockMinutes != nil {
		set, args = append(set, "min_block_minutes = "+placeholder(len(args)+1)), append(args, *update.MinBlockMinutes)
	}
	if update.MaxBlockMinutes != nil {
		set, args = append(set, "max_block_minutes = "+placeholder(len(args)+1)), append(args, *update.MaxBlockMinutes)
	}
	if update.Deadline != nil {
		set, args = append(set, "deadline = "+placeholder(len(args)+1)), append(args, *update.Deadline)
	}
	if update.EarliestStart != nil {
		set, args = append(set, "earliest_start = "+placeholder(len(args)+1)), append(args, *update.EarliestStart)
	}
	if update.Weight != nil {
		set, args = append(set, "weight = "+placeholder(len(args)+1)), append(args, *update.Weight)
	}
	if update.Prerequisites != nil {
		raw, err := marshalStringList(*update.Prerequisites)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "prerequisites = "+placeholder(len(args)+1)), append(args, raw)
	}
	if update.PreferredWindows != nil {
		raw, err := marshalWindowList(*update.PreferredWindows)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "preferred_windows = "+placeholder(len(args)+1)), append(args, raw)
	}
	if update.AvoidWindows != nil {
		raw, err := marshalWindowList(*update.AvoidWindows)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "avoid_windows = "+placeholder(len(args)+1)), append(args, raw)
	}
	if update.Tags != nil {
		raw, err := marshalStringList(*update.Tags)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "tags = "+placeholder(len(args)+1)), append(args, raw)
	}
	if update.CourseID != nil {
		set, args = append(set, "course_id = "+placeholder(len(args)+1)), append(args, *update.CourseID)
	}
	if update.Completed != nil {
		set, args = append(set, "completed = "+placeholder(len(args)+1)), append(args, *update.Completed)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID, update.UserID)
	stmt := `UPDATE task SET ` + strings.Join(set, ", ") +
		` WHERE id = ` + placeholder(len(args)-1) + ` AND user_id = ` + placeholder(len(args)) +
		` RETURNING ` + taskColumns
	task, err := scanTask(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task not found")
		}
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	return task, nil
}

func (d *DB) DeleteTask(ctx context.Context, delete *store.DeleteTask) error {
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM task WHERE id = `+placeholder(1)+` AND user_id = `+placeholder(2),
		delete.ID, delete.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found")
	}

	return nil
}
