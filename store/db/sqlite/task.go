package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

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
		return "", errors.Wrap(err, "failed to marshal string list")
	}
	return string(raw), nil
}

func marshalWindowList(list []store.WeeklyWindow) (string, error) {
	if list == nil {
		list = []store.WeeklyWindow{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal window list")
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
		return nil, err
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
		return nil, errors.Wrap(err, "failed to unmarshal task prerequisites")
	}
	if err := json.Unmarshal([]byte(preferredWindows), &task.PreferredWindows); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal task preferred windows")
	}
	if err := json.Unmarshal([]byte(avoidWindows), &task.AvoidWindows); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal task avoid windows")
	}
	if err := json.Unmarshal([]byte(tags), &task.Tags); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal task tags")
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

	stmt := `INSERT INTO task (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = d.db.ExecContext(ctx, stmt,
		create.ID, create.UserID, create.Title, create.Kind,
		create.EstimatedMinutes, create.MinBlockMinutes, create.MaxBlockMinutes,
		create.Deadline, create.EarliestStart, create.Weight,
		prerequisites, preferredWindows, avoidWindows, tags,
		create.CourseID, create.Completed, create.CreatedTs, create.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create task")
	}

	return create, nil
}

func (d *DB) ListTasks(ctx context.Context, find *store.FindTask) ([]*store.Task, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.CourseID != nil {
		where, args = append(where, "course_id = ?"), append(args, *find.CourseID)
	}
	if find.Completed != nil {
		where, args = append(where, "completed = ?"), append(args, *find.Completed)
	}
	if find.DeadlineBefore != nil {
		where, args = append(where, "deadline IS NOT NULL AND deadline < ?"), append(args, *find.DeadlineBefore)
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
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	list := make([]*store.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		list = append(list, task)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateTask(ctx context.Context, update *store.UpdateTask) (*store.Task, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = ?"), append(args, *update.Title)
	}
	if update.Kind != nil {
		set, args = append(set, "kind = ?"), append(args, *update.Kind)
	}
	if update.EstimatedMinutes != nil {
		set, args = append(set, "estimated_minutes = ?"), append(args, *update.EstimatedMinutes)
	}
	if update.MinBlockMinutes != nil {
		set, args = append(set, "min_block_minutes = ?"), append(args, *update.MinBlockMinutes)
	}
	if update.MaxBlockMinutes != nil {
		set, args = append(set, "max_block_minutes = ?"), append(args, *update.MaxBlockMinutes)
	}
	if update.Deadline != nil {
		set, args = append(set, "deadline = ?"), append(args, *update.Deadline)
	}
	if update.EarliestStart != nil {
		set, args = append(set, "earliest_start = ?"), append(args, *update.EarliestStart)
	}
	if update.Weight != nil {
		set, args = append(set, "weight = ?"), append(args, *update.Weight)
	}
	if update.Prerequisites != nil {
		raw, err := marshalStringList(*update.Prerequisites)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "prerequisites = ?"), append(args, raw)
	}
	if update.PreferredWindows != nil {
		raw, err := marshalWindowList(*update.PreferredWindows)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "preferred_windows = ?"), append(args, raw)
	}
	if update.AvoidWindows != nil {
		raw, err := marshalWindowList(*update.AvoidWindows)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "avoid_windows = ?"), append(args, raw)
	}
	if update.Tags != nil {
		raw, err := marshalStringList(*update.Tags)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "tags = ?"), append(args, raw)
	}
	if update.CourseID != nil {
		set, args = append(set, "course_id = ?"), append(args, *update.CourseID)
	}
	if update.Completed != nil {
		set, args = append(set, "completed = ?"), append(args, *update.Completed)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = ?"), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID, update.UserID)
	stmt := `UPDATE task SET ` + strings.Join(set, ", ") + ` WHERE id = ? AND user_id = ? RETURNING ` + taskColumns
	task, err := scanTask(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("task not found")
		}
		return nil, errors.Wrap(err, "failed to update task")
	}

	return task, nil
}

func (d *DB) DeleteTask(ctx context.Context, delete *store.DeleteTask) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM task WHERE id = ? AND user_id = ?`, delete.ID, delete.UserID)
	if err != nil {
		return errors.Wrap(err, "failed to delete task")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.New("task not found")
	}

	return nil
}
