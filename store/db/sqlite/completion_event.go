package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/pulseplan/pulse/store"
)

func (d *DB) CreateCompletionEvent(ctx context.Context, create *store.CompletionEvent) (*store.CompletionEvent, error) {
	if create.Metadata == "" {
		create.Metadata = "{}"
	}
	stmt := `INSERT INTO completion_event (user_id, task_id, scheduled_ts, completed_ts, metadata, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`
	err := d.db.QueryRowContext(ctx, stmt,
		create.UserID, create.TaskID, create.ScheduledTs, create.CompletedTs, create.Metadata, create.CreatedTs,
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create completion_event")
	}

	return create, nil
}

func (d *DB) ListCompletionEvents(ctx context.Context, find *store.FindCompletionEvent) ([]*store.CompletionEvent, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.TaskID != nil {
		where, args = append(where, "task_id = ?"), append(args, *find.TaskID)
	}
	if find.Since != nil {
		where, args = append(where, "scheduled_ts >= ?"), append(args, *find.Since)
	}

	query := `SELECT id, user_id, task_id, scheduled_ts, completed_ts, metadata, created_ts
		FROM completion_event
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY scheduled_ts DESC, id DESC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list completion_events")
	}
	defer rows.Close()

	list := make([]*store.CompletionEvent, 0)
	for rows.Next() {
		event := &store.CompletionEvent{}
		var completedTs sql.NullInt64
		if err := rows.Scan(&event.ID, &event.UserID, &event.TaskID, &event.ScheduledTs, &completedTs, &event.Metadata, &event.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan completion_event")
		}
		if completedTs.Valid {
			event.CompletedTs = &completedTs.Int64
		}
		list = append(list, event)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) DeleteCompletionEvents(ctx context.Context, delete *store.DeleteCompletionEvent) error {
	stmt := `DELETE FROM completion_event WHERE user_id = ? AND scheduled_ts < ?`
	if _, err := d.db.ExecContext(ctx, stmt, delete.UserID, delete.Before); err != nil {
		return errors.Wrap(err, "failed to delete completion_events")
	}

	return nil
}
