package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pulseplan/pulse/store"
)

func (d *DB) CreateCompletionEvent(ctx context.Context, create *store.CompletionEvent) (*store.CompletionEvent, error) {
	if create.Metadata == "" {
		create.Metadata = "{}"
	}
	args := []any{create.UserID, create.TaskID, create.ScheduledTs, create.CompletedTs, create.Metadata, create.CreatedTs}
	stmt := `INSERT INTO completion_event (user_id, task_id, scheduled_ts, completed_ts, metadata, created_ts)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create completion_event: %w", err)
	}

	return create, nil
}

func (d *DB) ListCompletionEvents(ctx context.Context, find *store.FindCompletionEvent) ([]*store.CompletionEvent, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.TaskID != nil {
		where, args = append(where, "task_id = "+placeholder(len(args)+1)), append(args, *find.TaskID)
	}
	if find.Since != nil {
		where, args = append(where, "scheduled_ts >= "+placeholder(len(args)+1)), append(args, *find.Since)
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
		return nil, fmt.Errorf("failed to list completion_events: %w", err)
	}
	defer rows.Close()

	list := make([]*store.CompletionEvent, 0)
	for rows.Next() {
		event := &store.CompletionEvent{}
		var completedTs sql.NullInt64
		if err := rows.Scan(&event.ID, &event.UserID, &event.TaskID, &event.ScheduledTs, &completedTs, &event.Metadata, &event.CreatedTs); err != nil {
			return nil, fmt.Errorf("failed to scan completion_event: %w", err)
		}
		if completedTs.Valid {
			event.CompletedTs = &completedTs.Int64
		}
		list = append(list, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate completion_events: %w", err)
	}

	return list, nil
}

func (d *DB) DeleteCompletionEvents(ctx context.Context, delete *store.DeleteCompletionEvent) error {
	stmt := `DELETE FROM completion_event WHERE user_id = ` + placeholder(1) + ` AND scheduled_ts < ` + placeholder(2)
	if _, err := d.db.ExecContext(ctx, stmt, delete.UserID, delete.Before); err != nil {
		return fmt.Errorf("failed to delete completion_events: %w", err)
	}

	return nil
}
