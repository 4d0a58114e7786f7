package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pulseplan/pulse/store"
)

const busyEventColumns = `id, user_id, source, start_ts, end_ts, title, hard, movable, created_ts, updated_ts`

func scanBusyEvent(row rowScanner) (*store.BusyEvent, error) {
	event := &store.BusyEvent{}
	if err := row.Scan(
		&event.ID,
		&event.UserID,
		&event.Source,
		&event.StartTs,
		&event.EndTs,
		&event.Title,
		&event.Hard,
		&event.Movable,
		&event.CreatedTs,
		&event.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to scan busy_event: %w", err)
	}
	return event, nil
}

func (d *DB) CreateBusyEvent(ctx context.Context, create *store.BusyEvent) (*store.BusyEvent, error) {
	args := []any{
		create.ID, create.UserID, create.Source, create.StartTs, create.EndTs,
		create.Title, create.Hard, create.Movable, create.CreatedTs, create.UpdatedTs,
	}
	stmt := `INSERT INTO busy_event (` + busyEventColumns + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to create busy_event: %w", err)
	}

	return create, nil
}

func (d *DB) ListBusyEvents(ctx context.Context, find *store.FindBusyEvent) ([]*store.BusyEvent, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Source != nil {
		where, args = append(where, "source = "+placeholder(len(args)+1)), append(args, *find.Source)
	}
	// Half-open overlap: event overlaps [From, To) iff start < To && end > From.
	if find.To != nil {
		where, args = append(where, "start_ts < "+placeholder(len(args)+1)), append(args, *find.To)
	}
	if find.From != nil {
		where, args = append(where, "end_ts > "+placeholder(len(args)+1)), append(args, *find.From)
	}

	query := `SELECT ` + busyEventColumns + ` FROM busy_event WHERE ` + strings.Join(where, " AND ") + ` ORDER BY start_ts ASC, id ASC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list busy_events: %w", err)
	}
	defer rows.Close()

	list := make([]*store.BusyEvent, 0)
	for rows.Next() {
		event, err := scanBusyEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate busy_events: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateBusyEvent(ctx context.Context, update *store.UpdateBusyEvent) (*store.BusyEvent, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.StartTs != nil {
		set, args = append(set, "start_ts = "+placeholder(len(args)+1)), append(args, *update.StartTs)
	}
	if update.EndTs != nil {
		set, args = append(set, "end_ts = "+placeholder(len(args)+1)), append(args, *update.EndTs)
	}
	if update.Hard != nil {
		set, args = append(set, "hard = "+placeholder(len(args)+1)), append(args, *update.Hard)
	}
	if update.Movable != nil {
		set, args = append(set, "movable = "+placeholder(len(args)+1)), append(args, *update.Movable)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID, update.UserID)
	stmt := `UPDATE busy_event SET ` + strings.Join(set, ", ") +
		` WHERE id = ` + placeholder(len(args)-1) + ` AND user_id = ` + placeholder(len(args)) +
		` RETURNING ` + busyEventColumns
	event, err := scanBusyEvent(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("busy_event not found")
		}
		return nil, fmt.Errorf("failed to update busy_event: %w", err)
	}

	return event, nil
}

func (d *DB) DeleteBusyEvent(ctx context.Context, delete *store.DeleteBusyEvent) error {
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM busy_event WHERE id = `+placeholder(1)+` AND user_id = `+placeholder(2),
		delete.ID, delete.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete busy_event: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("busy_event not found")
	}

	return nil
}
