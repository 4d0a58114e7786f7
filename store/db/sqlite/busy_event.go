package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

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
		return nil, err
	}
	return event, nil
}

func (d *DB) CreateBusyEvent(ctx context.Context, create *store.BusyEvent) (*store.BusyEvent, error) {
	stmt := `INSERT INTO busy_event (` + busyEventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.UserID, create.Source, create.StartTs, create.EndTs,
		create.Title, create.Hard, create.Movable, create.CreatedTs, create.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create busy_event")
	}

	return create, nil
}

func (d *DB) ListBusyEvents(ctx context.Context, find *store.FindBusyEvent) ([]*store.BusyEvent, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.Source != nil {
		where, args = append(where, "source = ?"), append(args, *find.Source)
	}
	// Half-open overlap: event overlaps [From, To) iff start < To && end > From.
	if find.To != nil {
		where, args = append(where, "start_ts < ?"), append(args, *find.To)
	}
	if find.From != nil {
		where, args = append(where, "end_ts > ?"), append(args, *find.From)
	}

	query := `SELECT ` + busyEventColumns + ` FROM busy_event WHERE ` + strings.Join(where, " AND ") + ` ORDER BY start_ts ASC, id ASC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list busy_events")
	}
	defer rows.Close()

	list := make([]*store.BusyEvent, 0)
	for rows.Next() {
		event, err := scanBusyEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan busy_event")
		}
		list = append(list, event)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateBusyEvent(ctx context.Context, update *store.UpdateBusyEvent) (*store.BusyEvent, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = ?"), append(args, *update.Title)
	}
	if update.StartTs != nil {
		set, args = append(set, "start_ts = ?"), append(args, *update.StartTs)
	}
	if update.EndTs != nil {
		set, args = append(set, "end_ts = ?"), append(args, *update.EndTs)
	}
	if update.Hard != nil {
		set, args = append(set, "hard = ?"), append(args, *update.Hard)
	}
	if update.Movable != nil {
		set, args = append(set, "movable = ?"), append(args, *update.Movable)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = ?"), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID, update.UserID)
	stmt := `UPDATE busy_event SET ` + strings.Join(set, ", ") + ` WHERE id = ? AND user_id = ? RETURNING ` + busyEventColumns
	event, err := scanBusyEvent(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("busy_event not found")
		}
		return nil, errors.Wrap(err, "failed to update busy_event")
	}

	return event, nil
}

func (d *DB) DeleteBusyEvent(ctx context.Context, delete *store.DeleteBusyEvent) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM busy_event WHERE id = ? AND user_id = ?`, delete.ID, delete.UserID)
	if err != nil {
		return errors.Wrap(err, "failed to delete busy_event")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.New("busy_event not found")
	}

	return nil
}
