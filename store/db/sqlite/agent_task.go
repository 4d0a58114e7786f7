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

const agentTaskColumns = `id, user_id, conversation_id, task_type, workflow_type, workflow_id, title, description, status, progress, steps, result, error_message, metadata, can_cancel, estimated_duration_seconds, started_ts, completed_ts, created_ts, updated_ts`

func marshalSteps(steps []store.AgentTaskStep) (string, error) {
	if steps == nil {
		steps = []store.AgentTaskStep{}
	}
	raw, err := json.Marshal(steps)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal agent_task steps")
	}
	return string(raw), nil
}

func scanAgentTask(row rowScanner) (*store.AgentTask, error) {
	task := &store.AgentTask{}
	var conversationID, workflowID, result, errorMessage sql.NullString
	var startedTs, completedTs sql.NullInt64
	var steps string

	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&conversationID,
		&task.TaskType,
		&task.WorkflowType,
		&workflowID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.Progress,
		&steps,
		&result,
		&errorMessage,
		&task.Metadata,
		&task.CanCancel,
		&task.EstimatedDurationSeconds,
		&startedTs,
		&completedTs,
		&task.CreatedTs,
		&task.UpdatedTs,
	); err != nil {
		return nil, err
	}

	if conversationID.Valid {
		task.ConversationID = &conversationID.String
	}
	if workflowID.Valid {
		task.WorkflowID = &workflowID.String
	}
	if result.Valid {
		task.Result = &result.String
	}
	if errorMessage.Valid {
		task.ErrorMessage = &errorMessage.String
	}
	if startedTs.Valid {
		task.StartedTs = &startedTs.Int64
	}
	if completedTs.Valid {
		task.CompletedTs = &completedTs.Int64
	}
	if err := json.Unmarshal([]byte(steps), &task.Steps); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal agent_task steps")
	}

	return task, nil
}

func (d *DB) CreateAgentTask(ctx context.Context, create *store.AgentTask) (*store.AgentTask, error) {
	steps, err := marshalSteps(create.Steps)
	if err != nil {
		return nil, err
	}
	if create.Metadata == "" {
		create.Metadata = "{}"
	}

	stmt := `INSERT INTO agent_task (` + agentTaskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = d.db.ExecContext(ctx, stmt,
		create.ID, create.UserID, create.ConversationID, create.TaskType, create.WorkflowType,
		create.WorkflowID, create.Title, create.Description, create.Status, create.Progress,
		steps, create.Result, create.ErrorMessage, create.Metadata, create.CanCancel,
		create.EstimatedDurationSeconds, create.StartedTs, create.CompletedTs,
		create.CreatedTs, create.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create agent_task")
	}

	return create, nil
}

func (d *DB) ListAgentTasks(ctx context.Context, find *store.FindAgentTask) ([]*store.AgentTask, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = ?"), append(args, *find.ConversationID)
	}
	if find.Status != nil {
		where, args = append(where, "status = ?"), append(args, *find.Status)
	}

	query := `SELECT ` + agentTaskColumns + ` FROM agent_task WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC, id ASC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
		if find.Offset != nil {
			query += fmt.Sprintf(" OFFSET %d", *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list agent_tasks")
	}
	defer rows.Close()

	list := make([]*store.AgentTask, 0)
	for rows.Next() {
		task, err := scanAgentTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan agent_task")
		}
		list = append(list, task)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateAgentTask(ctx context.Context, update *store.UpdateAgentTask) (*store.AgentTask, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = ?"), append(args, *update.Title)
	}
	if update.Description != nil {
		set, args = append(set, "description = ?"), append(args, *update.Description)
	}
	if update.Status != nil {
		set, args = append(set, "status = ?"), append(args, *update.Status)
	}
	if update.Progress != nil {
		set, args = append(set, "progress = ?"), append(args, *update.Progress)
	}
	if update.Steps != nil {
		raw, err := marshalSteps(*update.Steps)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "steps = ?"), append(args, raw)
	}
	if update.Result != nil {
		set, args = append(set, "result = ?"), append(args, *update.Result)
	}
	if update.ErrorMessage != nil {
		set, args = append(set, "error_message = ?"), append(args, *update.ErrorMessage)
	}
	if update.Metadata != nil {
		set, args = append(set, "metadata = ?"), append(args, *update.Metadata)
	}
	if update.CanCancel != nil {
		set, args = append(set, "can_cancel = ?"), append(args, *update.CanCancel)
	}
	if update.StartedTs != nil {
		set, args = append(set, "started_ts = ?"), append(args, *update.StartedTs)
	}
	if update.CompletedTs != nil {
		set, args = append(set, "completed_ts = ?"), append(args, *update.CompletedTs)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = ?"), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE agent_task SET ` + strings.Join(set, ", ") + ` WHERE id = ? RETURNING ` + agentTaskColumns
	task, err := scanAgentTask(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("agent_task not found")
		}
		return nil, errors.Wrap(err, "failed to update agent_task")
	}

	return task, nil
}

func (d *DB) DeleteAgentTask(ctx context.Context, delete *store.DeleteAgentTask) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM agent_task WHERE id = ?`, delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete agent_task")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.New("agent_task not found")
	}

	return nil
}
