package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pulseplan/pulse/store"
)

const agentTaskColumns = `id, user_id, conversation_id, task_type, workflow_type, workflow_id, title, description, status, progress, steps, result, error_message, metadata, can_cancel, estimated_duration_seconds, started_ts, completed_ts, created_ts, updated_ts`

func marshalSteps(steps []store.AgentTaskStep) (string, error) {
	if steps == nil {
		steps = []store.AgentTaskStep{}
	}
	raw, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("failed to marshal agent_task steps: %w", err)
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
		return nil, fmt.Errorf("failed to unmarshal agent_task steps: %w", err)
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

	args := []any{
		create.ID, create.UserID, create.ConversationID, create.TaskType, create.WorkflowType,
		create.WorkflowID, create.Title, create.Description, create.Status, create.Progress,
		steps, create.Result, create.ErrorMessage, create.Metadata, create.CanCancel,
		create.EstimatedDurationSeconds, create.StartedTs, create.CompletedTs,
		create.CreatedTs, create.UpdatedTs,
	}
	stmt := `INSERT INTO agent_task (` + agentTaskColumns + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to create agent_task: %w", err)
	}

	return create, nil
}

func (d *DB) ListAgentTasks(ctx context.Context, find *store.FindAgentTask) ([]*store.AgentTask, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *find.Status)
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
		return nil, fmt.Errorf("failed to list agent_tasks: %w", err)
	}
	defer rows.Close()

	list := make([]*store.AgentTask, 0)
	for rows.Next() {
		task, err := scanAgentTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent_task: %w", err)
		}
		list = append(list, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent_tasks: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateAgentTask(ctx context.Context, update *store.UpdateAgentTask) (*store.AgentTask, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.Description != nil {
		set, args = append(set, "description = "+placeholder(len(args)+1)), append(args, *update.Description)
	}
	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *update.Status)
	}
	if update.Progress != nil {
		set, args = append(set, "progress = "+placeholder(len(args)+1)), append(args, *update.Progress)
	}
	if update.Steps != nil {
		raw, err := marshalSteps(*update.Steps)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "steps = "+placeholder(len(args)+1)), append(args, raw)
	}
	if update.Result != nil {
		set, args = append(set, "result = "+placeholder(len(args)+1)), append(args, *update.Result)
	}
	if update.ErrorMessage != nil {
		set, args = append(set, "error_message = "+placeholder(len(args)+1)), append(args, *update.ErrorMessage)
	}
	if update.Metadata != nil {
		set, args = append(set, "metadata = "+placeholder(len(args)+1)), append(args, *update.Metadata)
	}
	if update.CanCancel != nil {
		set, args = append(set, "can_cancel = "+placeholder(len(args)+1)), append(args, *update.CanCancel)
	}
	if update.StartedTs != nil {
		set, args = append(set, "started_ts = "+placeholder(len(args)+1)), append(args, *update.StartedTs)
	}
	if update.CompletedTs != nil {
		set, args = append(set, "completed_ts = "+placeholder(len(args)+1)), append(args, *update.CompletedTs)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE agent_task SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + ` RETURNING ` + agentTaskColumns
	task, err := scanAgentTask(d.db.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("agent_task not found")
		}
		return nil, fmt.Errorf("failed to update agent_task: %w", err)
	}

	return task, nil
}

func (d *DB) DeleteAgentTask(ctx context.Context, delete *store.DeleteAgentTask) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM agent_task WHERE id = `+placeholder(1), delete.ID)
	if err != nil {
		return fmt.Errorf("failed to delete agent_task: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("agent_task not found")
	}

	return nil
}
