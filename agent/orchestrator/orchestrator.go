// Package orchestrator is the agent's top level: it runs one user message
// through conversation history, intent processing, task cards, and action
// execution, and always comes back with a ConversationResponse.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pulseplan/pulse/agent/conversation"
	"github.com/pulseplan/pulse/agent/intent"
	"github.com/pulseplan/pulse/agent/notify"
	"github.com/pulseplan/pulse/agent/taskcard"
	"github.com/pulseplan/pulse/internal/telemetry"
	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/llm"
	"github.com/pulseplan/pulse/scheduler"
	"github.com/pulseplan/pulse/scheduler/service"
	"github.com/pulseplan/pulse/store"
)

const (
	historyLimit                = 20
	clarificationTimeoutSeconds = 300

	defaultTaskMinutes  = 60
	defaultEventMinutes = 60
)

// Rescheduler is the slice of the scheduling service the agent drives.
type Rescheduler interface {
	RescheduleMissed(ctx context.Context, userID string, horizonDays int) (*service.ScheduleResponse, error)
}

// ConversationResponse is what every agent endpoint returns, success or not.
type ConversationResponse struct {
	ConversationID        string         `json:"conversation_id"`
	Message               string         `json:"message"`
	Action                string         `json:"action"`
	TaskCardID            string         `json:"task_card_id,omitempty"`
	RequiresFollowUp      bool           `json:"requires_follow_up"`
	ClarificationQuestion string         `json:"clarification_question,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// Orchestrator wires the agent subsystems together.
type Orchestrator struct {
	store         *store.Store
	conversations *conversation.Manager
	processor     *intent.Processor
	cards         *taskcard.Manager
	notifier      *notify.Notifier
	chat          llm.Service
	scheduler     Rescheduler
	tel           *telemetry.Telemetry
	now           func() time.Time
}

func New(st *store.Store, conversations *conversation.Manager, processor *intent.Processor,
	cards *taskcard.Manager, notifier *notify.Notifier, chat llm.Service,
	sched Rescheduler, tel *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		store:         st,
		conversations: conversations,
		processor:     processor,
		cards:         cards,
		notifier:      notifier,
		chat:          chat,
		scheduler:     sched,
		tel:           tel,
		now:           time.Now,
	}
}

// HandleMessage runs one user turn end to end.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, conversationID, text string) (*ConversationResponse, error) {
	if userID == "" {
		return nil, scheduler.NewError(scheduler.KindValidation, "userId is required", nil)
	}

	conv, err := o.conversations.Ensure(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation: %w", err)
	}

	history, err := o.conversations.History(ctx, conv, historyLimit, true)
	if err != nil {
		slog.Warn("history unavailable for turn", "conversation", conv.ID, "err", err)
	}
	if err := o.conversations.AppendTurn(ctx, conv, store.ChatRoleUser, text, ""); err != nil {
		slog.Warn("failed to persist user turn", "conversation", conv.ID, "err", err)
	}

	res, err := o.processor.ProcessUserQuery(ctx, userID, conv.ID, text, history)
	if err != nil {
		slog.Error("intent processing failed", "conversation", conv.ID, "err", err)
		return o.apologize(ctx, conv, "generate_response"), nil
	}

	if res.CanSwitchWorkflow {
		payload := map[string]any{
			"conversation_id": conv.ID,
			"to_workflow":     res.WorkflowType,
			"message":         fmt.Sprintf("Switching to %s.", res.WorkflowType),
			"context":         map[string]any{"action": string(res.Action)},
		}
		if from, ok := res.WorkflowParams["from_workflow"]; ok {
			payload["from_workflow"] = from
		}
		o.notifier.EmitToUser(userID, notify.EventWorkflowSwitch, payload)
	}

	if res.RequiresClarification {
		o.notifier.EmitToUser(userID, notify.EventClarificationRequest, map[string]any{
			"conversation_id":  conv.ID,
			"clarification_id": res.ClarificationID,
			"question":         res.ClarificationQuestion,
			"context":          map[string]any{"action": string(res.Action)},
			"timeout_seconds":  clarificationTimeoutSeconds,
		})
		o.appendAssistant(ctx, conv, res.ClarificationQuestion)
		return &ConversationResponse{
			ConversationID:        conv.ID,
			Message:               res.ClarificationQuestion,
			Action:                string(res.Action),
			RequiresFollowUp:      true,
			ClarificationQuestion: res.ClarificationQuestion,
		}, nil
	}

	if res.ImmediateResponse != "" {
		o.notifier.EmitToUser(userID, notify.EventImmediateResponse, map[string]any{
			"conversation_id":        conv.ID,
			"message":                res.ImmediateResponse,
			"action":                 string(res.Action),
			"status":                 "processing",
			"requires_clarification": false,
			"can_switch":             res.CanSwitchWorkflow,
			"suggested_workflows":    res.SuggestedWorkflows,
		})
		o.appendAssistant(ctx, conv, res.ImmediateResponse)
		return &ConversationResponse{
			ConversationID: conv.ID,
			Message:        res.ImmediateResponse,
			Action:         string(res.Action),
		}, nil
	}

	var card *store.AgentTask
	if res.RequiresTaskCard {
		card, err = o.cards.CreateWorkflowTask(ctx, taskcard.CreateParams{
			UserID:         userID,
			ConversationID: conv.ID,
			TaskType:       "workflow",
			WorkflowType:   res.WorkflowType,
			Title:          cardTitle(res.Action),
			Steps:          cardSteps(res.Action),
			CanCancel:      true,
		})
		if err != nil {
			slog.Warn("failed to create task card, continuing without one", "err", err)
			card = nil
		}
	}

	message, err := o.execute(ctx, userID, conv, res, text)
	if err != nil && isRecoverable(err) {
		slog.Warn("retrying recoverable agent action", "action", res.Action, "err", err)
		message, err = o.execute(ctx, userID, conv, res, text)
	}
	if err != nil {
		slog.Error("agent action failed", "action", res.Action, "err", err)
		if card != nil {
			if ferr := o.cards.FailTask(ctx, card.ID, userFacingError(res.Action)); ferr != nil {
				slog.Warn("failed to fail task card", "card", card.ID, "err", ferr)
			}
		}
		return o.apologize(ctx, conv, string(res.Action)), nil
	}

	if card != nil {
		if cerr := o.cards.CompleteTask(ctx, card.ID, message); cerr != nil {
			slog.Warn("failed to complete task card", "card", card.ID, "err", cerr)
		}
	}
	o.appendAssistant(ctx, conv, message)

	resp := &ConversationResponse{
		ConversationID: conv.ID,
		Message:        message,
		Action:         string(res.Action),
	}
	if card != nil {
		resp.TaskCardID = card.ID
	}
	return resp, nil
}

// execute performs the classified action and returns the user-facing reply.
func (o *Orchestrator) execute(ctx context.Context, userID string, conv *store.Conversation, res *intent.Result, text string) (string, error) {
	switch res.Action {
	case intent.ActionCreateTask:
		return o.createTask(ctx, userID, conv, res)
	case intent.ActionUpdateTask:
		return o.updateTask(ctx, userID, conv, res, text)
	case intent.ActionDeleteTask:
		return o.deleteTask(ctx, userID, conv, res)
	case intent.ActionCompleteTask:
		return o.completeTask(ctx, userID, conv, res)
	case intent.ActionListTasks:
		return o.listTasks(ctx, userID)
	case intent.ActionBlockTime, intent.ActionScheduleEvent:
		return o.blockTime(ctx, userID, conv, res, text)
	case intent.ActionRescheduleDay:
		return o.rescheduleDay(ctx, userID)
	case intent.ActionDailyBriefing:
		return o.dailyBriefing(ctx, userID)
	case intent.ActionWeeklySummary:
		return o.weeklySummary(ctx, userID)
	case intent.ActionWebSearch:
		return fmt.Sprintf("Web search isn't connected yet, so I can't look up %q for you. I can help with tasks and scheduling in the meantime.",
			res.Entities["search_query"].Value), nil
	case intent.ActionSendEmail, intent.ActionReadEmails:
		return "Email isn't connected to your account yet. You can link it from settings.", nil
	case intent.ActionSyncCanvas:
		return "Canvas isn't connected to your account yet. You can link it from settings.", nil
	default:
		return o.generateReply(ctx, text), nil
	}
}

func (o *Orchestrator) createTask(ctx context.Context, userID string, conv *store.Conversation, res *intent.Result) (string, error) {
	info := res.TaskInfo
	if info == nil || strings.TrimSpace(info.TaskTitle) == "" {
		return "", scheduler.NewError(scheduler.KindDialog, "create_task reached execution without a title", nil)
	}
	now := o.now().Unix()
	task := &store.Task{
		ID:               "task_" + util.GenShortUUID(),
		UserID:           userID,
		Title:            info.TaskTitle,
		Kind:             store.TaskKindAssignment,
		EstimatedMinutes: defaultTaskMinutes,
		MinBlockMinutes:  30,
		MaxBlockMinutes:  120,
		Weight:           1,
		CreatedTs:        now,
		UpdatedTs:        now,
	}
	if info.EstimatedMinutes != nil {
		task.EstimatedMinutes = *info.EstimatedMinutes
	}
	if info.DueTs != nil {
		task.Deadline = info.DueTs
	}
	if info.Priority != nil {
		task.Weight = float64(*info.Priority)
	}

	created, err := o.store.CreateTask(ctx, task)
	if err != nil {
		o.cards.EmitCRUDFailure(userID, conv.ID, taskcard.CRUDCard{
			Operation:   "created",
			EntityType:  "task",
			EntityTitle: task.Title,
			Details:     "the task could not be saved",
		})
		return "", agentError("failed to create task", err)
	}

	msg := fmt.Sprintf("Created the task %q.", created.Title)
	if created.Deadline != nil {
		msg = fmt.Sprintf("Created the task %q, due %s.", created.Title,
			time.Unix(*created.Deadline, 0).UTC().Format("Mon Jan 2 at 15:04"))
	}
	o.cards.EmitCRUDSuccess(userID, conv.ID, taskcard.CRUDCard{
		Operation:              "created",
		EntityType:             "task",
		EntityTitle:            created.Title,
		EntityID:               created.ID,
		AcknowledgementMessage: msg,
	})
	return msg, nil
}

func (o *Orchestrator) updateTask(ctx context.Context, userID string, conv *store.Conversation, res *intent.Result, text string) (string, error) {
	task, err := o.findTaskByTitle(ctx, userID, res.Entities["task_title"].Value)
	if err != nil {
		return "", err
	}
	if task == nil {
		return fmt.Sprintf("I couldn't find an open task matching %q.", res.Entities["task_title"].Value), nil
	}

	update := &store.UpdateTask{
		ID:        task.ID,
		UserID:    userID,
		UpdatedTs: util.PointerOf(o.now().Unix()),
	}
	changed := false
	if due, ok := intent.ParseDuePhrase(text, o.now(), time.UTC); ok {
		update.Deadline = util.PointerOf(due.Unix())
		changed = true
	}
	if mins, ok := intent.ParseDurationPhrase(text); ok {
		update.EstimatedMinutes = util.PointerOf(mins)
		changed = true
	}
	if !changed {
		return fmt.Sprintf("What should I change about %q? You can give me a new due date or time estimate.", task.Title), nil
	}
	if _, err := o.store.UpdateTask(ctx, update); err != nil {
		return "", agentError("failed to update task", err)
	}
	msg := fmt.Sprintf("Updated %q.", task.Title)
	o.cards.EmitCRUDSuccess(userID, conv.ID, taskcard.CRUDCard{
		Operation: "updated", EntityType: "task", EntityTitle: task.Title,
		EntityID: task.ID, AcknowledgementMessage: msg,
	})
	return msg, nil
}

func (o *Orchestrator) deleteTask(ctx context.Context, userID string, conv *store.Conversation, res *intent.Result) (string, error) {
	task, err := o.findTaskByTitle(ctx, userID, res.Entities["task_title"].Value)
	if err != nil {
		return "", err
	}
	if task == nil {
		return fmt.Sprintf("I couldn't find an open task matching %q.", res.Entities["task_title"].Value), nil
	}
	if err := o.store.DeleteTask(ctx, &store.DeleteTask{ID: task.ID, UserID: userID}); err != nil {
		return "", agentError("failed to delete task", err)
	}
	msg := fmt.Sprintf("Deleted the task %q.", task.Title)
	o.cards.EmitCRUDSuccess(userID, conv.ID, taskcard.CRUDCard{
		Operation: "deleted", EntityType: "task", EntityTitle: task.Title,
		EntityID: task.ID, AcknowledgementMessage: msg,
	})
	return msg, nil
}

func (o *Orchestrator) completeTask(ctx context.Context, userID string, conv *store.Conversation, res *intent.Result) (string, error) {
	task, err := o.findTaskByTitle(ctx, userID, res.Entities["task_title"].Value)
	if err != nil {
		return "", err
	}
	if task == nil {
		return fmt.Sprintf("I couldn't find an open task matching %q.", res.Entities["task_title"].Value), nil
	}
	if _, err := o.store.UpdateTask(ctx, &store.UpdateTask{
		ID:        task.ID,
		UserID:    userID,
		Completed: util.PointerOf(true),
		UpdatedTs: util.PointerOf(o.now().Unix()),
	}); err != nil {
		return "", agentError("failed to complete task", err)
	}
	msg := fmt.Sprintf("Nice work! Marked %q as done.", task.Title)
	o.cards.EmitCRUDSuccess(userID, conv.ID, taskcard.CRUDCard{
		Operation: "updated", EntityType: "task", EntityTitle: task.Title,
		EntityID: task.ID, AcknowledgementMessage: msg,
	})
	return msg, nil
}

func (o *Orchestrator) listTasks(ctx context.Context, userID string) (string, error) {
	tasks, err := o.store.ListTasks(ctx, &store.FindTask{
		UserID:    &userID,
		Completed: util.PointerOf(false),
	})
	if err != nil {
		return "", agentError("failed to list tasks", err)
	}
	if len(tasks) == 0 {
		return "You have no open tasks. Enjoy the free time!", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d open task(s):\n", len(tasks))
	for i, t := range tasks {
		if i == 10 {
			fmt.Fprintf(&b, "…and %d more.", len(tasks)-10)
			break
		}
		if t.Deadline != nil {
			fmt.Fprintf(&b, "- %s (due %s)\n", t.Title, time.Unix(*t.Deadline, 0).UTC().Format("Mon Jan 2"))
		} else {
			fmt.Fprintf(&b, "- %s\n", t.Title)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (o *Orchestrator) blockTime(ctx context.Context, userID string, conv *store.Conversation, res *intent.Result, text string) (string, error) {
	start := o.now().Truncate(time.Hour).Add(time.Hour)
	if ts, ok := intent.ParseDuePhrase(text, o.now(), time.UTC); ok {
		start = ts
	}
	minutes := defaultEventMinutes
	if mins, ok := intent.ParseDurationPhrase(text); ok {
		minutes = mins
	}
	title := strings.TrimSpace(res.Entities["event_title"].Value)
	if title == "" {
		title = "Blocked time"
	}

	now := o.now().Unix()
	event, err := o.store.CreateBusyEvent(ctx, &store.BusyEvent{
		ID:        "evt_" + util.GenShortUUID(),
		UserID:    userID,
		Source:    store.EventSourceManual,
		StartTs:   start.Unix(),
		EndTs:     start.Add(time.Duration(minutes) * time.Minute).Unix(),
		Title:     title,
		Hard:      true,
		CreatedTs: now,
		UpdatedTs: now,
	})
	if err != nil {
		o.cards.EmitCRUDFailure(userID, conv.ID, taskcard.CRUDCard{
			Operation: "created", EntityType: "event", EntityTitle: title,
			Details: "the event could not be saved",
		})
		return "", agentError("failed to create busy event", err)
	}
	msg := fmt.Sprintf("Blocked %d minutes for %q starting %s.", minutes, event.Title,
		start.UTC().Format("Mon Jan 2 at 15:04"))
	o.cards.EmitCRUDSuccess(userID, conv.ID, taskcard.CRUDCard{
		Operation: "created", EntityType: "event", EntityTitle: event.Title,
		EntityID: event.ID, AcknowledgementMessage: msg,
	})
	return msg, nil
}

func (o *Orchestrator) rescheduleDay(ctx context.Context, userID string) (string, error) {
	if o.scheduler == nil {
		return "Scheduling isn't available right now.", nil
	}
	resp, err := o.scheduler.RescheduleMissed(ctx, userID, 1)
	if err != nil {
		return "", agentError("failed to reschedule the day", err)
	}
	if !resp.Feasible {
		return "I tried to replan your day but couldn't fit everything. You may need to drop or shrink something.", nil
	}
	return fmt.Sprintf("Replanned your day: %d block(s) on the schedule.", len(resp.Blocks)), nil
}

func (o *Orchestrator) dailyBriefing(ctx context.Context, userID string) (string, error) {
	now := o.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	due, err := o.store.ListTasks(ctx, &store.FindTask{
		UserID:         &userID,
		Completed:      util.PointerOf(false),
		DeadlineBefore: util.PointerOf(dayEnd.Unix()),
	})
	if err != nil {
		return "", agentError("failed to load today's tasks", err)
	}
	blocks, err := o.store.ListScheduleBlocks(ctx, &store.FindScheduleBlock{
		UserID: &userID,
		From:   util.PointerOf(dayStart.Unix()),
		To:     util.PointerOf(dayEnd.Unix()),
	})
	if err != nil {
		return "", agentError("failed to load today's schedule", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Today you have %d scheduled block(s)", len(blocks))
	if len(due) > 0 {
		fmt.Fprintf(&b, " and %d task(s) due by end of day:\n", len(due))
		for i, t := range due {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", t.Title)
		}
	} else {
		b.WriteString(" and nothing due today.")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (o *Orchestrator) weeklySummary(ctx context.Context, userID string) (string, error) {
	weekAgo := o.now().AddDate(0, 0, -7).Unix()
	events, err := o.store.ListCompletionEvents(ctx, &store.FindCompletionEvent{
		UserID: &userID,
		Since:  &weekAgo,
	})
	if err != nil {
		return "", agentError("failed to load the week's activity", err)
	}
	completed := 0
	for _, e := range events {
		if e.CompletedTs != nil {
			completed++
		}
	}
	open, err := o.store.ListTasks(ctx, &store.FindTask{
		UserID:    &userID,
		Completed: util.PointerOf(false),
	})
	if err != nil {
		return "", agentError("failed to load open tasks", err)
	}
	return fmt.Sprintf("This week you completed %d of %d scheduled sessions. %d task(s) are still open.",
		completed, len(events), len(open)), nil
}

func (o *Orchestrator) generateReply(ctx context.Context, text string) string {
	if o.chat != nil {
		content, _, err := o.chat.Chat(ctx, llm.FormatMessages(
			"You are PulsePlan, a concise task and calendar assistant. Answer in at most three sentences.",
			text, nil))
		if err == nil && strings.TrimSpace(content) != "" {
			return strings.TrimSpace(content)
		}
		slog.Debug("reply generation fell back to canned text", "err", err)
	}
	return "I can help you create tasks, block time, and plan your schedule. What would you like to do?"
}

// findTaskByTitle matches open tasks by exact title first, then substring.
func (o *Orchestrator) findTaskByTitle(ctx context.Context, userID, needle string) (*store.Task, error) {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return nil, nil
	}
	tasks, err := o.store.ListTasks(ctx, &store.FindTask{
		UserID:    &userID,
		Completed: util.PointerOf(false),
	})
	if err != nil {
		return nil, agentError("failed to search tasks", err)
	}
	for _, t := range tasks {
		if strings.EqualFold(t.Title, needle) {
			return t, nil
		}
	}
	lower := strings.ToLower(needle)
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Title), lower) {
			return t, nil
		}
	}
	return nil, nil
}

func (o *Orchestrator) appendAssistant(ctx context.Context, conv *store.Conversation, message string) {
	if err := o.conversations.AppendTurn(ctx, conv, store.ChatRoleAssistant, message, ""); err != nil {
		slog.Warn("failed to persist assistant turn", "conversation", conv.ID, "err", err)
	}
}

// apologize is the terminal fallback: the dialog never surfaces raw errors.
func (o *Orchestrator) apologize(ctx context.Context, conv *store.Conversation, action string) *ConversationResponse {
	msg := "Sorry, something went wrong on my end. Please try that again in a moment."
	o.appendAssistant(ctx, conv, msg)
	return &ConversationResponse{
		ConversationID: conv.ID,
		Message:        msg,
		Action:         action,
	}
}

func userFacingError(action intent.Action) string {
	return fmt.Sprintf("the %s step hit an error", strings.ReplaceAll(string(action), "_", " "))
}

// agentError wraps a failure as a recoverable agent error, worth one retry.
func agentError(message string, cause error) error {
	e := scheduler.NewError(scheduler.KindAgent, message, cause)
	e.Recoverable = true
	return e
}

func isRecoverable(err error) bool {
	var e *scheduler.Error
	return errors.As(err, &e) && e.Kind == scheduler.KindAgent && e.Recoverable
}

func cardTitle(action intent.Action) string {
	switch action {
	case intent.ActionCreateTask:
		return "Creating your task"
	case intent.ActionListTasks:
		return "Collecting your tasks"
	case intent.ActionBlockTime, intent.ActionScheduleEvent:
		return "Updating your calendar"
	case intent.ActionRescheduleDay:
		return "Replanning your day"
	case intent.ActionWebSearch:
		return "Searching"
	case intent.ActionDailyBriefing:
		return "Preparing your briefing"
	case intent.ActionWeeklySummary:
		return "Summarizing your week"
	default:
		return "Working on it"
	}
}

func cardSteps(action intent.Action) []string {
	switch action {
	case intent.ActionCreateTask:
		return []string{"validate", "persist", "confirm"}
	case intent.ActionRescheduleDay:
		return []string{"collect", "solve", "apply"}
	case intent.ActionDailyBriefing, intent.ActionWeeklySummary:
		return []string{"collect", "compose"}
	default:
		return []string{"execute"}
	}
}
