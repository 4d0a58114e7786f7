// Package intent turns free-form user messages into structured actions: a
// closed action set, an LLM-backed classifier with a deterministic rule
// fallback, and a processor that runs the clarification dialog around them.
package intent

// Action is one of the closed set of things the agent can do.
type Action string

const (
	ActionCreateTask         Action = "create_task"
	ActionUpdateTask         Action = "update_task"
	ActionDeleteTask         Action = "delete_task"
	ActionListTasks          Action = "list_tasks"
	ActionCompleteTask       Action = "complete_task"
	ActionScheduleEvent      Action = "schedule_event"
	ActionBlockTime          Action = "block_time"
	ActionRescheduleDay      Action = "reschedule_day"
	ActionWebSearch          Action = "web_search"
	ActionDailyBriefing      Action = "daily_briefing"
	ActionWeeklySummary      Action = "weekly_summary"
	ActionGenerateResponse   Action = "generate_response"
	ActionCasualConversation Action = "casual_conversation"
	ActionSendEmail          Action = "send_email"
	ActionReadEmails         Action = "read_emails"
	ActionSyncCanvas         Action = "sync_canvas"
)

// workflowByAction maps each action to the workflow that executes it. Actions
// absent from the map run inline without a workflow or task card.
var workflowByAction = map[Action]string{
	ActionCreateTask:    "tasks",
	ActionListTasks:     "tasks",
	ActionScheduleEvent: "calendar",
	ActionBlockTime:     "calendar",
	ActionRescheduleDay: "scheduling",
	ActionWebSearch:     "search",
	ActionDailyBriefing: "briefing",
	ActionWeeklySummary: "briefing",
	ActionSendEmail:     "email",
	ActionReadEmails:    "email",
	ActionSyncCanvas:    "integrations",
}

var allActions = map[Action]bool{
	ActionCreateTask: true, ActionUpdateTask: true, ActionDeleteTask: true,
	ActionListTasks: true, ActionCompleteTask: true, ActionScheduleEvent: true,
	ActionBlockTime: true, ActionRescheduleDay: true, ActionWebSearch: true,
	ActionDailyBriefing: true, ActionWeeklySummary: true,
	ActionGenerateResponse: true, ActionCasualConversation: true,
	ActionSendEmail: true, ActionReadEmails: true, ActionSyncCanvas: true,
}

// ParseAction validates a raw action string against the closed set.
func ParseAction(raw string) (Action, bool) {
	a := Action(raw)
	return a, allActions[a]
}

// Workflow returns the workflow executing this action, or "" for inline
// actions.
func (a Action) Workflow() string {
	return workflowByAction[a]
}

// RequiresTaskCard reports whether the action runs as a tracked workflow
// visible to the user as a progress card.
func (a Action) RequiresTaskCard() bool {
	return workflowByAction[a] != ""
}

// DialogAct labels the dialog move a result makes.
type DialogAct string

const (
	DialogActInvoke DialogAct = "invoke"
	DialogActAsk    DialogAct = "ask"
	DialogActCancel DialogAct = "cancel"
	DialogActSwitch DialogAct = "switch"
)
