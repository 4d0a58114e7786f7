package intent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pulseplan/pulse/agent/convstate"
	"github.com/pulseplan/pulse/internal/telemetry"
	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/llm"
)

// TaskExtraction is the structured task a create flow hands to execution.
type TaskExtraction struct {
	TaskTitle        string `json:"taskTitle"`
	DueTs            *int64 `json:"dueTs,omitempty"`
	Priority         *int   `json:"priority,omitempty"`
	EstimatedMinutes *int   `json:"estimatedMinutes,omitempty"`
}

// Result is the processed verdict the orchestrator acts on.
type Result struct {
	Intent     string   `json:"intent"`
	Action     Action   `json:"action"`
	Confidence float64  `json:"confidence"`
	Entities   Entities `json:"entities,omitempty"`

	TaskInfo     *TaskExtraction `json:"taskInfo,omitempty"`
	WorkflowType string          `json:"workflowType,omitempty"`

	RequiresTaskCard  bool   `json:"requiresTaskCard"`
	ImmediateResponse string `json:"immediateResponse,omitempty"`

	RequiresClarification bool   `json:"requiresClarification"`
	ClarificationID       string `json:"clarificationId,omitempty"`
	ClarificationQuestion string `json:"clarificationQuestion,omitempty"`

	CanSwitchWorkflow  bool        `json:"canSwitchWorkflow"`
	SuggestedWorkflows []string    `json:"suggestedWorkflows,omitempty"`
	DialogActs         []DialogAct `json:"dialogActs"`

	WorkflowParams map[string]any `json:"workflowParams,omitempty"`
}

// Slot-confidence floors below which a slot is treated as absent.
var slotThresholds = map[string]float64{
	"task_title":         0.8,
	"due_date":           0.6,
	"priority":           0.7,
	"estimated_duration": 0.7,
}

// genericTitleRe rejects titles that name nothing: "task", "todo", "new
// task", "make one for me".
var genericTitleRe = regexp.MustCompile(`^(?:a\s+)?(?:task|todo|new task|make (?:one|some) for me)$`)

var taskKeywords = []string{
	"task", "todo", "remind", "due", "deadline", "homework", "assignment",
	"schedule", "exam", "study", "project", "calendar", "email", "search",
}

var greetings = []string{
	"hi", "hello", "hey", "yo", "thanks", "thank you", "good morning",
	"good afternoon", "good evening", "how are you", "what's up", "whats up",
}

var cancelWords = []string{"cancel", "never mind", "nevermind", "forget it", "stop"}

const createTaskQuestion = "What task would you like me to create?"

const smallTalkPrompt = `You are PulsePlan, a friendly task and calendar
assistant. Reply to the user in one or two short sentences. Do not invent
tasks or events.`

// Processor runs the clarification dialog around the classifier.
type Processor struct {
	states     *convstate.Manager
	contexts   *ContextLoader
	classifier Classifier
	chat       llm.Service
	tel        *telemetry.Telemetry
	now        func() time.Time
}

func NewProcessor(states *convstate.Manager, contexts *ContextLoader, classifier Classifier, chat llm.Service, tel *telemetry.Telemetry) *Processor {
	return &Processor{
		states:     states,
		contexts:   contexts,
		classifier: classifier,
		chat:       chat,
		tel:        tel,
		now:        time.Now,
	}
}

// ProcessUserQuery routes one user message: clarification follow-up, small
// talk fast path, or full classification with slot gating.
func (p *Processor) ProcessUserQuery(ctx context.Context, userID, conversationID, query string, history []llm.Message) (*Result, error) {
	text := strings.TrimSpace(query)
	if text == "" {
		return &Result{
			Action:            ActionCasualConversation,
			Confidence:        1,
			ImmediateResponse: "I didn't catch that. What would you like to do?",
			DialogActs:        []DialogAct{DialogActAsk},
		}, nil
	}

	st, err := p.states.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dialog state: %w", err)
	}

	pending := st.PendingClarification()
	hadPending := pending != nil
	if pending != nil {
		if res, handled, err := p.resolvePending(ctx, userID, conversationID, pending, text); err != nil {
			return nil, err
		} else if handled {
			return res, nil
		}
		// The user changed the subject; the stale questions die with the
		// abandoned flow.
	}

	uc, err := p.contexts.Load(ctx, userID)
	if err != nil {
		slog.Warn("user context unavailable, classifying without it", "user", userID, "err", err)
		uc = &UserContext{UserID: userID, Timezone: "UTC"}
	}

	if !hadPending && isSmallTalk(text) {
		return &Result{
			Intent:            "small talk",
			Action:            ActionCasualConversation,
			Confidence:        1,
			ImmediateResponse: p.smallTalkReply(ctx, text, history),
			DialogActs:        []DialogAct{DialogActInvoke},
		}, nil
	}

	cls, err := p.classifier.Classify(ctx, text, uc, history)
	if err != nil {
		slog.Warn("intent classification failed", "err", err)
		cls = &Classification{Intent: "general conversation", Action: ActionGenerateResponse, Confidence: 0.3}
	}
	if _, ok := ParseAction(string(cls.Action)); !ok {
		cls.Action = ActionGenerateResponse
	}
	p.tel.RecordIntentClassification(string(cls.Action))

	res := &Result{
		Intent:           cls.Intent,
		Action:           cls.Action,
		Confidence:       cls.Confidence,
		Entities:         cls.Entities,
		WorkflowType:     cls.Action.Workflow(),
		RequiresTaskCard: cls.Action.RequiresTaskCard(),
		DialogActs:       []DialogAct{DialogActInvoke},
	}

	if wf := cls.Action.Workflow(); wf != "" && wf != st.ActiveWorkflow {
		if st.ActiveWorkflow != "" || hadPending {
			res.CanSwitchWorkflow = true
			res.SuggestedWorkflows = []string{wf}
			res.DialogActs = append(res.DialogActs, DialogActSwitch)
			if st.ActiveWorkflow != "" {
				res.WorkflowParams = map[string]any{"from_workflow": st.ActiveWorkflow}
			}
		}
		// Entering a workflow abandons any questions from the old one.
		if _, err := p.states.SwitchWorkflow(ctx, conversationID, wf); err != nil {
			slog.Warn("failed to switch workflow state", "conversation", conversationID, "err", err)
		}
	} else if hadPending {
		// Diverted to an inline action; drop the abandoned questions.
		st.PendingClarifications = nil
		if err := p.states.Save(ctx, st); err != nil {
			slog.Warn("failed to clear stale clarifications", "conversation", conversationID, "err", err)
		}
	}

	switch cls.Action {
	case ActionCreateTask:
		if err := p.gateCreateTask(ctx, conversationID, text, uc, cls, res); err != nil {
			return nil, err
		}
	case ActionUpdateTask, ActionDeleteTask, ActionCompleteTask:
		if err := p.gateTaskTarget(ctx, conversationID, cls, res); err != nil {
			return nil, err
		}
	case ActionWebSearch:
		if slot, ok := cls.Entities["search_query"]; !ok || strings.TrimSpace(slot.Value) == "" {
			res.Entities = ensureEntities(res.Entities)
			res.Entities["search_query"] = Slot{Value: stripSearchVerb(text), Confidence: 0.7}
		}
	}
	return res, nil
}

// resolvePending decides whether the message answers the open clarification.
// handled=false means the message is a new command and normal classification
// should take over.
func (p *Processor) resolvePending(ctx context.Context, userID, conversationID string, pending *convstate.Clarification, text string) (*Result, bool, error) {
	lower := strings.ToLower(text)

	if hasAnyWord(lower, cancelWords) {
		if err := p.states.ResolveClarification(ctx, conversationID, pending.ID); err != nil {
			return nil, false, err
		}
		return &Result{
			Action:            ActionCasualConversation,
			Confidence:        1,
			ImmediateResponse: "No problem, I've dropped that. Anything else?",
			DialogActs:        []DialogAct{DialogActCancel},
		}, true, nil
	}
	if !isClarificationAnswer(lower, pending) {
		return nil, false, nil
	}

	switch act := Action(pending.Action()); act {
	case ActionCreateTask:
		return p.finishCreateTask(ctx, userID, conversationID, pending, text)
	case ActionUpdateTask, ActionDeleteTask, ActionCompleteTask:
		// The answer names the target task.
		if err := p.states.ResolveClarification(ctx, conversationID, pending.ID); err != nil {
			return nil, false, err
		}
		return &Result{
			Intent:     pending.Context["intent"],
			Action:     act,
			Confidence: 0.9,
			Entities:   Entities{"task_title": {Value: strings.Trim(text, ".!?\"'"), Confidence: 0.9}},
			DialogActs: []DialogAct{DialogActInvoke},
		}, true, nil
	default:
		// No structured follow-up for this action; let classification
		// reinterpret the message.
		return nil, false, nil
	}
}

// finishCreateTask turns the clarification answer into the task title.
func (p *Processor) finishCreateTask(ctx context.Context, userID, conversationID string, pending *convstate.Clarification, text string) (*Result, bool, error) {
	loc := time.UTC
	if uc, err := p.contexts.Load(ctx, userID); err == nil {
		loc = uc.Location()
	}
	title, extraction := extractTaskFromAnswer(text, p.now(), loc)
	if isGenericTitle(title) {
		again, err := p.states.BumpClarification(ctx, conversationID, pending.ID)
		if err != nil {
			return nil, false, err
		}
		if !again {
			return &Result{
				Action:            ActionCasualConversation,
				Confidence:        1,
				ImmediateResponse: "Let's start over. Tell me the task name and when it's due whenever you're ready.",
				DialogActs:        []DialogAct{DialogActCancel},
			}, true, nil
		}
		p.tel.RecordClarification()
		return &Result{
			Action:                ActionCreateTask,
			Confidence:            0.9,
			WorkflowType:          ActionCreateTask.Workflow(),
			RequiresClarification: true,
			ClarificationID:       pending.ID,
			ClarificationQuestion: pending.Question,
			DialogActs:            []DialogAct{DialogActAsk},
		}, true, nil
	}

	if err := p.states.ResolveClarification(ctx, conversationID, pending.ID); err != nil {
		return nil, false, err
	}
	return &Result{
		Intent:           pending.Context["intent"],
		Action:           ActionCreateTask,
		Confidence:       0.9,
		TaskInfo:         extraction,
		WorkflowType:     ActionCreateTask.Workflow(),
		RequiresTaskCard: true,
		DialogActs:       []DialogAct{DialogActInvoke},
	}, true, nil
}

// gateCreateTask enforces the title slot gate, asking for clarification when
// the message names no concrete task.
func (p *Processor) gateCreateTask(ctx context.Context, conversationID, text string, uc *UserContext, cls *Classification, res *Result) error {
	title := acceptedSlot(cls.Entities, "task_title")
	if title == "" || isGenericTitle(title) {
		id, err := p.states.AddClarification(ctx, conversationID, createTaskQuestion,
			map[string]string{"intent": cls.Intent, "action": string(ActionCreateTask)})
		if err != nil {
			return err
		}
		p.tel.RecordClarification()
		res.RequiresClarification = true
		res.ClarificationID = id
		res.ClarificationQuestion = createTaskQuestion
		res.RequiresTaskCard = false
		res.DialogActs = []DialogAct{DialogActAsk}
		return nil
	}

	info := &TaskExtraction{TaskTitle: title}
	loc := uc.Location()
	if due := acceptedSlot(cls.Entities, "due_date"); due != "" {
		if ts, ok := ParseDuePhrase(due, p.now(), loc); ok {
			info.DueTs = util.PointerOf(ts.Unix())
		}
	}
	if info.DueTs == nil {
		if ts, ok := ParseDuePhrase(text, p.now(), loc); ok {
			info.DueTs = util.PointerOf(ts.Unix())
		}
	}
	if raw := acceptedSlot(cls.Entities, "priority"); raw != "" {
		if pr, ok := ParsePriority(raw); ok {
			info.Priority = util.PointerOf(pr)
		}
	}
	if raw := acceptedSlot(cls.Entities, "estimated_duration"); raw != "" {
		if mins, ok := ParseDurationPhrase(raw); ok {
			info.EstimatedMinutes = util.PointerOf(mins)
		}
	}
	res.TaskInfo = info
	return nil
}

// gateTaskTarget asks which task when an update/delete/complete names none.
func (p *Processor) gateTaskTarget(ctx context.Context, conversationID string, cls *Classification, res *Result) error {
	if acceptedSlot(cls.Entities, "task_title") != "" {
		return nil
	}
	question := fmt.Sprintf("Which task would you like me to %s?", strings.TrimSuffix(string(cls.Action), "_task"))
	id, err := p.states.AddClarification(ctx, conversationID, question,
		map[string]string{"intent": cls.Intent, "action": string(cls.Action)})
	if err != nil {
		return err
	}
	p.tel.RecordClarification()
	res.RequiresClarification = true
	res.ClarificationID = id
	res.ClarificationQuestion = question
	res.RequiresTaskCard = false
	res.DialogActs = []DialogAct{DialogActAsk}
	return nil
}

func (p *Processor) smallTalkReply(ctx context.Context, text string, history []llm.Message) string {
	if p.chat != nil {
		content, _, err := p.chat.Chat(ctx, llm.FormatMessages(smallTalkPrompt, text, tailMessages(history, 4)))
		if err == nil && strings.TrimSpace(content) != "" {
			return strings.TrimSpace(content)
		}
		slog.Debug("small talk reply fell back to canned text", "err", err)
	}
	return "Hi! I can help you plan tasks, block time, and keep your schedule on track."
}

// isClarificationAnswer: short phrases that are not themselves full commands
// count as answers to the open question.
func isClarificationAnswer(lower string, pending *convstate.Clarification) bool {
	if Action(pending.Action()) == ActionCreateTask {
		for _, phrase := range createPhrases {
			if strings.Contains(lower, strings.TrimSpace(phrase)) {
				return false
			}
		}
	}
	for _, prefix := range searchPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	if strings.HasPrefix(lower, "help") {
		return false
	}
	return len(strings.Fields(lower)) <= 8
}

// extractTaskFromAnswer splits a clarification answer into title and parsed
// slots ("physics homework by friday 5pm").
func extractTaskFromAnswer(text string, now time.Time, loc *time.Location) (string, *TaskExtraction) {
	title := strings.Trim(strings.TrimSpace(text), ".!?\"'")
	info := &TaskExtraction{}
	if ts, ok := ParseDuePhrase(text, now, loc); ok {
		info.DueTs = util.PointerOf(ts.Unix())
		title = stripDuePhrase(title)
	}
	if mins, ok := ParseDurationPhrase(text); ok {
		info.EstimatedMinutes = util.PointerOf(mins)
	}
	info.TaskTitle = title
	return title, info
}

var duePhraseRe = regexp.MustCompile(`(?i)\s*(?:by|due|before|on)?\s*(?:next week|tomorrow|today|tonight|sunday|monday|tuesday|wednesday|thursday|friday|saturday)?\s*(?:at\s*)?(?:\d{1,2}(?::\d{2})?\s*(?:am|pm)|\d{1,2}:\d{2})?\s*$`)

func stripDuePhrase(title string) string {
	stripped := strings.TrimSpace(duePhraseRe.ReplaceAllString(title, ""))
	if stripped == "" {
		return title
	}
	return stripped
}

func isSmallTalk(text string) bool {
	lower := strings.ToLower(strings.Trim(text, ".,!? "))
	for _, g := range greetings {
		if lower == g || strings.HasPrefix(lower, g+" ") {
			return true
		}
	}
	if len(strings.Fields(lower)) > 3 {
		return false
	}
	for _, kw := range taskKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	return true
}

func isGenericTitle(title string) bool {
	return genericTitleRe.MatchString(strings.ToLower(strings.TrimSpace(title)))
}

func acceptedSlot(entities Entities, name string) string {
	slot, ok := entities[name]
	if !ok {
		return ""
	}
	if slot.Confidence < slotThresholds[name] {
		return ""
	}
	return strings.TrimSpace(slot.Value)
}

func ensureEntities(e Entities) Entities {
	if e == nil {
		return Entities{}
	}
	return e
}

func stripSearchVerb(text string) string {
	lower := strings.ToLower(text)
	for _, prefix := range searchPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(text[len(prefix):])
		}
	}
	return text
}

func hasAnyWord(lower string, words []string) bool {
	for _, w := range words {
		if lower == w || strings.HasPrefix(lower, w+" ") || strings.HasPrefix(lower, w+",") {
			return true
		}
	}
	return false
}
