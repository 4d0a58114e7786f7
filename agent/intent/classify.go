package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/pulseplan/pulse/llm"
)

// Slot is one extracted entity with the classifier's confidence in it.
type Slot struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Entities maps slot names (task_title, due_date, priority,
// estimated_duration, search_query, ...) to extracted values.
type Entities map[string]Slot

// Classification is the raw classifier verdict before dialog processing.
type Classification struct {
	Intent                 string   `json:"intent"`
	Action                 Action   `json:"action"`
	Confidence             float64  `json:"confidence"`
	Entities               Entities `json:"entities,omitempty"`
	Quantity               int      `json:"quantity,omitempty"`
	SuggestedAction        Action   `json:"suggested_action,omitempty"`
	RequiresDisambiguation bool     `json:"requires_disambiguation,omitempty"`
	AlternativeIntents     []string `json:"alternative_intents,omitempty"`
	Reasoning              string   `json:"reasoning,omitempty"`
}

// Classifier maps a user message to an action.
type Classifier interface {
	Classify(ctx context.Context, query string, uc *UserContext, history []llm.Message) (*Classification, error)
}

// --- Rule classifier ---

// RuleClassifier is the deterministic keyword fallback. It never errors, so
// the agent keeps working when the LLM provider is down.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

var (
	searchPrefixes = []string{"search for ", "search ", "look up ", "google ", "find information on ", "find out about "}
	createPhrases  = []string{"create a task", "create task", "add a task", "add task", "new task", "remind me to ", "i need to "}
	titleLeadIns   = []string{"remind me to ", "i need to ", "create a task to ", "add a task to ", "create a task called ", "add a task called ", "create a task for ", "add a task for "}
)

func (c *RuleClassifier) Classify(_ context.Context, query string, _ *UserContext, _ []llm.Message) (*Classification, error) {
	q := strings.ToLower(strings.TrimSpace(query))

	for _, prefix := range searchPrefixes {
		if strings.HasPrefix(q, prefix) {
			return &Classification{
				Intent:     "search the web",
				Action:     ActionWebSearch,
				Confidence: 0.9,
				Entities:   Entities{"search_query": {Value: strings.TrimSpace(query[len(prefix):]), Confidence: 0.9}},
			}, nil
		}
	}

	switch {
	case containsAny(q, "sync canvas", "canvas sync", "import from canvas"):
		return keyword("sync course work", ActionSyncCanvas), nil
	case containsAny(q, "weekly summary", "week summary", "summary of my week"):
		return keyword("summarize the week", ActionWeeklySummary), nil
	case containsAny(q, "daily briefing", "briefing", "what's on today", "whats on today", "my day"):
		return keyword("brief the day", ActionDailyBriefing), nil
	case containsAny(q, "send an email", "send email", "email "):
		if containsAny(q, "read", "check", "inbox") {
			return keyword("read email", ActionReadEmails), nil
		}
		return keyword("send email", ActionSendEmail), nil
	case containsAny(q, "check my email", "read my email", "my inbox"):
		return keyword("read email", ActionReadEmails), nil
	case containsAny(q, "reschedule", "replan", "rebuild my schedule", "plan my day again"):
		return keyword("reschedule the day", ActionRescheduleDay), nil
	case containsAny(q, "block time", "block off", "block out"):
		return keyword("block time", ActionBlockTime), nil
	case containsAny(q, "schedule a meeting", "schedule an event", "put on my calendar", "add to my calendar"):
		return keyword("schedule an event", ActionScheduleEvent), nil
	case containsAny(q, "list my tasks", "list tasks", "show my tasks", "show tasks", "what are my tasks", "what do i have to do"):
		return keyword("list tasks", ActionListTasks), nil
	case containsAny(q, "mark ", "complete ", "finished ", "i'm done with", "im done with") && strings.Contains(q, "task") ||
		containsAny(q, "mark as done", "mark as complete"):
		return keyword("complete a task", ActionCompleteTask), nil
	case containsAny(q, "delete ", "remove ") && strings.Contains(q, "task"):
		return keyword("delete a task", ActionDeleteTask), nil
	case containsAny(q, "rename ", "change ", "update ", "move ") && strings.Contains(q, "task"):
		return keyword("update a task", ActionUpdateTask), nil
	}

	for _, phrase := range createPhrases {
		if strings.Contains(q, strings.TrimSpace(phrase)) {
			cls := &Classification{Intent: "create a task", Action: ActionCreateTask, Confidence: 0.85, Entities: Entities{}}
			if title := extractTitleAfterLeadIn(query); title != "" {
				cls.Entities["task_title"] = Slot{Value: title, Confidence: 0.85}
			}
			return cls, nil
		}
	}

	return &Classification{Intent: "general conversation", Action: ActionGenerateResponse, Confidence: 0.4}, nil
}

// keyword builds a bare classification for keyword-routed actions.
func keyword(intent string, action Action) *Classification {
	return &Classification{Intent: intent, Action: action, Confidence: 0.8}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// extractTitleAfterLeadIn pulls the task title out of command phrasings like
// "remind me to submit the lab report".
func extractTitleAfterLeadIn(query string) string {
	q := strings.ToLower(query)
	for _, lead := range titleLeadIns {
		if idx := strings.Index(q, lead); idx >= 0 {
			return strings.Trim(strings.TrimSpace(query[idx+len(lead):]), ".!?\"'")
		}
	}
	return ""
}

// --- LLM classifier ---

const classifyPrompt = `You are an intent classifier for a task and calendar
assistant. Classify the user's message into exactly one action from this
closed set:

create_task, update_task, delete_task, list_tasks, complete_task,
schedule_event, block_time, reschedule_day, web_search, daily_briefing,
weekly_summary, generate_response, casual_conversation, send_email,
read_emails, sync_canvas

Extract entities with per-slot confidence in [0,1]. Known slots: task_title,
due_date, priority (low|medium|high), estimated_duration, search_query,
event_title, event_time.

Respond with ONLY a JSON object:
{"intent": "...", "action": "...", "confidence": 0.0,
 "entities": {"slot": {"value": "...", "confidence": 0.0}},
 "quantity": 0, "suggested_action": "", "requires_disambiguation": false,
 "alternative_intents": [], "reasoning": "at most ten words"}`

// LLMClassifier asks the model and falls back to rules when the reply is
// unusable.
type LLMClassifier struct {
	svc   llm.Service
	rules *RuleClassifier
}

func NewLLMClassifier(svc llm.Service) *LLMClassifier {
	return &LLMClassifier{svc: svc, rules: NewRuleClassifier()}
}

func (c *LLMClassifier) Classify(ctx context.Context, query string, uc *UserContext, history []llm.Message) (*Classification, error) {
	prompt := classifyPrompt
	if uc != nil {
		if raw, err := json.Marshal(uc); err == nil {
			prompt += "\n\nUser context: " + string(raw)
		}
	}
	content, _, err := c.svc.Chat(ctx, llm.FormatMessages(prompt, query, tailMessages(history, 6)))
	if err != nil {
		slog.Warn("intent model call failed, using rule classifier", "err", err)
		return c.rules.Classify(ctx, query, uc, history)
	}

	cls, err := parseClassification(content)
	if err != nil {
		slog.Warn("unparseable intent reply, using rule classifier", "err", err)
		return c.rules.Classify(ctx, query, uc, history)
	}
	return cls, nil
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

func parseClassification(content string) (*Classification, error) {
	raw := jsonObjectRe.FindString(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var cls Classification
	if err := json.Unmarshal([]byte(raw), &cls); err != nil {
		return nil, fmt.Errorf("failed to decode classification: %w", err)
	}
	if _, ok := ParseAction(string(cls.Action)); !ok {
		return nil, fmt.Errorf("unknown action %q", cls.Action)
	}
	if cls.Confidence < 0 || cls.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of range", cls.Confidence)
	}
	return &cls, nil
}

func tailMessages(history []llm.Message, n int) []llm.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
