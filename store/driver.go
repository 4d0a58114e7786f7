package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates missing tables and indexes. It is idempotent.
	Migrate(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)

	// Task model related methods.
	CreateTask(ctx context.Context, create *Task) (*Task, error)
	ListTasks(ctx context.Context, find *FindTask) ([]*Task, error)
	UpdateTask(ctx context.Context, update *UpdateTask) (*Task, error)
	DeleteTask(ctx context.Context, delete *DeleteTask) error

	// BusyEvent model related methods.
	CreateBusyEvent(ctx context.Context, create *BusyEvent) (*BusyEvent, error)
	ListBusyEvents(ctx context.Context, find *FindBusyEvent) ([]*BusyEvent, error)
	UpdateBusyEvent(ctx context.Context, update *UpdateBusyEvent) (*BusyEvent, error)
	DeleteBusyEvent(ctx context.Context, delete *DeleteBusyEvent) error

	// Preferences model related methods.
	UpsertPreferences(ctx context.Context, upsert *UpsertPreferences) (*Preferences, error)
	GetPreferences(ctx context.Context, find *FindPreferences) (*Preferences, error)

	// ScheduleBlock model related methods.
	CreateScheduleBlock(ctx context.Context, create *ScheduleBlock) (*ScheduleBlock, error)
	ListScheduleBlocks(ctx context.Context, find *FindScheduleBlock) ([]*ScheduleBlock, error)
	UpdateScheduleBlock(ctx context.Context, update *UpdateScheduleBlock) (*ScheduleBlock, error)
	DeleteScheduleBlocks(ctx context.Context, delete *DeleteScheduleBlock) error
	ReplaceScheduleBlocks(ctx context.Context, replace *ReplaceScheduleBlocks) ([]*ScheduleBlock, error)

	// CompletionEvent model related methods.
	CreateCompletionEvent(ctx context.Context, create *CompletionEvent) (*CompletionEvent, error)
	ListCompletionEvents(ctx context.Context, find *FindCompletionEvent) ([]*CompletionEvent, error)
	DeleteCompletionEvents(ctx context.Context, delete *DeleteCompletionEvent) error

	// Conversation model related methods.
	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)
	DeleteConversation(ctx context.Context, delete *DeleteConversation) error

	// ChatTurn model related methods.
	CreateChatTurn(ctx context.Context, create *ChatTurn) (*ChatTurn, error)
	ListChatTurns(ctx context.Context, find *FindChatTurn) ([]*ChatTurn, error)
	CountChatTurns(ctx context.Context, conversationID string) (int, error)

	// AgentTask model related methods.
	CreateAgentTask(ctx context.Context, create *AgentTask) (*AgentTask, error)
	ListAgentTasks(ctx context.Context, find *FindAgentTask) ([]*AgentTask, error)
	UpdateAgentTask(ctx context.Context, update *UpdateAgentTask) (*AgentTask, error)
	DeleteAgentTask(ctx context.Context, delete *DeleteAgentTask) error

	// LLM cache related methods.
	GetLLMCacheEntry(ctx context.Context, find *FindLLMCacheEntry) (*LLMCacheEntry, error)
	UpsertLLMCacheEntry(ctx context.Context, upsert *UpsertLLMCacheEntry) (*LLMCacheEntry, error)
	DeleteExpiredLLMCacheEntries(ctx context.Context, now int64) (int64, error)

	// User context cache related methods.
	GetUserContextCache(ctx context.Context, userID string) (*UserContextCache, error)
	UpsertUserContextCache(ctx context.Context, upsert *UpsertUserContextCache) (*UserContextCache, error)
	DeleteUserContextCache(ctx context.Context, userID string) error

	// Learning state related methods.
	GetModelState(ctx context.Context, find *FindModelState) (*ModelState, error)
	UpsertModelState(ctx context.Context, upsert *UpsertModelState) (*ModelState, error)
	GetBanditState(ctx context.Context, find *FindBanditState) (*BanditState, error)
	UpsertBanditState(ctx context.Context, upsert *UpsertBanditState) (*BanditState, error)
}
