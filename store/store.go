package store

import (
	"context"
	"time"

	"github.com/pulseplan/pulse/internal/cache"
	"github.com/pulseplan/pulse/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Caches
	preferencesCache *cache.LRU[string, *Preferences]
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:           driver,
		profile:          profile,
		preferencesCache: cache.NewLRU[string, *Preferences](256, 10*time.Minute),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) CreateTask(ctx context.Context, create *Task) (*Task, error) {
	return s.driver.CreateTask(ctx, create)
}

func (s *Store) ListTasks(ctx context.Context, find *FindTask) ([]*Task, error) {
	return s.driver.ListTasks(ctx, find)
}

func (s *Store) GetTask(ctx context.Context, id, userID string) (*Task, error) {
	list, err := s.driver.ListTasks(ctx, &FindTask{ID: &id, UserID: &userID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateTask(ctx context.Context, update *UpdateTask) (*Task, error) {
	return s.driver.UpdateTask(ctx, update)
}

func (s *Store) DeleteTask(ctx context.Context, delete *DeleteTask) error {
	return s.driver.DeleteTask(ctx, delete)
}

func (s *Store) CreateBusyEvent(ctx context.Context, create *BusyEvent) (*BusyEvent, error) {
	return s.driver.CreateBusyEvent(ctx, create)
}

func (s *Store) ListBusyEvents(ctx context.Context, find *FindBusyEvent) ([]*BusyEvent, error) {
	return s.driver.ListBusyEvents(ctx, find)
}

func (s *Store) UpdateBusyEvent(ctx context.Context, update *UpdateBusyEvent) (*BusyEvent, error) {
	return s.driver.UpdateBusyEvent(ctx, update)
}

func (s *Store) DeleteBusyEvent(ctx context.Context, delete *DeleteBusyEvent) error {
	return s.driver.DeleteBusyEvent(ctx, delete)
}

// GetPreferences returns the stored profile, or the default profile when the
// user never saved one. Results are cached for a few minutes.
func (s *Store) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	if prefs, ok := s.preferencesCache.Get(userID); ok {
		return prefs, nil
	}
	prefs, err := s.driver.GetPreferences(ctx, &FindPreferences{UserID: &userID})
	if err != nil {
		return nil, err
	}
	if prefs == nil {
		prefs = DefaultPreferences(userID)
	}
	s.preferencesCache.Set(userID, prefs, 0)
	return prefs, nil
}

func (s *Store) UpsertPreferences(ctx context.Context, upsert *UpsertPreferences) (*Preferences, error) {
	prefs, err := s.driver.UpsertPreferences(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.preferencesCache.Remove(upsert.UserID)
	return prefs, nil
}

func (s *Store) CreateScheduleBlock(ctx context.Context, create *ScheduleBlock) (*ScheduleBlock, error) {
	return s.driver.CreateScheduleBlock(ctx, create)
}

func (s *Store) ListScheduleBlocks(ctx context.Context, find *FindScheduleBlock) ([]*ScheduleBlock, error) {
	return s.driver.ListScheduleBlocks(ctx, find)
}

func (s *Store) UpdateScheduleBlock(ctx context.Context, update *UpdateScheduleBlock) (*ScheduleBlock, error) {
	return s.driver.UpdateScheduleBlock(ctx, update)
}

func (s *Store) DeleteScheduleBlocks(ctx context.Context, delete *DeleteScheduleBlock) error {
	return s.driver.DeleteScheduleBlocks(ctx, delete)
}

func (s *Store) ReplaceScheduleBlocks(ctx context.Context, replace *ReplaceScheduleBlocks) ([]*ScheduleBlock, error) {
	return s.driver.ReplaceScheduleBlocks(ctx, replace)
}

func (s *Store) CreateCompletionEvent(ctx context.Context, create *CompletionEvent) (*CompletionEvent, error) {
	return s.driver.CreateCompletionEvent(ctx, create)
}

func (s *Store) ListCompletionEvents(ctx context.Context, find *FindCompletionEvent) ([]*CompletionEvent, error) {
	return s.driver.ListCompletionEvents(ctx, find)
}

func (s *Store) DeleteCompletionEvents(ctx context.Context, delete *DeleteCompletionEvent) error {
	return s.driver.DeleteCompletionEvents(ctx, delete)
}

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	return s.driver.CreateConversation(ctx, create)
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, find)
}

func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	list, err := s.driver.ListConversations(ctx, &FindConversation{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	return s.driver.UpdateConversation(ctx, update)
}

func (s *Store) DeleteConversation(ctx context.Context, delete *DeleteConversation) error {
	return s.driver.DeleteConversation(ctx, delete)
}

func (s *Store) CreateChatTurn(ctx context.Context, create *ChatTurn) (*ChatTurn, error) {
	return s.driver.CreateChatTurn(ctx, create)
}

func (s *Store) ListChatTurns(ctx context.Context, find *FindChatTurn) ([]*ChatTurn, error) {
	return s.driver.ListChatTurns(ctx, find)
}

func (s *Store) CountChatTurns(ctx context.Context, conversationID string) (int, error) {
	return s.driver.CountChatTurns(ctx, conversationID)
}

func (s *Store) CreateAgentTask(ctx context.Context, create *AgentTask) (*AgentTask, error) {
	return s.driver.CreateAgentTask(ctx, create)
}

func (s *Store) ListAgentTasks(ctx context.Context, find *FindAgentTask) ([]*AgentTask, error) {
	return s.driver.ListAgentTasks(ctx, find)
}

func (s *Store) UpdateAgentTask(ctx context.Context, update *UpdateAgentTask) (*AgentTask, error) {
	return s.driver.UpdateAgentTask(ctx, update)
}

func (s *Store) DeleteAgentTask(ctx context.Context, delete *DeleteAgentTask) error {
	return s.driver.DeleteAgentTask(ctx, delete)
}

func (s *Store) GetLLMCacheEntry(ctx context.Context, find *FindLLMCacheEntry) (*LLMCacheEntry, error) {
	return s.driver.GetLLMCacheEntry(ctx, find)
}

func (s *Store) UpsertLLMCacheEntry(ctx context.Context, upsert *UpsertLLMCacheEntry) (*LLMCacheEntry, error) {
	return s.driver.UpsertLLMCacheEntry(ctx, upsert)
}

func (s *Store) DeleteExpiredLLMCacheEntries(ctx context.Context, now int64) (int64, error) {
	return s.driver.DeleteExpiredLLMCacheEntries(ctx, now)
}

func (s *Store) GetUserContextCache(ctx context.Context, userID string) (*UserContextCache, error) {
	return s.driver.GetUserContextCache(ctx, userID)
}

func (s *Store) UpsertUserContextCache(ctx context.Context, upsert *UpsertUserContextCache) (*UserContextCache, error) {
	return s.driver.UpsertUserContextCache(ctx, upsert)
}

func (s *Store) DeleteUserContextCache(ctx context.Context, userID string) error {
	return s.driver.DeleteUserContextCache(ctx, userID)
}

func (s *Store) GetModelState(ctx context.Context, find *FindModelState) (*ModelState, error) {
	return s.driver.GetModelState(ctx, find)
}

func (s *Store) UpsertModelState(ctx context.Context, upsert *UpsertModelState) (*ModelState, error) {
	return s.driver.UpsertModelState(ctx, upsert)
}

func (s *Store) GetBanditState(ctx context.Context, find *FindBanditState) (*BanditState, error) {
	return s.driver.GetBanditState(ctx, find)
}

func (s *Store) UpsertBanditState(ctx context.Context, upsert *UpsertBanditState) (*BanditState, error) {
	return s.driver.UpsertBanditState(ctx, upsert)
}
