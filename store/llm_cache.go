package store

// LLMCacheEntry is a persisted LLM response keyed by a canonical prompt hash.
// Expired rows are swept opportunistically by the LLM service.
type LLMCacheEntry struct {
	CacheKey   string
	PromptHash string
	Response   string
	ModelName  string
	ExpiresTs  int64
	CreatedTs  int64
}

type FindLLMCacheEntry struct {
	CacheKey string
}

type UpsertLLMCacheEntry struct {
	CacheKey   string
	PromptHash string
	Response   string
	ModelName  string
	ExpiresTs  int64
}

// UserContextCache is the persisted per-user context snapshot handed to the
// intent classifier. PreferencesHash invalidates it when preferences change.
type UserContextCache struct {
	UserID          string
	ContextData     string // JSON
	PreferencesHash string
	ExpiresTs       int64
	UpdatedTs       int64
}

type UpsertUserContextCache struct {
	UserID          string
	ContextData     string
	PreferencesHash string
	ExpiresTs       int64
}
