package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulseplan/pulse/internal/util"
	"github.com/pulseplan/pulse/store"
)

const defaultContextTTL = 15 * time.Minute

// UserContext is the snapshot of the user handed to the classifier prompt.
type UserContext struct {
	UserID           string   `json:"user_id"`
	Timezone         string   `json:"timezone"`
	WorkdayStart     string   `json:"workday_start"`
	WorkdayEnd       string   `json:"workday_end"`
	OpenTasks        int      `json:"open_tasks"`
	RecentTaskTitles []string `json:"recent_task_titles,omitempty"`
}

// Location resolves the user's timezone, falling back to UTC.
func (u *UserContext) Location() *time.Location {
	if u == nil || u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ContextLoader builds user contexts, memoized in the user_context_cache
// table and invalidated whenever the preferences hash changes.
type ContextLoader struct {
	store *store.Store
	ttl   time.Duration
	now   func() time.Time
}

func NewContextLoader(st *store.Store) *ContextLoader {
	return &ContextLoader{store: st, ttl: defaultContextTTL, now: time.Now}
}

func (l *ContextLoader) Load(ctx context.Context, userID string) (*UserContext, error) {
	prefs, err := l.store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	hash := preferencesHash(prefs)

	if entry, err := l.store.GetUserContextCache(ctx, userID); err == nil && entry != nil &&
		entry.PreferencesHash == hash && entry.ExpiresTs > l.now().Unix() {
		var uc UserContext
		if err := json.Unmarshal([]byte(entry.ContextData), &uc); err == nil {
			return &uc, nil
		}
		slog.Warn("stale user context cache entry, rebuilding", "user", userID)
	}

	uc, err := l.build(ctx, userID, prefs)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(uc); err == nil {
		if _, err := l.store.UpsertUserContextCache(ctx, &store.UpsertUserContextCache{
			UserID:          userID,
			ContextData:     string(raw),
			PreferencesHash: hash,
			ExpiresTs:       l.now().Add(l.ttl).Unix(),
		}); err != nil {
			slog.Warn("failed to cache user context", "user", userID, "err", err)
		}
	}
	return uc, nil
}

func (l *ContextLoader) build(ctx context.Context, userID string, prefs *store.Preferences) (*UserContext, error) {
	open, err := l.store.ListTasks(ctx, &store.FindTask{
		UserID:    &userID,
		Completed: util.PointerOf(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list open tasks: %w", err)
	}
	uc := &UserContext{
		UserID:       userID,
		Timezone:     prefs.Timezone,
		WorkdayStart: minutesToClock(prefs.WorkdayStartMinutes),
		WorkdayEnd:   minutesToClock(prefs.WorkdayEndMinutes),
		OpenTasks:    len(open),
	}
	for i := 0; i < len(open) && i < 5; i++ {
		uc.RecentTaskTitles = append(uc.RecentTaskTitles, open[i].Title)
	}
	return uc, nil
}

// preferencesHash fingerprints the scheduling-relevant preference fields so
// cached contexts invalidate when they change.
func preferencesHash(prefs *store.Preferences) string {
	clone := *prefs
	clone.CreatedTs = 0
	clone.UpdatedTs = 0
	raw, err := json.Marshal(clone)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func minutesToClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
