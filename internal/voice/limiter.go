package voice

import (
	"context"
	"sync"
	"time"
)

// DailyLimiter tracks how much XP each user has been granted per local day
type DailyLimiter interface {
	// Reserve claims up to amount XP from today's allowance and returns how
	// much was actually claimed. limit <= 0 means unlimited.
	Reserve(ctx context.Context, guildID, userID string, amount, limit int, now time.Time) (int, error)
}

// DayKey formats the calendar day of t in loc, used to key daily counters
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// MemoryDailyLimiter keeps daily counters in process memory
type MemoryDailyLimiter struct {
	mu   sync.Mutex
	loc  *time.Location
	day  string
	used map[string]int // key: guildID:userID
}

// NewMemoryDailyLimiter creates an in-memory limiter that rolls over at
// midnight in loc.
func NewMemoryDailyLimiter(loc *time.Location) *MemoryDailyLimiter {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryDailyLimiter{loc: loc, used: make(map[string]int)}
}

// Reserve implements DailyLimiter
func (l *MemoryDailyLimiter) Reserve(_ context.Context, guildID, userID string, amount, limit int, now time.Time) (int, error) {
	if amount <= 0 {
		return 0, nil
	}
	if limit <= 0 {
		return amount, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if day := DayKey(now, l.loc); day != l.day {
		l.day = day
		clear(l.used)
	}

	key := guildID + ":" + userID
	granted := min(amount, max(limit-l.used[key], 0))
	l.used[key] += granted
	return granted, nil
}
