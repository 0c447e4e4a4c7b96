package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/clock"

	"github.com/redis/go-redis/v9"
)

// SideEffectWindow is the dedup window around side-effect execution.
// The state machine's own debounce handles state correctness; this
// window protects side effects (location pipeline + notification +
// persistence) from firing twice when multiple channels report the
// same physical event.
const SideEffectWindow = 30 * time.Second

// ErrNoticeWindow rate-limits user-visible failure notifications per
// category.
const ErrNoticeWindow = 30 * time.Second

// Deduper answers "has this key been claimed within the window". Redis
// SET NX EX gives cross-restart idempotence; with no redis configured
// it degrades to an in-process map.
type Deduper struct {
	redis *redis.Client
	sched clock.Scheduler

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewDeduper(redisClient *redis.Client, sched clock.Scheduler) *Deduper {
	return &Deduper{
		redis: redisClient,
		sched: sched,
		seen:  map[string]time.Time{},
	}
}

// Allow claims key for the window. The first caller wins; callers
// within the window of a prior claim get false.
func (d *Deduper) Allow(ctx context.Context, key string, window time.Duration) bool {
	if d.redis != nil {
		ok, err := d.redis.SetNX(ctx, key, "1", window).Result()
		if err == nil {
			return ok
		}
		// redis down: fall through to the in-memory window
	}

	now := d.sched.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, expires := range d.seen {
		if now.After(expires) {
			delete(d.seen, k)
		}
	}
	if expires, ok := d.seen[key]; ok && now.Before(expires) {
		return false
	}
	d.seen[key] = now.Add(window)
	return true
}
