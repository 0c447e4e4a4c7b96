package location

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Report is one position report from the in-car tracker.
type Report struct {
	Fix
	SpeedMps float64 `json:"speed_mps"`
	Moving   bool    `json:"moving"`
}

const (
	fastFixMaxAge = 15 * time.Second
	recentMaxLen  = 32
	staleFixTTL   = 7 * 24 * time.Hour
)

// TrackerProvider serves fixes from tracker reports pushed over the
// report webhook. The freshest state lives in memory; redis keeps a
// durable last-known fix and a short list of recent samples for the
// refined fix. With no redis client it degrades to memory only.
type TrackerProvider struct {
	redis     *redis.Client
	vehicleID string

	mu   sync.Mutex
	last *Report

	pollEvery time.Duration
}

func NewTrackerProvider(redisClient *redis.Client, vehicleID string) *TrackerProvider {
	return &TrackerProvider{
		redis:     redisClient,
		vehicleID: vehicleID,
		pollEvery: time.Second,
	}
}

// Record ingests a tracker report.
func (t *TrackerProvider) Record(ctx context.Context, r Report) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	t.mu.Lock()
	t.last = &r
	t.mu.Unlock()

	if t.redis == nil {
		return
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return
	}
	pipe := t.redis.Pipeline()
	pipe.Set(ctx, t.key("lastfix"), payload, staleFixTTL)
	pipe.LPush(ctx, t.key("recent"), payload)
	pipe.LTrim(ctx, t.key("recent"), 0, recentMaxLen-1)
	if r.Moving {
		pipe.Set(ctx, t.key("driving"), payload, staleFixTTL)
	}
	_, _ = pipe.Exec(ctx)
}

func (t *TrackerProvider) FastFix(_ context.Context) (Fix, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil || time.Since(t.last.At) > fastFixMaxAge {
		return Fix{}, ErrNoFix
	}
	fix := t.last.Fix
	fix.Source = "fast"
	return fix, nil
}

func (t *TrackerProvider) BoundedFix(ctx context.Context, attempts int) (Fix, error) {
	for i := 0; i < attempts; i++ {
		if fix, err := t.FastFix(ctx); err == nil {
			fix.Source = "bounded"
			return fix, nil
		}
		select {
		case <-ctx.Done():
			return Fix{}, ctx.Err()
		case <-time.After(t.pollEvery):
		}
	}
	return Fix{}, ErrNoFix
}

func (t *TrackerProvider) CachedFix(_ context.Context) (Fix, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Fix{}, ErrNoFix
	}
	fix := t.last.Fix
	fix.Source = "cached"
	return fix, nil
}

func (t *TrackerProvider) StaleCachedFix(ctx context.Context) (Fix, error) {
	return t.fixFromKey(ctx, "lastfix", "stale-cache")
}

func (t *TrackerProvider) LastDrivingFix(ctx context.Context) (Fix, error) {
	return t.fixFromKey(ctx, "driving", "last-driving")
}

// RefinedFix picks the most accurate of the recent samples. At least two
// samples are required for the result to count as higher-confidence.
func (t *TrackerProvider) RefinedFix(ctx context.Context, samples int) (Fix, error) {
	if t.redis == nil {
		return Fix{}, ErrNoFix
	}
	raw, err := t.redis.LRange(ctx, t.key("recent"), 0, int64(samples-1)).Result()
	if err != nil || len(raw) < 2 {
		return Fix{}, ErrNoFix
	}

	var best *Report
	for _, item := range raw {
		var r Report
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			continue
		}
		if best == nil || r.AccuracyM < best.AccuracyM {
			best = &r
		}
	}
	if best == nil {
		return Fix{}, ErrNoFix
	}
	fix := best.Fix
	fix.Source = "refined"
	return fix, nil
}

func (t *TrackerProvider) ClearCache(ctx context.Context) error {
	t.mu.Lock()
	t.last = nil
	t.mu.Unlock()

	if t.redis == nil {
		return nil
	}
	return t.redis.Del(ctx, t.key("recent")).Err()
}

func (t *TrackerProvider) fixFromKey(ctx context.Context, suffix, source string) (Fix, error) {
	if t.redis == nil {
		return Fix{}, ErrNoFix
	}
	raw, err := t.redis.Get(ctx, t.key(suffix)).Result()
	if err != nil {
		return Fix{}, ErrNoFix
	}
	var r Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Fix{}, ErrNoFix
	}
	fix := r.Fix
	fix.Source = source
	return fix, nil
}

func (t *TrackerProvider) key(suffix string) string {
	return "tracker:" + t.vehicleID + ":" + suffix
}
