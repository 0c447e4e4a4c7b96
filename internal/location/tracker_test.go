package location

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testProvider(t *testing.T) (*TrackerProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := NewTrackerProvider(client, "vehicle-1")
	p.pollEvery = time.Millisecond
	return p, mr
}

func TestFastFixFreshness(t *testing.T) {
	p, _ := testProvider(t)
	ctx := context.Background()

	if _, err := p.FastFix(ctx); err == nil {
		t.Fatalf("expected no fix before any report")
	}

	p.Record(ctx, Report{Fix: Fix{Lat: 41.88, Lng: -87.63, AccuracyM: 10}})
	fix, err := p.FastFix(ctx)
	if err != nil {
		t.Fatalf("fast fix: %v", err)
	}
	if fix.Lat != 41.88 || fix.Source != "fast" {
		t.Fatalf("unexpected fix: %+v", fix)
	}

	p.Record(ctx, Report{Fix: Fix{Lat: 41.89, Lng: -87.64, At: time.Now().Add(-time.Minute)}})
	if _, err := p.FastFix(ctx); err == nil {
		t.Fatalf("expected stale report to be rejected")
	}
}

func TestBoundedFixExhausts(t *testing.T) {
	p, _ := testProvider(t)
	if _, err := p.BoundedFix(context.Background(), 2); err == nil {
		t.Fatalf("expected bounded fix to fail with no reports")
	}
}

func TestStaleCachedFixSurvivesMemoryClear(t *testing.T) {
	p, _ := testProvider(t)
	ctx := context.Background()

	p.Record(ctx, Report{Fix: Fix{Lat: 41.88, Lng: -87.63}})
	if err := p.ClearCache(ctx); err != nil {
		t.Fatalf("clear cache: %v", err)
	}

	if _, err := p.CachedFix(ctx); err == nil {
		t.Fatalf("expected in-memory cache cleared")
	}
	fix, err := p.StaleCachedFix(ctx)
	if err != nil {
		t.Fatalf("stale cache: %v", err)
	}
	if fix.Lat != 41.88 || fix.Source != "stale-cache" {
		t.Fatalf("unexpected fix: %+v", fix)
	}
}

func TestLastDrivingFixOnlyWhileMoving(t *testing.T) {
	p, _ := testProvider(t)
	ctx := context.Background()

	p.Record(ctx, Report{Fix: Fix{Lat: 41.90, Lng: -87.65}, Moving: true, SpeedMps: 9})
	p.Record(ctx, Report{Fix: Fix{Lat: 41.88, Lng: -87.63}})

	fix, err := p.LastDrivingFix(ctx)
	if err != nil {
		t.Fatalf("driving fix: %v", err)
	}
	if fix.Lat != 41.90 {
		t.Fatalf("expected the moving report, got %+v", fix)
	}
}

func TestRefinedFixPicksBestAccuracy(t *testing.T) {
	p, _ := testProvider(t)
	ctx := context.Background()

	p.Record(ctx, Report{Fix: Fix{Lat: 41.8801, Lng: -87.6301, AccuracyM: 40}})
	p.Record(ctx, Report{Fix: Fix{Lat: 41.8803, Lng: -87.6302, AccuracyM: 5}})
	p.Record(ctx, Report{Fix: Fix{Lat: 41.8802, Lng: -87.6305, AccuracyM: 25}})

	fix, err := p.RefinedFix(ctx, 5)
	if err != nil {
		t.Fatalf("refined fix: %v", err)
	}
	if fix.AccuracyM != 5 || fix.Source != "refined" {
		t.Fatalf("unexpected refined fix: %+v", fix)
	}
}

func TestRefinedFixNeedsTwoSamples(t *testing.T) {
	p, _ := testProvider(t)
	ctx := context.Background()

	p.Record(ctx, Report{Fix: Fix{Lat: 41.88, Lng: -87.63, AccuracyM: 10}})
	if _, err := p.RefinedFix(ctx, 5); err == nil {
		t.Fatalf("expected refined fix to need at least two samples")
	}
}

func TestPipelineLadder(t *testing.T) {
	p, _ := testProvider(t)
	ctx := context.Background()
	pipe := NewPipeline(p)

	if _, err := pipe.Phase1(ctx, nil); err == nil {
		t.Fatalf("expected unavailable with no data")
	}

	pre := &Fix{Lat: 41.87, Lng: -87.62, Source: "tracker-stop"}
	fix, err := pipe.Phase1(ctx, pre)
	if err != nil || fix.Source != "tracker-stop" {
		t.Fatalf("pre-captured fix should win: %+v %v", fix, err)
	}

	// An old report is invisible to FastFix but reachable via the cache.
	p.Record(ctx, Report{Fix: Fix{Lat: 41.86, Lng: -87.61, At: time.Now().Add(-time.Minute)}})
	fix, err = pipe.Phase1(ctx, nil)
	if err != nil {
		t.Fatalf("phase1: %v", err)
	}
	if fix.Source != "cached" {
		t.Fatalf("expected cached fallback, got %s", fix.Source)
	}
}

func TestProviderWithoutRedis(t *testing.T) {
	p := NewTrackerProvider(nil, "vehicle-1")
	p.pollEvery = time.Millisecond
	ctx := context.Background()

	p.Record(ctx, Report{Fix: Fix{Lat: 41.88, Lng: -87.63}})
	if _, err := p.FastFix(ctx); err != nil {
		t.Fatalf("fast fix without redis: %v", err)
	}
	if _, err := p.StaleCachedFix(ctx); err == nil {
		t.Fatalf("stale cache should be unavailable without redis")
	}
	if err := p.ClearCache(ctx); err != nil {
		t.Fatalf("clear cache without redis: %v", err)
	}
}
