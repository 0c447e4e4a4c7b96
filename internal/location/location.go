package location

import (
	"context"
	"errors"
	"time"
)

// Fix is a single resolved coordinate.
type Fix struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	AccuracyM float64   `json:"accuracy_m"`
	Source    string    `json:"source"`
	At        time.Time `json:"at"`
}

// ErrUnavailable means every acquisition fallback was exhausted.
var ErrUnavailable = errors.New("location unavailable")

// ErrNoFix means a single acquisition step produced nothing.
var ErrNoFix = errors.New("no fix")

// Provider is the location-source port consumed by the acquisition
// pipeline.
type Provider interface {
	// FastFix returns a fresh fix immediately if one exists.
	FastFix(ctx context.Context) (Fix, error)
	// BoundedFix waits for a fresh fix, retrying a bounded number of times.
	BoundedFix(ctx context.Context, attempts int) (Fix, error)
	// CachedFix returns the last in-memory fix regardless of age.
	CachedFix(ctx context.Context) (Fix, error)
	// StaleCachedFix returns the last durably stored fix.
	StaleCachedFix(ctx context.Context) (Fix, error)
	// LastDrivingFix returns the last fix recorded while the vehicle was moving.
	LastDrivingFix(ctx context.Context) (Fix, error)
	// RefinedFix returns a higher-confidence fix built from multiple samples.
	RefinedFix(ctx context.Context, samples int) (Fix, error)
	// ClearCache discards pre-fetched fixes so a new check starts clean.
	ClearCache(ctx context.Context) error
}

const boundedFixAttempts = 3

// Pipeline implements the two-phase acquisition strategy. Phase 1 is the
// blocking, decision-critical ladder; the refined phase-2 fix is fetched
// separately by the orchestrator so it can never block phase 1.
type Pipeline struct {
	provider Provider
}

func NewPipeline(provider Provider) *Pipeline {
	return &Pipeline{provider: provider}
}

// Phase1 resolves the parking coordinate. A pre-captured fix from the
// always-on tracker (taken the moment motion stopped) wins outright; it
// avoids recording where the phone ended up rather than where the car
// did. Otherwise each fallback is tried in order of decreasing quality.
func (p *Pipeline) Phase1(ctx context.Context, preCaptured *Fix) (Fix, error) {
	if preCaptured != nil {
		return *preCaptured, nil
	}

	steps := []func(context.Context) (Fix, error){
		p.provider.FastFix,
		func(ctx context.Context) (Fix, error) { return p.provider.BoundedFix(ctx, boundedFixAttempts) },
		p.provider.CachedFix,
		p.provider.StaleCachedFix,
		p.provider.LastDrivingFix,
	}
	for _, step := range steps {
		fix, err := step(ctx)
		if err == nil {
			return fix, nil
		}
	}
	return Fix{}, ErrUnavailable
}

const refinedSamples = 5

// Refined acquires the phase-2 multi-sample fix.
func (p *Pipeline) Refined(ctx context.Context) (Fix, error) {
	return p.provider.RefinedFix(ctx, refinedSamples)
}

// ClearCache forwards to the provider.
func (p *Pipeline) ClearCache(ctx context.Context) error {
	return p.provider.ClearCache(ctx)
}
