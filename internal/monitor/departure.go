package monitor

import (
	"context"
	"log"
	"time"

	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/geo"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/history"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/location"

	"github.com/cenkalti/backoff/v5"
)

const (
	// ConfirmDelay is how long after departure start the confirmation
	// fix is taken.
	ConfirmDelay = 60 * time.Second

	// ConfirmRetryDelay is the fixed interval between failed
	// confirmation attempts.
	ConfirmRetryDelay = 60 * time.Second

	// MaxConfirmRetries bounds retries after the first attempt, so
	// four attempts happen in total.
	MaxConfirmRetries = 3

	// ConclusiveDistanceM is the distance beyond which a departure is
	// conclusive.
	ConclusiveDistanceM = 50.0

	// localFixTimeout bounds the one best-effort GPS read used when no
	// parked coordinate is known in local-only mode.
	localFixTimeout = 5 * time.Second

	confirmFixSamples = 3
	confirmFixTries   = 3
)

var confirmFixInterval = time.Second

// beginDepartureLocked opens the pending departure the instant a
// reconnection is detected. DepartedAt is the driving-start time —
// the hardware timestamp when available — and is what later lands in
// the proof-of-departure record, regardless of how long confirmation
// takes.
func (r *Runtime) beginDepartureLocked(ctx context.Context, hardwareTime time.Time) {
	if r.st.Pending != nil {
		return
	}

	now := r.sched.Now()
	departedAt := hardwareTime
	if departedAt.IsZero() {
		departedAt = now
	}

	pd := PendingDeparture{
		ClearedAt:   now,
		DepartedAt:  departedAt,
		ScheduledAt: now.Add(ConfirmDelay),
	}

	cleared, err := r.sessions.ClearParkedLocation(ctx, r.vehicleID)
	if err == nil {
		pd.SessionRef = cleared.SessionID
		pd.ParkedLat = cleared.Lat
		pd.ParkedLng = cleared.Lng
	} else {
		// Local-only mode: the parked coordinate comes from the most
		// recent open history record, else one best-effort GPS read,
		// else the departure is silently not tracked.
		log.Printf("remote clear failed, departure runs local-only: %v", err)
		rec, recErr := r.history.MostRecent(ctx, r.vehicleID)
		switch {
		case recErr == nil && rec.Departure == nil:
			pd.ParkedLat = rec.Lat
			pd.ParkedLng = rec.Lng
			pd.LocalRecordRef = rec.ID
		case recErr == nil:
			// The latest record is already closed out; this departure
			// is accounted for and nothing is left to prove.
			return
		default:
			fixCtx, cancel := context.WithTimeout(ctx, localFixTimeout)
			fix, fixErr := r.provider.BoundedFix(fixCtx, 1)
			cancel()
			if fixErr != nil {
				return
			}
			pd.ParkedLat = fix.Lat
			pd.ParkedLng = fix.Lng
		}
	}

	if pd.LocalRecordRef == "" {
		if rec, recErr := r.history.MostRecent(ctx, r.vehicleID); recErr == nil && rec.Departure == nil {
			pd.LocalRecordRef = rec.ID
		}
	}

	r.st.Pending = &pd
	r.confirmTimer = r.sched.AfterFunc(ConfirmDelay, r.confirmDeparture)
}

// confirmDeparture is the timer entry point for a scheduled or retried
// confirmation attempt.
func (r *Runtime) confirmDeparture() {
	ctx := context.Background()
	r.mu.Lock()
	defer r.mu.Unlock()

	pd := r.st.Pending
	if pd == nil {
		return
	}
	r.confirmTimer = nil

	switch r.attemptConfirmationLocked(ctx, pd) {
	case phaseSucceeded:
		r.st.Pending = nil
		r.persistLocked(ctx)
	case phaseRetryable:
		pd.RetryCount++
		pd.ScheduledAt = r.sched.Now().Add(ConfirmRetryDelay)
		r.persistLocked(ctx)
		r.confirmTimer = r.sched.AfterFunc(ConfirmRetryDelay, r.confirmDeparture)
	case phaseTerminal:
		// Non-critical evidence: give up silently.
		log.Printf("departure confirmation abandoned after %d attempts", pd.RetryCount+1)
		r.st.Pending = nil
		r.persistLocked(ctx)
	}
}

// attemptConfirmationLocked runs one confirmation attempt and reports
// the resulting phase.
func (r *Runtime) attemptConfirmationLocked(ctx context.Context, pd *PendingDeparture) confirmPhase {
	fix, err := r.confirmationFix(ctx)
	if err != nil {
		return r.confirmFailureLocked(pd)
	}

	var distance float64
	if pd.SessionRef != "" {
		confirmed, err := r.sessions.ConfirmDeparture(ctx, pd.SessionRef, fix.Lat, fix.Lng)
		if err != nil {
			return r.confirmFailureLocked(pd)
		}
		distance = confirmed.DistanceM
	} else {
		distance = geo.DistanceMeters(pd.ParkedLat, pd.ParkedLng, fix.Lat, fix.Lng)
		// Opportunistic promotion to a server-backed record; the local
		// outcome stands either way.
		go r.reconcileRemote(fix)
	}

	dep := history.Departure{
		ConfirmedAt: pd.DepartedAt,
		DistanceM:   distance,
		Conclusive:  distance > ConclusiveDistanceM,
		Lat:         fix.Lat,
		Lng:         fix.Lng,
	}
	if pd.LocalRecordRef != "" {
		if err := r.history.SetDeparture(ctx, pd.LocalRecordRef, dep); err != nil {
			return r.confirmFailureLocked(pd)
		}
	}
	return phaseSucceeded
}

func (r *Runtime) confirmFailureLocked(pd *PendingDeparture) confirmPhase {
	if pd.RetryCount >= MaxConfirmRetries {
		return phaseTerminal
	}
	return phaseRetryable
}

// confirmationFix takes the post-departure fix: a bounded-retry
// high-accuracy acquisition, falling back to one low-accuracy read.
func (r *Runtime) confirmationFix(ctx context.Context) (location.Fix, error) {
	fix, err := backoff.Retry(ctx, func() (location.Fix, error) {
		return r.provider.RefinedFix(ctx, confirmFixSamples)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(confirmFixInterval)),
		backoff.WithMaxTries(confirmFixTries))
	if err == nil {
		return fix, nil
	}
	return r.provider.FastFix(ctx)
}

func (r *Runtime) reconcileRemote(fix location.Fix) {
	ctx := context.Background()
	cleared, err := r.sessions.ClearParkedLocation(ctx, r.vehicleID)
	if err != nil {
		return
	}
	_, _ = r.sessions.ConfirmDeparture(ctx, cleared.SessionID, fix.Lat, fix.Lng)
}

// finalizePendingLocked closes a still-pending departure the moment a
// new parking event arrives. The new event is itself proof the car
// left, so no waiting or GPS is needed: distance zero, conclusive,
// with the already-known departure time. The confirmation timer is
// cancelled so it cannot write a conflicting record later.
func (r *Runtime) finalizePendingLocked(ctx context.Context) {
	pd := r.st.Pending
	if pd == nil {
		return
	}
	if r.confirmTimer != nil {
		r.confirmTimer.Stop()
		r.confirmTimer = nil
	}

	if pd.LocalRecordRef != "" {
		dep := history.Departure{
			ConfirmedAt: pd.DepartedAt,
			DistanceM:   0,
			Conclusive:  true,
			Lat:         pd.ParkedLat,
			Lng:         pd.ParkedLng,
		}
		if err := r.history.SetDeparture(ctx, pd.LocalRecordRef, dep); err != nil {
			log.Printf("departure finalization write failed: %v", err)
		}
	}
	r.st.Pending = nil
	r.persistLocked(ctx)
}
