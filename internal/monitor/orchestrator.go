package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/geo"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/history"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/location"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/notify"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/rules"
)

// CheckThrottle is the minimum interval between periodic checks.
// Authoritative triggers are never throttled.
const CheckThrottle = 5 * time.Minute

// RefineThresholdM is the phase-1/phase-2 divergence above which the
// first fix is treated as materially wrong.
const RefineThresholdM = 25.0

// upcomingHorizon bounds the upcoming-restriction summary.
const upcomingHorizon = 7 * 24 * time.Hour

// runCheckLocked is the parking-check orchestrator. Caller holds r.mu.
func (r *Runtime) runCheckLocked(ctx context.Context, trig Trigger, preCaptured *location.Fix) error {
	now := r.sched.Now()
	if trig == TriggerPeriodic && r.st.LastCheckTime != nil && now.Sub(*r.st.LastCheckTime) < CheckThrottle {
		return nil
	}

	// A still-pending departure from the previous spot must be closed
	// before this spot's record is written, so history never shows
	// "parked at B" before "left A".
	r.finalizePendingLocked(ctx)

	if err := r.pipeline.ClearCache(ctx); err != nil {
		log.Printf("location cache clear failed: %v", err)
	}

	fix, err := r.pipeline.Phase1(ctx, preCaptured)
	if err != nil {
		r.surfaceFailureLocked(ctx, trig, "location", "Could not determine where you parked.")
		return err
	}

	res, err := r.rules.Check(ctx, fix.Lat, fix.Lng)
	if err != nil {
		// No history write on a failed rules check.
		r.surfaceFailureLocked(ctx, trig, "rules", "Parking check failed. Will retry automatically.")
		return err
	}

	rec, err := r.history.Append(ctx, history.Record{
		VehicleID: r.vehicleID,
		Lat:       fix.Lat,
		Lng:       fix.Lng,
		AccuracyM: fix.AccuracyM,
		Source:    fix.Source,
		Address:   res.Address,
		Rules:     res.Rules,
		CheckedAt: now,
	})
	if err != nil {
		log.Printf("history append failed: %v", err)
	}

	if r.reminders != nil {
		forwarded := rec
		go func() {
			if err := r.reminders.Forward(context.Background(), forwarded); err != nil {
				log.Printf("reminder forward failed: %v", err)
			}
		}()
	}

	r.st.IsMonitoring = true
	r.st.LastCheckTime = &now
	r.lastParked = fix
	r.lastRecordID = rec.ID
	r.lastHadActive = res.HasActive()
	r.persistLocked(ctx)

	visible := r.filterHomeZone(ctx, res.Rules)
	r.notifyParkingLocked(ctx, res, visible, now)
	r.scheduleRemindersLocked(res, visible, now)

	r.armRescanLocked()
	if hasSnowRoute(res.Rules) {
		r.armSnowLocked()
	}

	r.generation++
	gen := r.generation
	go r.refine(gen, fix, rec.ID)
	return nil
}

// refine is the fire-and-forget phase-2 pass: a higher-confidence fix
// that, when it diverges materially, silently corrects the record,
// status, notification, and reminders. It never surfaces errors and
// never writes once a newer parking event exists.
func (r *Runtime) refine(gen uint64, base location.Fix, recordID string) {
	ctx := context.Background()
	refined, err := r.pipeline.Refined(ctx)
	if err != nil {
		return
	}
	if geo.DistanceMeters(base.Lat, base.Lng, refined.Lat, refined.Lng) < RefineThresholdM {
		return
	}

	res, err := r.rules.Check(ctx, refined.Lat, refined.Lng)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		return
	}

	if recordID != "" {
		if err := r.history.UpdateCheck(ctx, recordID, refined.Lat, refined.Lng, res.Address, res.Rules); err != nil {
			log.Printf("refined history update failed: %v", err)
		}
	}
	r.lastParked = refined
	r.lastHadActive = res.HasActive()

	now := r.sched.Now()
	visible := r.filterHomeZone(ctx, res.Rules)
	r.notifyParkingLocked(ctx, res, visible, now)
	r.scheduleRemindersLocked(res, visible, now)
}

// filterHomeZone suppresses a permit-zone warning only when the account
// declared a matching home zone. Everything else passes through.
func (r *Runtime) filterHomeZone(ctx context.Context, matched []rules.Rule) []rules.Rule {
	if r.zones == nil {
		return matched
	}
	home, err := r.zones.HomeZone(ctx, r.vehicleID)
	if err != nil || home == "" {
		return matched
	}

	out := matched[:0:0]
	for _, rule := range matched {
		if rule.Type == rules.TypePermitZone && rule.Zone == home {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// notifyParkingLocked sends the single per-check notification:
// restriction warning or all-clear, augmented with the upcoming
// summary and the enforcement-risk narrative.
func (r *Runtime) notifyParkingLocked(ctx context.Context, res rules.Result, visible []rules.Rule, now time.Time) {
	var a notify.Alert
	if len(visible) > 0 {
		a = notify.Alert{
			Category: notify.CategoryRestriction,
			Title:    "Parking restriction where you parked",
			Urgency:  notify.UrgencyWarning,
		}
		lines := make([]string, 0, len(visible))
		for _, rule := range visible {
			lines = append(lines, rule.Message)
		}
		a.Body = strings.Join(lines, " ")
	} else {
		a = notify.Alert{
			Category: notify.CategoryAllClear,
			Title:    "You're parked legally",
			Body:     "No active restrictions at " + res.Address + ".",
			Urgency:  notify.UrgencyInfo,
		}
	}

	if upcoming := upcomingSummary(res.Rules, now); upcoming != "" {
		a.Body += " " + upcoming
	}
	a.Body += " " + riskNarrative(res.Risk)

	if err := r.notifier.Send(ctx, a); err != nil {
		log.Printf("parking notification failed: %v", err)
	}
}

// upcomingSummary lists time-bound restrictions coming up, computed
// from schedule dates independently of whether the rule is active now.
func upcomingSummary(matched []rules.Rule, now time.Time) string {
	var parts []string
	for _, rule := range matched {
		if rule.NextDate.IsZero() || !rule.NextDate.After(now) {
			continue
		}
		if rule.NextDate.Sub(now) > upcomingHorizon {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s on %s.", restrictionLabel(rule.Type), rule.NextDate.Format("Mon Jan 2")))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Upcoming: " + strings.Join(parts, " ")
}

func restrictionLabel(ruleType string) string {
	switch ruleType {
	case rules.TypeStreetCleaning:
		return "Street cleaning"
	case rules.TypeWinterBan:
		return "Winter overnight ban"
	case rules.TypePermitZone:
		return "Permit enforcement"
	case rules.TypeSnowRoute:
		return "Snow route restriction"
	default:
		return "Restriction"
	}
}

// riskNarrative maps the external risk score onto three tiers.
func riskNarrative(risk rules.Risk) string {
	switch {
	case risk.Score >= 0.7:
		return "Enforcement risk here is high."
	case risk.Score >= 0.4:
		return "Enforcement risk here is moderate."
	default:
		return "Enforcement risk here is low."
	}
}

// scheduleRemindersLocked replaces the reminder set for the current
// spot: advance reminders per restriction type, plus at most one
// mid-window follow-up for high-urgency risk windows.
func (r *Runtime) scheduleRemindersLocked(res rules.Result, visible []rules.Rule, now time.Time) {
	r.notifier.CancelAll()

	for _, rule := range visible {
		if rule.NextDate.IsZero() {
			continue
		}
		day := time.Date(rule.NextDate.Year(), rule.NextDate.Month(), rule.NextDate.Day(), 0, 0, 0, 0, rule.NextDate.Location())

		switch rule.Type {
		case rules.TypeStreetCleaning:
			r.scheduleReminder("reminder:cleaning:eve", day.Add(-5*time.Hour), now,
				"Street cleaning tomorrow", "Move your car before the morning. "+rule.Message)
			r.scheduleReminder("reminder:cleaning:morning", day.Add(7*time.Hour), now,
				"Street cleaning today", rule.Message)
		case rules.TypeWinterBan:
			r.scheduleReminder("reminder:winterban:eve", day.Add(-3*time.Hour), now,
				"Winter overnight ban tonight", rule.Message)
		case rules.TypePermitZone:
			r.scheduleReminder("reminder:permit:morning", day.Add(8*time.Hour), now,
				"Permit zone enforcement", rule.Message)
		}
	}

	// High-urgency risk windows get one follow-up, at most two hours
	// out and never past the window's end.
	if res.Risk.Score >= 0.7 && !res.Risk.PeakEnd.IsZero() && res.Risk.PeakEnd.After(now) {
		at := now.Add(2 * time.Hour)
		if at.After(res.Risk.PeakEnd) {
			at = res.Risk.PeakEnd
		}
		r.notifier.ScheduleAt("reminder:risk-followup", at, notify.Alert{
			Category: notify.CategoryReminder,
			Title:    "High ticketing activity right now",
			Body:     "Your spot is in a peak enforcement window. Consider moving.",
			Urgency:  notify.UrgencyUrgent,
		})
	}
}

func (r *Runtime) scheduleReminder(id string, at time.Time, now time.Time, title, body string) {
	if !at.After(now) {
		return
	}
	r.notifier.ScheduleAt(id, at, notify.Alert{
		Category: notify.CategoryReminder,
		Title:    title,
		Body:     body,
		Urgency:  notify.UrgencyWarning,
	})
}

// surfaceFailureLocked reports a check failure to the user, but only
// for authoritative triggers, rate-limited per category, and not when
// a successful check already happened within the throttle window.
func (r *Runtime) surfaceFailureLocked(ctx context.Context, trig Trigger, category, body string) {
	if trig != TriggerAuthoritative {
		return
	}
	if r.st.LastCheckTime != nil && r.sched.Now().Sub(*r.st.LastCheckTime) < CheckThrottle {
		return
	}
	if !r.dedup.Allow(ctx, "monitor:errnotice:"+category, ErrNoticeWindow) {
		return
	}
	if err := r.notifier.Send(ctx, notify.Alert{
		Category: notify.CategoryCheckFailed,
		Title:    "Parking check problem",
		Body:     body,
		Urgency:  notify.UrgencyWarning,
	}); err != nil {
		log.Printf("failure notification failed: %v", err)
	}
}

func hasSnowRoute(matched []rules.Rule) bool {
	for _, rule := range matched {
		if rule.Type == rules.TypeSnowRoute {
			return true
		}
	}
	return false
}
