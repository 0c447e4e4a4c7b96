package monitor

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/notify"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/weather"
)

const (
	// RescanInterval is the slow-cadence re-evaluation while parked.
	RescanInterval = 4 * time.Hour

	// SnowSettleDelay defers the first forecast check after parking on
	// a snow route.
	SnowSettleDelay = 5 * time.Minute

	// SnowInterval is the forecast re-check cadence.
	SnowInterval = 2 * time.Hour

	snowUrgentLead  = 6 * time.Hour
	snowWarningLead = 24 * time.Hour
)

// Forecasts are pulled for a fixed downtown reference point; the snow
// ban is citywide, so the parked coordinate adds nothing.
const (
	snowRefLat = 41.8781
	snowRefLng = -87.6298
)

func (r *Runtime) armRescanLocked() {
	if r.rescanTimer != nil {
		r.rescanTimer.Stop()
	}
	r.rescanTimer = r.sched.AfterFunc(RescanInterval, r.rescan)
}

// rescan re-runs the rules check against the saved coordinate. The
// stored status is always updated; a notification goes out only when
// restrictions turned active since the last look.
func (r *Runtime) rescan() {
	ctx := context.Background()
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.st.IsMonitoring {
		return
	}
	r.armRescanLocked()

	res, err := r.rules.Check(ctx, r.lastParked.Lat, r.lastParked.Lng)
	if err != nil {
		log.Printf("rescan rules check failed: %v", err)
		return
	}

	if r.lastRecordID != "" {
		if err := r.history.UpdateCheck(ctx, r.lastRecordID, r.lastParked.Lat, r.lastParked.Lng, res.Address, res.Rules); err != nil {
			log.Printf("rescan status update failed: %v", err)
		}
	}

	nowActive := res.HasActive()
	if nowActive && !r.lastHadActive {
		visible := r.filterHomeZone(ctx, res.Rules)
		if len(visible) > 0 {
			if err := r.notifier.Send(ctx, notify.Alert{
				Category: notify.CategoryConditions,
				Title:    "Conditions changed where you're parked",
				Body:     visible[0].Message,
				Urgency:  notify.UrgencyWarning,
			}); err != nil {
				log.Printf("conditions notification failed: %v", err)
			}
			r.scheduleRemindersLocked(res, visible, r.sched.Now())
		}
	}
	r.lastHadActive = nowActive

	if hasSnowRoute(res.Rules) && r.snowTimer == nil {
		r.armSnowLocked()
	}
}

func (r *Runtime) armSnowLocked() {
	if r.snowTimer != nil {
		r.snowTimer.Stop()
	}
	r.snowNotified = false
	r.snowTimer = r.sched.AfterFunc(SnowSettleDelay, r.snowScan)
}

// snowScan polls the forecast for an accumulation that would trip the
// snow ban, and escalates urgency as the event gets closer. The
// informational tier leaves the notified flag clear so a closer
// re-forecast can still escalate.
func (r *Runtime) snowScan() {
	ctx := context.Background()
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.st.IsMonitoring {
		return
	}
	r.snowTimer = r.sched.AfterFunc(SnowInterval, r.snowScan)

	forecastURL, err := r.weather.PointForecastURL(ctx, snowRefLat, snowRefLng)
	if err != nil {
		log.Printf("forecast point lookup failed: %v", err)
		return
	}
	periods, err := r.weather.Forecast(ctx, forecastURL)
	if err != nil {
		log.Printf("forecast fetch failed: %v", err)
		return
	}

	threat := weather.FirstSnowThreat(periods, r.sched.Now())
	if threat == nil || r.snowNotified {
		return
	}

	urgency := notify.UrgencyInfo
	switch {
	case threat.LeadTime <= snowUrgentLead:
		urgency = notify.UrgencyUrgent
	case threat.LeadTime <= snowWarningLead:
		urgency = notify.UrgencyWarning
	}

	if err := r.notifier.Send(ctx, notify.Alert{
		Category: notify.CategorySnowForecast,
		Title:    "Snow forecast: move off the snow route",
		Body:     threat.PeriodName + ": about " + formatInches(threat.Inches) + " of snow expected. The 2-inch ban may be enforced.",
		Urgency:  urgency,
	}); err != nil {
		log.Printf("snow notification failed: %v", err)
		return
	}
	r.snowNotified = urgency != notify.UrgencyInfo
}

func formatInches(inches float64) string {
	return strconv.FormatFloat(inches, 'f', -1, 64) + " inches"
}
