package monitor

import (
	"testing"
	"time"

	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/notify"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/rules"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/weather"
)

func cleaningResult() (rules.Result, error) {
	return rules.Result{
		Address: "100 W Example St",
		Rules:   []rules.Rule{{Type: rules.TypeStreetCleaning, Message: "No parking 9am-3pm.", Severity: "high"}},
	}, nil
}

func snowRouteResult() (rules.Result, error) {
	return rules.Result{
		Address: "200 N Salt Rd",
		Rules:   []rules.Rule{{Type: rules.TypeSnowRoute, Message: "2-inch snow route.", Severity: "high"}},
	}, nil
}

func TestRescanUpdatesStatusWithoutRenotifying(t *testing.T) {
	f := newFixture(t)
	f.rules.respond(func(lat, lng float64) (rules.Result, error) { return cleaningResult() })

	f.park()
	if got := f.notifier.sentCount(); got != 1 {
		t.Fatalf("expected the initial restriction alert, got %d", got)
	}

	// The restriction is gone by the next rescan.
	f.rules.respond(allClear("100 W Example St"))
	f.clk.Advance(RescanInterval)

	if got := f.history.updateCount(); got != 1 {
		t.Fatalf("rescan must still update the stored status, got %d updates", got)
	}
	if got := f.notifier.sentCount(); got != 1 {
		t.Fatalf("all-clear rescan must not notify, got %d sends", got)
	}
}

func TestRescanNotifiesNewlyActiveOnce(t *testing.T) {
	f := newFixture(t)
	f.park()
	if got := f.notifier.sentCount(); got != 1 {
		t.Fatalf("expected the all-clear alert, got %d", got)
	}

	f.rules.respond(func(lat, lng float64) (rules.Result, error) { return cleaningResult() })
	f.clk.Advance(RescanInterval)

	alert, ok := f.notifier.lastSent()
	if !ok || alert.Category != notify.CategoryConditions {
		t.Fatalf("expected conditions-changed alert, got %+v", alert)
	}
	if got := f.notifier.sentCount(); got != 2 {
		t.Fatalf("expected exactly one conditions alert, got %d sends", got)
	}

	// Still active at the next rescan: no repeat.
	f.clk.Advance(RescanInterval)
	if got := f.notifier.sentCount(); got != 2 {
		t.Fatalf("still-active rescan must not renotify, got %d sends", got)
	}
}

func TestSnowMonitorUrgencyEscalation(t *testing.T) {
	f := newFixture(t)
	f.rules.respond(func(lat, lng float64) (rules.Result, error) { return snowRouteResult() })

	farStart := f.clk.Now().Add(30 * time.Hour)
	f.weather.set([]weather.Period{{
		Name:             "Sunday Night",
		StartTime:        farStart,
		EndTime:          farStart.Add(12 * time.Hour),
		DetailedForecast: "Snow. 3 to 5 inches of snow expected.",
	}}, nil)

	f.park()
	f.clk.Advance(SnowSettleDelay)

	alert, ok := f.notifier.lastSent()
	if !ok || alert.Category != notify.CategorySnowForecast {
		t.Fatalf("expected snow alert, got %+v", alert)
	}
	if alert.Urgency != notify.UrgencyInfo {
		t.Fatalf("30h lead should be informational, got %s", alert.Urgency)
	}

	// A closer re-forecast can still escalate: the notified flag was
	// left clear on the informational tier.
	nearStart := f.clk.Now().Add(SnowInterval).Add(4 * time.Hour)
	f.weather.set([]weather.Period{{
		Name:             "Tonight",
		StartTime:        nearStart,
		EndTime:          nearStart.Add(12 * time.Hour),
		DetailedForecast: "Snow. 3 to 5 inches of snow expected.",
	}}, nil)
	sends := f.notifier.sentCount()
	f.clk.Advance(SnowInterval)

	alert, _ = f.notifier.lastSent()
	if alert.Urgency != notify.UrgencyUrgent {
		t.Fatalf("4h lead should be urgent, got %s", alert.Urgency)
	}
	if f.notifier.sentCount() != sends+1 {
		t.Fatalf("expected one escalated alert")
	}

	// Urgent tier sets the flag: no repeat on the next cadence.
	f.clk.Advance(SnowInterval)
	if f.notifier.sentCount() != sends+1 {
		t.Fatalf("urgent alert must not repeat")
	}
}

func TestSnowMonitorWarningTier(t *testing.T) {
	f := newFixture(t)
	f.rules.respond(func(lat, lng float64) (rules.Result, error) { return snowRouteResult() })

	start := f.clk.Now().Add(12 * time.Hour)
	f.weather.set([]weather.Period{{
		Name:             "Tomorrow",
		StartTime:        start,
		EndTime:          start.Add(12 * time.Hour),
		DetailedForecast: "Heavy snow expected through the evening.",
	}}, nil)

	f.park()
	f.clk.Advance(SnowSettleDelay)

	alert, ok := f.notifier.lastSent()
	if !ok || alert.Category != notify.CategorySnowForecast {
		t.Fatalf("qualitative heavy-snow mention should alert, got %+v", alert)
	}
	if alert.Urgency != notify.UrgencyWarning {
		t.Fatalf("12h lead should be a warning, got %s", alert.Urgency)
	}
}

func TestSnowMonitorNotArmedOffSnowRoute(t *testing.T) {
	f := newFixture(t)
	f.park()
	f.clk.Advance(SnowSettleDelay + SnowInterval)

	f.weather.mu.Lock()
	calls := f.weather.pointCalls
	f.weather.mu.Unlock()
	if calls != 0 {
		t.Fatalf("snow monitor must stay disarmed off snow routes")
	}
}

func TestParkedTimersTornDownOnDeparture(t *testing.T) {
	fastConfirmBackoff(t)
	f := newFixture(t)
	f.rules.respond(func(lat, lng float64) (rules.Result, error) { return snowRouteResult() })

	f.park()
	f.clk.Advance(31 * time.Second)
	f.drive(time.Time{})

	checks := f.rules.callCount()
	f.clk.Advance(RescanInterval + SnowSettleDelay)

	f.weather.mu.Lock()
	weatherCalls := f.weather.pointCalls
	f.weather.mu.Unlock()
	if weatherCalls != 0 {
		t.Fatalf("snow monitor must stop on departure")
	}
	if f.rules.callCount() != checks {
		t.Fatalf("rescan must stop on departure")
	}
}
