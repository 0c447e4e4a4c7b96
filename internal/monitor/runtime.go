package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/clock"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/connectivity"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/history"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/location"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/notify"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/rules"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/session"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/weather"
)

// ZoneSource resolves the user's declared home permit zone.
type ZoneSource interface {
	HomeZone(ctx context.Context, vehicleID string) (string, error)
}

// ReminderSink receives each parking check result so a remote reminder
// service can mirror the schedule. Forward failures are tolerated.
type ReminderSink interface {
	Forward(ctx context.Context, rec history.Record) error
}

// Deps are the collaborators the runtime is built from.
type Deps struct {
	VehicleID string
	Scheduler clock.Scheduler
	Machine   *connectivity.Machine
	States    StateStore
	Provider  location.Provider
	Rules     rules.Checker
	History   history.Store
	Sessions  session.Service
	Notifier  notify.Notifier
	Weather   weather.Source
	Dedup     *Deduper

	// Optional.
	Zones      ZoneSource
	Reminders  ReminderSink
	PreCapture func(ctx context.Context) *location.Fix
}

// Runtime is the parked/departed coordinator for one vehicle. All
// shared state is guarded by one mutex; timer and transition callbacks
// serialize through it, which stands in for the single-threaded event
// loop the semantics assume.
type Runtime struct {
	vehicleID string
	sched     clock.Scheduler
	machine   *connectivity.Machine
	states    StateStore
	provider  location.Provider
	pipeline  *location.Pipeline
	rules     rules.Checker
	history   history.Store
	sessions  session.Service
	notifier  notify.Notifier
	weather   weather.Source
	dedup     *Deduper

	zones      ZoneSource
	reminders  ReminderSink
	preCapture func(ctx context.Context) *location.Fix

	mu sync.Mutex
	st MonitoringState

	// generation increments per parking event; a stale phase-2
	// refinement must match it before writing.
	generation uint64

	lastRecordID  string
	lastParked    location.Fix
	lastHadActive bool
	snowNotified  bool

	rescanTimer  clock.Timer
	snowTimer    clock.Timer
	confirmTimer clock.Timer
}

func NewRuntime(d Deps) *Runtime {
	return &Runtime{
		vehicleID:  d.VehicleID,
		sched:      d.Scheduler,
		machine:    d.Machine,
		states:     d.States,
		provider:   d.Provider,
		pipeline:   location.NewPipeline(d.Provider),
		rules:      d.Rules,
		history:    d.History,
		sessions:   d.Sessions,
		notifier:   d.Notifier,
		weather:    d.Weather,
		dedup:      d.Dedup,
		zones:      d.Zones,
		reminders:  d.Reminders,
		preCapture: d.PreCapture,
	}
}

// Start loads persisted state and hooks the runtime onto the
// connectivity machine. A pending departure that survived a restart
// gets its confirmation rescheduled.
func (r *Runtime) Start(ctx context.Context) error {
	st, err := r.states.Load(ctx, r.vehicleID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.st = st
	if st.Pending != nil {
		delay := st.Pending.ScheduledAt.Sub(r.sched.Now())
		if delay < 0 {
			delay = 0
		}
		r.confirmTimer = r.sched.AfterFunc(delay, r.confirmDeparture)
	}
	if st.IsMonitoring {
		r.restoreParkedLocked(ctx)
	}
	r.mu.Unlock()

	r.machine.SubscribeAny(connectivity.StateParked, r.onParked)
	r.machine.SubscribeAny(connectivity.StateDriving, r.onDriving)
	return nil
}

// restoreParkedLocked rebuilds the parked assessment after a restart:
// the previous process held the coordinate and the rescan/snow timers
// only in memory, so they come back from the latest open history
// record.
func (r *Runtime) restoreParkedLocked(ctx context.Context) {
	rec, err := r.history.MostRecent(ctx, r.vehicleID)
	if err != nil {
		log.Printf("parked state restore failed: %v", err)
		return
	}
	if rec.Departure != nil {
		return
	}

	r.lastRecordID = rec.ID
	r.lastParked = location.Fix{Lat: rec.Lat, Lng: rec.Lng, AccuracyM: rec.AccuracyM, Source: rec.Source}
	r.lastHadActive = len(rec.Rules) > 0

	r.armRescanLocked()
	if hasSnowRoute(rec.Rules) {
		r.armSnowLocked()
	}
}

// Stop cancels every armed timer.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range []clock.Timer{r.rescanTimer, r.snowTimer, r.confirmTimer} {
		if t != nil {
			t.Stop()
		}
	}
	r.rescanTimer, r.snowTimer, r.confirmTimer = nil, nil, nil
	r.notifier.CancelAll()
}

// Status is a read-only snapshot for the status endpoint.
type Status struct {
	VehicleID     string            `json:"vehicle_id"`
	Connectivity  string            `json:"connectivity"`
	IsMonitoring  bool              `json:"is_monitoring"`
	LastCheckTime *time.Time        `json:"last_check_time,omitempty"`
	LastParkedLat float64           `json:"last_parked_lat,omitempty"`
	LastParkedLng float64           `json:"last_parked_lng,omitempty"`
	Pending       *PendingDeparture `json:"pending_departure,omitempty"`
}

func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		VehicleID:     r.vehicleID,
		Connectivity:  string(r.machine.Current()),
		IsMonitoring:  r.st.IsMonitoring,
		LastCheckTime: r.st.LastCheckTime,
		LastParkedLat: r.lastParked.Lat,
		LastParkedLng: r.lastParked.Lng,
	}
	if r.st.Pending != nil {
		pd := *r.st.Pending
		s.Pending = &pd
	}
	return s
}

// CheckNow runs a manual authoritative parking check.
func (r *Runtime) CheckNow(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runCheckLocked(ctx, TriggerAuthoritative, nil)
}

// PeriodicCheck is the backup trigger path, subject to the throttle.
func (r *Runtime) PeriodicCheck(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runCheckLocked(ctx, TriggerPeriodic, nil)
}

func (r *Runtime) onParked(tr connectivity.Transition) {
	ctx := context.Background()
	if !r.dedup.Allow(ctx, "monitor:dedup:parked", SideEffectWindow) {
		return
	}

	var pre *location.Fix
	if r.preCapture != nil {
		pre = r.preCapture(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.LastConnected = false
	now := r.sched.Now()
	r.st.LastDisconnectTime = &now
	r.persistLocked(ctx)
	if err := r.runCheckLocked(ctx, triggerFor(tr.Signal), pre); err != nil {
		log.Printf("parking check failed: %v", err)
	}
}

// triggerFor classifies a transition's check trigger. Derived init
// signals come from the status probe and backup poll; only explicit
// hardware push or replay signals run authoritatively.
func triggerFor(sig connectivity.Signal) Trigger {
	switch sig.Kind {
	case connectivity.SignalInitConnected, connectivity.SignalInitDisconnected:
		return TriggerPeriodic
	}
	return TriggerAuthoritative
}

func (r *Runtime) onDriving(tr connectivity.Transition) {
	ctx := context.Background()
	if !r.dedup.Allow(ctx, "monitor:dedup:departed", SideEffectWindow) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownParkedLocked()
	r.st.LastConnected = true
	r.st.IsMonitoring = false
	r.beginDepartureLocked(ctx, tr.Signal.HardwareTime)
	r.persistLocked(ctx)
}

// teardownParkedLocked disarms everything that only makes sense while
// parked: rescan, snow monitor, scheduled reminders.
func (r *Runtime) teardownParkedLocked() {
	if r.rescanTimer != nil {
		r.rescanTimer.Stop()
		r.rescanTimer = nil
	}
	if r.snowTimer != nil {
		r.snowTimer.Stop()
		r.snowTimer = nil
	}
	r.snowNotified = false
	r.notifier.CancelAll()
}

func (r *Runtime) persistLocked(ctx context.Context) {
	if err := r.states.Save(ctx, r.vehicleID, r.st); err != nil {
		log.Printf("monitor state save failed: %v", err)
	}
}
