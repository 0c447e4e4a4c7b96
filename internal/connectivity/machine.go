package connectivity

import (
	"sync"
	"time"

	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/clock"
)

// State is the canonical physical connectivity state of the vehicle:
// connected to its in-car hardware means driving, disconnected means the
// car has (probably) been parked.
type State string

const (
	StateUnknown State = "unknown"
	StateDriving State = "driving"
	StateParked  State = "parked"
)

type SignalKind string

const (
	SignalConnect          SignalKind = "connect"
	SignalDisconnect       SignalKind = "disconnect"
	SignalInitConnected    SignalKind = "init-known-connected"
	SignalInitDisconnected SignalKind = "init-known-disconnected"
)

// Signal is a raw hardware/location report injected into the machine.
type Signal struct {
	Kind         SignalKind `json:"kind"`
	Source       string     `json:"source"`
	Device       string     `json:"device,omitempty"`
	HardwareTime time.Time  `json:"hardware_time,omitempty"`
}

// Transition is delivered to subscribers after the machine commits a
// state change.
type Transition struct {
	From   State
	To     State
	Signal Signal
	At     time.Time
}

type Handler func(Transition)

// DebounceWindow separates a transient disconnect (bluetooth flake,
// tunnel) from a real parking event: a disconnect only commits once the
// window passes without a connect.
const DebounceWindow = 10 * time.Second

type subscription struct {
	from *State // nil matches any origin state
	to   State
	fn   Handler
}

// Machine is the canonical connectivity state machine. Subscriptions are
// an explicit (from, to) dispatch table; the any-from variant uses a nil
// origin rather than string patterns.
type Machine struct {
	mu         sync.Mutex
	sched      clock.Scheduler
	state      State
	lastDevice string
	subs       []subscription
	debounce   clock.Timer
}

func NewMachine(sched clock.Scheduler) *Machine {
	return &Machine{sched: sched, state: StateUnknown}
}

// Subscribe registers a handler for an exact (from, to) transition.
func (m *Machine) Subscribe(from, to State, fn Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := from
	m.subs = append(m.subs, subscription{from: &f, to: to, fn: fn})
}

// SubscribeAny registers a handler for a transition into to from any
// origin state.
func (m *Machine) SubscribeAny(to State, fn Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, subscription{to: to, fn: fn})
}

func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) LastDevice() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastDevice
}

// Inject feeds a raw signal into the machine. Connects commit
// immediately and cancel any pending disconnect debounce; disconnects
// commit only after the debounce window passes quietly.
func (m *Machine) Inject(sig Signal) {
	m.mu.Lock()

	if sig.Device != "" {
		m.lastDevice = sig.Device
	}

	switch sig.Kind {
	case SignalConnect, SignalInitConnected:
		m.cancelDebounceLocked()
		m.commitLocked(StateDriving, sig)
	case SignalInitDisconnected:
		m.cancelDebounceLocked()
		m.commitLocked(StateParked, sig)
	case SignalDisconnect:
		if m.state == StateParked || m.debounce != nil {
			m.mu.Unlock()
			return
		}
		m.debounce = m.sched.AfterFunc(DebounceWindow, func() {
			m.mu.Lock()
			m.debounce = nil
			m.commitLocked(StateParked, sig)
		})
		m.mu.Unlock()
	default:
		m.mu.Unlock()
	}
}

func (m *Machine) cancelDebounceLocked() {
	if m.debounce != nil {
		m.debounce.Stop()
		m.debounce = nil
	}
}

// commitLocked applies the state change and dispatches matching
// subscriptions. The lock is released before handlers run so they can
// query the machine. Callers must hold the lock; it is unlocked on
// return.
func (m *Machine) commitLocked(to State, sig Signal) {
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	tr := Transition{From: from, To: to, Signal: sig, At: m.sched.Now()}

	var fire []Handler
	for _, s := range m.subs {
		if s.to != to {
			continue
		}
		if s.from != nil && *s.from != from {
			continue
		}
		fire = append(fire, s.fn)
	}
	m.mu.Unlock()

	for _, fn := range fire {
		fn(tr)
	}
}
