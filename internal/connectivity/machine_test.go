package connectivity

import (
	"testing"
	"time"

	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/clock"
)

func TestDisconnectDebounces(t *testing.T) {
	sched := clock.NewManual(time.Unix(1000, 0))
	m := NewMachine(sched)

	var transitions []Transition
	m.SubscribeAny(StateParked, func(tr Transition) { transitions = append(transitions, tr) })

	m.Inject(Signal{Kind: SignalConnect, Source: "push", Device: "obd-1"})
	m.Inject(Signal{Kind: SignalDisconnect, Source: "push"})

	if len(transitions) != 0 {
		t.Fatalf("parked before debounce window elapsed")
	}
	sched.Advance(DebounceWindow + time.Second)

	if len(transitions) != 1 {
		t.Fatalf("expected one parked transition, got %d", len(transitions))
	}
	if transitions[0].From != StateDriving {
		t.Fatalf("unexpected origin state: %s", transitions[0].From)
	}
	if m.Current() != StateParked {
		t.Fatalf("unexpected state: %s", m.Current())
	}
}

func TestTransientDisconnectSuppressed(t *testing.T) {
	sched := clock.NewManual(time.Unix(1000, 0))
	m := NewMachine(sched)

	parked := 0
	m.SubscribeAny(StateParked, func(Transition) { parked++ })

	m.Inject(Signal{Kind: SignalConnect, Source: "push"})
	m.Inject(Signal{Kind: SignalDisconnect, Source: "push"})
	sched.Advance(3 * time.Second)
	m.Inject(Signal{Kind: SignalConnect, Source: "push"})
	sched.Advance(DebounceWindow * 2)

	if parked != 0 {
		t.Fatalf("transient disconnect committed parked state")
	}
	if m.Current() != StateDriving {
		t.Fatalf("unexpected state: %s", m.Current())
	}
}

func TestDuplicateDisconnectsSingleTransition(t *testing.T) {
	sched := clock.NewManual(time.Unix(1000, 0))
	m := NewMachine(sched)

	parked := 0
	m.SubscribeAny(StateParked, func(Transition) { parked++ })

	m.Inject(Signal{Kind: SignalConnect, Source: "push"})
	m.Inject(Signal{Kind: SignalDisconnect, Source: "push"})
	sched.Advance(5 * time.Second)
	m.Inject(Signal{Kind: SignalDisconnect, Source: "replay"})
	m.Inject(Signal{Kind: SignalDisconnect, Source: "poll"})
	sched.Advance(DebounceWindow)

	if parked != 1 {
		t.Fatalf("expected one parked transition, got %d", parked)
	}
}

func TestExactPairSubscription(t *testing.T) {
	sched := clock.NewManual(time.Unix(1000, 0))
	m := NewMachine(sched)

	fromUnknown := 0
	fromParked := 0
	m.Subscribe(StateUnknown, StateDriving, func(Transition) { fromUnknown++ })
	m.Subscribe(StateParked, StateDriving, func(Transition) { fromParked++ })

	m.Inject(Signal{Kind: SignalConnect, Source: "push"})
	if fromUnknown != 1 || fromParked != 0 {
		t.Fatalf("unexpected dispatch: unknown=%d parked=%d", fromUnknown, fromParked)
	}

	m.Inject(Signal{Kind: SignalDisconnect, Source: "push"})
	sched.Advance(DebounceWindow)
	m.Inject(Signal{Kind: SignalConnect, Source: "push"})
	if fromUnknown != 1 || fromParked != 1 {
		t.Fatalf("unexpected dispatch: unknown=%d parked=%d", fromUnknown, fromParked)
	}
}

func TestInitKnownDisconnected(t *testing.T) {
	sched := clock.NewManual(time.Unix(1000, 0))
	m := NewMachine(sched)

	parked := 0
	m.SubscribeAny(StateParked, func(Transition) { parked++ })

	m.Inject(Signal{Kind: SignalInitDisconnected, Source: "init"})
	if parked != 1 || m.Current() != StateParked {
		t.Fatalf("init-known-disconnected did not commit immediately")
	}
}

func TestLastDevice(t *testing.T) {
	sched := clock.NewManual(time.Unix(1000, 0))
	m := NewMachine(sched)

	m.Inject(Signal{Kind: SignalConnect, Source: "push", Device: "obd-7"})
	if m.LastDevice() != "obd-7" {
		t.Fatalf("unexpected device: %s", m.LastDevice())
	}
}
