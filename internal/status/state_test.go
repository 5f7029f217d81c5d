package status

import (
	"testing"

	"github.com/creativecareer/ccai/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Connecting},
		{Idle, Closed},
		{Connecting, Online},
		{Connecting, Offline},
		{Online, Offline},
		{Online, Connecting},
		{Online, Closed},
		{Offline, Connecting},
		{Closed, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Online); err == nil {
		t.Error("Transition(IDLE -> ONLINE) should fail")
	}
	if m.Current() != Idle {
		t.Errorf("state = %s, want IDLE (unchanged)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != KindStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, KindStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Idle || change.To != Connecting {
		t.Errorf("change = %v -> %v, want IDLE -> CONNECTING", change.From, change.To)
	}
}

// TestDropAndReconnectCycle walks ONLINE -> OFFLINE -> CONNECTING -> ONLINE,
// the path taken when the transport drops and the daemon re-dials.
func TestDropAndReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Online)

	for _, s := range []State{Offline, Connecting, Online} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// TestClosedCannotGoOnlineDirectly guards the sign-out path: a closed
// connection must dial again before it can be online.
func TestClosedCannotGoOnlineDirectly(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Closed)
	if err := m.Transition(Online); err == nil {
		t.Fatal("Transition(CLOSED -> ONLINE) should fail")
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:       {},
		Connecting: {Connecting},
		Online:     {Connecting, Online},
		Offline:    {Connecting, Online, Offline},
		Closed:     {Closed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
