package status

import (
	"testing"
)

func TestValidTransitions(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Connecting, Connected, Disconnected, Connecting, Suspended, Connecting, Connected}
	for _, to := range steps {
		if err := m.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if got := m.Current(); got != Connected {
		t.Errorf("current = %s, want %s", got, Connected)
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)

	// Disconnected -> Connected skips Connecting.
	if err := m.Transition(Connected); err == nil {
		t.Fatal("expected error for disconnected -> connected")
	}
	if m.Current() != Disconnected {
		t.Errorf("state changed on invalid transition: %s", m.Current())
	}
}

func TestSameStateIsNoOp(t *testing.T) {
	var calls int
	m := NewMachine(func(State, State) { calls++ })

	if err := m.Transition(Disconnected); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("onChange ran %d times for a no-op transition", calls)
	}
}

func TestOnChangeObservesTransition(t *testing.T) {
	var gotFrom, gotTo State
	m := NewMachine(func(from, to State) {
		gotFrom, gotTo = from, to
	})

	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if gotFrom != Disconnected || gotTo != Connecting {
		t.Errorf("onChange(%s, %s), want (%s, %s)", gotFrom, gotTo, Disconnected, Connecting)
	}
}
