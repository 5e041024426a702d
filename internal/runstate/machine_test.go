package runstate

import "testing"

func TestHappyPathTransitions(t *testing.T) {
	m, err := NewMachine(StatusQueued)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	for _, next := range []Status{StatusInProgress, StatusCompleted} {
		if err := m.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if m.Status() != StatusCompleted {
		t.Fatalf("expected completed, got %s", m.Status())
	}
}

func TestCancelPathTransitions(t *testing.T) {
	m, _ := NewMachine(StatusQueued)
	if err := m.Transition(StatusCancelling); err != nil {
		t.Fatalf("queued -> cancelling: %v", err)
	}
	if err := m.Transition(StatusCancelled); err != nil {
		t.Fatalf("cancelling -> cancelled: %v", err)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !IsTerminal(terminal) {
			t.Fatalf("expected %s to be terminal", terminal)
		}
		for _, next := range []Status{StatusQueued, StatusInProgress, StatusCancelling, StatusCompleted, StatusFailed, StatusCancelled} {
			if CanTransition(terminal, next) {
				t.Fatalf("terminal %s must not transition to %s", terminal, next)
			}
		}
	}
}

func TestIllegalTransitionsRejected(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
	}{
		{StatusQueued, StatusCompleted},
		{StatusQueued, StatusFailed},
		{StatusQueued, StatusRequiresAction},
		{StatusCancelling, StatusInProgress},
		{StatusCancelling, StatusCompleted},
		{StatusRequiresAction, StatusCompleted},
	}
	for _, tc := range cases {
		if CanTransition(tc.from, tc.to) {
			t.Fatalf("transition %s -> %s must be rejected", tc.from, tc.to)
		}
	}
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	m, _ := NewMachine(StatusQueued)
	if err := m.Transition(Status("paused")); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if m.Status() != StatusQueued {
		t.Fatalf("status must be unchanged, got %s", m.Status())
	}
}

func TestIsCancellable(t *testing.T) {
	for _, status := range []Status{StatusQueued, StatusInProgress, StatusCancelling} {
		if !IsCancellable(status) {
			t.Fatalf("expected %s to be cancellable", status)
		}
	}
	// A run waiting on tool outputs is resolved by submitting them, never by
	// a client cancel.
	for _, status := range []Status{StatusRequiresAction, StatusCompleted, StatusFailed, StatusCancelled} {
		if IsCancellable(status) {
			t.Fatalf("expected %s to reject cancel", status)
		}
	}
}
