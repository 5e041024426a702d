package runstate

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusInProgress     Status = "in_progress"
	StatusRequiresAction Status = "requires_action"
	StatusCancelling     Status = "cancelling"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// allowedTransitions encodes the run state machine. Every observable run
// history is a prefix of queued -> in_progress -> {completed|failed} or of
// queued -> [in_progress ->] cancelling -> cancelled. Terminal states have
// no exits.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusQueued: {
		StatusInProgress: {},
		StatusCancelling: {},
	},
	StatusInProgress: {
		StatusRequiresAction: {},
		StatusCancelling:     {},
		StatusCompleted:      {},
		StatusFailed:         {},
	},
	StatusRequiresAction: {
		StatusInProgress: {},
		StatusCancelling: {},
	},
	StatusCancelling: {
		StatusCancelled: {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// Machine validates transitions between run statuses.
type Machine struct {
	status Status
}

func NewMachine(initial Status) (*Machine, error) {
	if !IsKnown(initial) {
		return nil, fmt.Errorf("invalid initial run status %q", initial)
	}
	return &Machine{status: initial}, nil
}

func (m *Machine) Status() Status {
	if m == nil {
		return ""
	}
	return m.status
}

func (m *Machine) Transition(next Status) error {
	if m == nil {
		return errors.New("machine is nil")
	}
	if !IsKnown(next) {
		return fmt.Errorf("unknown target run status %q", next)
	}
	if _, ok := allowedTransitions[m.status][next]; !ok {
		return fmt.Errorf("run status transition %q -> %q is not allowed", m.status, next)
	}
	m.status = next
	return nil
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	_, ok := allowedTransitions[from][to]
	return ok
}

// IsTerminal reports whether no transition leaves the given status.
func IsTerminal(status Status) bool {
	edges, ok := allowedTransitions[status]
	return ok && len(edges) == 0
}

// IsKnown reports whether the status participates in the state machine.
func IsKnown(status Status) bool {
	_, ok := allowedTransitions[status]
	return ok
}

// IsCancellable reports whether a cancel request is legal for the status.
// Cancelling an already-cancelling run is accepted as a no-op request.
// requires_action is deliberately absent: a run waiting on tool outputs
// resolves through submit_tool_outputs, not cancel, even though the state
// machine keeps an edge to cancelling for engine-internal teardown.
func IsCancellable(status Status) bool {
	switch status {
	case StatusQueued, StatusInProgress, StatusCancelling:
		return true
	default:
		return false
	}
}
