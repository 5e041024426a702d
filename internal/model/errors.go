package model

import "fmt"

// NotFoundError is returned as 404.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// InvalidStateError is returned as 409 when an operation is illegal for the
// target's current state, e.g. cancelling a completed run.
type InvalidStateError struct {
	Op     string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s is not allowed in status %q", e.Op, e.Status)
}

// ValidationError is returned as 422 when required input is missing.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
