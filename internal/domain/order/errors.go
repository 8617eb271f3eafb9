package order

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("order not found")
	ErrNoUpdates = errors.New("no updates provided")
)

// DenialCode classifies why the edit guard refused.
type DenialCode string

const (
	DenyNotOwner DenialCode = "not_owner"
	DenyLocked   DenialCode = "locked"
	DenyBadState DenialCode = "bad_state"
)

// DeniedError carries the user-facing reason for a refused action.
type DeniedError struct {
	Code   DenialCode
	Reason string
}

func (e *DeniedError) Error() string { return e.Reason }

// InvalidStateError is returned when a transition's precondition is unmet.
type InvalidStateError struct {
	Current ReviewStatus
}

func (e *InvalidStateError) Error() string {
	current := string(e.Current)
	if current == "" {
		current = "null"
	}
	return fmt.Sprintf("Order is not a draft (current status: %s)", current)
}
