package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrRebuildInProgress rejects structural commands while a rebuild holds the guard.
	ErrRebuildInProgress = errors.New("rebuild in progress")
)

// ValidationError blocks a commit before anything is sent to the session store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// FieldInUseError is returned when deleting an optional target field that still
// has mappings pointing at it.
type FieldInUseError struct {
	Label        string
	MappingCount int
}

func (e *FieldInUseError) Error() string {
	return fmt.Sprintf("target field %q still has %d mapping(s)", e.Label, e.MappingCount)
}

// NamingConflictWarning records a slot substitution made to avoid overwriting
// another rule's column. It is reported, never fatal.
type NamingConflictWarning struct {
	Requested string
	Allocated string
}

func (e *NamingConflictWarning) Error() string {
	return fmt.Sprintf("column %q already in use, allocated %q instead", e.Requested, e.Allocated)
}

// StaleSessionError means locally observed data does not reflect the most
// recently committed rules or mappings. It triggers the self-heal loop.
type StaleSessionError struct {
	Expected int
	Observed int
}

func (e *StaleSessionError) Error() string {
	return fmt.Sprintf("session stale: expected version >= %d, observed %d", e.Expected, e.Observed)
}
