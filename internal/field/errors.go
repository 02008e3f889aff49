package field

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedSignal is wrapped by every InvariantError.
	ErrMalformedSignal = errors.New("malformed signal")
	// ErrBadSnapshot reports a snapshot that cannot be restored.
	ErrBadSnapshot = errors.New("invalid snapshot")
)

// InvariantError describes a signal that breaks a field invariant.
type InvariantError struct {
	SignalID string
	Reason   string
}

func (e *InvariantError) Error() string {
	if e.SignalID == "" {
		return fmt.Sprintf("malformed signal: %s", e.Reason)
	}
	return fmt.Sprintf("malformed signal %s: %s", e.SignalID, e.Reason)
}

func (e *InvariantError) Unwrap() error { return ErrMalformedSignal }

func invariant(id, format string, args ...any) error {
	return &InvariantError{SignalID: id, Reason: fmt.Sprintf(format, args...)}
}
