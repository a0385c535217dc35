package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrSlotUnavailable        = errors.New("slot unavailable")
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrInvalidInput           = errors.New("invalid input")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrPastSlot               = fmt.Errorf("%w: slot is in the past", ErrInvalidInput)
	ErrBeyondHorizon          = fmt.Errorf("%w: slot is beyond the booking horizon", ErrInvalidInput)
)

// ValidationError carries per-field messages and unwraps to ErrInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// InvalidInput wraps ErrInvalidInput with a formatted reason.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Unavailable marks a store failure as ErrPersistenceUnavailable while keeping the cause.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistenceUnavailable, err)
}
