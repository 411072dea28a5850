package status

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrValidation           = errors.New("registration: validation failed")
	ErrAlreadyRegistered    = errors.New("registration: already registered for this event")
	ErrCapacityExceeded     = errors.New("registration: event is full")
	ErrRegistrationClosed   = errors.New("registration: registration is not available for this event")
	ErrInvalidTransition    = errors.New("registration: registration is already in the requested state")
	ErrRegistrationNotFound = errors.New("registration: registration not found")
	ErrEventNotFound        = errors.New("event: event not found")
	ErrInvalidEvent         = errors.New("event: invalid event")
	ErrInvalidSchema        = errors.New("event: invalid form schema")
	ErrForbidden            = errors.New("auth: action not allowed for this actor")
	ErrNotificationNotFound = errors.New("notification: notification not found")
)

// ValidationError carries one or more human readable messages per field key.
type ValidationError struct {
	Fields map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

func (e *ValidationError) Add(field, message string) {
	e.Fields[field] = append(e.Fields[field], message)
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
