package services

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionLoading    = errors.New("session is still loading its form")
	ErrSessionSuperseded = errors.New("session was discarded or reloaded")
	ErrSubmitInFlight    = errors.New("a submission is already in progress")
	ErrSubmitFailed      = errors.New("submission failed")

	ErrNotificationsDisabled = errors.New("notifications are not enabled")
	ErrEmailDisabled         = errors.New("email is not enabled")
)

// ValidationError carries per-field messages back to the client
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

func invalidField(field, msg string) *ValidationError {
	return &ValidationError{Message: "validation failed", Fields: map[string]string{field: msg}}
}
