package pgagent

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage is returned by Orchestrator.Turn for blank input.
var ErrEmptyMessage = errors.New("pgagent: empty message")

// ErrUnsupportedProvider is returned when a provider name has no registered
// adapter. Kind is "embedding" or "chat".
type ErrUnsupportedProvider struct {
	Kind     string
	Provider string
}

func (e *ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unknown %s provider: %q", e.Kind, e.Provider)
}

// ErrProviderCall reports a failed call to an embedding or chat backend:
// transport failures, non-2xx statuses, and malformed or empty responses.
// Status is 0 when no HTTP response was received.
type ErrProviderCall struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *ErrProviderCall) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ErrProviderCall) Unwrap() error { return e.Err }

// ErrSettingsRead means the turn could not load provider configuration.
type ErrSettingsRead struct {
	Err error
}

func (e *ErrSettingsRead) Error() string { return "read settings: " + e.Err.Error() }
func (e *ErrSettingsRead) Unwrap() error { return e.Err }

// ErrRetrieval wraps a Memory Gateway search failure. The orchestrator
// recovers from it by continuing with an empty memory list.
type ErrRetrieval struct {
	Op  string // "hybrid_search" or "full_text_search"
	Err error
}

func (e *ErrRetrieval) Error() string     { return "retrieval " + e.Op + ": " + e.Err.Error() }
func (e *ErrRetrieval) Unwrap() error     { return e.Err }
func (e *ErrRetrieval) Recoverable() bool { return true }

// ErrCapture wraps any failure of the auto-capture stage. It is logged and
// never returned to the caller of a turn.
type ErrCapture struct {
	Stage string // "should_capture", "embed" or "store"
	Err   error
}

func (e *ErrCapture) Error() string     { return "capture " + e.Stage + ": " + e.Err.Error() }
func (e *ErrCapture) Unwrap() error     { return e.Err }
func (e *ErrCapture) Recoverable() bool { return true }

// IsRecoverable reports whether err, or any error it wraps, marks itself as
// recoverable. Recoverable errors degrade a turn instead of failing it.
func IsRecoverable(err error) bool {
	var r interface{ Recoverable() bool }
	return errors.As(err, &r) && r.Recoverable()
}
