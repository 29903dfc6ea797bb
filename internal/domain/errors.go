package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrKeyNotFound          = errors.New("key not found")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrRunNotExecutable     = errors.New("run is not executable")
	// ErrRunConflict means a conditional status update lost to another
	// writer.
	ErrRunConflict      = errors.New("run status changed concurrently")
	ErrGenerationFailed = errors.New("generation failed")
)

// StateError reports a stage reaching for a State slot an earlier stage
// should have filled. It always indicates a wiring bug.
type StateError struct {
	Stage string
	Key   string
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: state %q: %v", e.Stage, e.Key, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// MissingState is the StateError for an empty key read by stage.
func MissingState[T any](key Key[T], stage string) *StateError {
	return &StateError{Stage: stage, Key: key.name, Err: ErrKeyNotFound}
}

// ValidationError collects every violation found in one entity. It matches
// ErrInvalidConfiguration.
type ValidationError struct {
	Entity string
	Errors []string
}

func NewValidationError(entity string) *ValidationError {
	return &ValidationError{Entity: entity}
}

func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfiguration }

// RunStateError is returned when asked to execute a run that is neither
// queued nor running.
type RunStateError struct {
	RunID  string
	Status RunStatus
}

func (e *RunStateError) Error() string {
	return fmt.Sprintf("run %s has status %q; only queued or running runs can be executed", e.RunID, e.Status)
}

func (e *RunStateError) Unwrap() error { return ErrRunNotExecutable }

// GenerationError is raised when the generator exhausts its attempts. It
// carries every attempt's diagnostics for the error report.
type GenerationError struct {
	Reason   string
	Attempts []AttemptDiagnostic
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generator: %s after %d attempt(s)", e.Reason, len(e.Attempts))
}

func (e *GenerationError) Unwrap() error { return ErrGenerationFailed }
