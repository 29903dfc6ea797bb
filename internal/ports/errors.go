package ports

import (
	"errors"
	"fmt"
)

// Provider-neutral failure classes. Provider adapters make their errors
// match these with errors.Is.
var (
	ErrRateLimited          = errors.New("rate limited")
	ErrServiceUnavailable   = errors.New("service unavailable")
	ErrTimeout              = errors.New("operation timed out")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

var (
	// ErrRunNotFound is returned by a RunStore when no run has the id.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunExists is returned by CreateRun when the id is already taken.
	ErrRunExists = errors.New("run already exists")
	// ErrUnknownModel is returned by a ClientResolver for a model spec it
	// cannot resolve.
	ErrUnknownModel = errors.New("unknown model")
)

// LLMError records which model and call failed. A run that fails on a
// model call carries this in its error message.
type LLMError struct {
	Model     string
	Operation string
	Err       error
}

func NewLLMError(model, operation string, err error) *LLMError {
	return &LLMError{Model: model, Operation: operation, Err: err}
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm %s %s: %v", e.Model, e.Operation, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is transient. Nothing retries a
// call on this basis; it feeds the circuit breaker and the logs.
func (e *LLMError) IsRetryable() bool {
	for _, transient := range []error{ErrRateLimited, ErrServiceUnavailable, ErrTimeout} {
		if errors.Is(e.Err, transient) {
			return true
		}
	}
	return false
}

// StoreError wraps a RunStore failure with the operation and run id.
type StoreError struct {
	Operation string
	RunID     string
	Err       error
}

func NewStoreError(operation, runID string, err error) *StoreError {
	return &StoreError{Operation: operation, RunID: runID, Err: err}
}

func (e *StoreError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("store %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("store %s run %s: %v", e.Operation, e.RunID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
