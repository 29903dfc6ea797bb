package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-qalab/internal/ports"
)

// ErrCircuitOpen is returned without calling the provider while its
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	// StateHalfOpen admits a single probe once the cooldown has passed.
	StateHalfOpen
)

// CircuitBreakerMetrics observes a breaker. RecordTrip fires on each
// transition into StateOpen; RecordRejected on each call refused while open.
type CircuitBreakerMetrics interface {
	RecordState(state CircuitBreakerState)
	RecordTrip()
	RecordRejected()
	RecordSuccess()
	RecordFailure()
}

// CircuitBreaker opens after maxFailures consecutive failures and stays
// open for cooldown. A caller cancelling its own context is not a provider
// failure and leaves the counters untouched.
type CircuitBreaker struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    CircuitBreakerState
	failures int
	openedAt time.Time
	probing  bool
}

func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{maxFailures: max(maxFailures, 1), cooldown: cooldown, now: time.Now}
}

// Call runs fn unless the breaker refuses it. fn runs without the lock held.
func (cb *CircuitBreaker) Call(fn func() error) error {
	_, err := cb.call(fn)
	return err
}

// call also reports whether this call tripped the breaker.
func (cb *CircuitBreaker) call(fn func() error) (tripped bool, err error) {
	if err := cb.admit(); err != nil {
		return false, err
	}
	err = fn()
	return cb.settle(err), err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		cb.state = StateHalfOpen
	}
	switch {
	case cb.state == StateOpen:
		return ErrCircuitOpen
	case cb.state == StateHalfOpen && cb.probing:
		return ErrCircuitOpen
	case cb.state == StateHalfOpen:
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) settle(err error) (tripped bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	probe := cb.probing
	cb.probing = false
	switch {
	case err == nil:
		cb.state, cb.failures = StateClosed, 0
		return false
	case errors.Is(err, context.Canceled):
		return false
	}

	cb.failures++
	if probe || cb.failures >= cb.maxFailures {
		cb.state, cb.openedAt = StateOpen, cb.now()
		return true
	}
	return false
}

func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerMiddleware shares one breaker across every client the
// returned Middleware wraps.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	return CircuitBreakerMiddlewareWithMetrics(maxFailures, cooldown, nil)
}

// CircuitBreakerMiddlewareWithMetrics is CircuitBreakerMiddleware reporting
// to metrics, which may be nil.
func CircuitBreakerMiddlewareWithMetrics(maxFailures int, cooldown time.Duration, metrics CircuitBreakerMetrics) Middleware {
	cb := NewCircuitBreaker(maxFailures, cooldown)
	return func(next CoreLLM) CoreLLM {
		return &breakerLLM{CoreLLM: next, cb: cb, metrics: metrics}
	}
}

type breakerLLM struct {
	CoreLLM
	cb      *CircuitBreaker
	metrics CircuitBreakerMetrics
}

func (b *breakerLLM) DoRequest(ctx context.Context, messages []ports.ChatMessage, opts map[string]any) (ports.Completion, error) {
	var completion ports.Completion
	tripped, err := b.cb.call(func() error {
		var err error
		completion, err = b.CoreLLM.DoRequest(ctx, messages, opts)
		return err
	})

	if b.metrics != nil {
		switch {
		case err == nil:
			b.metrics.RecordSuccess()
		case errors.Is(err, ErrCircuitOpen):
			b.metrics.RecordRejected()
		case !errors.Is(err, context.Canceled):
			b.metrics.RecordFailure()
		}
		if tripped {
			b.metrics.RecordTrip()
		}
		b.metrics.RecordState(b.cb.GetState())
	}
	return completion, err
}
