package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests are blocked.
	StateOpen
	// StateHalfOpen is when the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker implements the circuit breaker pattern.
// It protects against cascading failures by failing fast when a service is down.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	// Rate-based tripping: in addition to N consecutive failures, the
	// breaker opens when the failure rate over rateWindow crosses
	// rateThreshold, once at least minRateSamples attempts have landed in
	// the window. rateThreshold <= 0 disables this path.
	rateThreshold  float64
	rateWindow     time.Duration
	minRateSamples int

	mu          sync.RWMutex
	state       State
	failures    int
	lastFailure time.Time
	recent      []attemptOutcome
}

type attemptOutcome struct {
	at     time.Time
	failed bool
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the number of failures before opening the circuit.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.maxFailures = n
	}
}

// WithResetTimeout sets the time to wait before attempting recovery.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.resetTimeout = d
	}
}

// WithFailureRateThreshold opens the circuit when the fraction of failed
// attempts within the rate window reaches rate (0 to 1), independent of
// the consecutive-failure count. Pass 0 to disable rate-based tripping.
func WithFailureRateThreshold(rate float64) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.rateThreshold = rate
	}
}

// WithRateWindow sets the sliding window over which the failure rate is
// computed.
func WithRateWindow(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.rateWindow = d
	}
}

// WithMinRateSamples sets how many attempts must land in the rate window
// before the rate condition is considered, so a couple of early failures
// in a near-empty window doesn't trip the breaker on a meaningless ratio.
func WithMinRateSamples(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.minRateSamples = n
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given name.
// Default: 5 consecutive failures, 30 second reset timeout, rate-based
// tripping disabled until WithFailureRateThreshold is supplied.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:           name,
		maxFailures:    5,
		resetTimeout:   30 * time.Second,
		rateWindow:     30 * time.Second,
		minRateSamples: 10,
		state:          StateClosed,
	}

	for _, opt := range opts {
		opt(cb)
	}

	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

// currentState returns the state, checking for transition to half-open.
// Must be called with at least a read lock held.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			return StateHalfOpen
		}
	}
	return cb.state
}

// Failures returns the current failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Allow checks if a request should be allowed through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		return true
	default: // StateOpen
		return false
	}
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.recordAttempt(false)
	cb.state = StateClosed
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()
	cb.recordAttempt(true)

	if cb.failures >= cb.maxFailures || cb.rateTripped() {
		cb.state = StateOpen
	}
}

// recordAttempt appends an outcome to the rate window and evicts entries
// that have aged out of it. Must be called with the lock held.
func (cb *CircuitBreaker) recordAttempt(failed bool) {
	now := time.Now()
	cb.recent = append(cb.recent, attemptOutcome{at: now, failed: failed})

	cutoff := now.Add(-cb.rateWindow)
	i := 0
	for i < len(cb.recent) && cb.recent[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		cb.recent = cb.recent[i:]
	}
}

// rateTripped reports whether the failure rate over the current window
// meets the configured threshold. Must be called with the lock held.
func (cb *CircuitBreaker) rateTripped() bool {
	if cb.rateThreshold <= 0 || len(cb.recent) < cb.minRateSamples {
		return false
	}
	failed := 0
	for _, a := range cb.recent {
		if a.failed {
			failed++
		}
	}
	return float64(failed)/float64(len(cb.recent)) >= cb.rateThreshold
}

// Execute runs a function through the circuit breaker.
// Returns ErrCircuitOpen if the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	state := cb.currentState()

	switch state {
	case StateOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen

	case StateHalfOpen:
		// Half-open: this call runs as a probe; callers arriving before it
		// finishes are let through too
		cb.state = StateHalfOpen
		cb.mu.Unlock()

		err := fn()
		if err != nil {
			cb.mu.Lock()
			cb.state = StateOpen
			cb.lastFailure = time.Now()
			cb.mu.Unlock()
			return err
		}

		cb.RecordSuccess()
		return nil

	default: // StateClosed
		cb.mu.Unlock()

		err := fn()
		if err != nil {
			cb.RecordFailure()
			return err
		}

		cb.RecordSuccess()
		return nil
	}
}

// CircuitExecuteWithResult runs fn through the breaker, returning fallback's
// result when the breaker is open or a half-open probe fails. A failure in
// the closed state is recorded and returned as is, without fallback.
func CircuitExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	cb.mu.Lock()
	state := cb.currentState()

	switch state {
	case StateOpen:
		cb.mu.Unlock()
		return fallback()

	case StateHalfOpen:
		cb.state = StateHalfOpen
		cb.mu.Unlock()

		result, err := fn()
		if err != nil {
			cb.mu.Lock()
			cb.state = StateOpen
			cb.lastFailure = time.Now()
			cb.mu.Unlock()
			return fallback()
		}

		cb.RecordSuccess()
		return result, nil

	default: // StateClosed
		cb.mu.Unlock()

		result, err := fn()
		if err != nil {
			cb.RecordFailure()
			return result, err
		}

		cb.RecordSuccess()
		return result, nil
	}
}
