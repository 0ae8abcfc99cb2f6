package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("cold-tier", WithMaxFailures(3), WithResetTimeout(time.Minute))

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return boom })
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_OpenFailsFastWithoutCallingFn(t *testing.T) {
	cb := NewCircuitBreaker("cold-tier", WithMaxFailures(1), WithResetTimeout(time.Minute))
	_ = cb.Execute(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.False(t, called)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker("cold-tier", WithMaxFailures(1), WithResetTimeout(time.Millisecond))
	_ = cb.Execute(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_SuccessClosesFromHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("cold-tier", WithMaxFailures(1), WithResetTimeout(time.Millisecond))
	_ = cb.Execute(func() error { return errors.New("boom") })
	time.Sleep(5 * time.Millisecond)

	err := cb.Execute(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_OpensOnFailureRateBeforeConsecutiveThreshold(t *testing.T) {
	// maxFailures is high enough that consecutive counting alone would
	// never trip; only the rate condition should open the breaker.
	cb := NewCircuitBreaker("cold-tier",
		WithMaxFailures(100),
		WithResetTimeout(time.Minute),
		WithFailureRateThreshold(0.5),
		WithMinRateSamples(4))

	boom := errors.New("boom")
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return nil })
	assert.Equal(t, StateClosed, cb.State(), "below minRateSamples, rate condition must not trip")

	_ = cb.Execute(func() error { return boom })
	assert.Equal(t, StateOpen, cb.State(), "2 of 4 recent attempts failed, at the 0.5 threshold")
}

func TestCircuitBreaker_RateThresholdDisabledByDefault(t *testing.T) {
	cb := NewCircuitBreaker("cold-tier", WithMaxFailures(100), WithResetTimeout(time.Minute))

	boom := errors.New("boom")
	for i := 0; i < 20; i++ {
		_ = cb.Execute(func() error { return boom })
	}
	assert.Equal(t, StateClosed, cb.State(), "rate tripping must stay off until WithFailureRateThreshold is set")
}

func TestCircuitExecuteWithResult_FallsBackWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("cold-tier", WithMaxFailures(1), WithResetTimeout(time.Minute))
	_ = cb.Execute(func() error { return errors.New("boom") })

	result, err := CircuitExecuteWithResult(cb,
		func() (string, error) { return "cold", nil },
		func() (string, error) { return "warm-fallback", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, "warm-fallback", result)
}
