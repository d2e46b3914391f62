package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker that trips after two failures
	cb := NewCircuitBreaker("embedder", WithMaxFailures(2))
	boom := errors.New("boom")

	// When: two calls fail
	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return boom })

	// Then: the circuit is open and calls fail fast
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenTrialCloses(t *testing.T) {
	// Given: an open breaker whose reset timeout has elapsed
	now := time.Now()
	cb := NewCircuitBreaker("embedder",
		WithMaxFailures(1),
		WithResetTimeout(time.Second),
		withClock(func() time.Time { return now }),
	)
	_ = cb.Execute(func() error { return errors.New("boom") })
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	// When: the trial call succeeds
	v, err := Call(cb, func() (int, error) { return 7, nil })

	// Then: the circuit closes
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("embedder",
		WithMaxFailures(3),
		WithResetTimeout(time.Second),
		withClock(func() time.Time { return now }),
	)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("boom") })
	}
	now = now.Add(2 * time.Second)

	err := cb.Execute(func() error { return errors.New("still down") })

	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
