package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", 2, 10*time.Second).WithClock(clock.Now)

	boom := errors.New("boom")
	fail := func() error { return boom }
	ok := func() error { return nil }

	assert.ErrorIs(t, cb.Call(fail), boom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Call(fail), boom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)

	clock.Advance(10 * time.Second)
	assert.NoError(t, cb.Call(ok))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", 1, time.Second).WithClock(clock.Now)

	boom := errors.New("boom")
	_ = cb.Call(func() error { return boom })
	assert.Equal(t, StateOpen, cb.GetState())

	clock.Advance(time.Second)
	assert.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrBreakerOpen)
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, time.Second)
	boom := errors.New("boom")

	_ = cb.Call(func() error { return boom })
	_ = cb.Call(func() error { return nil })
	_ = cb.Call(func() error { return boom })
	assert.Equal(t, StateClosed, cb.GetState())
}
