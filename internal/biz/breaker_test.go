package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"Bulwark/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is an injectable clock for deterministic breaker tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg BreakerConfig) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	b := newCircuitBreaker("downstream", cfg)
	b.now = clk.Now
	return b, clk
}

var errDownstream = errors.New("downstream unavailable")

func failingOp(ctx context.Context) (interface{}, error) {
	return nil, errDownstream
}

func succeedingOp(ctx context.Context) (interface{}, error) {
	return "ok", nil
}

func TestBreaker_OpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Execute(ctx, failingOp)
		assert.ErrorIs(t, err, errDownstream)
	}

	snap := b.GetState()
	assert.Equal(t, model.BreakerOpen, snap.State)
}

func TestBreaker_OpenFastFailsWithoutInvokingOperation(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	})
	ctx := context.Background()

	_, err := b.Execute(ctx, failingOp)
	require.ErrorIs(t, err, errDownstream)
	require.Equal(t, model.BreakerOpen, b.GetState().State)

	invoked := false
	_, err = b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		invoked = true
		return nil, nil
	})
	assert.True(t, IsCircuitOpen(err))
	assert.False(t, invoked)
	assert.Equal(t, int64(1), b.BlockedCalls())
}

func TestBreaker_FastFailureIsNotCountedAsFailure(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	})
	ctx := context.Background()

	_, err := b.Execute(ctx, failingOp)
	require.ErrorIs(t, err, errDownstream)
	_, err = b.Execute(ctx, failingOp)
	require.ErrorIs(t, err, errDownstream)
	require.Equal(t, model.BreakerOpen, b.GetState().State)

	// Blocked calls must not feed back into the failure counter.
	for i := 0; i < 10; i++ {
		_, err := b.Execute(ctx, succeedingOp)
		assert.True(t, IsCircuitOpen(err))
	}
	assert.Equal(t, int32(0), b.GetState().FailureCount)
	assert.Equal(t, int64(10), b.BlockedCalls())
}

func TestBreaker_HalfOpenAfterOpenTimeout(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(ctx, failingOp)
	}
	require.Equal(t, model.BreakerOpen, b.GetState().State)

	// Still inside the open window.
	clk.Advance(29 * time.Second)
	_, err := b.Execute(ctx, succeedingOp)
	require.True(t, IsCircuitOpen(err))

	// Past the window the trial call is let through.
	clk.Advance(2 * time.Second)
	result, err := b.Execute(ctx, succeedingOp)
	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, model.BreakerHalfOpen, b.GetState().State)
}

func TestBreaker_HalfOpenAllowsSingleTrial(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	})
	ctx := context.Background()

	_, _ = b.Execute(ctx, failingOp)
	require.Equal(t, model.BreakerOpen, b.GetState().State)
	clk.Advance(31 * time.Second)

	trialStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			close(trialStarted)
			<-release
			return nil, nil
		})
		done <- err
	}()

	<-trialStarted
	// A second call while the trial is in flight fast-fails.
	_, err := b.Execute(ctx, succeedingOp)
	assert.True(t, IsCircuitOpen(err))

	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, model.BreakerClosed, b.GetState().State)
}

func TestBreaker_RecoversAfterSuccessThreshold(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	})
	ctx := context.Background()

	var recovered *model.CircuitRecoveredEvent
	b.onRecovered = func(e *model.CircuitRecoveredEvent) { recovered = e }

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(ctx, failingOp)
	}
	clk.Advance(31 * time.Second)

	_, err := b.Execute(ctx, succeedingOp)
	require.NoError(t, err)
	require.Equal(t, model.BreakerHalfOpen, b.GetState().State)

	_, err = b.Execute(ctx, succeedingOp)
	require.NoError(t, err)
	assert.Equal(t, model.BreakerClosed, b.GetState().State)

	require.NotNil(t, recovered)
	assert.Equal(t, int32(2), recovered.TrialCount)
	assert.Equal(t, 31*time.Second, recovered.RecoverTime)
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	})
	ctx := context.Background()

	_, _ = b.Execute(ctx, failingOp)
	clk.Advance(31 * time.Second)

	_, err := b.Execute(ctx, failingOp)
	require.ErrorIs(t, err, errDownstream)
	assert.Equal(t, model.BreakerOpen, b.GetState().State)

	// The open timer restarted: still fast-failing just before it elapses.
	clk.Advance(29 * time.Second)
	_, err = b.Execute(ctx, succeedingOp)
	assert.True(t, IsCircuitOpen(err))
}

func TestBreaker_FallbackServedWhileOpen(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
		Fallback: func(ctx context.Context, err error) (interface{}, error) {
			return "cached", nil
		},
	})
	ctx := context.Background()

	_, _ = b.Execute(ctx, failingOp)
	require.Equal(t, model.BreakerOpen, b.GetState().State)

	result, err := b.Execute(ctx, succeedingOp)
	assert.NoError(t, err)
	assert.Equal(t, "cached", result)
	assert.Equal(t, int64(1), b.BlockedCalls())
}

func TestBreaker_CallTimeoutCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
		CallTimeout:      20 * time.Millisecond,
	})
	ctx := context.Background()

	_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, model.BreakerOpen, b.GetState().State)
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	})
	ctx := context.Background()

	_, _ = b.Execute(ctx, failingOp)
	_, _ = b.Execute(ctx, failingOp)
	_, _ = b.Execute(ctx, succeedingOp)
	_, _ = b.Execute(ctx, failingOp)
	_, _ = b.Execute(ctx, failingOp)

	// 2 failures, success, 2 failures: never 3 in a row.
	assert.Equal(t, model.BreakerClosed, b.GetState().State)
	assert.Equal(t, int32(2), b.GetState().FailureCount)
}

func TestBreaker_FailureWindowRestartsStreak(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
		FailureWindow:    time.Minute,
	})
	ctx := context.Background()

	_, _ = b.Execute(ctx, failingOp)
	_, _ = b.Execute(ctx, failingOp)
	clk.Advance(2 * time.Minute)
	_, _ = b.Execute(ctx, failingOp)

	// The first two failures aged out of the window.
	assert.Equal(t, model.BreakerClosed, b.GetState().State)
	assert.Equal(t, int32(1), b.GetState().FailureCount)
}

func TestBreaker_ResetClosesImmediately(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	})
	ctx := context.Background()

	_, _ = b.Execute(ctx, failingOp)
	require.Equal(t, model.BreakerOpen, b.GetState().State)

	b.Reset()
	snap := b.GetState()
	assert.Equal(t, model.BreakerClosed, snap.State)
	assert.Equal(t, int32(0), snap.FailureCount)

	result, err := b.Execute(ctx, succeedingOp)
	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestBreaker_StaleGenerationOutcomeDiscarded(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, errDownstream
		})
		done <- err
	}()

	<-started
	// Reset while the call is in flight bumps the generation.
	b.Reset()
	close(release)
	require.ErrorIs(t, <-done, errDownstream)

	// The stale failure must not count against the fresh generation.
	snap := b.GetState()
	assert.Equal(t, model.BreakerClosed, snap.State)
	assert.Equal(t, int32(0), snap.FailureCount)
}

func TestBreaker_OpenedEventCarriesFailureCount(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	})
	ctx := context.Background()

	var opened *model.CircuitOpenedEvent
	b.onOpened = func(e *model.CircuitOpenedEvent) { opened = e }

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(ctx, failingOp)
	}

	require.NotNil(t, opened)
	assert.Equal(t, "downstream", opened.Name)
	assert.Equal(t, int32(3), opened.FailureCount)
}

func TestBreaker_ConcurrentClosedCalls(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 100,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				_, _ = b.Execute(ctx, succeedingOp)
			} else {
				_, _ = b.Execute(ctx, failingOp)
			}
		}(i)
	}
	wg.Wait()

	// Never tripped; state must be coherent.
	snap := b.GetState()
	assert.Equal(t, model.BreakerClosed, snap.State)
	assert.GreaterOrEqual(t, snap.FailureCount, int32(0))
	assert.Less(t, snap.FailureCount, int32(100))
}

func TestBreaker_OperationErrorPropagatedUnchanged(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	})

	wrapped := fmt.Errorf("call failed: %w", errDownstream)
	_, err := b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, wrapped
	})
	assert.Equal(t, wrapped, err)
	assert.False(t, IsCircuitOpen(err))
}

func TestBreaker_PanicCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      30 * time.Second,
	})
	ctx := context.Background()

	panicOp := func(ctx context.Context) (interface{}, error) {
		panic("handler blew up")
	}

	for i := 0; i < 2; i++ {
		assert.PanicsWithValue(t, "handler blew up", func() {
			_, _ = b.Execute(ctx, panicOp)
		})
	}

	// The panics propagated, but each one was still recorded.
	assert.Equal(t, model.BreakerOpen, b.GetState().State)
}

func TestBreaker_PanicDuringTrialDoesNotWedgeBreaker(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      time.Second,
	})
	ctx := context.Background()

	_, err := b.Execute(ctx, failingOp)
	require.ErrorIs(t, err, errDownstream)
	require.Equal(t, model.BreakerOpen, b.GetState().State)

	// The half-open trial panics; the caller recovers it.
	clk.Advance(2 * time.Second)
	assert.Panics(t, func() {
		_, _ = b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			panic("trial blew up")
		})
	})
	assert.Equal(t, model.BreakerOpen, b.GetState().State)

	// The trial slot must be released: after the timeout a healthy call
	// gets through and closes the breaker.
	clk.Advance(10 * time.Hour)
	invoked := false
	_, err = b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		invoked = true
		return "ok", nil
	})
	require.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, model.BreakerClosed, b.GetState().State)
}
