package biz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"Bulwark/internal/model"
)

// BreakerConfig holds the per-breaker configuration, set at registration
// and immutable thereafter.
type BreakerConfig struct {
	// FailureThreshold is the number of failures within FailureWindow that
	// trips a Closed breaker to Open.
	FailureThreshold int32
	// SuccessThreshold is the number of successful trial calls that close a
	// HalfOpen breaker.
	SuccessThreshold int32
	// OpenTimeout is how long an Open breaker fast-fails before allowing a
	// trial call.
	OpenTimeout time.Duration
	// FailureWindow is the tracking window for the failure streak. A
	// failure arriving after the window elapsed starts a new streak.
	// Zero means no window (failures accumulate until a success).
	FailureWindow time.Duration
	// CallTimeout bounds each guarded operation. A timeout counts as a
	// failure. Zero means the caller's context governs alone.
	CallTimeout time.Duration
	// Fallback, when set, is invoked instead of returning CircuitOpenError
	// while the breaker is Open.
	Fallback func(ctx context.Context, err error) (interface{}, error)
}

// Operation is a call guarded by a circuit breaker.
type Operation func(ctx context.Context) (interface{}, error)

// CircuitBreaker is a named state machine guarding one downstream
// dependency. State is in-process; each process starts breakers Closed.
//
// The mutex is held only across state and counter mutation, never across
// the guarded operation itself. Calls are tagged with the generation they
// started in; a result reported against a stale generation is discarded, so
// slow in-flight calls cannot corrupt counters after a transition.
type CircuitBreaker struct {
	name   string
	config BreakerConfig

	mu                sync.Mutex
	state             model.BreakerState
	generation        uint64
	failureCount      int32
	successCount      int32
	firstFailureAt    time.Time
	lastStateChangeAt time.Time
	openedAt          time.Time
	trialInFlight     bool

	blockedCalls atomic.Int64

	// now is injectable for tests.
	now func() time.Time

	// onOpened/onRecovered are installed by the registry; called outside
	// the mutex.
	onOpened    func(*model.CircuitOpenedEvent)
	onRecovered func(*model.CircuitRecoveredEvent)
}

// newCircuitBreaker creates a Closed breaker. Breakers are created through
// the registry, which enforces name uniqueness.
func newCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  model.BreakerClosed,
		now:    time.Now,
	}
}

// Name returns the breaker's immutable name.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// Execute runs op under the breaker. In Closed the call runs directly; in
// Open it fast-fails with CircuitOpenError (or the configured fallback)
// unless the open timeout elapsed, in which case exactly one trial call is
// let through in HalfOpen. The operation's own failure is propagated
// unchanged whenever the breaker permits the call.
func (b *CircuitBreaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	gen, err := b.beforeCall()
	if err != nil {
		b.blockedCalls.Add(1)
		if b.config.Fallback != nil {
			return b.config.Fallback(ctx, err)
		}
		return nil, err
	}

	callCtx := ctx
	if b.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.config.CallTimeout)
		defer cancel()
	}

	// The outcome must reach afterCall even when op panics; otherwise a
	// panicking half-open trial would leave trialInFlight set and wedge
	// the breaker open until an operator reset. The panic itself counts
	// as a failure and then propagates.
	reported := false
	defer func() {
		if !reported {
			b.afterCall(gen, false)
		}
	}()

	result, opErr := op(callCtx)
	if opErr == nil && callCtx.Err() != nil {
		// The operation ignored its deadline; count it as a failure anyway.
		opErr = callCtx.Err()
	}

	reported = true
	b.afterCall(gen, opErr == nil)
	return result, opErr
}

// Reset forces the breaker Closed with zeroed counters. Immediate and
// unconditional; intended for the operator control surface.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(model.BreakerClosed, b.now())
}

// GetState returns a read-only snapshot.
func (b *CircuitBreaker) GetState() *model.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &model.BreakerSnapshot{
		Name:              b.name,
		State:             b.state,
		FailureCount:      b.failureCount,
		SuccessCount:      b.successCount,
		LastStateChangeAt: b.lastStateChangeAt,
	}
}

// BlockedCalls returns how many calls this breaker fast-failed.
func (b *CircuitBreaker) BlockedCalls() int64 {
	return b.blockedCalls.Load()
}

// beforeCall decides whether the call may proceed and returns the
// generation it belongs to.
func (b *CircuitBreaker) beforeCall() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case model.BreakerClosed:
		return b.generation, nil

	case model.BreakerOpen:
		if now.Sub(b.lastStateChangeAt) >= b.config.OpenTimeout {
			b.transitionLocked(model.BreakerHalfOpen, now)
			b.trialInFlight = true
			return b.generation, nil
		}
		return 0, newCircuitOpenError(b.name)

	case model.BreakerHalfOpen:
		if b.trialInFlight {
			// One trial at a time; everyone else keeps fast-failing.
			return 0, newCircuitOpenError(b.name)
		}
		b.trialInFlight = true
		return b.generation, nil
	}

	return 0, newCircuitOpenError(b.name)
}

// afterCall records the outcome of a permitted call.
func (b *CircuitBreaker) afterCall(gen uint64, success bool) {
	b.mu.Lock()

	if gen != b.generation {
		// The breaker transitioned while this call was in flight; its
		// outcome belongs to a finished era.
		b.mu.Unlock()
		return
	}

	now := b.now()
	var opened *model.CircuitOpenedEvent
	var recovered *model.CircuitRecoveredEvent

	switch b.state {
	case model.BreakerClosed:
		if success {
			b.failureCount = 0
			b.firstFailureAt = time.Time{}
			break
		}
		if b.config.FailureWindow > 0 && !b.firstFailureAt.IsZero() &&
			now.Sub(b.firstFailureAt) > b.config.FailureWindow {
			b.failureCount = 0
			b.firstFailureAt = time.Time{}
		}
		if b.failureCount == 0 {
			b.firstFailureAt = now
		}
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			failures := b.failureCount
			b.transitionLocked(model.BreakerOpen, now)
			b.openedAt = now
			opened = &model.CircuitOpenedEvent{
				Name:         b.name,
				FailureCount: failures,
				OpenedAt:     now,
			}
		}

	case model.BreakerHalfOpen:
		b.trialInFlight = false
		if success {
			b.successCount++
			if b.successCount >= b.config.SuccessThreshold {
				trials := b.successCount
				openedAt := b.openedAt
				b.transitionLocked(model.BreakerClosed, now)
				b.openedAt = time.Time{}
				recovered = &model.CircuitRecoveredEvent{
					Name:        b.name,
					TrialCount:  trials,
					RecoverTime: now.Sub(openedAt),
				}
			}
		} else {
			// Any failure during trial reopens with a refreshed timer.
			b.transitionLocked(model.BreakerOpen, now)
		}
	}

	onOpened, onRecovered := b.onOpened, b.onRecovered
	b.mu.Unlock()

	if opened != nil && onOpened != nil {
		onOpened(opened)
	}
	if recovered != nil && onRecovered != nil {
		onRecovered(recovered)
	}
}

// transitionLocked moves the breaker to state, bumping the generation and
// zeroing counters. Callers must hold the mutex.
func (b *CircuitBreaker) transitionLocked(state model.BreakerState, now time.Time) {
	b.state = state
	b.generation++
	b.failureCount = 0
	b.successCount = 0
	b.firstFailureAt = time.Time{}
	b.lastStateChangeAt = now
	b.trialInFlight = false
}
