package biz

import (
	"context"
	"sort"
	"sync"
	"time"

	"Bulwark/internal/conf"
	"Bulwark/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// RegistryMetrics aggregates breaker counters for the admin surface.
type RegistryMetrics struct {
	Total        int   `json:"total"`
	Open         int   `json:"open"`
	HalfOpen     int   `json:"half_open"`
	BlockedCalls int64 `json:"blocked_calls"`
}

// BreakerRegistry owns all circuit breakers and looks them up by name.
// Exactly one breaker instance exists per name. Breaker state is local to
// this process; in a multi-instance deployment every instance tracks its
// own view of downstream health.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	defaults BreakerConfig
	webhook  WebhookService
	logger   *log.Helper
}

// NewBreakerRegistry creates an empty registry with defaults from config.
func NewBreakerRegistry(c *conf.Resilience, webhook WebhookService, logger log.Logger) *BreakerRegistry {
	defaults := BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		FailureWindow:    time.Minute,
		CallTimeout:      10 * time.Second,
	}
	if c != nil && c.Breaker != nil {
		if c.Breaker.FailureThreshold > 0 {
			defaults.FailureThreshold = c.Breaker.FailureThreshold
		}
		if c.Breaker.SuccessThreshold > 0 {
			defaults.SuccessThreshold = c.Breaker.SuccessThreshold
		}
		if c.Breaker.OpenTimeout != nil {
			defaults.OpenTimeout = c.Breaker.OpenTimeout.AsDuration()
		}
		if c.Breaker.FailureWindow != nil {
			defaults.FailureWindow = c.Breaker.FailureWindow.AsDuration()
		}
		if c.Breaker.CallTimeout != nil {
			defaults.CallTimeout = c.Breaker.CallTimeout.AsDuration()
		}
	}

	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
		webhook:  webhook,
		logger:   log.NewHelper(logger),
	}
}

// GetOrCreate returns the breaker registered under name, creating it with
// config on first call. Idempotent: a differing config on a subsequent call
// is ignored; the first registration wins. A nil config uses the registry
// defaults.
func (r *BreakerRegistry) GetOrCreate(name string, config *BreakerConfig) *CircuitBreaker {
	r.mu.RLock()
	if cb, ok := r.breakers[name]; ok {
		r.mu.RUnlock()
		return cb
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock.
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cfg := r.defaults
	if config != nil {
		cfg = *config
	}

	cb := newCircuitBreaker(name, cfg)
	cb.onOpened = r.handleOpened
	cb.onRecovered = r.handleRecovered
	r.breakers[name] = cb

	r.logger.Infow("circuit breaker registered",
		"name", name,
		"failure_threshold", cfg.FailureThreshold,
		"success_threshold", cfg.SuccessThreshold,
		"open_timeout", cfg.OpenTimeout)

	return cb
}

// Get returns the breaker registered under name, if any.
func (r *BreakerRegistry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// List returns snapshots of all breakers, sorted by name.
func (r *BreakerRegistry) List() []*model.BreakerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]*model.BreakerSnapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		snapshots = append(snapshots, cb.GetState())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name < snapshots[j].Name
	})
	return snapshots
}

// ResetAll forces every breaker Closed with zeroed counters.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
	r.logger.Infow("all circuit breakers reset", "count", len(r.breakers))
}

// Metrics returns aggregate counters across all breakers.
func (r *BreakerRegistry) Metrics() *RegistryMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := &RegistryMetrics{Total: len(r.breakers)}
	for _, cb := range r.breakers {
		switch cb.GetState().State {
		case model.BreakerOpen:
			m.Open++
		case model.BreakerHalfOpen:
			m.HalfOpen++
		}
		m.BlockedCalls += cb.BlockedCalls()
	}
	return m
}

func (r *BreakerRegistry) handleOpened(event *model.CircuitOpenedEvent) {
	r.logger.Warnw("circuit breaker opened",
		"name", event.Name,
		"failure_count", event.FailureCount,
		"opened_at", event.OpenedAt)

	if r.webhook != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.webhook.NotifyCircuitOpened(ctx, event); err != nil {
			r.logger.Warnw("failed to notify circuit opened", "name", event.Name, "error", err)
		}
	}
}

func (r *BreakerRegistry) handleRecovered(event *model.CircuitRecoveredEvent) {
	r.logger.Infow("circuit breaker recovered",
		"name", event.Name,
		"trial_count", event.TrialCount,
		"recover_time", event.RecoverTime)

	if r.webhook != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.webhook.NotifyCircuitRecovered(ctx, event); err != nil {
			r.logger.Warnw("failed to notify circuit recovered", "name", event.Name, "error", err)
		}
	}
}
