package biz

import (
	"math"
	"time"

	"Bulwark/internal/conf"
)

// RetryPolicy computes backoff delays for failed jobs. Pure: the same
// attempt always yields the same delay.
type RetryPolicy struct {
	// MaxRetries is the retry budget after the first attempt.
	MaxRetries int32
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// BackoffFactor multiplies the delay for each subsequent retry.
	BackoffFactor float64
	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay time.Duration
}

// NewRetryPolicy builds the default policy from configuration.
func NewRetryPolicy(c *conf.Resilience) *RetryPolicy {
	p := &RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      5 * time.Minute,
	}
	if c != nil && c.Retry != nil {
		p.MaxRetries = c.Retry.MaxRetries
		if c.Retry.InitialDelay != nil {
			p.InitialDelay = c.Retry.InitialDelay.AsDuration()
		}
		if c.Retry.BackoffFactor > 0 {
			p.BackoffFactor = c.Retry.BackoffFactor
		}
		if c.Retry.MaxDelay != nil {
			p.MaxDelay = c.Retry.MaxDelay.AsDuration()
		}
	}
	return p
}

// Delay returns the backoff delay for the given retry attempt. attempt is
// 0-indexed for the first retry: initialDelay * backoffFactor^attempt,
// capped at MaxDelay.
func (p *RetryPolicy) Delay(attempt int32) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1
	}

	delay := float64(p.InitialDelay) * math.Pow(factor, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
