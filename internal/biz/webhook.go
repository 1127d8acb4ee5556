package biz

import (
	"context"

	"Bulwark/internal/model"
)

// WebhookService defines the interface for breaker state-change notifications.
type WebhookService interface {
	// NotifyCircuitOpened sends notification when a circuit breaker trips open
	NotifyCircuitOpened(ctx context.Context, event *model.CircuitOpenedEvent) error

	// NotifyCircuitRecovered sends notification when a circuit breaker recovers
	NotifyCircuitRecovered(ctx context.Context, event *model.CircuitRecoveredEvent) error
}
