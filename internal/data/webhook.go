package data

import (
	"context"

	"Bulwark/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// LoggingWebhookService records breaker state changes in the log stream.
// Outbound notification delivery goes through the webhook.deliver job type
// instead, so operators opting out of webhooks still get the events.
type LoggingWebhookService struct {
	logger *log.Helper
}

// NewLoggingWebhookService creates a new logging webhook service.
func NewLoggingWebhookService(logger log.Logger) *LoggingWebhookService {
	return &LoggingWebhookService{
		logger: log.NewHelper(logger),
	}
}

// NotifyCircuitOpened logs a circuit opened event.
func (s *LoggingWebhookService) NotifyCircuitOpened(ctx context.Context, event *model.CircuitOpenedEvent) error {
	s.logger.Warnw("circuit opened",
		"breaker", event.Name,
		"failure_count", event.FailureCount,
		"opened_at", event.OpenedAt)
	return nil
}

// NotifyCircuitRecovered logs a circuit recovered event.
func (s *LoggingWebhookService) NotifyCircuitRecovered(ctx context.Context, event *model.CircuitRecoveredEvent) error {
	s.logger.Infow("circuit recovered",
		"breaker", event.Name,
		"trial_count", event.TrialCount,
		"recover_time", event.RecoverTime)
	return nil
}
