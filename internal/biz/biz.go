// Package biz contains business logic layer implementations.
// This layer holds the core business rules and domain models.
package biz

import (
	"Bulwark/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewBreakerRegistry,
	NewRetryPolicy,
	NewIdempotencyGuard,
	NewWorkerPool,
	NewDeadLetterUsecase,
	NewWebhookDelivery,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(IdempotencyRepo), new(*data.IdempotencyRepo)),
	wire.Bind(new(JobQueue), new(*data.JobQueue)),
	wire.Bind(new(DeadLetterRepo), new(*data.DeadLetterRepo)),
	wire.Bind(new(WebhookService), new(*data.LoggingWebhookService)),
)
