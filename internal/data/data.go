// Package data provides data access layer implementations.
// It handles database connections and data persistence.
package data

import (
	"Bulwark/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	NewIdempotencyRepo,
	NewJobQueue,
	NewDeadLetterRepo,
	NewLoggingWebhookService,
)

// Data contains all data layer dependencies.
type Data struct {
	// redisClient backs the idempotency store and the job queue
	redisClient *redis.Client
	// db backs the dead-letter store
	db *gorm.DB
}

// NewData creates a new Data instance with all data layer dependencies.
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, db *gorm.DB) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, idempotency and job queue will be unavailable")
	}

	d := &Data{
		redisClient: rdb,
		db:          db,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Redis and MySQL cleanup are handled by their providers' cleanup
		// functions, which Wire invokes in reverse order
	}

	return d, cleanup, nil
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

// GetDB returns the GORM database handle.
func (d *Data) GetDB() *gorm.DB {
	return d.db
}
