package server

import (
	"context"
	"fmt"

	"Bulwark/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// WorkerServer adapts the worker pool to the Kratos transport.Server
// lifecycle so it starts and stops with the application. Built-in job types
// are registered here, before the pool starts.
type WorkerServer struct {
	pool   *biz.WorkerPool
	logger *log.Helper
}

// NewWorkerServer registers the built-in job handlers and wraps the pool.
func NewWorkerServer(pool *biz.WorkerPool, delivery *biz.WebhookDelivery, logger log.Logger) (*WorkerServer, error) {
	if err := pool.Register(biz.JobTypeWebhookDeliver, delivery.Handle); err != nil {
		return nil, fmt.Errorf("failed to register webhook delivery handler: %w", err)
	}

	return &WorkerServer{
		pool:   pool,
		logger: log.NewHelper(logger),
	}, nil
}

// Start implements transport.Server.
func (s *WorkerServer) Start(_ context.Context) error {
	return s.pool.Start()
}

// Stop implements transport.Server.
func (s *WorkerServer) Stop(_ context.Context) error {
	s.pool.Stop()
	return nil
}
