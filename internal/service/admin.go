package service

import (
	"context"
	"fmt"
	"strconv"

	"Bulwark/internal/biz"
	"Bulwark/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// AdminService exposes the operational surface: circuit breaker inspection
// and reset, dead-letter inspection, manual retry and cleanup, and queue
// metrics.
type AdminService struct {
	registry    *biz.BreakerRegistry
	deadLetters *biz.DeadLetterUsecase
	queue       biz.JobQueue
	logger      *log.Helper
}

// NewAdminService creates a new AdminService instance.
func NewAdminService(registry *biz.BreakerRegistry, deadLetters *biz.DeadLetterUsecase, queue biz.JobQueue, logger log.Logger) *AdminService {
	return &AdminService{
		registry:    registry,
		deadLetters: deadLetters,
		queue:       queue,
		logger:      log.NewHelper(logger),
	}
}

// RegisterHTTP registers the admin routes on the HTTP server.
func (s *AdminService) RegisterHTTP(srv *khttp.Server) {
	r := srv.Route("/v1")

	r.GET("/breakers", s.ListBreakers)
	r.POST("/breakers/reset", s.ResetAllBreakers)
	r.GET("/breakers/{name}", s.GetBreaker)
	r.POST("/breakers/{name}/reset", s.ResetBreaker)

	r.GET("/metrics", s.Metrics)

	r.GET("/dead-letters", s.ListDeadLetters)
	r.POST("/dead-letters/cleanup", s.CleanupDeadLetters)
	r.GET("/dead-letters/{job_id}", s.GetDeadLetter)
	r.POST("/dead-letters/{job_id}/retry", s.RetryDeadLetter)
}

type listBreakersReply struct {
	Breakers []*model.BreakerSnapshot `json:"breakers"`
}

// ListBreakers handles GET /v1/breakers.
func (s *AdminService) ListBreakers(ctx khttp.Context) error {
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return &listBreakersReply{Breakers: s.registry.List()}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// GetBreaker handles GET /v1/breakers/{name}.
func (s *AdminService) GetBreaker(ctx khttp.Context) error {
	name := ctx.Vars().Get("name")

	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		cb, ok := s.registry.Get(name)
		if !ok {
			return nil, errors.New(404, biz.ReasonBreakerNotFound,
				fmt.Sprintf("no circuit breaker named %q", name))
		}
		return cb.GetState(), nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

type resetReply struct {
	Reset bool `json:"reset"`
}

// ResetBreaker handles POST /v1/breakers/{name}/reset.
func (s *AdminService) ResetBreaker(ctx khttp.Context) error {
	name := ctx.Vars().Get("name")

	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		cb, ok := s.registry.Get(name)
		if !ok {
			return nil, errors.New(404, biz.ReasonBreakerNotFound,
				fmt.Sprintf("no circuit breaker named %q", name))
		}
		cb.Reset()
		s.logger.Infow("circuit breaker reset by operator", "name", name)
		return &resetReply{Reset: true}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// ResetAllBreakers handles POST /v1/breakers/reset.
func (s *AdminService) ResetAllBreakers(ctx khttp.Context) error {
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		s.registry.ResetAll()
		s.logger.Infow("all circuit breakers reset by operator")
		return &resetReply{Reset: true}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

type metricsReply struct {
	Breakers   *biz.RegistryMetrics `json:"breakers"`
	QueuedJobs int64                `json:"queued_jobs"`
}

// Metrics handles GET /v1/metrics.
func (s *AdminService) Metrics(ctx khttp.Context) error {
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		queued, err := s.queue.Len(c)
		if err != nil {
			s.logger.Warnw("failed to read queue length", "error", err)
			queued = -1
		}
		return &metricsReply{
			Breakers:   s.registry.Metrics(),
			QueuedJobs: queued,
		}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

type listDeadLettersReply struct {
	Entries []*model.DeadLetterJob `json:"entries"`
}

// ListDeadLetters handles GET /v1/dead-letters?resolved=&limit=.
func (s *AdminService) ListDeadLetters(ctx khttp.Context) error {
	resolved, _ := strconv.ParseBool(ctx.Query().Get("resolved"))
	limit, _ := strconv.Atoi(ctx.Query().Get("limit"))

	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		entries, err := s.deadLetters.List(c, resolved, limit)
		if err != nil {
			return nil, err
		}
		return &listDeadLettersReply{Entries: entries}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// GetDeadLetter handles GET /v1/dead-letters/{job_id}.
func (s *AdminService) GetDeadLetter(ctx khttp.Context) error {
	jobID := ctx.Vars().Get("job_id")

	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return s.deadLetters.Get(c, jobID)
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

type retryDeadLetterReply struct {
	NewJobID string `json:"new_job_id"`
	JobType  string `json:"job_type"`
}

// RetryDeadLetter handles POST /v1/dead-letters/{job_id}/retry.
func (s *AdminService) RetryDeadLetter(ctx khttp.Context) error {
	jobID := ctx.Vars().Get("job_id")

	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		job, err := s.deadLetters.Retry(c, jobID)
		if err != nil {
			return nil, err
		}
		return &retryDeadLetterReply{NewJobID: job.ID, JobType: job.Type}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

type cleanupReply struct {
	Deleted int64 `json:"deleted"`
}

// CleanupDeadLetters handles POST /v1/dead-letters/cleanup.
func (s *AdminService) CleanupDeadLetters(ctx khttp.Context) error {
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		deleted, err := s.deadLetters.Cleanup(c)
		if err != nil {
			return nil, err
		}
		return &cleanupReply{Deleted: deleted}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}
