package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"Bulwark/internal/biz"
	"Bulwark/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// maxEnqueueBodyBytes bounds the accepted request body. Captured responses
// are replayed from the idempotency store, so unbounded bodies would be
// stored, not just streamed.
const maxEnqueueBodyBytes = 1 << 20

// JobService exposes job submission over HTTP. Every enqueue is guarded by
// the idempotency layer: retried requests with the same Idempotency-Key and
// body replay the first response instead of enqueueing twice.
type JobService struct {
	guard  *biz.IdempotencyGuard
	pool   *biz.WorkerPool
	logger *log.Helper
}

// NewJobService creates a new JobService instance.
func NewJobService(guard *biz.IdempotencyGuard, pool *biz.WorkerPool, logger log.Logger) *JobService {
	return &JobService{
		guard:  guard,
		pool:   pool,
		logger: log.NewHelper(logger),
	}
}

// RegisterHTTP registers the job routes on the HTTP server.
func (s *JobService) RegisterHTTP(srv *khttp.Server) {
	r := srv.Route("/v1")
	r.POST("/jobs", s.EnqueueJob)
}

type enqueueJobRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type enqueueJobReply struct {
	JobID      string    `json:"job_id"`
	JobType    string    `json:"job_type"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// EnqueueJob handles POST /v1/jobs.
//
// The Idempotency-Key header is required. The response carries
// Idempotency-Replayed, and on replay Original-Date holds the completion
// time of the first attempt.
func (s *JobService) EnqueueJob(ctx khttp.Context) error {
	key := ctx.Request().Header.Get("Idempotency-Key")
	if key == "" {
		return errors.New(400, biz.ReasonInvalidIdempotencyKey, "Idempotency-Key header is required")
	}

	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxEnqueueBodyBytes))
	if err != nil {
		return errors.BadRequest("INVALID_BODY", "failed to read request body")
	}

	var req enqueueJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return errors.BadRequest("INVALID_BODY", "request body must be valid JSON")
	}
	if req.Type == "" {
		return errors.BadRequest("INVALID_BODY", "job type is required")
	}

	fingerprint := biz.Fingerprint(body)

	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return s.guard.Guard(c, key, fingerprint, func(opCtx context.Context) (*model.CapturedResponse, error) {
			job, err := s.pool.Enqueue(opCtx, req.Type, req.Payload)
			if err != nil {
				return nil, err
			}

			replyBody, err := json.Marshal(&enqueueJobReply{
				JobID:      job.ID,
				JobType:    job.Type,
				EnqueuedAt: job.EnqueuedAt,
			})
			if err != nil {
				return nil, err
			}
			return &model.CapturedResponse{
				StatusCode:  http.StatusCreated,
				ContentType: "application/json",
				Body:        replyBody,
			}, nil
		})
	})

	out, err := h(ctx, nil)
	if err != nil {
		s.logger.Warnw("enqueue rejected", "idempotency_key", key, "error", err)
		return err
	}
	result := out.(*biz.GuardResult)

	w := ctx.Response()
	w.Header().Set("Content-Type", result.Response.ContentType)
	w.Header().Set("Idempotency-Replayed", strconv.FormatBool(result.Replayed))
	if result.Replayed {
		w.Header().Set("Original-Date", result.OriginalDate.UTC().Format(http.TimeFormat))
	}
	for k, v := range result.Response.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(result.Response.StatusCode)
	_, err = w.Write(result.Response.Body)
	return err
}
