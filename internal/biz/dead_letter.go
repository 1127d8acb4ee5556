package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Bulwark/internal/conf"
	"Bulwark/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// DeadLetterRepo is the durable store for jobs that exhausted their
// retries. Interface defined in the biz layer, implemented in data.
type DeadLetterRepo interface {
	Insert(ctx context.Context, entry *model.DeadLetterJob) error
	List(ctx context.Context, resolved bool, limit int) ([]*model.DeadLetterJob, error)
	Get(ctx context.Context, originalJobID string) (*model.DeadLetterJob, error)
	MarkResolved(ctx context.Context, originalJobID, note string, resolvedAt time.Time) error
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeadLetterUsecase implements inspection, manual retry and cleanup of
// dead-lettered jobs.
type DeadLetterUsecase struct {
	repo      DeadLetterRepo
	pool      *WorkerPool
	retention time.Duration
	logger    *log.Helper
	now       func() time.Time
}

// NewDeadLetterUsecase creates the usecase with retention from config.
func NewDeadLetterUsecase(c *conf.Resilience, repo DeadLetterRepo, pool *WorkerPool, logger log.Logger) *DeadLetterUsecase {
	retention := 7 * 24 * time.Hour
	if c != nil && c.DeadLetter != nil && c.DeadLetter.Retention != nil {
		retention = c.DeadLetter.Retention.AsDuration()
	}

	return &DeadLetterUsecase{
		repo:      repo,
		pool:      pool,
		retention: retention,
		logger:    log.NewHelper(logger),
		now:       time.Now,
	}
}

// List returns dead-letter entries filtered by resolved state.
func (uc *DeadLetterUsecase) List(ctx context.Context, resolved bool, limit int) ([]*model.DeadLetterJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	entries, err := uc.repo.List(ctx, resolved, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return entries, nil
}

// Get returns one dead-letter entry by its original job ID.
func (uc *DeadLetterUsecase) Get(ctx context.Context, originalJobID string) (*model.DeadLetterJob, error) {
	entry, err := uc.repo.Get(ctx, originalJobID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errors.New(404, ReasonDeadLetterNotFound,
			fmt.Sprintf("no dead letter entry for job %q", originalJobID))
	}
	return entry, nil
}

// Retry re-enqueues a fresh job with a zero retry count using the stored
// type and payload, and marks the dead-letter entry resolved with the note
// "manual retry". The new job gets a new ID; the entry keeps the original.
func (uc *DeadLetterUsecase) Retry(ctx context.Context, originalJobID string) (*model.Job, error) {
	entry, err := uc.Get(ctx, originalJobID)
	if err != nil {
		return nil, err
	}
	if entry.Resolved {
		return nil, errors.New(409, ReasonAlreadyResolved,
			fmt.Sprintf("dead letter entry for job %q is already resolved", originalJobID))
	}

	job, err := uc.pool.Enqueue(ctx, entry.JobType, json.RawMessage(entry.Payload))
	if err != nil {
		return nil, fmt.Errorf("failed to re-enqueue dead letter %q: %w", originalJobID, err)
	}

	if err := uc.repo.MarkResolved(ctx, originalJobID, "manual retry", uc.now()); err != nil {
		// The job is already queued; an unresolved entry is the lesser
		// harm, but make it visible.
		uc.logger.Errorw("re-enqueued dead letter but failed to mark it resolved",
			"original_job_id", originalJobID, "new_job_id", job.ID, "error", err)
		return job, nil
	}

	uc.logger.Infow("dead letter retried",
		"original_job_id", originalJobID,
		"new_job_id", job.ID,
		"job_type", entry.JobType)
	return job, nil
}

// Cleanup deletes resolved entries older than the retention window and
// returns the number deleted.
func (uc *DeadLetterUsecase) Cleanup(ctx context.Context) (int64, error) {
	cutoff := uc.now().Add(-uc.retention)
	deleted, err := uc.repo.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("dead letter cleanup failed: %w", err)
	}

	uc.logger.Infow("dead letter cleanup completed",
		"deleted", deleted,
		"cutoff", cutoff)
	return deleted, nil
}
