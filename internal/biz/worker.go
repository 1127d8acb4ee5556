package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"Bulwark/internal/conf"
	"Bulwark/internal/model"
	pkgerrors "Bulwark/pkg/errors"
	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// JobHandler executes one job attempt. Returning an error marked with
// Permanent skips the remaining retry budget.
type JobHandler func(ctx context.Context, job *model.Job) error

// JobQueue is the durable delayed queue the pool pulls from.
type JobQueue interface {
	// Enqueue appends or reschedules a job.
	Enqueue(ctx context.Context, job *model.Job) error

	// Dequeue atomically pops one job whose NextRunAt <= now. Returns
	// (nil, nil) when nothing is due.
	Dequeue(ctx context.Context, now time.Time) (*model.Job, error)

	// Len returns the number of queued jobs.
	Len(ctx context.Context) (int64, error)
}

// jobRegistration pairs a handler with its retry policy. A nil policy
// means the pool default.
type jobRegistration struct {
	handler JobHandler
	policy  *RetryPolicy
}

// WorkerPool dispatches queued jobs to a fixed set of workers, applying the
// retry policy on failure and forwarding exhausted jobs to the dead-letter
// store. Job handler dispatch uses an explicit type-to-handler mapping:
// unknown job types are rejected at enqueue time.
type WorkerPool struct {
	queue       JobQueue
	deadLetters DeadLetterRepo
	policy      *RetryPolicy

	mu       sync.RWMutex
	handlers map[string]jobRegistration
	started  bool

	count        int32
	pollInterval time.Duration
	jobTimeout   time.Duration

	logger *pkglog.LogHelper
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool creates a stopped pool. Handlers must be registered before
// Start.
func NewWorkerPool(c *conf.Resilience, queue JobQueue, deadLetters DeadLetterRepo, policy *RetryPolicy, logger log.Logger) *WorkerPool {
	count := int32(4)
	pollInterval := 500 * time.Millisecond
	jobTimeout := 30 * time.Second
	if c != nil && c.Worker != nil {
		if c.Worker.Count > 0 {
			count = c.Worker.Count
		}
		if c.Worker.PollInterval != nil {
			pollInterval = c.Worker.PollInterval.AsDuration()
		}
		if c.Worker.JobTimeout != nil {
			jobTimeout = c.Worker.JobTimeout.AsDuration()
		}
	}

	return &WorkerPool{
		queue:        queue,
		deadLetters:  deadLetters,
		policy:       policy,
		handlers:     make(map[string]jobRegistration),
		count:        count,
		pollInterval: pollInterval,
		jobTimeout:   jobTimeout,
		logger:       pkglog.NewLogHelper(logger),
		now:          time.Now,
	}
}

// Register binds a job type to its handler under the pool's default retry
// policy. Registration happens at startup; duplicate or late registrations
// are errors.
func (p *WorkerPool) Register(jobType string, handler JobHandler) error {
	return p.RegisterWithPolicy(jobType, handler, nil)
}

// RegisterWithPolicy binds a job type to its handler with a retry policy of
// its own. A nil policy uses the pool default.
func (p *WorkerPool) RegisterWithPolicy(jobType string, handler JobHandler, policy *RetryPolicy) error {
	if jobType == "" {
		return fmt.Errorf("job type must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for job type %q must not be nil", jobType)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("cannot register job type %q after the pool started", jobType)
	}
	if _, exists := p.handlers[jobType]; exists {
		return fmt.Errorf("job type %q is already registered", jobType)
	}
	p.handlers[jobType] = jobRegistration{handler: handler, policy: policy}
	return nil
}

// Enqueue appends a new job with a zero retry count, due immediately.
// Unknown job types fail here, deterministically, not at execution time.
func (p *WorkerPool) Enqueue(ctx context.Context, jobType string, payload json.RawMessage) (*model.Job, error) {
	p.mu.RLock()
	_, known := p.handlers[jobType]
	p.mu.RUnlock()
	if !known {
		return nil, newUnknownJobTypeError(jobType)
	}

	now := p.now()
	job := &model.Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    payload,
		RetryCount: 0,
		EnqueuedAt: now,
		NextRunAt:  now,
	}

	if err := p.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	p.logger.Queue("job enqueued", "job_id", job.ID, "job_type", jobType)
	return job, nil
}

// Start launches the workers. Idempotent start is not supported; the pool
// runs until Stop.
func (p *WorkerPool) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already started")
	}
	p.started = true
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	for i := int32(0); i < p.count; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Startup("worker pool started",
		"workers", p.count,
		"poll_interval", p.pollInterval,
		"job_timeout", p.jobTimeout)
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *WorkerPool) worker(ctx context.Context, id int32) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Dequeue(ctx, p.now())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warnw("dequeue failed", "worker", id, "error", err)
			if !p.sleep(ctx) {
				return
			}
			continue
		}

		if job == nil {
			if !p.sleep(ctx) {
				return
			}
			continue
		}

		p.runJob(ctx, job)
	}
}

// sleep waits one poll interval; returns false when the pool is stopping.
func (p *WorkerPool) sleep(ctx context.Context) bool {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runJob executes one attempt under the per-job timeout. A timeout or a
// panic counts as a failure for retry purposes.
func (p *WorkerPool) runJob(ctx context.Context, job *model.Job) {
	p.mu.RLock()
	reg, ok := p.handlers[job.Type]
	p.mu.RUnlock()

	if !ok {
		// Enqueue validates types, so this only happens when the handler
		// set changed across a restart while jobs were still queued.
		p.deadLetter(ctx, job, fmt.Errorf("no handler registered for job type %q", job.Type))
		return
	}

	policy := reg.policy
	if policy == nil {
		policy = p.policy
	}

	jobCtx := pkglog.WithJobContext(ctx, job.ID)
	jobCtx, cancel := context.WithTimeout(jobCtx, p.jobTimeout)
	started := p.now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job handler panic: %v", r)
			}
		}()
		return reg.handler(jobCtx, job)
	}()
	if err == nil && jobCtx.Err() != nil {
		err = jobCtx.Err()
	}
	cancel()

	if err == nil {
		p.logger.Queue("job completed",
			"job_id", job.ID,
			"job_type", job.Type,
			"retry_count", job.RetryCount,
			"duration", p.now().Sub(started))
		return
	}

	p.handleFailure(ctx, job, err, policy)
}

// handleFailure either reschedules the job with backoff or forwards it to
// the dead-letter store when the budget is exhausted or the error is
// permanent. policy is the job type's own policy when one was registered.
func (p *WorkerPool) handleFailure(ctx context.Context, job *model.Job, jobErr error, policy *RetryPolicy) {
	if IsPermanent(jobErr) || job.RetryCount >= policy.MaxRetries {
		p.deadLetter(ctx, job, jobErr)
		return
	}

	delay := policy.Delay(job.RetryCount)
	job.RetryCount++
	job.NextRunAt = p.now().Add(delay)

	if err := p.queue.Enqueue(ctx, job); err != nil {
		// Never drop work silently: if the job cannot be rescheduled,
		// quarantine it instead.
		p.logger.Errorw("failed to reschedule job, forwarding to dead letter",
			"job_id", job.ID, "error", err)
		p.deadLetter(ctx, job, jobErr)
		return
	}

	p.logger.Queue("job rescheduled",
		"job_id", job.ID,
		"job_type", job.Type,
		"retry_count", job.RetryCount,
		"delay", delay,
		"error", jobErr)
}

func (p *WorkerPool) deadLetter(ctx context.Context, job *model.Job, jobErr error) {
	entry := &model.DeadLetterJob{
		OriginalJobID: job.ID,
		JobType:       job.Type,
		Payload:       string(job.Payload),
		LastError:     jobErr.Error(),
		RetryCount:    job.RetryCount,
		FailedAt:      p.now(),
	}

	if err := p.deadLetters.Insert(ctx, entry); err != nil {
		if pkgerrors.IsDuplicateKey(err) {
			// Already quarantined; nothing to do.
			return
		}
		p.logger.DeadLetter("FAILED TO RECORD DEAD LETTER, job is lost",
			"job_id", job.ID, "job_type", job.Type, "job_error", jobErr, "error", err)
		return
	}

	p.logger.DeadLetter("job moved to dead letter store",
		"job_id", job.ID,
		"job_type", job.Type,
		"retry_count", job.RetryCount,
		"error", jobErr)
}
