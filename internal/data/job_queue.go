package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Bulwark/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// Redis keys for the delayed job queue.
// The sorted set orders job IDs by due time (unix millis); the hash holds
// the serialized job bodies.
const (
	jobScheduleKey = "jobs:schedule"
	jobBodyKey     = "jobs:body"
)

// popDueScript atomically claims the earliest due job: remove its ID from
// the schedule and its body from the hash in one step, so two workers can
// never execute the same job.
var popDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
  return false
end
local id = due[1]
redis.call('ZREM', KEYS[1], id)
local body = redis.call('HGET', KEYS[2], id)
redis.call('HDEL', KEYS[2], id)
return body
`)

// JobQueue implements biz.JobQueue on Redis.
// Following Kratos v2 DDD architecture, interface is defined in biz layer.
type JobQueue struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewJobQueue creates a new Redis-backed job queue.
func NewJobQueue(data *Data, logger log.Logger) *JobQueue {
	return &JobQueue{
		rdb:    data.GetRedisClient(),
		logger: log.NewHelper(logger),
	}
}

// Enqueue appends or reschedules a job. The same job ID overwrites its
// previous schedule entry, which is exactly what a backoff reschedule needs.
func (q *JobQueue) Enqueue(ctx context.Context, job *model.Job) error {
	if q.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobBodyKey, job.ID, body)
	pipe.ZAdd(ctx, jobScheduleKey, redis.Z{
		Score:  float64(job.NextRunAt.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Dequeue atomically pops one job whose due time is at or before now.
// Returns (nil, nil) when nothing is due.
func (q *JobQueue) Dequeue(ctx context.Context, now time.Time) (*model.Job, error) {
	if q.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	raw, err := popDueScript.Run(ctx, q.rdb,
		[]string{jobScheduleKey, jobBodyKey},
		now.UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop due job: %w", err)
	}

	body, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected job body type %T", raw)
	}

	job := &model.Job{}
	if err := json.Unmarshal([]byte(body), job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return job, nil
}

// Len returns the number of queued jobs.
func (q *JobQueue) Len(ctx context.Context) (int64, error) {
	if q.rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	count, err := q.rdb.ZCard(ctx, jobScheduleKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count queued jobs: %w", err)
	}
	return count, nil
}
