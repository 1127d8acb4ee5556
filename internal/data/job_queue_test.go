package data

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"Bulwark/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJobQueue(t *testing.T) (*JobQueue, *miniredis.Miniredis) {
	d, mr := setupTestData(t)
	return NewJobQueue(d, log.NewStdLogger(os.Stdout)), mr
}

func testJob(id string, nextRunAt time.Time) *model.Job {
	return &model.Job{
		ID:         id,
		Type:       "webhook.deliver",
		Payload:    json.RawMessage(`{"url":"https://example.com"}`),
		EnqueuedAt: nextRunAt,
		NextRunAt:  nextRunAt,
	}
}

func TestJobQueue_EnqueueDequeue(t *testing.T) {
	q, _ := newTestJobQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, testJob("j1", now)))

	job, err := q.Dequeue(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, "webhook.deliver", job.Type)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(job.Payload))

	// Popped exactly once.
	job, err = q.Dequeue(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobQueue_NotDueUntilScheduled(t *testing.T) {
	q, _ := newTestJobQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, testJob("delayed", now.Add(4*time.Second))))

	job, err := q.Dequeue(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = q.Dequeue(ctx, now.Add(4*time.Second))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "delayed", job.ID)
}

func TestJobQueue_EarliestDueFirst(t *testing.T) {
	q, _ := newTestJobQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.Enqueue(ctx, testJob("later", now.Add(-time.Second))))
	require.NoError(t, q.Enqueue(ctx, testJob("earlier", now.Add(-time.Minute))))

	job, err := q.Dequeue(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "earlier", job.ID)
}

func TestJobQueue_RescheduleSameID(t *testing.T) {
	q, _ := newTestJobQueue(t)
	ctx := context.Background()
	now := time.Now()

	job := testJob("j1", now)
	require.NoError(t, q.Enqueue(ctx, job))

	// A backoff reschedule overwrites the schedule entry, not duplicates it.
	job.RetryCount = 1
	job.NextRunAt = now.Add(2 * time.Second)
	require.NoError(t, q.Enqueue(ctx, job))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := q.Dequeue(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = q.Dequeue(ctx, now.Add(2*time.Second))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int32(1), got.RetryCount)
}

func TestJobQueue_Len(t *testing.T) {
	q, _ := newTestJobQueue(t)
	ctx := context.Background()
	now := time.Now()

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, q.Enqueue(ctx, testJob("a", now)))
	require.NoError(t, q.Enqueue(ctx, testJob("b", now.Add(time.Hour))))

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestJobQueue_NilRedis(t *testing.T) {
	q := NewJobQueue(&Data{}, log.NewStdLogger(os.Stdout))
	ctx := context.Background()

	assert.Error(t, q.Enqueue(ctx, testJob("j", time.Now())))
	_, err := q.Dequeue(ctx, time.Now())
	assert.Error(t, err)
	_, err = q.Len(ctx)
	assert.Error(t, err)
}
