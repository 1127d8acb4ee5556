package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Bulwark/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// completedCacheSize bounds the in-process replay cache.
const completedCacheSize = 4096

// IdempotencyRepo implements biz.IdempotencyRepo on Redis.
// Following Kratos v2 DDD architecture, interface is defined in biz layer.
//
// The atomic check-and-insert uses SET NX: exactly one caller wins the key
// while it is pending or completed. Completed records are additionally kept
// in a small in-process LRU so hot replays skip the round trip.
type IdempotencyRepo struct {
	rdb       *redis.Client
	completed *lru.Cache[string, *model.IdempotencyRecord]
	logger    *log.Helper
}

// NewIdempotencyRepo creates a new idempotency repository.
func NewIdempotencyRepo(data *Data, logger log.Logger) *IdempotencyRepo {
	// lru.New only fails for a non-positive size
	cache, _ := lru.New[string, *model.IdempotencyRecord](completedCacheSize)
	return &IdempotencyRepo{
		rdb:       data.GetRedisClient(),
		completed: cache,
		logger:    log.NewHelper(logger),
	}
}

// Begin atomically inserts an InProgress record for keyHash unless one
// already exists. The pending marker expires after pendingTTL so a crashed
// owner cannot block the key forever.
func (r *IdempotencyRepo) Begin(ctx context.Context, keyHash string, pendingTTL time.Duration) (bool, *model.IdempotencyRecord, error) {
	// Fast path: a cached completed record means the operation already
	// finished; no need to touch Redis to find that out.
	if rec, ok := r.completed.Get(keyHash); ok {
		if rec.Expired(time.Now()) {
			r.completed.Remove(keyHash)
		} else {
			return false, rec, nil
		}
	}

	if r.rdb == nil {
		return false, nil, fmt.Errorf("redis client is nil")
	}

	now := time.Now()
	pending := &model.IdempotencyRecord{
		KeyHash:   keyHash,
		Status:    model.IdempotencyInProgress,
		CreatedAt: now,
		ExpiresAt: now.Add(pendingTTL),
	}
	body, err := json.Marshal(pending)
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	key := getIdempotencyKey(keyHash)

	// Two attempts cover the race where the existing key expires between
	// the failed SET NX and the GET.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := r.rdb.SetNX(ctx, key, body, pendingTTL).Result()
		if err != nil {
			return false, nil, fmt.Errorf("failed to insert idempotency marker: %w", err)
		}
		if ok {
			return true, nil, nil
		}

		raw, err := r.rdb.Get(ctx, key).Bytes()
		if err == redis.Nil {
			// Lost the key between SetNX and Get; try to claim it again
			continue
		}
		if err != nil {
			return false, nil, fmt.Errorf("failed to read idempotency record: %w", err)
		}

		existing := &model.IdempotencyRecord{}
		if err := json.Unmarshal(raw, existing); err != nil {
			return false, nil, fmt.Errorf("failed to decode idempotency record: %w", err)
		}
		if existing.Status == model.IdempotencyCompleted {
			r.completed.Add(keyHash, existing)
		}
		return false, existing, nil
	}

	// Both attempts lost the claim race; report a pending conflict
	return false, nil, nil
}

// Complete replaces the pending marker with a completed record that
// expires after ttl.
func (r *IdempotencyRepo) Complete(ctx context.Context, keyHash string, record *model.IdempotencyRecord, ttl time.Duration) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	if err := r.rdb.Set(ctx, getIdempotencyKey(keyHash), body, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store completed idempotency record: %w", err)
	}

	r.completed.Add(keyHash, record)
	return nil
}

// Abort deletes the pending marker so the key becomes retryable.
func (r *IdempotencyRepo) Abort(ctx context.Context, keyHash string) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	r.completed.Remove(keyHash)
	if err := r.rdb.Del(ctx, getIdempotencyKey(keyHash)).Err(); err != nil {
		return fmt.Errorf("failed to delete idempotency marker: %w", err)
	}
	return nil
}

// getIdempotencyKey generates a Redis key for an idempotency record.
// Format: idem:{key_hash}
func getIdempotencyKey(keyHash string) string {
	return fmt.Sprintf("idem:%s", keyHash)
}
