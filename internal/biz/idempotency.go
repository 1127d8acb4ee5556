package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"Bulwark/internal/conf"
	"Bulwark/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// Idempotency key format constraints enforced at the HTTP boundary.
const (
	minKeyLength = 3
	maxKeyLength = 255
)

// IdempotencyRepo is the durable store behind the guard. Begin must be an
// atomic check-and-insert: without that primitive the at-most-once
// guarantee degrades to best-effort.
type IdempotencyRepo interface {
	// Begin atomically inserts an InProgress record for keyHash unless one
	// already exists. acquired is true when this caller now owns the key;
	// otherwise existing holds the record that was found.
	Begin(ctx context.Context, keyHash string, pendingTTL time.Duration) (acquired bool, existing *model.IdempotencyRecord, err error)

	// Complete replaces the InProgress record with a Completed one holding
	// the captured response, expiring after ttl.
	Complete(ctx context.Context, keyHash string, record *model.IdempotencyRecord, ttl time.Duration) error

	// Abort deletes the InProgress marker so the key becomes retryable.
	Abort(ctx context.Context, keyHash string) error
}

// GuardedOperation is the mutating operation protected by the guard. It is
// the only place a real side effect occurs.
type GuardedOperation func(ctx context.Context) (*model.CapturedResponse, error)

// GuardResult is what the guard hands back to the transport layer.
type GuardResult struct {
	Response *model.CapturedResponse
	// Replayed is true when the response came from a completed record
	// instead of a fresh execution.
	Replayed bool
	// OriginalDate is the completion time of the first successful attempt.
	OriginalDate time.Time
}

// IdempotencyGuard wraps a mutating operation with key-based deduplication.
// Only requests sharing the exact same key hash contend, and only while the
// first is still executing.
type IdempotencyGuard struct {
	repo       IdempotencyRepo
	ttl        time.Duration
	pendingTTL time.Duration
	logger     *log.Helper
	now        func() time.Time
}

// NewIdempotencyGuard creates a guard with TTLs from configuration.
func NewIdempotencyGuard(c *conf.Resilience, repo IdempotencyRepo, logger log.Logger) *IdempotencyGuard {
	ttl := 24 * time.Hour
	pendingTTL := 60 * time.Second
	if c != nil && c.Idempotency != nil {
		if c.Idempotency.Ttl != nil {
			ttl = c.Idempotency.Ttl.AsDuration()
		}
		if c.Idempotency.PendingTtl != nil {
			pendingTTL = c.Idempotency.PendingTtl.AsDuration()
		}
	}

	return &IdempotencyGuard{
		repo:       repo,
		ttl:        ttl,
		pendingTTL: pendingTTL,
		logger:     log.NewHelper(logger),
		now:        time.Now,
	}
}

// Guard runs op at most once per (key, fingerprint) pair.
//
// A completed, unexpired record replays the captured response without
// invoking op. An in-flight duplicate fails fast with
// ConcurrentDuplicateError. A failed or cancelled op deletes the pending
// marker, so the same key may be retried.
func (g *IdempotencyGuard) Guard(ctx context.Context, key, fingerprint string, op GuardedOperation) (*GuardResult, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	keyHash := HashKey(key, fingerprint)

	acquired, existing, err := g.repo.Begin(ctx, keyHash, g.pendingTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency begin failed: %w", err)
	}

	if !acquired {
		if existing != nil && existing.Status == model.IdempotencyCompleted && !existing.Expired(g.now()) {
			g.logger.Debugw("idempotent replay", "key_hash", keyHash)
			return &GuardResult{
				Response:     existing.Response,
				Replayed:     true,
				OriginalDate: existing.CreatedAt,
			}, nil
		}
		return nil, newConcurrentDuplicateError(key)
	}

	// This caller owns the key. A panicking op must also release the
	// marker, or the key stays locked until pendingTTL expires.
	finished := false
	defer func() {
		if !finished {
			g.abort(ctx, keyHash)
		}
	}()

	resp, opErr := op(ctx)
	if opErr == nil && ctx.Err() != nil {
		opErr = ctx.Err()
	}
	finished = true

	if opErr != nil {
		// Failures are never cached: drop the marker so the key becomes
		// retryable.
		g.abort(ctx, keyHash)
		return nil, opErr
	}

	completedAt := g.now()
	record := &model.IdempotencyRecord{
		KeyHash:   keyHash,
		Status:    model.IdempotencyCompleted,
		Response:  resp,
		CreatedAt: completedAt,
		ExpiresAt: completedAt.Add(g.ttl),
	}
	if err := g.repo.Complete(ctx, keyHash, record, g.ttl); err != nil {
		// The side effect already happened. Leave the pending marker to
		// expire on its own rather than reopen the key to a duplicate
		// execution; the caller still gets its response.
		g.logger.Errorw("failed to store completed idempotency record",
			"key_hash", keyHash, "error", err)
	}

	return &GuardResult{
		Response:     resp,
		Replayed:     false,
		OriginalDate: completedAt,
	}, nil
}

// abort drops the pending marker so the key becomes retryable. It must
// survive the caller's cancellation.
func (g *IdempotencyGuard) abort(ctx context.Context, keyHash string) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.repo.Abort(abortCtx, keyHash); err != nil {
		g.logger.Warnw("failed to abort idempotency marker",
			"key_hash", keyHash, "error", err)
	}
}

// ValidateKey checks the idempotency key against the boundary constraints:
// 3-255 characters from [A-Za-z0-9_.:-].
func ValidateKey(key string) error {
	if len(key) < minKeyLength {
		return newInvalidKeyError(fmt.Sprintf("idempotency key must be at least %d characters", minKeyLength))
	}
	if len(key) > maxKeyLength {
		return newInvalidKeyError(fmt.Sprintf("idempotency key must be at most %d characters", maxKeyLength))
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return newInvalidKeyError(fmt.Sprintf("idempotency key contains invalid character %q", c))
		}
	}
	return nil
}

// HashKey derives the key hash identifying one logical operation attempt.
// The request fingerprint is part of the hash: the same key with a
// different body is a different operation, not a conflict.
func HashKey(key, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint hashes a normalized request body for use in HashKey.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
