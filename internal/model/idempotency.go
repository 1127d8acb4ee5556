package model

import "time"

// IdempotencyStatus is the lifecycle state of an idempotency record.
type IdempotencyStatus string

const (
	// IdempotencyInProgress marks a key whose first attempt is still executing.
	IdempotencyInProgress IdempotencyStatus = "in_progress"
	// IdempotencyCompleted marks a key whose operation finished successfully.
	IdempotencyCompleted IdempotencyStatus = "completed"
)

// CapturedResponse is the response captured for a completed idempotent
// operation, replayed verbatim to later callers of the same key.
type CapturedResponse struct {
	StatusCode  int               `json:"status_code"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body"`
}

// IdempotencyRecord is the durable record behind one idempotency key hash.
// At most one InProgress record exists per key hash at a time; a Completed
// record is immutable until it expires.
type IdempotencyRecord struct {
	KeyHash   string            `json:"key_hash"`
	Status    IdempotencyStatus `json:"status"`
	Response  *CapturedResponse `json:"response,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Expired reports whether the record's TTL window has passed at now.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
