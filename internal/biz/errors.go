package biz

import (
	stderrors "errors"
	"fmt"

	"github.com/go-kratos/kratos/v2/errors"
)

// Error reasons surfaced to callers. The HTTP transport maps the attached
// codes automatically (503 for an open circuit, 409 for an in-flight
// duplicate, 400 for validation failures).
const (
	ReasonCircuitOpen           = "CIRCUIT_OPEN"
	ReasonConcurrentDuplicate   = "CONCURRENT_DUPLICATE"
	ReasonInvalidIdempotencyKey = "INVALID_IDEMPOTENCY_KEY"
	ReasonUnknownJobType        = "UNKNOWN_JOB_TYPE"
	ReasonBreakerNotFound       = "BREAKER_NOT_FOUND"
	ReasonDeadLetterNotFound    = "DEAD_LETTER_NOT_FOUND"
	ReasonAlreadyResolved       = "DEAD_LETTER_ALREADY_RESOLVED"
)

// newCircuitOpenError signals a breaker-induced fast failure. This is
// distinct from the guarded operation's own failure, which is always
// propagated unchanged, and it is never counted as a new failure against
// the breaker.
func newCircuitOpenError(name string) *errors.Error {
	return errors.New(
		503,
		ReasonCircuitOpen,
		fmt.Sprintf("circuit breaker %q is open: dependency presumed unhealthy", name),
	)
}

// newConcurrentDuplicateError signals that another request holding the same
// idempotency key is still in flight. The caller should back off and retry
// the same key shortly.
func newConcurrentDuplicateError(key string) *errors.Error {
	return errors.New(
		409,
		ReasonConcurrentDuplicate,
		fmt.Sprintf("a request with idempotency key %q is already in progress", key),
	)
}

// newInvalidKeyError signals a malformed idempotency key. The guarded
// operation is never attempted.
func newInvalidKeyError(detail string) *errors.Error {
	return errors.New(400, ReasonInvalidIdempotencyKey, detail)
}

// newUnknownJobTypeError signals an enqueue attempt for an unregistered job
// type. Unknown types fail deterministically at enqueue time, never at
// execution time.
func newUnknownJobTypeError(jobType string) *errors.Error {
	return errors.New(400, ReasonUnknownJobType, fmt.Sprintf("no handler registered for job type %q", jobType))
}

// IsCircuitOpen reports whether err is a breaker fast-failure.
func IsCircuitOpen(err error) bool {
	return errors.Reason(err) == ReasonCircuitOpen
}

// IsConcurrentDuplicate reports whether err is idempotency contention.
func IsConcurrentDuplicate(err error) bool {
	return errors.Reason(err) == ReasonConcurrentDuplicate
}

// permanentError marks a job failure that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.err)
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent wraps err so the worker pool skips the remaining retry budget
// and forwards the job straight to the dead-letter store. Handlers use this
// for caller/data errors that retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or any wrapped error) was marked with
// Permanent. Everything else is treated as transient and retryable.
func IsPermanent(err error) bool {
	var pe *permanentError
	return stderrors.As(err, &pe)
}
