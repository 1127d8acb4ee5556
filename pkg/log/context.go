package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// contextKey is the private key type used to store the RequestContext.
type contextKey string

const requestContextKey contextKey = "bulwark_request_context"

// RequestContext carries request tracing information across functions and
// layers via context.Context.
type RequestContext struct {
	RequestID      string    // short random request ID, e.g. mgrn0zfqda
	IdempotencyKey string    // caller-supplied Idempotency-Key, if any
	JobID          string    // job ID when logging from the worker path
	StartTime      time.Time // request start time
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 charset (lowercase letters + digits)
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID generates a 10-character random request ID.
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext injects a RequestContext into the context. Usually
// called by middleware at the start of a request.
func WithRequestContext(ctx context.Context, requestID, idempotencyKey string) context.Context {
	reqCtx := &RequestContext{
		RequestID:      requestID,
		IdempotencyKey: idempotencyKey,
		StartTime:      time.Now(),
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// WithJobContext injects a RequestContext describing a background job
// execution. Used by the worker pool so handler logs carry the job ID.
func WithJobContext(ctx context.Context, jobID string) context.Context {
	reqCtx := &RequestContext{
		RequestID: GenerateRequestID(),
		JobID:     jobID,
		StartTime: time.Now(),
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// GetRequestContext extracts the RequestContext from the context.
// Returns a default empty RequestContext when absent.
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return &RequestContext{RequestID: "unknown"}
	}

	if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return reqCtx
	}

	return &RequestContext{RequestID: "unknown"}
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}
