package biz

import (
	stderrors "errors"
	"fmt"
	"testing"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/stretchr/testify/assert"
)

func kratosReason(err error) string {
	return kerrors.Reason(err)
}

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, int32(503), kerrors.FromError(newCircuitOpenError("svc")).Code)
	assert.Equal(t, int32(409), kerrors.FromError(newConcurrentDuplicateError("k")).Code)
	assert.Equal(t, int32(400), kerrors.FromError(newInvalidKeyError("bad")).Code)
	assert.Equal(t, int32(400), kerrors.FromError(newUnknownJobTypeError("nope")).Code)
}

func TestIsCircuitOpen(t *testing.T) {
	assert.True(t, IsCircuitOpen(newCircuitOpenError("svc")))
	assert.False(t, IsCircuitOpen(newConcurrentDuplicateError("k")))
	assert.False(t, IsCircuitOpen(stderrors.New("plain")))
	assert.False(t, IsCircuitOpen(nil))
}

func TestIsConcurrentDuplicate(t *testing.T) {
	assert.True(t, IsConcurrentDuplicate(newConcurrentDuplicateError("k")))
	assert.False(t, IsConcurrentDuplicate(newCircuitOpenError("svc")))
}

func TestPermanent(t *testing.T) {
	base := stderrors.New("bad payload")

	assert.Nil(t, Permanent(nil))
	assert.True(t, IsPermanent(Permanent(base)))
	assert.False(t, IsPermanent(base))
	assert.False(t, IsPermanent(nil))

	// Wrapping preserves the mark and the cause.
	wrapped := fmt.Errorf("handler: %w", Permanent(base))
	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
}
