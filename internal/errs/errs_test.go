package errs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeSkip, CodeOf(Skip("malformed")))
	assert.Equal(t, CodeRateLimited, CodeOf(RateLimited(time.Minute)))
	assert.Equal(t, CodeAlreadyInProgress, CodeOf(AlreadyInProgress("user-1")))
	assert.Equal(t, CodeNotFound, CodeOf(NotFound("missing")))

	// Untyped errors default to transient so callers retry them.
	assert.Equal(t, CodeTransient, CodeOf(errors.New("boom")))
	assert.Equal(t, CodeTransient, CodeOf(nil))
}

func TestCodeOfWrappedError(t *testing.T) {
	inner := RateLimited(30 * time.Second)
	wrapped := fmt.Errorf("scan failed: %w", inner)

	assert.Equal(t, CodeRateLimited, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeRateLimited))
	assert.Equal(t, 30*time.Second, RetryAfterOf(wrapped))
}

func TestRetryAfterOf(t *testing.T) {
	assert.Equal(t, time.Minute, RetryAfterOf(RateLimited(time.Minute)))
	assert.Equal(t, time.Duration(0), RetryAfterOf(errors.New("boom")))
	assert.Equal(t, time.Duration(0), RetryAfterOf(Skip("nope")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Transient("provider call failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "provider call failed")
}

func TestIs(t *testing.T) {
	assert.True(t, Is(ValidationFailure("bad input"), CodeValidationFailure))
	assert.False(t, Is(ValidationFailure("bad input"), CodeNotFound))
	assert.False(t, Is(nil, CodeTransient))
}
