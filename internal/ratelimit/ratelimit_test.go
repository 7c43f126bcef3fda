package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datasweep/config"
	"datasweep/internal/errs"
)

func testConfig() *config.RateLimitConfig {
	return &config.RateLimitConfig{
		Burst:          2,
		RefillPerSec:   0.001,
		BreakerBase:    time.Second,
		BreakerCeiling: 8 * time.Second,
	}
}

func TestAcquireWithinBurst(t *testing.T) {
	l := New(testConfig())

	assert.NoError(t, l.Acquire("user-1"))
	assert.NoError(t, l.Acquire("user-1"))
}

func TestAcquireExhaustionReturnsRetryAfter(t *testing.T) {
	l := New(testConfig())

	require.NoError(t, l.Acquire("user-1"))
	require.NoError(t, l.Acquire("user-1"))

	err := l.Acquire("user-1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeRateLimited))
	assert.Greater(t, errs.RetryAfterOf(err), time.Duration(0))
}

func TestAcquireBucketsAreIndependentPerUser(t *testing.T) {
	l := New(testConfig())

	require.NoError(t, l.Acquire("user-1"))
	require.NoError(t, l.Acquire("user-1"))
	require.Error(t, l.Acquire("user-1"))

	// A different user's bucket is untouched.
	assert.NoError(t, l.Acquire("user-2"))
}

func TestBreakerOpensOnPushback(t *testing.T) {
	l := New(testConfig())

	l.ReportProviderPushback(0)

	err := l.Acquire("user-1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeRateLimited))
	assert.Greater(t, errs.RetryAfterOf(err), time.Duration(0))
}

func TestBreakerWindowGrowsPerTrip(t *testing.T) {
	l := New(testConfig())

	l.ReportProviderPushback(0)
	first := l.breakerWait()

	l.ReportProviderPushback(0)
	second := l.breakerWait()

	// base<<1 with at most 25% jitter always exceeds base with its jitter.
	assert.Greater(t, second, first)
	assert.LessOrEqual(t, second, testConfig().BreakerCeiling+2*time.Second+time.Nanosecond)
}

func TestBreakerHonorsProviderRetryAfter(t *testing.T) {
	l := New(testConfig())

	l.ReportProviderPushback(time.Minute)

	// The window never shrinks below the provider's own hint.
	assert.Greater(t, l.breakerWait(), 50*time.Second)
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	l := New(testConfig())

	l.ReportProviderPushback(time.Minute)
	require.Greater(t, l.breakerWait(), time.Duration(0))

	l.ReportSuccess()
	assert.Equal(t, time.Duration(0), l.breakerWait())
	assert.NoError(t, l.Acquire("user-1"))
}
