package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsWithinWindow(t *testing.T) {
	limiter := NewClientRateLimiterWithLimits(3, 10)

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.CheckRequestAllowed()
		assert.True(t, allowed)
		limiter.RecordRequestStart()
		limiter.RecordRequestEnd()
	}

	allowed, reason := limiter.CheckRequestAllowed()
	assert.False(t, allowed)
	assert.Equal(t, "rate limit exceeded", reason)
}

func TestRateLimiterConcurrencyBound(t *testing.T) {
	limiter := NewClientRateLimiterWithLimits(100, 2)

	limiter.RecordRequestStart()
	limiter.RecordRequestStart()

	allowed, reason := limiter.CheckRequestAllowed()
	assert.False(t, allowed)
	assert.Equal(t, "too many concurrent requests", reason)

	limiter.RecordRequestEnd()
	allowed, _ = limiter.CheckRequestAllowed()
	assert.True(t, allowed)
}

func TestRateLimiterStats(t *testing.T) {
	limiter := NewClientRateLimiterWithLimits(100, 10)

	limiter.RecordRequestStart()
	limiter.RecordRequestStart()
	limiter.RecordRequestEnd()

	requests, concurrent := limiter.Stats()
	assert.Equal(t, 2, requests)
	assert.Equal(t, 1, concurrent)
}

func TestRateLimiterEndWithoutStart(t *testing.T) {
	limiter := NewClientRateLimiter()
	limiter.RecordRequestEnd()

	_, concurrent := limiter.Stats()
	assert.Equal(t, 0, concurrent)
}
