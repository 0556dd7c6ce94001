package middleware

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	limiter := rl.getLimiter("10.0.0.1")
	require.True(t, limiter.Allow())
	require.True(t, limiter.Allow())
	require.False(t, limiter.Allow())
}

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	require.True(t, rl.getLimiter("10.0.0.1").Allow())
	require.False(t, rl.getLimiter("10.0.0.1").Allow())
	require.True(t, rl.getLimiter("10.0.0.2").Allow())
}
