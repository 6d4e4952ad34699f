package apihttp

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestSourceRateLimiterUnlimitedByDefault(t *testing.T) {
	l := sourceRateLimiter(0, 32<<10)
	require.Equal(t, rate.Inf, l.Limit())
}

func TestSourceRateLimiterBurstCoversStepRead(t *testing.T) {
	l := sourceRateLimiter(1000, 32<<10)
	require.Equal(t, rate.Limit(1000), l.Limit())
	require.Equal(t, 32<<10, l.Burst(), "burst must be at least one STEP_READ chunk or WaitN rejects it outright")
}

func TestSourceRateLimiterBurstCoversOneSecond(t *testing.T) {
	l := sourceRateLimiter(1<<20, 32<<10)
	require.Equal(t, 1<<20, l.Burst())
}
