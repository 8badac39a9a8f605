package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiterConfig() LimiterConfig {
	return LimiterConfig{Calls: 5, Window: time.Minute}
}

func TestLimiterAdmitsUpToLimit(t *testing.T) {
	clock := newFakeClock()
	rl := newRateLimiter(testLimiterConfig(), clock.Now)

	for i := 0; i < 5; i++ {
		assert.NoError(t, rl.Allow(), "call %d", i+1)
		clock.Advance(time.Second)
	}

	// The 6th call inside the window is rejected
	assert.ErrorIs(t, rl.Allow(), ErrRateLimited)
}

func TestLimiterRejectionDoesNotConsumeSlot(t *testing.T) {
	clock := newFakeClock()
	rl := newRateLimiter(testLimiterConfig(), clock.Now)

	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Allow())
	}
	require.ErrorIs(t, rl.Allow(), ErrRateLimited)
	assert.Equal(t, 5, rl.InWindow())
}

func TestLimiterReadmitsAfterWindowSlides(t *testing.T) {
	clock := newFakeClock()
	rl := newRateLimiter(testLimiterConfig(), clock.Now)

	// Fill the window: first admission at t=0, rest 1s apart
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Allow())
		clock.Advance(time.Second)
	}
	require.ErrorIs(t, rl.Allow(), ErrRateLimited)

	// Once the oldest timestamp exits the window, one slot frees up
	clock.Advance(56 * time.Second)
	assert.NoError(t, rl.Allow())
	assert.ErrorIs(t, rl.Allow(), ErrRateLimited)
}

func TestLimiterSingleCallLimit(t *testing.T) {
	clock := newFakeClock()
	rl := newRateLimiter(LimiterConfig{Calls: 1, Window: time.Second}, clock.Now)

	assert.NoError(t, rl.Allow())
	assert.ErrorIs(t, rl.Allow(), ErrRateLimited)

	clock.Advance(1100 * time.Millisecond)
	assert.NoError(t, rl.Allow())
}
