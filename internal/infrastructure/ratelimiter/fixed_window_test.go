package ratelimiter

import (
	"testing"
	"time"

	"github.com/hilthontt/readalong/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*FixedWindowRateLimiter, *clock.Fake) {
	t.Helper()

	fc := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewFixedWindowRateLimiter(DefaultPolicies(), WithClock(fc))
	t.Cleanup(rl.Close)
	return rl, fc
}

func TestCheckAllowsUpToMaxThenBlocks(t *testing.T) {
	rl, fc := newTestLimiter(t)

	for i := 0; i < 30; i++ {
		d := rl.Check(CategoryChat, "u1")
		require.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 30-(i+1), d.Remaining)
	}

	d := rl.Check(CategoryChat, "u1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfterSeconds, 0)
	assert.Equal(t, 600, d.RetryAfterSeconds)
	assert.Equal(t, fc.Now().Add(10*time.Minute), d.ResetAt)

	// other identifiers and categories are independent
	assert.True(t, rl.Check(CategoryChat, "u2").Allowed)
	assert.True(t, rl.Check(CategoryReaction, "u1").Allowed)
}

func TestBlockOutlivesWindowReset(t *testing.T) {
	rl, fc := newTestLimiter(t)

	for i := 0; i < 30; i++ {
		rl.Check(CategoryChat, "u1")
	}
	require.False(t, rl.Check(CategoryChat, "u1").Allowed)

	// the one-minute window has rolled over but the block has not lapsed
	fc.Advance(2 * time.Minute)
	d := rl.Check(CategoryChat, "u1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 480, d.RetryAfterSeconds)

	fc.Advance(8 * time.Minute)
	d = rl.Check(CategoryChat, "u1")
	assert.True(t, d.Allowed)
	assert.Equal(t, 29, d.Remaining)
}

func TestWindowRollsOver(t *testing.T) {
	rl, fc := newTestLimiter(t)

	for i := 0; i < 20; i++ {
		require.True(t, rl.Check(CategoryRoomJoin, "ip").Allowed)
	}
	fc.Advance(time.Minute)

	d := rl.Check(CategoryRoomJoin, "ip")
	assert.True(t, d.Allowed)
	assert.Equal(t, 19, d.Remaining)
}

func TestResetClearsBlock(t *testing.T) {
	rl, _ := newTestLimiter(t)

	for i := 0; i < 5; i++ {
		rl.Check(CategoryAuth, "10.0.0.1")
	}
	require.False(t, rl.Check(CategoryAuth, "10.0.0.1").Allowed)

	rl.Reset(CategoryAuth, "10.0.0.1")
	assert.True(t, rl.Check(CategoryAuth, "10.0.0.1").Allowed)
}

func TestUnknownCategoryIsAllowed(t *testing.T) {
	rl, _ := newTestLimiter(t)

	d := rl.Check(Category("nope"), "x")
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, rl.Len())
}

func TestSweepRemovesOnlyLapsedEntries(t *testing.T) {
	rl, fc := newTestLimiter(t)

	rl.Check(CategoryPoll, "idle")
	for i := 0; i < 10; i++ {
		rl.Check(CategoryRoomCreate, "blocked")
	}
	require.False(t, rl.Check(CategoryRoomCreate, "blocked").Allowed)

	fc.Advance(61 * time.Minute)
	// the block has lapsed, so this opens a fresh window
	require.True(t, rl.Check(CategoryRoomCreate, "blocked").Allowed)
	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 1, rl.Len())

	fc.Advance(2 * time.Hour)
	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 0, rl.Len())
}
