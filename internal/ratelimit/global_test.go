package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalLimiter_DefaultRate(t *testing.T) {
	g := NewGlobalLimiter(0)
	assert.Equal(t, DefaultGlobalRPS, g.Rate())

	g = NewGlobalLimiter(-5)
	assert.Equal(t, DefaultGlobalRPS, g.Rate())

	g = NewGlobalLimiter(25)
	assert.Equal(t, 25, g.Rate())
}

func TestGlobalLimiter_WaitWithinBurstIsImmediate(t *testing.T) {
	g := NewGlobalLimiter(50)

	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestGlobalLimiter_FreezeBlocksAllAdmissions(t *testing.T) {
	g := NewGlobalLimiter(1000)
	g.Freeze(60 * time.Millisecond)

	start := time.Now()
	require.NoError(t, g.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestGlobalLimiter_FreezeAppliesToPacerQueuedWaiter(t *testing.T) {
	g := NewGlobalLimiter(5)
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}

	// The burst is gone, so this waiter suspends inside the pacer and would
	// normally be admitted at the pacing interval (~200ms).
	admitted := make(chan time.Time, 1)
	go func() {
		if err := g.Wait(context.Background()); err == nil {
			admitted <- time.Now()
		}
	}()

	time.Sleep(30 * time.Millisecond)
	freezeStart := time.Now()
	g.Freeze(500 * time.Millisecond)

	// The freeze landed while the waiter was already inside the pacer; it
	// must still hold the waiter until the deadline.
	select {
	case at := <-admitted:
		assert.GreaterOrEqual(t, at.Sub(freezeStart), 450*time.Millisecond)
	case <-time.After(3 * time.Second):
		t.Fatal("pacer waiter never admitted")
	}
}

func TestGlobalLimiter_CancelDuringFreeze(t *testing.T) {
	g := NewGlobalLimiter(1000)
	g.Freeze(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGlobalLimiter_SetRate(t *testing.T) {
	g := NewGlobalLimiter(50)

	g.SetRate(10)
	assert.Equal(t, 10, g.Rate())

	// Invalid updates fall back to the default.
	g.SetRate(0)
	assert.Equal(t, DefaultGlobalRPS, g.Rate())
}

func TestGlobalLimiter_FrozenUntil(t *testing.T) {
	g := NewGlobalLimiter(50)
	assert.True(t, g.FrozenUntil().IsZero())

	g.Freeze(time.Minute)
	assert.WithinDuration(t, time.Now().Add(time.Minute), g.FrozenUntil(), time.Second)

	// A later, shorter authoritative freeze overwrites the earlier one.
	g.Freeze(time.Second)
	assert.WithinDuration(t, time.Now().Add(time.Second), g.FrozenUntil(), time.Second)
}
