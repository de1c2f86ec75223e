package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsToRistretto(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	_, ok := c.(*ristrettoCache)
	assert.True(t, ok)
}

func TestNew_DisabledModeReturnsNoop(t *testing.T) {
	c, err := New(Config{Mode: ModeDisabled})
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	_, ok := c.(*noopCache)
	assert.True(t, ok)
}

func TestNew_RejectsUnknownMode(t *testing.T) {
	_, err := New(Config{Mode: "redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestNew_RejectsNegativeRistrettoSettings(t *testing.T) {
	_, err := New(Config{Ristretto: RistrettoConfig{MaxCost: -1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_cost")
}

func TestConfig_EffectiveMode(t *testing.T) {
	assert.Equal(t, ModeSingle, (&Config{}).EffectiveMode())
	assert.Equal(t, ModeSingle, (&Config{Mode: ModeSingle}).EffectiveMode())
	assert.Equal(t, ModeDisabled, (&Config{Mode: ModeDisabled}).EffectiveMode())
}

func TestNoopCache(t *testing.T) {
	c := newNoopCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	require.NoError(t, c.SetWithTTL(ctx, "k", []byte("v"), time.Minute))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.Equal(t, Stats{}, c.Stats())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close()) // idempotent

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Set(ctx, "k", nil), ErrClosed)
}
