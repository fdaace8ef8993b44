package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterPerKeyBurst(t *testing.T) {
	l := New(0.0001, 2)

	assert.True(t, l.Allow("BTC"))
	assert.True(t, l.Allow("BTC"))
	assert.False(t, l.Allow("BTC"))

	assert.True(t, l.Allow("ETH"), "keys have independent buckets")
	assert.Equal(t, 2, l.Keys())
}

func TestLimiterWait(t *testing.T) {
	l := New(0.0001, 1)
	require.NoError(t, l.Wait(context.Background(), "BTC"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "BTC"), "empty bucket cannot refill before the deadline")
}
