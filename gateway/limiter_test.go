package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurst(t *testing.T) {
	l := NewTokenBucketLimiter(10, 3)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestTokenBucketCancel(t *testing.T) {
	l := NewTokenBucketLimiter(0.1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx))
	cancel()
	require.ErrorIs(t, l.Wait(ctx), context.Canceled)
}
