package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter_LocksAfterMaxAndExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 19, 9, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(3, 15*time.Minute)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 2; i++ {
		_, err := l.Fail(ctx, "AG1")
		require.NoError(t, err)
	}
	locked, _ := l.Locked(ctx, "AG1")
	assert.False(t, locked)

	remaining, _ := l.Fail(ctx, "AG1")
	assert.Equal(t, int64(0), remaining)
	locked, _ = l.Locked(ctx, "AG1")
	assert.True(t, locked)

	other, _ := l.Locked(ctx, "AG2")
	assert.False(t, other)

	now = now.Add(15 * time.Minute)
	locked, _ = l.Locked(ctx, "AG1")
	assert.False(t, locked)
}

func TestLocalLimiter_ResetClearsCount(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLimiter(2, time.Minute)

	_, _ = l.Fail(ctx, "AG1")
	_, _ = l.Fail(ctx, "AG1")
	locked, _ := l.Locked(ctx, "AG1")
	require.True(t, locked)

	require.NoError(t, l.Reset(ctx, "AG1"))
	locked, _ = l.Locked(ctx, "AG1")
	assert.False(t, locked)
}
