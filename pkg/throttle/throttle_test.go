package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitSpacesCalls(t *testing.T) {
	th := New(map[string]time.Duration{"naver": 50 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, th.Wait(ctx, "naver"))
	require.NoError(t, th.Wait(ctx, "naver"))
	require.NoError(t, th.Wait(ctx, "naver"))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestPlatformsAreIndependent(t *testing.T) {
	th := New(map[string]time.Duration{"naver": time.Hour, "coupang": time.Hour})
	ctx := context.Background()

	require.NoError(t, th.Wait(ctx, "naver"))
	start := time.Now()
	require.NoError(t, th.Wait(ctx, "coupang"))
	require.NoError(t, th.Wait(ctx, "browser"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitHonorsContext(t *testing.T) {
	th := New(map[string]time.Duration{"coupang": time.Hour})
	require.NoError(t, th.Wait(context.Background(), "coupang"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, th.Wait(ctx, "coupang"))
}

func TestNilThrottle(t *testing.T) {
	var th *Throttle
	assert.NoError(t, th.Wait(context.Background(), "naver"))
}
