package lease

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datacatalyst/streamhub/internal/domain"
)

const streamA = domain.StreamID("stream-a")

func TestAcquireCheckRelease(t *testing.T) {
	store := NewMemoryStore(30*time.Second, nil)
	ctx := context.Background()

	token, err := store.Acquire(ctx, streamA)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	owned, err := store.Check(ctx, streamA, token)
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = store.Check(ctx, streamA, "some-other-token")
	require.NoError(t, err)
	assert.False(t, owned)

	require.NoError(t, store.Release(ctx, streamA, token))

	owned, err = store.Check(ctx, streamA, token)
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestAcquireSupersedes(t *testing.T) {
	store := NewMemoryStore(30*time.Second, nil)
	ctx := context.Background()

	first, err := store.Acquire(ctx, streamA)
	require.NoError(t, err)

	second, err := store.Acquire(ctx, streamA)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// The older session observes supersession; the newer one holds.
	owned, err := store.Check(ctx, streamA, first)
	require.NoError(t, err)
	assert.False(t, owned)

	owned, err = store.Check(ctx, streamA, second)
	require.NoError(t, err)
	assert.True(t, owned)

	// Release by the superseded session must not disturb the holder.
	require.NoError(t, store.Release(ctx, streamA, first))
	owned, err = store.Check(ctx, streamA, second)
	require.NoError(t, err)
	assert.True(t, owned)
}

func TestLeaseExpiry(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	store := NewMemoryStore(30*time.Second, clk)
	ctx := context.Background()

	token, err := store.Acquire(ctx, streamA)
	require.NoError(t, err)

	clk.Advance(29 * time.Second)
	owned, err := store.Check(ctx, streamA, token)
	require.NoError(t, err)
	assert.True(t, owned)

	clk.Advance(2 * time.Second)
	owned, err = store.Check(ctx, streamA, token)
	require.NoError(t, err)
	assert.False(t, owned, "expired lease must not be owned")
}

func TestLeasesAreIndependentPerStream(t *testing.T) {
	store := NewMemoryStore(30*time.Second, nil)
	ctx := context.Background()

	tokenA, err := store.Acquire(ctx, "stream-a")
	require.NoError(t, err)
	_, err = store.Acquire(ctx, "stream-b")
	require.NoError(t, err)

	owned, err := store.Check(ctx, "stream-a", tokenA)
	require.NoError(t, err)
	assert.True(t, owned)
}
