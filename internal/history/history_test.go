package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingAppendBelowCapacity(t *testing.T) {
	t.Parallel()

	r := New[int](5)
	r.Append(1)
	r.Append(2)
	r.Append(3)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 2, 1}, r.Snapshot())
	assert.Equal(t, []int{1, 2, 3}, r.SnapshotOldestFirst())
}

func TestRingDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	r := New[int](3)
	for i := 1; i <= 7; i++ {
		r.Append(i)
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{7, 6, 5}, r.Snapshot())
}

func TestRingLengthNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	r := New[int](10)
	for i := 0; i < 1000; i++ {
		r.Append(i)
		require.LessOrEqual(t, r.Len(), 10)
	}

	// After k appends, the retained window is the last N values.
	snap := r.SnapshotOldestFirst()
	require.Len(t, snap, 10)
	assert.Equal(t, 990, snap[0])
	assert.Equal(t, 999, snap[9])
}

func TestRingLatest(t *testing.T) {
	t.Parallel()

	r := New[string](2)

	_, ok := r.Latest()
	assert.False(t, ok)

	r.Append("a")
	r.Append("b")
	r.Append("c")

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, "c", latest)
}

func TestRingZeroCapacityClamped(t *testing.T) {
	t.Parallel()

	r := New[int](0)
	r.Append(1)
	r.Append(2)

	assert.Equal(t, 1, r.Cap())
	assert.Equal(t, []int{2}, r.Snapshot())
}
