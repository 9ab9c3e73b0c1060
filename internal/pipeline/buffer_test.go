package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/engine/internal/domain"
)

func rec(id int) domain.WireRecord {
	return domain.WireRecord{"event_id": fmt.Sprintf("ev-%d", id), "ticker": "AMZN"}
}

func TestBufferPushAndDrainInOrder(t *testing.T) {
	b := NewBuffer(5)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Push(domain.CategoryHighs, rec(i)))
	}
	assert.Equal(t, 3, b.Len(domain.CategoryHighs))

	out := b.Drain(domain.CategoryHighs, true)
	require.Len(t, out, 3)
	for i, r := range out {
		assert.Equal(t, fmt.Sprintf("ev-%d", i), r["event_id"])
	}
	assert.Equal(t, 0, b.Len(domain.CategoryHighs))
}

func TestBufferOverwritesOldestWhenFull(t *testing.T) {
	b := NewBuffer(3)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Push(domain.CategoryLows, rec(i)))
	}

	assert.Equal(t, 3, b.Len(domain.CategoryLows))
	assert.Equal(t, uint64(2), b.Overflow(domain.CategoryLows))

	out := b.Drain(domain.CategoryLows, true)
	require.Len(t, out, 3)
	assert.Equal(t, "ev-2", out[0]["event_id"])
	assert.Equal(t, "ev-3", out[1]["event_id"])
	assert.Equal(t, "ev-4", out[2]["event_id"])
}

func TestBufferDrainWithoutClear(t *testing.T) {
	b := NewBuffer(5)
	require.NoError(t, b.Push(domain.CategoryTrending, rec(1)))

	out := b.Drain(domain.CategoryTrending, false)
	assert.Len(t, out, 1)
	assert.Equal(t, 1, b.Len(domain.CategoryTrending))

	out = b.Drain(domain.CategoryTrending, true)
	assert.Len(t, out, 1)
	assert.Equal(t, 0, b.Len(domain.CategoryTrending))
}

func TestBufferCategoriesAreIndependent(t *testing.T) {
	b := NewBuffer(2)

	require.NoError(t, b.Push(domain.CategoryHighs, rec(1)))
	require.NoError(t, b.Push(domain.CategoryHighs, rec(2)))
	require.NoError(t, b.Push(domain.CategoryHighs, rec(3)))
	require.NoError(t, b.Push(domain.CategorySurging, rec(4)))

	assert.Equal(t, uint64(1), b.Overflow(domain.CategoryHighs))
	assert.Equal(t, uint64(0), b.Overflow(domain.CategorySurging))
	assert.Equal(t, 1, b.Len(domain.CategorySurging))
}

func TestBufferRejectsUnknownCategory(t *testing.T) {
	b := NewBuffer(2)
	err := b.Push(domain.Category("bogus"), rec(1))
	assert.ErrorIs(t, err, domain.ErrUnknownCategory)
}

func TestBufferDrainAll(t *testing.T) {
	b := NewBuffer(5)
	require.NoError(t, b.Push(domain.CategoryHighs, rec(1)))
	require.NoError(t, b.Push(domain.CategorySurging, rec(2)))

	all := b.DrainAll(true)
	require.Len(t, all, len(domain.Categories))
	assert.Len(t, all[domain.CategoryHighs], 1)
	assert.Len(t, all[domain.CategorySurging], 1)
	assert.Empty(t, all[domain.CategoryLows])
	assert.Equal(t, 0, b.Len(domain.CategoryHighs))
}
