package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTreeBasicStats(t *testing.T) {
	var tr Tree
	for _, v := range []float64{50, 30, 20, 40, 70, 60, 80} {
		tr.Insert(v)
	}
	require.Equal(t, 7, tr.Len())

	mean, ok := tr.Mean()
	require.True(t, ok)
	require.InDelta(t, 50, mean, 1e-9)

	variance, ok := tr.Variance()
	require.True(t, ok)
	require.InDelta(t, 400, variance, 1e-9)

	std, ok := tr.StdDev()
	require.True(t, ok)
	require.InDelta(t, 20, std, 1e-9)

	median, ok := tr.Median()
	require.True(t, ok)
	require.InDelta(t, 50, median, 1e-9)

	p25, ok := tr.Percentile(25)
	require.True(t, ok)
	require.InDelta(t, 35, p25, 1e-9)

	p75, ok := tr.Percentile(75)
	require.True(t, ok)
	require.InDelta(t, 65, p75, 1e-9)

	min, ok := tr.Min()
	require.True(t, ok)
	require.Equal(t, 20.0, min)

	mx, ok := tr.Max()
	require.True(t, ok)
	require.Equal(t, 80.0, mx)

	// Rank is 0-based (the count of values strictly less than v), so
	// that rank(select(k)) == k for all k, per TestRankSelectInverse
	// below and spec §8's primary order-statistics invariant.
	rank, found := tr.Rank(50)
	require.True(t, found)
	require.Equal(t, 3, rank)
}

func TestAVLRebalanceSize(t *testing.T) {
	var tr Tree
	for _, v := range []float64{20, 4, 26, 3, 21, 9, 2, 7, 30, 11} {
		tr.Insert(v)
	}
	require.Equal(t, 20.0, tr.root.value)

	tr.Insert(15)
	require.Equal(t, 9.0, tr.root.value)

	tr.Insert(8)
	require.Equal(t, 9.0, tr.root.value)
	require.Equal(t, 12, tr.Len())
}

func TestRankSelectInverse(t *testing.T) {
	var tr Tree
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		tr.Insert(rng.Float64() * 1000)
	}
	for k := 0; k < tr.Len(); k++ {
		v, ok := tr.Select(k)
		require.True(t, ok)
		rank, found := tr.Rank(v)
		require.True(t, found)
		require.Equal(t, k, rank)
	}
}

func TestPercentileMonotonic(t *testing.T) {
	var tr Tree
	for i := 1; i <= 100; i++ {
		tr.Insert(float64(i))
	}
	prev := math.Inf(-1)
	for p := 0.0; p <= 100; p += 1 {
		v, ok := tr.Percentile(p)
		require.True(t, ok)
		require.GreaterOrEqual(t, v, prev)
		prev = v
	}
}

func TestDeleteMaintainsSize(t *testing.T) {
	var tr Tree
	for _, v := range []float64{1, 2, 3, 4, 5} {
		tr.Insert(v)
	}
	tr.Delete(3)
	require.Equal(t, 4, tr.Len())
	_, found := tr.Rank(3)
	require.False(t, found)
}
