package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateOffsetProducesFiniteValue(t *testing.T) {
	samples := []float64{0.001, 0.0012, 0.0009, 0.0011, 0.0013, 0.001, 0.0014}
	offset, ok := EstimateOffset(samples)
	require.True(t, ok)
	require.False(t, isNaNorInf(offset))
}

func TestChunkedEstimateRequiresFiveSamples(t *testing.T) {
	_, ok := ChunkedEstimate([]float64{1, 2, 3})
	require.False(t, ok)

	offset, ok := ChunkedEstimate([]float64{0.001, 0.0012, 0.0009, 0.0011, 0.0013})
	require.True(t, ok)
	require.False(t, isNaNorInf(offset))
}

func TestMomentsClamping(t *testing.T) {
	// extremely tight distribution pushes alpha far above 4
	alpha, beta := moments([]float64{1, 1, 1, 1, 1.0000001})
	require.LessOrEqual(t, alpha, 4.0)
	require.GreaterOrEqual(t, alpha, 1.0)
	require.LessOrEqual(t, beta, 1.5)
	require.GreaterOrEqual(t, beta, 0.1)
}

func isNaNorInf(f float64) bool {
	return f != f || f > 1e300 || f < -1e300
}
