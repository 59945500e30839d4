package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantileMatchesLinearInterpolation(t *testing.T) {
	xs := []float64{4, 1, 3, 2, math.NaN()}

	assert.InDelta(t, 2.5, Median(xs), 1e-12)
	assert.InDelta(t, 1.75, Quantile(xs, 0.25), 1e-12)
	assert.InDelta(t, 3.25, Quantile(xs, 0.75), 1e-12)
	assert.True(t, math.IsNaN(Median(nil)))
}

func TestPercentileOfScore(t *testing.T) {
	sample := []float64{1, 2, 2, 3, 4}

	assert.InDelta(t, (1+0.5*2)/5.0, PercentileOfScore(sample, 2), 1e-12)
	assert.Equal(t, 0.0, PercentileOfScore(sample, 0))
	assert.Equal(t, 1.0, PercentileOfScore(sample, 10))

	reversed := []float64{4, 3, 2, 2, 1}
	assert.Equal(t, PercentileOfScore(sample, 2.5), PercentileOfScore(reversed, 2.5), "order independent")
}

func TestSlope(t *testing.T) {
	x := []float64{-0.2, -0.1, 0.1, 0.2}
	y := []float64{0.05, 0.03, -0.01, -0.03}

	assert.InDelta(t, -0.2, Slope(x, y), 1e-9)
	assert.True(t, math.IsNaN(Slope([]float64{1}, []float64{1})))
}

func TestStdDevIsSample(t *testing.T) {
	assert.InDelta(t, math.Sqrt(2.5), StdDev([]float64{1, 2, 3, 4, 5}), 1e-12)
	assert.True(t, math.IsNaN(StdDev([]float64{1})))
}

func TestRollingMinPeriods(t *testing.T) {
	got := Rolling([]float64{1, 2, math.NaN(), 4}, 3, 2, Mean)

	assert.True(t, math.IsNaN(got[0]))
	assert.InDelta(t, 1.5, got[1], 1e-12)
	assert.InDelta(t, 1.5, got[2], 1e-12)
	assert.InDelta(t, 3.0, got[3], 1e-12)
}
