package heatmap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParamsForZoom(t *testing.T) {
	tests := []struct {
		zoom   float64
		radius float64
	}{
		{0, 25},
		{7, 25},
		{13, 25},
		{13.125, 25},
		{14, 32},
		{15, 40},
		{17, 56},
		{20, 80},
	}
	for _, tc := range tests {
		p := ParamsForZoom(tc.zoom)
		assert.InDelta(t, tc.radius, p.Radius, 1e-9, "zoom %v", tc.zoom)
		assert.InDelta(t, 1.5*p.Radius, p.Blur, 1e-9, "zoom %v", tc.zoom)
	}
}

func TestParamsForZoom_Independent(t *testing.T) {
	a := ParamsForZoom(18)
	ParamsForZoom(5)
	assert.Equal(t, a, ParamsForZoom(18))
}

func TestNormalizeWeight(t *testing.T) {
	assert.InDelta(t, 0.5, NormalizeWeight(1.5, 3.0), 1e-9)
	assert.InDelta(t, 1.0, NormalizeWeight(9, 3.0), 1e-9)
	assert.InDelta(t, 0.1, NormalizeWeight(0, 3.0), 1e-9)
	assert.InDelta(t, 0.1, NormalizeWeight(-4, 8.0), 1e-9)
	assert.InDelta(t, 0.25, NormalizeWeight(2, 8.0), 1e-9)
	assert.InDelta(t, 1.0, NormalizeWeight(2, 0), 1e-9)
	assert.InDelta(t, 0.1, NormalizeWeight(math.NaN(), 3.0), 1e-9)
}
