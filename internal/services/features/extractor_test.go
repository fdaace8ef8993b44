package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeRatio(t *testing.T) {
	vols := []float64{100, 100, 100, 100, 100, 100, 10, 10}
	r, ok := VolumeRatio(vols, 2, 8)
	require.True(t, ok)
	assert.InDelta(t, 10.0/77.5, r, 1e-12)

	_, ok = VolumeRatio(vols, 2, 9)
	assert.False(t, ok)
	_, ok = VolumeRatio([]float64{0, 0, 0}, 1, 3)
	assert.False(t, ok)
}

func TestDirectionalIndexTrend(t *testing.T) {
	up := NewDirectionalIndex(14)
	for i := 0; i < 60; i++ {
		up.Update(100 + float64(i))
	}
	adx, pdi, mdi, ok := up.Value()
	require.True(t, ok)
	assert.InDelta(t, 100, adx, 1e-9)
	assert.InDelta(t, 100, pdi, 1e-9)
	assert.InDelta(t, 0, mdi, 1e-9)

	chop := NewDirectionalIndex(14)
	for i := 0; i < 60; i++ {
		chop.Update(100 + float64(i%2))
	}
	adx, _, _, ok = chop.Value()
	require.True(t, ok)
	assert.Less(t, adx, 25.0)
}

func TestDirectionalIndexFlatIsUndefined(t *testing.T) {
	d := NewDirectionalIndex(5)
	for i := 0; i < 30; i++ {
		d.Update(100)
	}
	_, _, _, ok := d.Value()
	assert.False(t, ok)
}
