// Package features derives indicator series from raw market state.
package features

import (
	"math"
)

// VolumeRatio is mean(last recent volumes) / mean(last trailing volumes).
func VolumeRatio(volumes []float64, recent, trailing int) (float64, bool) {
	if recent <= 0 || trailing < recent || len(volumes) < trailing {
		return 0, false
	}
	tail := volumes[len(volumes)-trailing:]
	var rs, ts float64
	for i, v := range tail {
		ts += v
		if i >= trailing-recent {
			rs += v
		}
	}
	if ts <= 0 {
		return 0, false
	}
	return (rs / float64(recent)) / (ts / float64(trailing)), true
}

// DirectionalIndex computes Wilder's ADX and directional indicators
// incrementally from close-to-close moves.
type DirectionalIndex struct {
	period  int
	prev    float64
	hasPrev bool

	seeded  int
	trS     float64
	plusS   float64
	minusS  float64
	dxCount int
	dxSum   float64
	adx     float64
}

func NewDirectionalIndex(period int) *DirectionalIndex {
	if period < 2 {
		period = 2
	}
	return &DirectionalIndex{period: period}
}

// Update feeds the next close.
func (d *DirectionalIndex) Update(close float64) {
	if !d.hasPrev {
		d.prev, d.hasPrev = close, true
		return
	}
	delta := close - d.prev
	d.prev = close

	tr := math.Abs(delta)
	plus, minus := math.Max(delta, 0), math.Max(-delta, 0)
	p := float64(d.period)

	if d.seeded < d.period {
		d.trS += tr
		d.plusS += plus
		d.minusS += minus
		d.seeded++
		if d.seeded < d.period {
			return
		}
	} else {
		d.trS = d.trS - d.trS/p + tr
		d.plusS = d.plusS - d.plusS/p + plus
		d.minusS = d.minusS - d.minusS/p + minus
	}

	if d.trS <= 0 {
		return
	}
	pdi, mdi := 100*d.plusS/d.trS, 100*d.minusS/d.trS
	if pdi+mdi <= 0 {
		return
	}
	dx := 100 * math.Abs(pdi-mdi) / (pdi + mdi)
	if d.dxCount < d.period {
		d.dxSum += dx
		d.dxCount++
		d.adx = d.dxSum / float64(d.dxCount)
		return
	}
	d.adx = (d.adx*(p-1) + dx) / p
}

// Value returns ADX, +DI and -DI once a full period of DX values exists.
func (d *DirectionalIndex) Value() (adx, plusDI, minusDI float64, ok bool) {
	if d.dxCount < d.period || d.trS <= 0 {
		return 0, 0, 0, false
	}
	return d.adx, 100 * d.plusS / d.trS, 100 * d.minusS / d.trS, true
}
