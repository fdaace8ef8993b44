package models

import (
	"fmt"
	"math"
	"time"
)

// Tick is a single market observation for one instrument.
type Tick struct {
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	Timestamp  time.Time `json:"timestamp"`
}

func (t Tick) Validate() error {
	switch {
	case t.Instrument == "":
		return fmt.Errorf("%w: tick without instrument", ErrMalformed)
	case math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0:
		return fmt.Errorf("%w: tick %s price %v", ErrMalformed, t.Instrument, t.Price)
	case math.IsNaN(t.Volume) || t.Volume < 0:
		return fmt.Errorf("%w: tick %s volume %v", ErrMalformed, t.Instrument, t.Volume)
	case t.Timestamp.IsZero():
		return fmt.Errorf("%w: tick %s without timestamp", ErrMalformed, t.Instrument)
	}
	return nil
}
