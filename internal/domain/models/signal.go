package models

import (
	"fmt"
	"math"
	"time"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionFlat  Direction = "flat"
)

func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort || d == DirectionFlat
}

// Sign returns +1 for long, -1 for short and 0 for flat.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	}
	return 0
}

// DirectionOf maps the sign of x to a direction.
func DirectionOf(x float64) Direction {
	switch {
	case x > 0:
		return DirectionLong
	case x < 0:
		return DirectionShort
	}
	return DirectionFlat
}

type SourceKind string

const (
	KindAnomaly     SourceKind = "anomaly"
	KindCorrelation SourceKind = "correlation"
	KindExternal    SourceKind = "external"
)

// Signal is a directional opinion about one instrument from one source.
type Signal struct {
	ID         string             `json:"id"`
	Source     string             `json:"source"`
	Kind       SourceKind         `json:"kind"`
	Instrument string             `json:"instrument"`
	Direction  Direction          `json:"direction"`
	Confidence float64            `json:"confidence"`
	Timestamp  time.Time          `json:"timestamp"`
	Metadata   map[string]float64 `json:"metadata,omitempty"`
}

func (s Signal) Validate() error {
	switch {
	case s.Source == "":
		return fmt.Errorf("%w: signal without source", ErrMalformed)
	case s.Instrument == "":
		return fmt.Errorf("%w: signal %s without instrument", ErrMalformed, s.Source)
	case !s.Direction.Valid():
		return fmt.Errorf("%w: signal %s direction %q", ErrMalformed, s.Source, s.Direction)
	case math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1:
		return fmt.Errorf("%w: signal %s confidence %v", ErrMalformed, s.Source, s.Confidence)
	case s.Timestamp.IsZero():
		return fmt.Errorf("%w: signal %s without timestamp", ErrMalformed, s.Source)
	}
	return nil
}
