package service

import (
	"context"
	"time"

	"SignalCore/internal/domain/models"
)

// WeightSource resolves the current adaptive weight of a source.
type WeightSource interface {
	Weight(ctx context.Context, source string) (float64, error)
}

// DecaySource resolves the lifecycle status of a source.
type DecaySource interface {
	Status(ctx context.Context, source string) (models.DecayStatus, error)
}

// MarketView is the read side of the market state cache used by analytics.
type MarketView interface {
	Returns(instrument string, n int) []float64
	Volumes(instrument string, n int) []float64
	LastPrice(instrument string) (float64, bool)
	AverageVolume(instrument string, n int) (float64, bool)
	Instruments() []string
}

// Clock returns the current time. Components take one so tests can pin it.
type Clock func() time.Time
