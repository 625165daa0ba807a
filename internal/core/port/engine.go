package port

import (
	"context"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
)

type PriceOracle interface {
	PriceAt(t time.Time) float64
	IsLow(price float64) bool
	// WithForecast returns an oracle preferring the given price curve.
	WithForecast(forecast []domain.PriceSlot) PriceOracle
}

type ForecastSimulator interface {
	Simulate(ctx context.Context, params domain.SimulationParams) (domain.SetpointResult, error)
}
