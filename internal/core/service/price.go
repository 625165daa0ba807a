package service

import (
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"
	"github.com/jinzhu/now"
	"github.com/samber/lo"
)

const (
	DEFAULT_LOW_TARIFF    = 0.175
	DEFAULT_HIGH_TARIFF   = 0.255
	DEFAULT_LOW_THRESHOLD = 0.2
)

type DefaultPriceOracle struct {
	LowTariff    float64
	HighTariff   float64
	LowThreshold float64
	// Forecast is preferred over the static tariff when it covers the requested time.
	Forecast []domain.PriceSlot
}

func NewStaticPriceOracle() *DefaultPriceOracle {
	return &DefaultPriceOracle{
		LowTariff:    DEFAULT_LOW_TARIFF,
		HighTariff:   DEFAULT_HIGH_TARIFF,
		LowThreshold: DEFAULT_LOW_THRESHOLD,
	}
}

// WithForecast returns a copy of the oracle that looks prices up in the given curve first.
func (o *DefaultPriceOracle) WithForecast(forecast []domain.PriceSlot) port.PriceOracle {
	c := *o
	c.Forecast = forecast
	return &c
}

// StaticPriceAt returns the night tariff between 23:30 and 05:30, the day tariff otherwise.
func (o *DefaultPriceOracle) StaticPriceAt(hour int, minute int) float64 {
	if (hour == 23 && minute >= 30) || hour <= 4 || (hour == 5 && minute < 30) {
		return o.LowTariff
	}
	return o.HighTariff
}

func (o *DefaultPriceOracle) PriceAt(t time.Time) float64 {
	if slot, ok := o.slotAt(t); ok {
		return slot.Price
	}
	return o.StaticPriceAt(t.Hour(), t.Minute())
}

func (o *DefaultPriceOracle) IsLow(price float64) bool {
	return price < o.LowThreshold
}

// Curve returns the half-hourly static tariff for the day containing t.
func (o *DefaultPriceOracle) Curve(t time.Time) []domain.PriceSlot {
	start := now.With(t).BeginningOfDay()
	end := now.With(t).EndOfDay()
	slots := make([]domain.PriceSlot, 0, 48)
	for s := start; s.Before(end); s = s.Add(30 * time.Minute) {
		slots = append(slots, domain.PriceSlot{
			Start: s,
			End:   s.Add(30 * time.Minute),
			Price: o.PriceAt(s),
		})
	}
	return slots
}

func (o *DefaultPriceOracle) slotAt(t time.Time) (domain.PriceSlot, bool) {
	return lo.Find(o.Forecast, func(s domain.PriceSlot) bool {
		return !t.Before(s.Start) && t.Before(s.End)
	})
}

// ensure interface compliance
var _ port.PriceOracle = (*DefaultPriceOracle)(nil)
