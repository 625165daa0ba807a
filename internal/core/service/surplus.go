package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	DEFAULT_SURPLUS_HORIZON   = 80 * time.Hour
	DEFAULT_SURPLUS_DAMPENING = 0.75
	SURPLUS_RESERVE_KWH       = 10.0
)

type SurplusInput struct {
	PVForecast      []domain.PVForecastEntry
	Prices          []domain.PriceSlot
	Snapshot        domain.EnergySnapshot
	Schedule        []domain.ScheduleEntry
	BatteryCapacity float64
	BatteryEnergy   float64
	EVEnergy        float64
	Now             time.Time
}

// SurplusForecaster estimates how much energy the next days produce beyond what the house and the
// battery can absorb, with and without the planned EV charging.
type SurplusForecaster struct {
	Simulator port.ForecastSimulator
	Prices    port.PriceOracle
	Horizon   time.Duration
	Dampening float64
	Logger    *zap.Logger
}

func NewSurplusForecaster(simulator port.ForecastSimulator, prices port.PriceOracle, logger *zap.Logger) *SurplusForecaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SurplusForecaster{
		Simulator: simulator,
		Prices:    prices,
		Horizon:   DEFAULT_SURPLUS_HORIZON,
		Dampening: DEFAULT_SURPLUS_DAMPENING,
		Logger:    logger,
	}
}

func (f *SurplusForecaster) Forecast(ctx context.Context, in SurplusInput) (domain.SurplusForecast, error) {
	if in.BatteryCapacity <= 0 {
		return domain.SurplusForecast{}, ErrMissingCapacity
	}
	t := in.Now
	if t.IsZero() {
		t = time.Now()
	}
	forecast := buildForecast(f.Prices.WithForecast(in.Prices), in.PVForecast, t, t.Add(f.Horizon))
	if len(forecast) < 2 {
		return domain.SurplusForecast{}, fmt.Errorf("%w: %d forecast periods", ErrNoForecast, len(forecast))
	}
	periodHours := forecast[1].PeriodStart.Sub(forecast[0].PeriodStart).Hours()

	p := domain.DefaultSimulationParams()
	p.Forecast = forecast
	p.PriceCurve = in.Prices
	p.BatteryCapacity = in.BatteryCapacity
	p.BatteryEnergy = in.BatteryEnergy
	p.Setpoint = domain.SETPOINT_CEILING_W
	p.Dampening = f.Dampening
	p.WithEVCharging = false
	p.Snapshot = in.Snapshot
	p.Now = t

	withoutEV, err := f.Simulator.Simulate(ctx, p)
	if err != nil {
		return domain.SurplusForecast{}, err
	}

	minEnergy := minBatteryEnergy(withoutEV)
	surplus := math.Round(math.Max(0, minEnergy-SURPLUS_RESERVE_KWH)*100) / 100
	totalFeedin := 0.0
	for i := 0; i < len(withoutEV.Detail)-1 && withoutEV.Detail[i].BatteryEnergy > minEnergy; i++ {
		totalFeedin += withoutEV.Detail[i].Feedin / 1000 * periodHours
	}
	if totalFeedin > 0 {
		surplus += totalFeedin
	}

	result := domain.SurplusForecast{
		Surplus:        surplus,
		SurplusAfterEV: surplus,
		TotalFeedin:    totalFeedin,
		ComputedAt:     t,
		WithoutEV:      &withoutEV,
	}

	if len(in.Schedule) > 0 {
		withEVParams := p
		withEVParams.WithEVCharging = true
		withEVParams.Schedule = in.Schedule
		withEVParams.Surplus = &surplus
		withEVParams.EVEnergy = in.EVEnergy
		withEV, err := f.Simulator.Simulate(ctx, withEVParams)
		if err != nil {
			return domain.SurplusForecast{}, err
		}
		result.WithEV = &withEV
		result.SurplusAfterEV = math.Round(math.Max(0, minBatteryEnergy(withEV)-SURPLUS_RESERVE_KWH)*100) / 100
	}

	f.Logger.Info("forecast surplus",
		zap.Float64("min_battery", minEnergy),
		zap.Float64("surplus", result.Surplus),
		zap.Float64("surplus_after_ev", result.SurplusAfterEV),
		zap.Float64("total_feedin", totalFeedin))
	return result, nil
}

func minBatteryEnergy(r domain.SetpointResult) float64 {
	if len(r.Detail) == 0 {
		return 0
	}
	return lo.MinBy(r.Detail, func(a domain.ForecastEntry, b domain.ForecastEntry) bool {
		return a.BatteryEnergy < b.BatteryEnergy
	}).BatteryEnergy
}
