package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"
	"github.com/jinzhu/now"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	DEFAULT_SEARCH_ITERATIONS   = 10
	DEFAULT_SEARCH_DAMPENING    = 0.9
	DEFAULT_PLAN_HORIZON        = 24 * time.Hour
	DEFAULT_SEARCH_BATTERY_PWR  = 8000.0
	MIN_BATTERY_POWER_TARGET    = 100.0
	BATTERY_POWER_TARGET_FACTOR = 0.7

	SKIP_AUTO_SETPOINT_DISABLED = "Auto setpoint is disabled"
	SKIP_NO_FEEDIN_EXPECTED     = "No significant feedin expected"
)

// SearchCriteria classifies a simulation result during a binary search.
type SearchCriteria struct {
	// TooLow: the battery runs too empty, the setpoint must rise and the spread shrink.
	TooLow func(r domain.SetpointResult) bool
	// TooHigh: feed-in exceeds its limit, the setpoint must fall and the spread grow.
	TooHigh func(r domain.SetpointResult) bool
	// Underfilled: the battery never fills up, the spread may shrink.
	Underfilled func(r domain.SetpointResult) bool
}

type SearchBounds struct {
	MinSetpoint    float64
	MaxSetpoint    float64
	MinSpread      float64
	MaxSpread      float64
	Setpoint       float64
	Spread         float64
	UpdateSetpoint bool
	UpdateSpread   bool
	MaxIterations  int
}

type PlanInput struct {
	PVForecast      []domain.PVForecastEntry
	Prices          []domain.PriceSlot
	Snapshot        domain.EnergySnapshot
	Schedule        []domain.ScheduleEntry
	BatteryCapacity float64
	BatteryEnergy   float64
	EVEnergy        float64
	AutoSetpoint    bool
	CurrentSetpoint float64
	MaxFeedinLimit  float64
	MaxPVFeedin     float64
	MaxSetpoint     float64
	HouseAvgPower   float64
	HousePower      float64
	PVPower         float64
	Now             time.Time
}

type PlanOutcome struct {
	// Setpoint is the value to publish as the grid setpoint target.
	Setpoint float64
	Result   domain.SetpointResult
	// Skipped is set when the search did not run and Setpoint is the initial simulation's.
	Skipped  string
	Searches []domain.SetpointResult
}

type SetpointSearch struct {
	Simulator     port.ForecastSimulator
	Prices        port.PriceOracle
	Horizon       time.Duration
	Dampening     float64
	MaxIterations int
	Logger        *zap.Logger
}

func NewSetpointSearch(simulator port.ForecastSimulator, prices port.PriceOracle, logger *zap.Logger) *SetpointSearch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SetpointSearch{
		Simulator:     simulator,
		Prices:        prices,
		Horizon:       DEFAULT_PLAN_HORIZON,
		Dampening:     DEFAULT_SEARCH_DAMPENING,
		MaxIterations: DEFAULT_SEARCH_ITERATIONS,
		Logger:        logger,
	}
}

// BinarySearch bisects the setpoint and/or the spread. Every simulated result is returned in order,
// the last one is the search outcome.
func (s *SetpointSearch) BinarySearch(ctx context.Context, base domain.SimulationParams, criteria SearchCriteria,
	b SearchBounds) ([]domain.SetpointResult, error) {

	if !b.UpdateSetpoint && !b.UpdateSpread {
		return nil, fmt.Errorf("binary search needs a setpoint or spread to update")
	}
	iterations := b.MaxIterations
	if iterations <= 0 {
		iterations = s.MaxIterations
	}
	setpoint, spread := b.Setpoint, b.Spread
	minSetpoint, maxSetpoint := b.MinSetpoint, b.MaxSetpoint
	minSpread, maxSpread := b.MinSpread, b.MaxSpread

	results := make([]domain.SetpointResult, 0, iterations)
	for i := 0; i < iterations; i++ {
		if b.UpdateSetpoint {
			setpoint = math.Floor((minSetpoint + maxSetpoint) / 2)
		}
		if b.UpdateSpread {
			spread = (minSpread + maxSpread) / 2
		}
		p := base
		p.Setpoint = setpoint
		p.Spread = spread
		r, err := s.Simulator.Simulate(ctx, p)
		if err != nil {
			return nil, err
		}
		results = append(results, r)

		if (b.UpdateSpread && math.Abs(maxSpread-minSpread) < 1e-3) ||
			(b.UpdateSetpoint && math.Abs(maxSetpoint-minSetpoint) < 50) {
			break
		}

		if criteria.TooLow != nil && criteria.TooLow(r) {
			if b.UpdateSetpoint {
				minSetpoint = setpoint
			}
			if b.UpdateSpread {
				maxSpread = spread
			}
		} else if criteria.TooHigh != nil && criteria.TooHigh(r) {
			if b.UpdateSetpoint {
				maxSetpoint = setpoint
			}
			if b.UpdateSpread {
				minSpread = spread
			}
		} else if b.UpdateSpread && criteria.Underfilled != nil && criteria.Underfilled(r) {
			maxSpread = spread
		}
	}
	return results, nil
}

// BuildForecast joins the PV forecast with the price curve for periods starting in (from - 31m, to).
func (s *SetpointSearch) BuildForecast(pv []domain.PVForecastEntry, prices []domain.PriceSlot, from time.Time,
	to time.Time) []domain.ForecastPeriod {
	return buildForecast(s.Prices.WithForecast(prices), pv, from, to)
}

func buildForecast(oracle port.PriceOracle, pv []domain.PVForecastEntry, from time.Time, to time.Time) []domain.ForecastPeriod {
	lower := from.Add(-31 * time.Minute)
	entries := lo.Filter(pv, func(e domain.PVForecastEntry, _ int) bool {
		return e.PeriodStart.After(lower) && e.PeriodStart.Before(to)
	})
	return lo.Map(entries, func(e domain.PVForecastEntry, _ int) domain.ForecastPeriod {
		return domain.ForecastPeriod{
			PeriodStart: e.PeriodStart,
			PVEstimate:  e.PVEstimate,
			Price:       oracle.PriceAt(e.PeriodStart),
		}
	})
}

// Plan finds the grid setpoint that keeps the battery above its floor while keeping PV feed-in under
// its limit over the planning horizon.
func (s *SetpointSearch) Plan(ctx context.Context, in PlanInput) (PlanOutcome, error) {
	if len(in.Prices) == 0 {
		return PlanOutcome{}, fmt.Errorf("%w: no price forecast", ErrNoForecast)
	}
	if in.BatteryCapacity <= 0 {
		return PlanOutcome{}, ErrMissingCapacity
	}
	t := in.Now
	if t.IsZero() {
		t = time.Now()
	}
	forecast := s.BuildForecast(in.PVForecast, in.Prices, t, t.Add(s.Horizon))
	if len(forecast) < 2 {
		return PlanOutcome{}, fmt.Errorf("%w: %d forecast periods", ErrNoForecast, len(forecast))
	}

	minEnergy := 0.1 * in.BatteryCapacity
	base := domain.DefaultSimulationParams()
	base.Forecast = forecast
	base.BatteryCapacity = in.BatteryCapacity
	base.BatteryEnergy = in.BatteryEnergy
	base.BatteryMinEnergy = minEnergy
	base.MaxSetpoint = in.MaxSetpoint
	base.MinFeedinPrice = 0
	base.Dampening = s.Dampening
	base.WithEVCharging = true
	base.EVEnergy = in.EVEnergy
	base.Schedule = in.Schedule
	base.PriceCurve = in.Prices
	base.Snapshot = in.Snapshot
	base.Now = t
	base.MaxBatteryPowerTarget = DEFAULT_SEARCH_BATTERY_PWR

	initialParams := base
	initialParams.Spread = 0.05
	initialParams.Setpoint = in.MaxSetpoint
	if !in.AutoSetpoint {
		initialParams.Setpoint = in.CurrentSetpoint
	}
	initial, err := s.Simulator.Simulate(ctx, initialParams)
	if err != nil {
		return PlanOutcome{}, err
	}

	skip := ""
	if !in.AutoSetpoint {
		skip = SKIP_AUTO_SETPOINT_DISABLED
	} else if initial.MaxFeedin == 0 {
		skip = SKIP_NO_FEEDIN_EXPECTED
	}
	if skip != "" {
		s.Logger.Info("setpoint search skipped", zap.String("reason", skip), zap.Float64("setpoint", initial.Setpoint))
		return PlanOutcome{Setpoint: initial.Setpoint, Result: initial, Skipped: skip}, nil
	}

	criteria := SearchCriteria{
		TooLow: func(r domain.SetpointResult) bool {
			return r.MinBattery < minEnergy+0.1
		},
		TooHigh: func(r domain.SetpointResult) bool {
			return r.MaxFeedin > in.MaxPVFeedin
		},
		Underfilled: func(r domain.SetpointResult) bool {
			return r.MaxBattery < in.BatteryCapacity
		},
	}

	searches, err := s.BinarySearch(ctx, base, criteria, SearchBounds{
		MinSetpoint:    -in.MaxFeedinLimit,
		MaxSetpoint:    in.MaxSetpoint,
		Spread:         0.1,
		UpdateSetpoint: true,
	})
	if err != nil {
		return PlanOutcome{}, err
	}
	spreadSearches, err := s.BinarySearch(ctx, base, criteria, SearchBounds{
		Setpoint:     searches[len(searches)-1].Setpoint,
		MinSpread:    1e-2,
		MaxSpread:    5,
		UpdateSpread: true,
	})
	if err != nil {
		return PlanOutcome{}, err
	}
	searches = append(searches, spreadSearches...)
	initialResult := searches[len(searches)-1]
	s.logSearch("initial search", searches)

	final := initialResult
	if maxFeedinOn(initialResult, t) > in.MaxPVFeedin {
		refined, more, err := s.refineWindow(ctx, base, criteria, initialResult, in, t)
		if err != nil {
			return PlanOutcome{}, err
		}
		searches = append(searches, more...)
		final = refined
	}

	mp := DefaultMapSetpointParams()
	mp.Setpoint = final.Setpoint
	mp.Price = math.Max(0, s.Prices.WithForecast(in.Prices).PriceAt(t))
	mp.PriceMean = final.PriceMean
	mp.PriceStd = final.PriceStd
	mp.BatteryEnergy = in.BatteryEnergy
	mp.BatteryMinEnergy = minEnergy
	mp.PVPower = in.PVPower
	mp.HousePower = in.HousePower
	mp.Spread = final.Spread
	mp.MaxBatteryPowerTarget = final.MaxBatteryPowerTarget
	if in.MaxFeedinLimit > 0 {
		mp.MaxFeedin = in.MaxFeedinLimit
	}
	setpoint := MapSetpoint(mp)

	s.Logger.Info("setpoint search done",
		zap.Float64("search_setpoint", final.Setpoint),
		zap.Float64("setpoint", setpoint),
		zap.Float64("spread", final.Spread),
		zap.Float64("max_battery_power_target", final.MaxBatteryPowerTarget),
		zap.Float64("min_battery", final.MinBattery),
		zap.Time("t_min_battery", final.MinBatteryAt))

	return PlanOutcome{Setpoint: setpoint, Result: final, Searches: searches}, nil
}

// refineWindow searches a spread for the high-PV window of today, shrinks the battery power target
// until feed-in fits and re-plans the rest of the horizon from the window's end state.
func (s *SetpointSearch) refineWindow(ctx context.Context, base domain.SimulationParams, criteria SearchCriteria,
	initial domain.SetpointResult, in PlanInput, t time.Time) (domain.SetpointResult, []domain.SetpointResult, error) {

	tStart := now.With(t).BeginningOfDay().Add(8 * time.Hour)
	if t.After(tStart) {
		tStart = t
	}
	tEnd := tStart.Add(8 * time.Hour)
	if e, ok := lo.Find(base.Forecast, func(e domain.ForecastPeriod) bool {
		return e.PeriodStart.After(tStart) && e.PeriodStart.Hour() > 14 &&
			e.PVEstimate*1000 < in.MaxFeedinLimit/2+in.HouseAvgPower
	}); ok {
		tEnd = e.PeriodStart
	}

	window := lo.Filter(base.Forecast, func(e domain.ForecastPeriod, _ int) bool {
		return e.PeriodStart.After(tStart) && !e.PeriodStart.After(tEnd)
	})
	if len(window) < 2 {
		s.Logger.Debug("feed-in window too short, keeping initial search", zap.Time("start", tStart), zap.Time("end", tEnd))
		return initial, nil, nil
	}
	s.Logger.Info("searching feed-in setpoint", zap.Time("start", tStart), zap.Time("end", tEnd))

	windowParams := base
	windowParams.Forecast = window
	if d, ok := lo.Find(initial.Detail, func(d domain.ForecastEntry) bool {
		return !d.PeriodStart.Before(tStart)
	}); ok {
		windowParams.BatteryEnergy = d.BatteryEnergy
		windowParams.EVEnergy = d.EVEnergy
	}

	searches, err := s.BinarySearch(ctx, windowParams, criteria, SearchBounds{
		Setpoint:     initial.Setpoint,
		MinSpread:    1e-5,
		MaxSpread:    10,
		UpdateSpread: true,
	})
	if err != nil {
		return domain.SetpointResult{}, nil, err
	}
	s.logSearch("update spread", searches)
	result := searches[len(searches)-1]

	for result.MaxFeedin > in.MaxPVFeedin && result.MaxBatteryPowerTarget > MIN_BATTERY_POWER_TARGET {
		p := windowParams
		p.Setpoint = result.Setpoint
		p.Spread = result.Spread
		p.MaxBatteryPowerTarget = math.Round(result.MaxBatteryPowerTarget * BATTERY_POWER_TARGET_FACTOR)
		if result, err = s.Simulator.Simulate(ctx, p); err != nil {
			return domain.SetpointResult{}, nil, err
		}
		s.Logger.Debug("reduced max battery power target",
			zap.Float64("max_battery_power_target", result.MaxBatteryPowerTarget),
			zap.Float64("max_feedin", result.MaxFeedin))
	}

	final := result
	rest := lo.Filter(base.Forecast, func(e domain.ForecastPeriod, _ int) bool {
		return e.PeriodStart.After(tEnd)
	})
	if len(rest) >= 2 && len(result.Detail) > 0 {
		last := result.Detail[len(result.Detail)-1]
		restParams := base
		restParams.Forecast = rest
		restParams.BatteryEnergy = last.BatteryEnergy
		restParams.EVEnergy = last.EVEnergy
		restSearches, err := s.BinarySearch(ctx, restParams, criteria, SearchBounds{
			MinSetpoint:    -in.MaxFeedinLimit,
			MaxSetpoint:    in.MaxSetpoint,
			Spread:         initial.Spread,
			UpdateSetpoint: true,
		})
		if err != nil {
			return domain.SetpointResult{}, nil, err
		}
		final = MergeSetpointResults(result, restSearches[len(restSearches)-1], tEnd)
	}

	if tStart.After(t) {
		final = MergeSetpointResults(initial, final, tStart)
		final.MaxBatteryPowerTarget = result.MaxBatteryPowerTarget
	}
	return final, append(searches, final), nil
}

// MergeSetpointResults stitches a's detail up to t with b's detail after t. Extremes are combined, the
// remaining fields are a's.
func MergeSetpointResults(a domain.SetpointResult, b domain.SetpointResult, t time.Time) domain.SetpointResult {
	if len(b.Detail) == 0 {
		return a
	}
	merged := a
	merged.MinBattery = math.Min(a.MinBattery, b.MinBattery)
	merged.MinBatteryAt = b.MinBatteryAt
	if a.MinBatteryAt.Before(b.MinBatteryAt) {
		merged.MinBatteryAt = a.MinBatteryAt
	}
	merged.MaxBattery = math.Max(a.MaxBattery, b.MaxBattery)
	merged.MaxBatteryAt = b.MaxBatteryAt
	if a.MaxBatteryAt.After(b.MaxBatteryAt) {
		merged.MaxBatteryAt = a.MaxBatteryAt
	}
	merged.MaxFeedin = math.Max(a.MaxFeedin, b.MaxFeedin)
	merged.MaxFeedinAt = b.MaxFeedinAt
	if a.MaxFeedinAt.After(b.MaxFeedinAt) {
		merged.MaxFeedinAt = a.MaxFeedinAt
	}
	merged.Spread = a.Spread

	detail := lo.Filter(a.Detail, func(d domain.ForecastEntry, _ int) bool {
		return !d.PeriodStart.After(t)
	})
	detail = append(detail, lo.Filter(b.Detail, func(d domain.ForecastEntry, _ int) bool {
		return d.PeriodStart.After(t)
	})...)
	merged.Detail = detail
	return merged
}

// maxFeedinOn returns the highest feed-in of the periods on the calendar day of t.
func maxFeedinOn(r domain.SetpointResult, t time.Time) float64 {
	day := now.With(t).BeginningOfDay()
	today := lo.Filter(r.Detail, func(d domain.ForecastEntry, _ int) bool {
		return now.With(d.PeriodStart).BeginningOfDay().Equal(day)
	})
	if len(today) == 0 {
		return 0
	}
	return lo.MaxBy(today, func(a domain.ForecastEntry, b domain.ForecastEntry) bool {
		return a.Feedin > b.Feedin
	}).Feedin
}

func (s *SetpointSearch) logSearch(title string, results []domain.SetpointResult) {
	if !s.Logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	for _, r := range results {
		s.Logger.Debug("setpoint search: "+title,
			zap.Float64("setpoint", r.Setpoint),
			zap.Float64("spread", r.Spread),
			zap.Float64("min_battery", r.MinBattery),
			zap.Time("t_min_battery", r.MinBatteryAt),
			zap.Float64("max_battery", r.MaxBattery),
			zap.Float64("max_feedin", r.MaxFeedin),
			zap.Time("t_max_feedin", r.MaxFeedinAt))
	}
}
