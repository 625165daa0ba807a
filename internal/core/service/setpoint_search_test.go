package service

import (
	"context"
	"testing"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSimulator struct {
	calls int
	fn    func(p domain.SimulationParams) domain.SetpointResult
}

func (s *stubSimulator) Simulate(_ context.Context, p domain.SimulationParams) (domain.SetpointResult, error) {
	s.calls++
	return s.fn(p), nil
}

func echoResult(p domain.SimulationParams) domain.SetpointResult {
	return domain.SetpointResult{Setpoint: p.Setpoint, Spread: p.Spread, MaxBatteryPowerTarget: p.MaxBatteryPowerTarget}
}

func TestBinarySearchSetpointNarrowsOnFeedin(t *testing.T) {

	require := require.New(t)
	sim := &stubSimulator{fn: func(p domain.SimulationParams) domain.SetpointResult {
		r := echoResult(p)
		if p.Setpoint > -1500 {
			r.MaxFeedin = 2000
		}
		return r
	}}
	search := NewSetpointSearch(sim, NewStaticPriceOracle(), zap.NewNop())
	criteria := SearchCriteria{
		TooHigh: func(r domain.SetpointResult) bool { return r.MaxFeedin > 1000 },
	}

	results, err := search.BinarySearch(context.Background(), domain.DefaultSimulationParams(), criteria, SearchBounds{
		MinSetpoint:    -1400,
		MaxSetpoint:    -20,
		Spread:         0.1,
		UpdateSetpoint: true,
	})
	require.NoError(err)

	setpoints := make([]float64, len(results))
	for i, r := range results {
		setpoints[i] = r.Setpoint
		require.Equal(0.1, r.Spread)
	}
	require.Equal([]float64{-710, -1055, -1228, -1314, -1357, -1379}, setpoints)
}

func TestBinarySearchSpreadStopsAtIterationLimit(t *testing.T) {

	require := require.New(t)
	sim := &stubSimulator{fn: echoResult}
	search := NewSetpointSearch(sim, NewStaticPriceOracle(), zap.NewNop())
	criteria := SearchCriteria{
		Underfilled: func(domain.SetpointResult) bool { return true },
	}

	results, err := search.BinarySearch(context.Background(), domain.DefaultSimulationParams(), criteria, SearchBounds{
		Setpoint:     -500,
		MinSpread:    1e-2,
		MaxSpread:    5,
		UpdateSpread: true,
	})
	require.NoError(err)
	require.Len(results, DEFAULT_SEARCH_ITERATIONS)
	require.InDelta(2.505, results[0].Spread, 1e-9)
	for i := 1; i < len(results); i++ {
		require.Less(results[i].Spread, results[i-1].Spread)
		require.Equal(-500.0, results[i].Setpoint)
	}
}

func TestBinarySearchNeedsSomethingToUpdate(t *testing.T) {

	search := NewSetpointSearch(&stubSimulator{fn: echoResult}, NewStaticPriceOracle(), nil)
	_, err := search.BinarySearch(context.Background(), domain.DefaultSimulationParams(), SearchCriteria{}, SearchBounds{})
	assert.Error(t, err)
}

func TestMergeSetpointResults(t *testing.T) {

	require := require.New(t)
	at := func(h int) time.Time { return simStart.Add(time.Duration(h) * time.Hour) }
	entries := func(hours ...int) []domain.ForecastEntry {
		d := make([]domain.ForecastEntry, len(hours))
		for i, h := range hours {
			d[i] = domain.ForecastEntry{PeriodStart: at(h), Feedin: float64(h)}
		}
		return d
	}

	a := domain.SetpointResult{
		Setpoint: -100, Spread: 0.5,
		MinBattery: 3, MinBatteryAt: at(1),
		MaxBattery: 8, MaxBatteryAt: at(2),
		MaxFeedin: 500, MaxFeedinAt: at(2),
		Detail: entries(0, 1, 2, 3),
	}
	b := domain.SetpointResult{
		Setpoint: -300, Spread: 2,
		MinBattery: 2, MinBatteryAt: at(5),
		MaxBattery: 9, MaxBatteryAt: at(4),
		MaxFeedin: 100, MaxFeedinAt: at(4),
		Detail: entries(2, 3, 4, 5),
	}

	m := MergeSetpointResults(a, b, at(2))
	require.Equal(-100.0, m.Setpoint)
	require.Equal(0.5, m.Spread)
	require.Equal(2.0, m.MinBattery)
	require.Equal(at(1), m.MinBatteryAt)
	require.Equal(9.0, m.MaxBattery)
	require.Equal(at(4), m.MaxBatteryAt)
	require.Equal(500.0, m.MaxFeedin)
	require.Equal(at(4), m.MaxFeedinAt)
	require.Len(m.Detail, 6)
	for i, d := range m.Detail {
		require.Equal(at(i), d.PeriodStart)
	}

	// nothing to stitch
	b.Detail = nil
	require.Equal(a, MergeSetpointResults(a, b, at(2)))
}

var planStart = time.Date(2024, 5, 8, 6, 0, 0, 0, time.Local)

func planInput(pv func(t time.Time) float64) PlanInput {
	entries := make([]domain.PVForecastEntry, 0, 96)
	for i := 0; i < 96; i++ {
		ts := planStart.Add(time.Duration(i) * 30 * time.Minute)
		entries = append(entries, domain.PVForecastEntry{PeriodStart: ts, PVEstimate: pv(ts)})
	}
	return PlanInput{
		PVForecast: entries,
		Prices: []domain.PriceSlot{{
			Start: planStart.Add(-time.Hour),
			End:   planStart.Add(48 * time.Hour),
			Price: 0.25,
		}},
		Snapshot: domain.EnergySnapshot{
			DailyAvgPower:   500,
			NightlyAvgPower: 300,
		},
		BatteryCapacity: 10,
		BatteryEnergy:   5,
		AutoSetpoint:    true,
		CurrentSetpoint: -700,
		MaxFeedinLimit:  4000,
		MaxPVFeedin:     1000,
		MaxSetpoint:     -20,
		HouseAvgPower:   500,
		HousePower:      500,
		Now:             planStart,
	}
}

func newPlanSearch() *SetpointSearch {
	prices := NewStaticPriceOracle()
	return NewSetpointSearch(NewForecastSimulator(prices, 0), prices, zap.NewNop())
}

func TestPlanRequiresPricesAndCapacity(t *testing.T) {

	assert := assert.New(t)
	search := newPlanSearch()

	in := planInput(func(time.Time) float64 { return 0 })
	in.Prices = nil
	_, err := search.Plan(context.Background(), in)
	assert.ErrorIs(err, ErrNoForecast)

	in = planInput(func(time.Time) float64 { return 0 })
	in.BatteryCapacity = 0
	_, err = search.Plan(context.Background(), in)
	assert.ErrorIs(err, ErrMissingCapacity)

	in = planInput(func(time.Time) float64 { return 0 })
	in.PVForecast = nil
	_, err = search.Plan(context.Background(), in)
	assert.ErrorIs(err, ErrNoForecast)
}

func TestPlanSkipsWhenDisabled(t *testing.T) {

	require := require.New(t)
	search := newPlanSearch()

	in := planInput(func(time.Time) float64 { return 5 })
	in.AutoSetpoint = false
	out, err := search.Plan(context.Background(), in)
	require.NoError(err)
	require.Equal(SKIP_AUTO_SETPOINT_DISABLED, out.Skipped)
	require.Equal(-700.0, out.Setpoint)
	require.Empty(out.Searches)
}

func TestPlanSkipsWithoutFeedin(t *testing.T) {

	require := require.New(t)
	search := newPlanSearch()

	out, err := search.Plan(context.Background(), planInput(func(time.Time) float64 { return 0 }))
	require.NoError(err)
	require.Equal(SKIP_NO_FEEDIN_EXPECTED, out.Skipped)
	require.Equal(-20.0, out.Setpoint)
}

func TestPlanSearchesWithHighPV(t *testing.T) {

	require := require.New(t)
	search := newPlanSearch()

	in := planInput(func(ts time.Time) float64 {
		if h := ts.Hour(); h >= 9 && h < 17 {
			return 5
		}
		return 0
	})
	out, err := search.Plan(context.Background(), in)
	require.NoError(err)
	require.Empty(out.Skipped)
	require.NotEmpty(out.Searches)
	require.NotEmpty(out.Result.Detail)
	require.LessOrEqual(out.Setpoint, -20.0)
	require.GreaterOrEqual(out.Setpoint, -in.MaxFeedinLimit)
	for _, d := range out.Result.Detail {
		require.GreaterOrEqual(d.BatteryEnergy, 0.0)
		require.LessOrEqual(d.BatteryEnergy, in.BatteryCapacity)
	}

	// the feed-in window was refined and the battery power target reduced
	require.Greater(len(out.Searches), 2)
	require.Less(out.Result.MaxBatteryPowerTarget, DEFAULT_SEARCH_BATTERY_PWR)

	// stitched detail covers the horizon without gaps or overlaps
	require.Len(out.Result.Detail, 48)
	require.Equal(planStart, out.Result.Detail[0].PeriodStart)
	for i := 1; i < len(out.Result.Detail); i++ {
		require.Equal(30*time.Minute, out.Result.Detail[i].PeriodStart.Sub(out.Result.Detail[i-1].PeriodStart),
			"period %d", i)
	}
}
