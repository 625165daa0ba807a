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

func dayIn(month time.Month, day int) time.Time {
	return time.Date(2024, month, day, 12, 0, 0, 0, time.Local)
}

func TestEnergySurplus(t *testing.T) {

	assert := assert.New(t)

	in := EnergySurplusInput{
		BatteryEnergy:    12,
		BatteryDemandNow: 3,
		ExcessToday:      5,
		ExcessTomorrow:   6,
		ExcessTwoDays:    10,
		ExcessThreeDays:  20,
		Now:              dayIn(time.June, 15),
	}
	assert.InDelta(12.0, EnergySurplus(in), 1e-9)

	// the battery cannot cover the demand until PV takes over
	in.BatteryEnergy = 3
	in.BatteryDemandNow = 4
	assert.InDelta(-3.0, EnergySurplus(in), 1e-9)

	// winter keeps 5 kWh back
	in = EnergySurplusInput{BatteryEnergy: 22, ExcessToday: 50, ExcessTomorrow: 50, ExcessTwoDays: 50, ExcessThreeDays: 50,
		Now: dayIn(time.December, 15)}
	assert.InDelta(20.0+50-12-5, EnergySurplus(in), 1e-9)
}

func TestSurplusTargetBySeason(t *testing.T) {

	assert := assert.New(t)
	assert.InDelta(0.0, SurplusTarget(dayIn(time.June, 1)), 1e-9)
	assert.InDelta(5.0, SurplusTarget(dayIn(time.December, 1)), 1e-9)
	assert.InDelta(5*(5.0/6)*(5.0/6)*(5.0/6), SurplusTarget(dayIn(time.January, 1)), 1e-9)
}

func TestReserveSOC(t *testing.T) {

	assert := assert.New(t)
	assert.Equal(5.0, ReserveSOC(dayIn(time.January, 1)))
	assert.Equal(0.0, ReserveSOC(dayIn(time.June, 15)))
	assert.Equal(1.0, ReserveSOC(dayIn(time.May, 20)))
}

func TestBatteryTargetSOC(t *testing.T) {

	require := require.New(t)

	in := BatteryTargetInput{
		BatterySOC:      60,
		BatteryEnergy:   5,
		BatteryCapacity: 10,
		HouseDemand:     6,
		PVUpcoming:      2,
		Surplus:         2,
		EVCharging:      true,
		Now:             dayIn(time.June, 15),
	}
	r := BatteryTargetSOC(in)
	require.InDelta(4.0, r.RequiredEnergy, 1e-9)
	require.InDelta(40.0, r.MinimalSOC, 1e-9)
	require.InDelta(40.0, r.TargetSOC, 1e-9)

	// without surplus the EV must not drain the battery
	in.Surplus = 0.5
	r = BatteryTargetSOC(in)
	require.InDelta(61.0, r.TargetSOC, 1e-9)

	// a deficit is kept in the battery
	in.Surplus = -1
	in.EVCharging = false
	r = BatteryTargetSOC(in)
	require.InDelta(6.0, r.RequiredEnergy, 1e-9)
	require.InDelta(60.0, r.TargetSOC, 1e-9)

	in.HouseDemand = 30
	in.CellsBalanced = true
	r = BatteryTargetSOC(in)
	require.InDelta(95.0, r.TargetSOC, 1e-9)
}

func TestChargeDischargeTimes(t *testing.T) {

	assert := assert.New(t)

	full, empty := ChargeDischargeTimes(10, 4, 2)
	assert.Equal(3.0, full)
	assert.Equal(48.0, empty)

	full, empty = ChargeDischargeTimes(10, 4, -0.5)
	assert.Equal(48.0, full)
	assert.Equal(8.0, empty)

	full, _ = ChargeDischargeTimes(10, 9.99, 0.0001)
	assert.Equal(48.0, full)
}

func TestSetpointSmoother(t *testing.T) {

	assert := assert.New(t)
	s := NewSetpointSmoother()
	assert.Equal(DEFAULT_HOUSE_LOADS_W, s.Loads())

	in := ApplySetpointInput{
		Target:          -1000,
		MaxSetpoint:     -20,
		MaxFeedinTarget: 4000,
		DailyAvgPower:   500,
		HouseLoads:      600,
	}
	assert.Equal(-900.0, s.ApplySetpoint(in))

	in.HouseLoads = 1600
	assert.Equal(-800.0, s.ApplySetpoint(in))
	assert.InDelta(700.0, s.Loads(), 1e-9)

	// close to the ceiling the target is applied unchanged
	in.Target = -30
	assert.Equal(-30.0, s.ApplySetpoint(in))

	in.EVCharging = true
	in.Target = -1000
	assert.Equal(-20.0, s.ApplySetpoint(in))
}

func TestForecastSurplus(t *testing.T) {

	require := require.New(t)
	prices := NewStaticPriceOracle()
	f := NewSurplusForecaster(NewForecastSimulator(prices, 0), prices, zap.NewNop())
	f.Horizon = 2 * time.Hour

	pv := make([]domain.PVForecastEntry, 0, 8)
	for i := 0; i < 8; i++ {
		pv = append(pv, domain.PVForecastEntry{PeriodStart: simStart.Add(time.Duration(i) * 30 * time.Minute)})
	}
	in := SurplusInput{
		PVForecast:      pv,
		Snapshot:        domain.EnergySnapshot{DailyAvgPower: 500, NightlyAvgPower: 300},
		BatteryCapacity: 30,
		BatteryEnergy:   28,
		Now:             simStart,
	}
	r, err := f.Forecast(context.Background(), in)
	require.NoError(err)
	require.NotNil(r.WithoutEV)
	require.Nil(r.WithEV)
	require.Len(r.WithoutEV.Detail, 4)

	minEnergy := r.WithoutEV.Detail[3].BatteryEnergy
	require.InDelta(minEnergy-10, r.Surplus, 0.01)
	require.Equal(0.0, r.TotalFeedin)
	require.Equal(r.Surplus, r.SurplusAfterEV)

	in.Schedule = []domain.ScheduleEntry{{Start: simStart.Add(3 * time.Hour), End: simStart.Add(5 * time.Hour)}}
	r, err = f.Forecast(context.Background(), in)
	require.NoError(err)
	require.NotNil(r.WithEV)

	in.BatteryCapacity = 0
	_, err = f.Forecast(context.Background(), in)
	require.ErrorIs(err, ErrMissingCapacity)
}
