package service

import (
	"testing"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour int, minute int) time.Time {
	return time.Date(2024, 5, 8, hour, minute, 0, 0, time.Local)
}

func morningRamp() []domain.PVForecastEntry {
	values := []float64{0, 0.1, 0.2, 0.4, 0.6, 0.8}
	entries := make([]domain.PVForecastEntry, len(values))
	for i, v := range values {
		entries[i] = domain.PVForecastEntry{PeriodStart: at(6, 0).Add(time.Duration(i) * 30 * time.Minute), PVEstimate: v}
	}
	return entries
}

func TestFindProductionMeetsDemand(t *testing.T) {

	require := require.New(t)

	reached, energy, ok := FindProductionMeetsDemand(at(7, 10), 0.5, [][]domain.PVForecastEntry{morningRamp()})
	require.True(ok)
	require.WithinDuration(at(7, 45), reached, time.Second)
	// interpolated PV of the running period plus the ramp up to the crossing
	require.InDelta((0.2+0.2/3)*0.5+0.5*0.5, energy, 1e-6)
}

func TestFindProductionMeetsDemandSkipsDayAlreadyReached(t *testing.T) {

	require := require.New(t)

	today := morningRamp()
	tomorrow := make([]domain.PVForecastEntry, len(today))
	for i, e := range today {
		tomorrow[i] = domain.PVForecastEntry{PeriodStart: e.PeriodStart.AddDate(0, 0, 1), PVEstimate: e.PVEstimate}
	}

	_, _, ok := FindProductionMeetsDemand(at(9, 10), 0.5, [][]domain.PVForecastEntry{today})
	require.False(ok)

	reached, energy, ok := FindProductionMeetsDemand(at(9, 10), 0.5, [][]domain.PVForecastEntry{today, tomorrow})
	require.True(ok)
	require.WithinDuration(at(7, 45).AddDate(0, 0, 1), reached, time.Second)
	require.InDelta((0.1+0.2+0.4)*0.5+0.5*0.5, energy, 1e-6)
}

func TestNextProductionMeetsDemandFallback(t *testing.T) {

	assert := assert.New(t)

	reached, energy := NextProductionMeetsDemand(at(11, 0), 0.5, nil)
	assert.Equal(at(10, 0).AddDate(0, 0, 1), reached)
	assert.InDelta(23*0.5, energy, 1e-9)

	reached, energy = NextProductionMeetsDemand(at(8, 0), 0.5, nil)
	assert.Equal(at(10, 0), reached)
	assert.InDelta(1.0, energy, 1e-9)
}

func TestHouseEnergyUntil(t *testing.T) {

	assert := assert.New(t)
	assert.InDelta(1.4, HouseEnergyUntil(at(18, 0), at(20, 0), 1000, 400), 1e-9)
	assert.InDelta(0.0, HouseEnergyUntil(at(20, 0), at(18, 0), 1000, 400), 1e-9)
	assert.InDelta(1000.0/1000*(20.0/60), HouseEnergyUntil(at(10, 10), at(10, 30), 1000, 400), 1e-9)
}

func TestBatteryUseUntil(t *testing.T) {

	assert := assert.New(t)

	slot := func(h int, m int, price float64) domain.PriceSlot {
		return domain.PriceSlot{Start: at(h, m), End: at(h, m).Add(30 * time.Minute), Price: price}
	}
	prices := []domain.PriceSlot{slot(18, 0, 0.3), slot(18, 30, 0.1), slot(19, 0, 0.3), slot(19, 30, 0.3)}

	use := BatteryUseUntil(at(18, 10), at(19, 45), prices, 0.2, 1000, 400, 0.1)
	assert.InDelta(1.0*20/60+0.4*0.5+0.4*0.25-0.1, use, 1e-9)

	assert.Equal(0.0, BatteryUseUntil(at(18, 10), at(19, 45), prices, 0.2, 1000, 400, 5))

	// without a price curve the mean load is used
	assert.InDelta(0.7*(95.0/60), BatteryUseUntil(at(18, 10), at(19, 45), nil, 0.2, 1000, 400, 0), 1e-9)
}
