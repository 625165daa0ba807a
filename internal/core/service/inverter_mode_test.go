package service

import (
	"math"
	"testing"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inverterInput() InverterModeInput {
	return InverterModeInput{
		SurplusEnergy:     0,
		PVPower:           0,
		DailyAvgPower:     500,
		BatterySOC:        50,
		TargetSOC:         40,
		Price:             0.25,
		MinDischargePrice: 0.2,
		MaxChargePrice:    0,
		ChargeLimitSOC:    0,
	}
}

func TestInverterModeEVCharging(t *testing.T) {

	assert := assert.New(t)
	s := NewInverterModeSelector()

	in := inverterInput()
	in.EVCharging = true
	in.SurplusEnergy = 2
	assert.Equal(domain.INVERTER_MODE_ON, s.Select(in).Mode)

	in.SurplusEnergy = 0
	assert.Equal(domain.INVERTER_MODE_OFF, s.Select(in).Mode)

	in.PVPower = 1000
	assert.Equal(domain.INVERTER_MODE_CHARGER_ONLY, s.Select(in).Mode)

	// strong PV with battery above target
	in.PVPower = 1380 + 500 + 1
	assert.Equal(domain.INVERTER_MODE_ON, s.Select(in).Mode)
}

func TestInverterModeLowPriceHoldsBattery(t *testing.T) {

	assert := assert.New(t)
	s := NewInverterModeSelector()

	in := inverterInput()
	in.Price = 0.1
	in.BatterySOC = 30
	assert.Equal(domain.INVERTER_MODE_OFF, s.Select(in).Mode)

	in.PVPower = 200
	assert.Equal(domain.INVERTER_MODE_CHARGER_ONLY, s.Select(in).Mode)

	// battery above target - 5 discharges normally
	in.BatterySOC = 36
	assert.Equal(domain.INVERTER_MODE_ON, s.Select(in).Mode)
}

func TestInverterModeForceCharge(t *testing.T) {

	require := require.New(t)
	s := NewInverterModeSelector()

	in := inverterInput()
	in.Price = 0.05
	in.MaxChargePrice = 0.1
	in.BatterySOC = 20
	in.ChargeLimitSOC = 60
	d := s.Select(in)
	require.Equal(domain.INVERTER_MODE_ON, d.Mode)
	require.NotNil(d.ForceCharge)
	require.True(*d.ForceCharge)
	require.NotNil(d.ChargeLimit)
	require.Equal(3000.0, *d.ChargeLimit)

	// above the charge limit the switch is released
	in.BatterySOC = 35
	in.ChargeLimitSOC = 30
	in.ForceChargeSwitch = true
	d = s.Select(in)
	require.NotNil(d.ForceCharge)
	require.False(*d.ForceCharge)
	require.Equal(-1.0, *d.ChargeLimit)

	// untouched when the switch was already off
	in.ForceChargeSwitch = false
	d = s.Select(in)
	require.Nil(d.ForceCharge)
	require.Nil(d.ChargeLimit)
}

func TestExcessTarget(t *testing.T) {

	assert := assert.New(t)

	in := ExcessTargetInput{BatteryTargetSOC: 50, BatterySOC: 50}
	assert.InDelta(0, ExcessTarget(in), 1e-9)

	// a quarter of the SoC range saturates the curve
	in.BatterySOC = 10
	assert.InDelta(6000, ExcessTarget(in), 1e-9)
	in.EfficientDischarge = true
	assert.InDelta(2500, ExcessTarget(in), 1e-9)

	in.BatterySOC = 90
	assert.InDelta(-2500, ExcessTarget(in), 1e-9)

	in.BatterySOC = 60
	assert.InDelta(math.Sin(-0.1*2*math.Pi)*2500, ExcessTarget(in), 1e-9)
}

func TestExcessTargetReservesPVForEV(t *testing.T) {

	assert := assert.New(t)

	in := ExcessTargetInput{
		BatteryTargetSOC:   50,
		BatterySOC:         90,
		EVCharging:         true,
		EfficientDischarge: true,
		PVPower:            6000,
		EVSOC:              40,
		EVRequiredSOC:      80,
		Now:                decisionNow,
	}
	assert.InDelta(2000, ExcessTarget(in), 1e-9)

	in.EVSOC = 85
	assert.InDelta(2000, ExcessTarget(in), 1e-9)
	in.PVPower = 9000
	assert.InDelta(5000, ExcessTarget(in), 1e-9)

	// leaving soon disables the reservation
	in.NextDrive = driveIn(5)
	assert.InDelta(-2500, ExcessTarget(in), 1e-9)
}
