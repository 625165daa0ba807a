package service

import (
	"math"
	"time"
)

const (
	MAX_CHARGE_TIME_HOURS = 48.0
	BALANCED_MAX_SOC      = 95.0
	MIN_REQUIRED_KWH      = 3.0
)

type BatteryTargetInput struct {
	BatterySOC      float64
	BatteryEnergy   float64
	BatteryCapacity float64
	// HouseDemand is the house energy needed until PV production meets demand.
	HouseDemand    float64
	PVUpcoming     float64
	ExcessNextDays float64
	Surplus        float64
	CellsBalanced  bool
	EVCharging     bool
	Now            time.Time
}

type BatteryTarget struct {
	RequiredEnergy float64
	MinimalSOC     float64
	TargetSOC      float64
}

func RequiredEnergy(houseDemand float64, pvUpcoming float64, excessNextDays float64, capacity float64,
	energy float64, surplus float64) float64 {

	fromSurplus := 0.0
	if surplus <= 0 {
		fromSurplus = math.Min(capacity, energy-surplus)
	}
	return math.Max(math.Max(0, houseDemand-pvUpcoming), math.Max(math.Min(0, excessNextDays), fromSurplus))
}

// ReserveSOC is the seasonal SoC reserve in percent.
func ReserveSOC(t time.Time) float64 {
	deviation := math.Pow((6-(float64(t.Month())-1+float64(t.Day())/30))/6, 2)
	return math.Min(5, math.Round(deviation*30))
}

func BatteryTargetSOC(in BatteryTargetInput) BatteryTarget {
	required := RequiredEnergy(in.HouseDemand, in.PVUpcoming, in.ExcessNextDays, in.BatteryCapacity,
		in.BatteryEnergy, in.Surplus)

	maxSOC := 100.0
	if in.CellsBalanced {
		maxSOC = BALANCED_MAX_SOC
	}
	minimal := 0.0
	if in.BatteryCapacity > 0 {
		minimal = math.Min(maxSOC, math.Max(MIN_REQUIRED_KWH, required)/in.BatteryCapacity*100+ReserveSOC(in.Now))
	}

	target := minimal
	if in.EVCharging && in.Surplus < 1 {
		// the battery must not discharge into the EV
		target = math.Max(in.BatterySOC+1, minimal)
	}
	return BatteryTarget{RequiredEnergy: required, MinimalSOC: minimal, TargetSOC: target}
}

// ChargeDischargeTimes returns the hours until the battery is full and empty at the given battery
// power in kW (positive charges), both capped at 48 h.
func ChargeDischargeTimes(capacity float64, energy float64, powerKW float64) (float64, float64) {
	full, empty := MAX_CHARGE_TIME_HOURS, MAX_CHARGE_TIME_HOURS
	if powerKW > 0 {
		full = math.Min(MAX_CHARGE_TIME_HOURS, (capacity-energy)/powerKW)
	}
	if powerKW < 0 {
		empty = math.Min(MAX_CHARGE_TIME_HOURS, energy/-powerKW)
	}
	return math.Round(full*100) / 100, math.Round(empty*100) / 100
}
