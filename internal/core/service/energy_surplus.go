package service

import (
	"math"
	"time"
)

const (
	BATTERY_SURPLUS_RESERVE_KWH = 2.0
	EXTRA_DEMAND_PER_DAY_KWH    = 4.0
	WINTER_SURPLUS_TARGET_KWH   = 5.0
)

type EnergySurplusInput struct {
	BatteryEnergy float64
	// BatteryDemandNow is the battery energy needed until PV production meets demand.
	BatteryDemandNow float64
	ExcessToday      float64
	ExcessTomorrow   float64
	ExcessTwoDays    float64
	ExcessThreeDays  float64
	Now              time.Time
}

// SurplusTarget is the energy kept back as surplus. It is zero in June and grows towards winter.
func SurplusTarget(t time.Time) float64 {
	a := math.Pow(math.Abs(float64(t.Month())-6)/6, 3)
	return a * WINTER_SURPLUS_TARGET_KWH
}

// EnergySurplus returns the energy that can be spent over the next days without running short, the
// minimum over the today, tomorrow, two and three day horizons.
func EnergySurplus(in EnergySurplusInput) float64 {
	battery := math.Max(0, in.BatteryEnergy-BATTERY_SURPLUS_RESERVE_KWH)
	target := SurplusTarget(in.Now)

	today := battery + in.ExcessToday - target
	if battery < in.BatteryDemandNow {
		today = battery - in.BatteryDemandNow
	}
	return math.Min(today, math.Min(
		battery+in.ExcessTomorrow-EXTRA_DEMAND_PER_DAY_KWH-target,
		math.Min(
			battery+in.ExcessTwoDays-2*EXTRA_DEMAND_PER_DAY_KWH-target,
			battery+in.ExcessThreeDays-3*EXTRA_DEMAND_PER_DAY_KWH-target,
		),
	))
}
