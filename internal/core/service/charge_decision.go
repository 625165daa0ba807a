package service

import (
	"fmt"
	"math"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
)

type ChargeDecisionInput struct {
	// NextDrive is nil when no drive is planned.
	NextDrive          *time.Time
	CurrentSOC         float64
	RequiredSOC        float64
	EnergyNeeded       float64
	ExcessPower        float64
	ExcessTarget       float64
	SurplusEnergy      float64
	SmartChargeLimit   float64
	SmartLimiterActive bool
	ConfiguredPhases   int
	ConfiguredCurrent  int
	IsLowPrice         bool
	PVTotalPower       float64
	BatterySOC         float64
	BatteryDischarging bool
	IsCharging         bool
	Now                time.Time
}

type ChargeDecisionEngine struct {
	Hysteresis float64
}

func NewChargeDecisionEngine() *ChargeDecisionEngine {
	return &ChargeDecisionEngine{Hysteresis: domain.CHARGE_HYSTERESIS_W}
}

// Decide walks the charging rule ladder. The first matching rule wins.
func (e *ChargeDecisionEngine) Decide(in ChargeDecisionInput) domain.ChargeDecision {
	hoursAvailable := domain.NO_DRIVE_HOURS
	if in.NextDrive != nil {
		hoursAvailable = in.NextDrive.Sub(in.Now).Hours()
	}
	minHoursNeeded := in.EnergyNeeded / (3 * domain.CHARGER_VOLTAGE * (domain.CHARGER_MAX_CURRENT - 1) / 1000)

	// reserve for other loads
	surplus := in.SurplusEnergy - 3
	smartLimit := in.SmartChargeLimit
	excessTarget := in.ExcessTarget
	limiterActive := in.SmartLimiterActive

	if !in.IsCharging && smartLimit < 100 {
		smartLimit -= 1
		surplus -= 2
		excessTarget += 1000
	}
	if smartLimit == 100 {
		limiterActive = false
	}

	off := func(reason string) domain.ChargeDecision {
		return domain.ChargeDecision{
			Action:  domain.CHARGE_ACTION_OFF,
			Phases:  domain.CHARGER_MIN_PHASES,
			Current: domain.CHARGER_MIN_CURRENT,
			Reason:  reason,
		}
	}
	on := func(phases int, current int, reason string) domain.ChargeDecision {
		return domain.ChargeDecision{
			Action:  domain.CHARGE_ACTION_ON,
			Phases:  phases,
			Current: current,
			Reason:  reason,
		}
	}

	switch {
	case in.EnergyNeeded <= 0 && surplus <= 1:
		return off(fmt.Sprintf("required SoC was reached, stopping charge with surplus of %.0fkWh", surplus))

	case limiterActive && in.CurrentSOC > smartLimit:
		return off(fmt.Sprintf("Smart charge limit of %.0f reached.", smartLimit))

	case (hoursAvailable < 2 || hoursAvailable < minHoursNeeded) && in.CurrentSOC < in.RequiredSOC-1:
		return on(domain.CHARGER_MAX_PHASES, domain.CHARGER_MAX_CURRENT,
			fmt.Sprintf("Emergency charge - hours available %.1f, time needed %.1f, SOC %.0f%% < target %.0f%%",
				hoursAvailable, minHoursNeeded, in.CurrentSOC, in.RequiredSOC))

	case in.ExcessPower > excessTarget && surplus > 0 &&
		(in.BatterySOC > 90 || in.PVTotalPower > 1500 || hoursAvailable < 14):
		available := in.ExcessPower - excessTarget
		min3PhasePower := float64(domain.CHARGER_MAX_PHASES*domain.CHARGER_MIN_CURRENT) * domain.CHARGER_VOLTAGE
		threshold := min3PhasePower + e.Hysteresis
		if in.ConfiguredPhases == 3 {
			threshold = min3PhasePower - e.Hysteresis
		}
		currentPower := float64(in.ConfiguredPhases*in.ConfiguredCurrent) * domain.CHARGER_VOLTAGE
		phases := 1
		if currentPower+available >= threshold {
			phases = 3
		}
		adj := CalculateCurrentAdjustment(in.ExcessPower, excessTarget, in.ConfiguredPhases, in.ConfiguredCurrent)
		return on(phases, in.ConfiguredCurrent+adj,
			fmt.Sprintf("Excess power detected: %.0f W, Target: %.0f W, current power %.0f W, Target Power for EV: %.0f W",
				in.ExcessPower, excessTarget, currentPower, currentPower+available))

	case in.IsCharging && in.ExcessPower < excessTarget:
		deficit := excessTarget - in.ExcessPower
		if in.ConfiguredCurrent == domain.CHARGER_MIN_CURRENT {
			if in.ConfiguredPhases > domain.CHARGER_MIN_PHASES {
				adj := CalculateCurrentAdjustment(in.ExcessPower, excessTarget, 1, domain.CHARGER_MAX_CURRENT)
				current := clipInt(domain.CHARGER_MAX_CURRENT+adj, domain.CHARGER_MIN_CURRENT, domain.CHARGER_MAX_CURRENT)
				return on(1, current, fmt.Sprintf("Reducing phases to meet deficit of %.2f W", deficit))
			}
			return off(fmt.Sprintf("Excess %.1f W below target of %.1f W, current %dA already at minimum, unable to reduce further",
				in.ExcessPower, excessTarget, in.ConfiguredCurrent))
		}
		adj := CalculateCurrentAdjustment(in.ExcessPower, excessTarget, in.ConfiguredPhases, in.ConfiguredCurrent)
		return on(in.ConfiguredPhases, max(domain.CHARGER_MIN_CURRENT, in.ConfiguredCurrent+adj),
			fmt.Sprintf("Reducing current to meet deficit of %.2f W", deficit))

	case in.IsLowPrice && hoursAvailable < 14:
		if in.BatteryDischarging {
			adj := CalculateCurrentAdjustment(in.ExcessPower, excessTarget, 3, in.ConfiguredCurrent)
			return on(3, in.ConfiguredCurrent+adj, "Charging at low price, with battery discharging")
		}
		return on(3, domain.CHARGER_MAX_CURRENT, "Charging at low price, no battery discharging")

	case !in.IsLowPrice && surplus <= 0 && in.ExcessPower < excessTarget:
		requiredHours := in.EnergyNeeded / (3 * domain.CHARGER_VOLTAGE * domain.CHARGER_MAX_CURRENT / 1000)
		if hoursAvailable < requiredHours-0.5 {
			return off("high electricity price, time pressure ignored")
		}
		return off("high electricity price and still time available")
	}

	return off("None of the conditions for auto charging matched")
}

// CalculateCurrentAdjustment returns the current step that moves the excess power towards its
// target, at most 4 A per call and never outside the charger's 6-16 A range.
func CalculateCurrentAdjustment(currentExcess float64, targetExcess float64, phases int, current int) int {
	diff := currentExcess - targetExcess
	stepPower := domain.CHARGER_VOLTAGE * float64(max(6, phases)) / 1000
	upper := min(4, domain.CHARGER_MAX_CURRENT-current)
	lower := max(-4, domain.CHARGER_MIN_CURRENT-current)
	return clipInt(int(math.RoundToEven(diff/stepPower)), lower, upper)
}

// SmartChargeLimit is the EV SoC cap given the next departure. Hours are truncated to whole hours.
func SmartChargeLimit(nextDrive *time.Time, t time.Time, active bool) float64 {
	if nextDrive == nil {
		return domain.DEFAULT_CHARGE_LIMIT
	}
	hours := math.Floor(nextDrive.Sub(t).Hours())
	switch {
	case hours < 6 || active:
		return 100
	case hours < 20:
		return 98
	case hours < 40:
		return 95
	case hours < 60:
		return 93
	}
	return domain.DEFAULT_CHARGE_LIMIT
}

// EVEnergyNeeded is the energy in kWh required to reach the required SoC, capped by the smart limit when active.
func EVEnergyNeeded(requiredSOC float64, currentSOC float64, smartLimit float64, limiterActive bool) float64 {
	if limiterActive {
		requiredSOC = math.Min(smartLimit, requiredSOC)
	}
	return math.Max(0, (requiredSOC-currentSOC)/100*domain.EV_CAPACITY_KWH)
}

func clipInt(v int, low int, high int) int {
	return max(low, min(high, v))
}

func clip(v float64, low float64, high float64) float64 {
	return math.Max(low, math.Min(high, v))
}
