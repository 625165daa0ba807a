package service

import (
	"fmt"
	"math"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
)

const DEFAULT_FORCE_CHARGE_POWER = 3000.0

type InverterModeInput struct {
	EVCharging        bool
	SurplusEnergy     float64
	PVPower           float64
	DailyAvgPower     float64
	BatterySOC        float64
	TargetSOC         float64
	Price             float64
	MinDischargePrice float64
	MaxChargePrice    float64
	// ChargeLimitSOC is the SoC in percent up to which force charging is allowed.
	ChargeLimitSOC    float64
	ForceChargeSwitch bool
}

type InverterModeSelector struct {
	ForceChargePower float64
}

func NewInverterModeSelector() *InverterModeSelector {
	return &InverterModeSelector{ForceChargePower: DEFAULT_FORCE_CHARGE_POWER}
}

func (s *InverterModeSelector) Select(in InverterModeInput) domain.InverterDecision {
	minChargePower := float64(domain.CHARGER_MIN_PHASES*domain.CHARGER_MIN_CURRENT) * domain.CHARGER_VOLTAGE

	decision := domain.InverterDecision{
		Mode:   domain.INVERTER_MODE_ON,
		Reason: "default",
	}

	offOrChargerOnly := func() domain.InverterMode {
		if in.PVPower <= 0 {
			return domain.INVERTER_MODE_OFF
		}
		return domain.INVERTER_MODE_CHARGER_ONLY
	}

	if in.EVCharging {
		if in.SurplusEnergy > 0 || (in.PVPower > minChargePower+in.DailyAvgPower && in.BatterySOC > in.TargetSOC) {
			decision.Mode = domain.INVERTER_MODE_ON
			decision.Reason = fmt.Sprintf("EV charging with surplus %.1f kWh", in.SurplusEnergy)
		} else {
			decision.Mode = offOrChargerOnly()
			decision.Reason = "EV charging without surplus, battery must not discharge into the EV"
		}
	} else if in.Price < in.MinDischargePrice && in.BatterySOC < math.Max(5, in.TargetSOC-5) {
		decision.Mode = offOrChargerOnly()
		decision.Reason = fmt.Sprintf("price %.3f below min discharge price %.3f and battery below target",
			in.Price, in.MinDischargePrice)
	}

	if in.Price < in.MaxChargePrice && in.BatterySOC < in.TargetSOC && in.BatterySOC < in.ChargeLimitSOC {
		limit := s.ForceChargePower
		force := true
		decision.Mode = domain.INVERTER_MODE_ON
		decision.ChargeLimit = &limit
		decision.ForceCharge = &force
		decision.Reason = fmt.Sprintf("price %.3f below max charge price %.3f, force charging up to %.0f%%",
			in.Price, in.MaxChargePrice, in.ChargeLimitSOC)
	} else if in.ForceChargeSwitch {
		limit := domain.NO_CHARGE_LIMIT_W
		force := false
		decision.ChargeLimit = &limit
		decision.ForceCharge = &force
	}
	return decision
}
