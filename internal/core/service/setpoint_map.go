package service

import (
	"math"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
)

type MapSetpointParams struct {
	Setpoint              float64
	Price                 float64
	PriceMean             float64
	PriceStd              float64
	BatteryEnergy         float64
	BatteryMinEnergy      float64
	PVPower               float64
	HousePower            float64
	MaxFeedin             float64
	Spread                float64
	MinSetpoint           float64
	MaxSetpoint           float64
	MaxBatteryPowerTarget float64
}

func DefaultMapSetpointParams() MapSetpointParams {
	return MapSetpointParams{
		MaxFeedin:             4000,
		Spread:                1,
		MinSetpoint:           domain.SETPOINT_CEILING_W,
		MaxSetpoint:           domain.SETPOINT_CEILING_W,
		MaxBatteryPowerTarget: 4000,
	}
}

func gaussian(x float64, mean float64, std float64) float64 {
	return math.Exp(-0.5*math.Pow((x-mean)/std, 2)) / (std * math.Sqrt(2*math.Pi))
}

// MapSetpoint damps the setpoint with a gaussian over the price distribution: cheap prices keep the
// full setpoint, prices near mean+std shrink it. Near the battery floor it decays to zero and PV beyond
// the battery power target is pushed to the grid.
func MapSetpoint(p MapSetpointParams) float64 {
	price := p.Price * 100
	mean := p.PriceMean * 100
	std := math.Max(5, p.PriceStd*100)

	if price > mean+std {
		price = mean + std
	}
	gaussMean := mean + std
	gaussStd := math.Sqrt(math.Max(1e-5, p.Spread)) * std

	prob := gaussian(price, gaussMean, gaussStd) / gaussian(0, 0, gaussStd)
	setpoint := prob * p.Setpoint

	if p.BatteryEnergy < p.BatteryMinEnergy+2 && p.PVPower < p.HousePower {
		setpoint = p.Setpoint * math.Pow((p.BatteryEnergy-p.BatteryMinEnergy)/2, 4)
	}

	surplusPV := math.Max(0, p.PVPower-p.HousePower-p.MaxBatteryPowerTarget)
	if surplusPV > 0 && p.Setpoint < p.MaxSetpoint {
		setpoint = math.Min(setpoint, -surplusPV)
	}
	return math.Max(-(p.MaxFeedin + surplusPV), math.Min(p.MinSetpoint, setpoint))
}
