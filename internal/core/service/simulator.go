package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"
	"github.com/samber/lo"
)

var (
	ErrShortForecast   = errors.New("forecast needs at least two periods")
	ErrMissingCapacity = errors.New("battery capacity unknown")
	ErrMissingEnergy   = errors.New("battery energy unknown")
	ErrNoForecast      = errors.New("no forecast available")
)

type DefaultForecastSimulator struct {
	Prices      port.PriceOracle
	Charge      *ChargeDecisionEngine
	Inverter    *InverterModeSelector
	KWhPer100km float64
}

func NewForecastSimulator(prices port.PriceOracle, kwhPer100km float64) *DefaultForecastSimulator {
	if kwhPer100km <= 0 {
		kwhPer100km = domain.DEFAULT_KWH_PER_100KM
	}
	return &DefaultForecastSimulator{
		Prices:      prices,
		Charge:      NewChargeDecisionEngine(),
		Inverter:    NewInverterModeSelector(),
		KWhPer100km: kwhPer100km,
	}
}

// Simulate steps through the forecast periods tracking battery and EV energy, grid feed-in and draw.
// It yields after every period and stops with the context error when cancelled.
func (s *DefaultForecastSimulator) Simulate(ctx context.Context, p domain.SimulationParams) (domain.SetpointResult, error) {
	if len(p.Forecast) < 2 {
		return domain.SetpointResult{}, ErrShortForecast
	}
	if p.BatteryCapacity <= 0 {
		return domain.SetpointResult{}, ErrMissingCapacity
	}
	fullPeriod := p.Forecast[1].PeriodStart.Sub(p.Forecast[0].PeriodStart)
	if fullPeriod <= 0 {
		return domain.SetpointResult{}, fmt.Errorf("%w: non increasing period starts", ErrShortForecast)
	}

	t := p.Now
	if t.IsZero() {
		t = time.Now()
	}
	oracle := s.Prices
	if len(p.PriceCurve) > 0 {
		oracle = oracle.WithForecast(p.PriceCurve)
	}

	prices := lo.Map(p.Forecast, func(f domain.ForecastPeriod, _ int) float64 {
		return math.Max(p.MinFeedinPrice, f.Price)
	})
	mean, std := meanStd(prices)

	snap := p.Snapshot
	capacity := p.BatteryCapacity
	energy := p.BatteryEnergy
	smartLimit := domain.DEFAULT_SIM_EV_LIMIT
	evRequired := snap.EVRequiredSOC
	evSOC := snap.EVSOC
	evEnergy := p.EVEnergy
	charging := snap.ChargerSwitchOn
	surplus := snap.EnergySurplus
	if p.Surplus != nil {
		surplus = *p.Surplus
	}
	nextDrive := NextDrive(p.Schedule, t)

	chargingPossible := func(at time.Time, evEnergy float64, limit float64) bool {
		if !p.WithEVCharging {
			return false
		}
		pastDrive := nextDrive != nil && at.After(nextDrive.End)
		return (snap.ChargerReady || charging || pastDrive) &&
			OngoingDrive(p.Schedule, at) == nil &&
			evEnergy < domain.EV_CAPACITY_KWH*limit/100
	}

	accumulated := 0.0
	result := domain.SetpointResult{
		Setpoint:              p.Setpoint,
		MinBattery:            energy,
		MinBatteryAt:          t,
		MaxBattery:            energy,
		MaxBatteryAt:          t,
		MaxFeedin:             0,
		MaxFeedinAt:           t,
		Spread:                p.Spread,
		PriceMean:             mean,
		PriceStd:              std,
		MaxBatteryPowerTarget: p.MaxBatteryPowerTarget,
		Detail:                make([]domain.ForecastEntry, 0, len(p.Forecast)),
	}

	phases, current := 1, 7
	var driveEvent *domain.ScheduleEntry

	for i, entry := range p.Forecast {
		start := entry.PeriodStart
		price := prices[i]

		var ongoing *domain.ScheduleEntry
		if len(p.Schedule) > 0 {
			ongoing = OngoingDrive(p.Schedule, start)
			if ongoing == nil {
				driveEvent = NextDrive(p.Schedule, start)
				if driveEvent != nil && driveEvent.RequiredSOC != nil {
					evRequired = *driveEvent.RequiredSOC
				}
			}
		}

		period := fullPeriod
		if t.After(start) {
			period = t.Sub(start)
			if period > fullPeriod {
				continue
			}
		}
		hours := period.Hours()

		pv := entry.PVEstimate * p.Dampening * 1000
		house := snap.NightlyAvgPower
		if h := start.Hour(); h > 7 && h < 19 {
			house = snap.DailyAvgPower
		}

		var driveStart *time.Time
		if driveEvent != nil {
			driveStart = &driveEvent.Start
			smartLimit = SmartChargeLimit(driveStart, start, false)
		}

		needed := EVEnergyNeeded(evRequired, evSOC, smartLimit, snap.SmartLimiterActive)
		couldCharge := needed > 0 && chargingPossible(start, evEnergy, smartLimit)

		batteryEnergy := clip(energy+accumulated, 0, capacity)
		batterySOC := batteryEnergy / capacity * 100
		targetSOC := math.Max(5, batterySOC-surplus/capacity*100)

		periodPrice := oracle.PriceAt(start)
		inverter := s.Inverter.Select(InverterModeInput{
			EVCharging:        charging,
			SurplusEnergy:     surplus,
			PVPower:           pv,
			DailyAvgPower:     snap.DailyAvgPower,
			BatterySOC:        batterySOC,
			TargetSOC:         targetSOC,
			Price:             periodPrice,
			MinDischargePrice: snap.MinDischargePrice,
			MaxChargePrice:    snap.MaxChargePrice,
			ChargeLimitSOC:    snap.ChargeLimitSOC,
			ForceChargeSwitch: snap.ForceChargeSwitch,
		})
		forceCharging := inverter.ForceCharge != nil && *inverter.ForceCharge
		chargeLimit := domain.NO_CHARGE_LIMIT_W
		if inverter.ChargeLimit != nil {
			chargeLimit = *inverter.ChargeLimit
		}

		excessTarget := ExcessTarget(ExcessTargetInput{
			BatteryTargetSOC:   targetSOC,
			BatterySOC:         batterySOC,
			EVRequiredSOC:      evRequired,
			EVCharging:         charging,
			NextDrive:          driveStart,
			PVPower:            pv,
			EVSOC:              evSOC,
			Now:                start,
			EfficientDischarge: snap.EfficientDischarge,
		})

		if couldCharge {
			decision := s.Charge.Decide(ChargeDecisionInput{
				NextDrive:          driveStart,
				CurrentSOC:         evSOC,
				RequiredSOC:        evRequired,
				EnergyNeeded:       needed,
				ExcessPower:        pv - house,
				ExcessTarget:       excessTarget,
				SurplusEnergy:      surplus,
				SmartChargeLimit:   smartLimit,
				SmartLimiterActive: snap.SmartLimiterActive,
				ConfiguredPhases:   phases,
				ConfiguredCurrent:  current,
				IsLowPrice:         s.Prices.IsLow(periodPrice),
				PVTotalPower:       pv,
				BatterySOC:         batterySOC,
				BatteryDischarging: inverter.Mode == domain.INVERTER_MODE_ON && !forceCharging,
				IsCharging:         charging,
				Now:                start,
			})
			current = decision.Current
			if decision.Phases != phases {
				if decision.Phases == 1 {
					current = 8
				} else {
					current = 6
				}
			}
			phases = decision.Phases
			charging = decision.Action == domain.CHARGE_ACTION_ON
		} else {
			charging, phases, current = false, 1, 6
		}

		setpointParams := DefaultMapSetpointParams()
		setpointParams.Setpoint = p.Setpoint
		setpointParams.Price = price
		setpointParams.PriceMean = mean
		setpointParams.PriceStd = std
		setpointParams.BatteryEnergy = batteryEnergy
		setpointParams.BatteryMinEnergy = p.BatteryMinEnergy
		setpointParams.PVPower = pv
		setpointParams.HousePower = house
		setpointParams.Spread = p.Spread
		setpointParams.MaxSetpoint = p.MaxSetpoint
		setpointParams.MaxBatteryPowerTarget = p.MaxBatteryPowerTarget
		setpoint := MapSetpoint(setpointParams)

		evCap := domain.EV_CAPACITY_KWH * smartLimit / 100
		evPower := float64(phases*current) * domain.CHARGER_VOLTAGE
		var freeCapacity float64
		if charging && evPower > 1 {
			evEnergy = math.Min(evCap, evEnergy+evPower*hours/1000)
			freeCapacity = evCap - evEnergy + capacity - energy
			setpoint = domain.SETPOINT_CEILING_W
			evSOC = evEnergy / domain.EV_CAPACITY_KWH * 100
		} else {
			freeCapacity = capacity - energy
			evPower = 0
		}

		surplus -= evPower * hours / 1000

		if ongoing != nil && ongoing.Distance != nil {
			total := *ongoing.Distance / 100 * s.KWhPer100km
			evEnergy -= total / math.Max(ongoing.End.Sub(ongoing.Start).Hours(), 1) * hours
		}
		evEnergy = math.Max(domain.EV_MIN_ENERGY_KWH, evEnergy)

		draw := house - setpoint + evPower
		use := draw * hours / 1000
		production := pv * hours / 1000
		net := production - use

		var maxBatteryPower float64
		if energy+accumulated+net >= capacity && net > 0 {
			remaining := capacity - (energy + accumulated)
			maxBatteryPower = math.Min(p.BatteryChargeLimit, remaining/hours*1000)
		} else {
			maxBatteryPower = math.Min(p.BatteryChargeLimit, p.MaxBatteryPowerTarget)
		}

		added := math.Min(maxBatteryPower/1000*hours, net)
		accumulated += added
		batteryEnergy = clip(energy+accumulated, 0, capacity)

		feedin := (net - added) * 1000 / hours
		batteryPower := math.Min(maxBatteryPower, net/hours*1000-feedin)

		empty := energy+accumulated <= 1
		holdsBattery := inverter.Mode == domain.INVERTER_MODE_OFF || inverter.Mode == domain.INVERTER_MODE_CHARGER_ONLY
		var fromGrid float64
		if (empty || holdsBattery) && batteryPower < 0 {
			fromGrid = -batteryPower
			batteryPower = 0
		} else {
			fromGrid = math.Max(0, draw-pv)
		}
		if forceCharging && (inverter.Mode == domain.INVERTER_MODE_ON || inverter.Mode == domain.INVERTER_MODE_CHARGER_ONLY) {
			batteryPower = chargeLimit
			fromGrid = chargeLimit + draw - pv
		}

		if feedin > result.MaxFeedin {
			result.MaxFeedin = feedin
			result.MaxFeedinAt = start
		}
		if batteryEnergy < result.MinBattery {
			result.MinBattery = batteryEnergy
			result.MinBatteryAt = start
		}
		if batteryEnergy > result.MaxBattery {
			result.MaxBattery = batteryEnergy
			result.MaxBatteryAt = start.Add(period)
		}

		result.Detail = append(result.Detail, domain.ForecastEntry{
			PeriodStart:       start,
			PVEstimate:        pv,
			BatteryEnergy:     batteryEnergy,
			BatteryPower:      batteryPower,
			HousePower:        house,
			Setpoint:          setpoint,
			PowerDraw:         draw,
			EnergyUse:         use,
			EnergyProduction:  production,
			FreeCapacity:      freeCapacity,
			AccumulatedEnergy: accumulated,
			Feedin:            feedin,
			Price:             price,
			Spread:            p.Spread,
			EVEnergy:          evEnergy,
			EVChargePower:     evPower,
			ExcessTarget:      excessTarget,
			Surplus:           surplus,
			PowerFromGrid:     fromGrid,
		})

		runtime.Gosched()
		if err := ctx.Err(); err != nil {
			return domain.SetpointResult{}, err
		}
	}
	return result, nil
}

// meanStd returns the mean and the population standard deviation.
func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	mean := lo.Sum(values) / float64(len(values))
	variance := lo.SumBy(values, func(v float64) float64 {
		return (v - mean) * (v - mean)
	}) / float64(len(values))
	return mean, math.Sqrt(variance)
}

// ensure interface compliance
var _ port.ForecastSimulator = (*DefaultForecastSimulator)(nil)
