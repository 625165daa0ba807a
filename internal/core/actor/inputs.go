package actor

import (
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"
	"github.com/berfenger/hems2mqtt/internal/core/service"

	"github.com/jinzhu/now"
)

const (
	DEFAULT_DAILY_AVG_POWER_W   = 500.0
	DEFAULT_NIGHTLY_AVG_POWER_W = 300.0
)

// Inputs reads typed live values out of the state store. Missing readings resolve to the defaults
// given at each call site.
type Inputs struct {
	store  port.StateStore
	prices *service.DefaultPriceOracle
	parser *service.ScheduleParser
	// weekly is the drive schedule from the schedule file, the ev_schedule point wins when present
	weekly service.WeeklySchedule
	now    func() time.Time
}

func NewInputs(store port.StateStore, prices *service.DefaultPriceOracle, parser *service.ScheduleParser,
	weekly service.WeeklySchedule) *Inputs {
	return &Inputs{
		store:  store,
		prices: prices,
		parser: parser,
		weekly: weekly,
		now:    time.Now,
	}
}

func (in *Inputs) Store() port.StateStore {
	return in.store
}

func (in *Inputs) Now() time.Time {
	return in.now()
}

// PriceForecast is the price forecast point, nil when it is missing.
func (in *Inputs) PriceForecast() []domain.PriceSlot {
	return domain.PriceForecast.Read(in.store).OrElse(nil)
}

// PriceCurve is the price forecast or, without one, the static tariff of today and tomorrow.
func (in *Inputs) PriceCurve(t time.Time) []domain.PriceSlot {
	if forecast := in.PriceForecast(); len(forecast) > 0 {
		return forecast
	}
	return append(in.prices.Curve(t), in.prices.Curve(t.AddDate(0, 0, 1))...)
}

func (in *Inputs) Oracle() port.PriceOracle {
	return in.prices.WithForecast(in.PriceForecast())
}

func (in *Inputs) StaticPrices() *service.DefaultPriceOracle {
	return in.prices
}

func (in *Inputs) CurrentPrice(t time.Time) float64 {
	return domain.CurrentPrice.Read(in.store).OrElse(in.Oracle().PriceAt(t))
}

func (in *Inputs) Schedule(t time.Time) []domain.ScheduleEntry {
	weekly := in.weekly
	if raw, ok := domain.EVSchedule.Read(in.store).Get(); ok {
		if decoded, err := service.DecodeWeekly(raw); err == nil {
			weekly = decoded
		}
	}
	if len(weekly) == 0 {
		return nil
	}
	required := domain.EVRequiredSOC.Read(in.store).OrElse(domain.DEFAULT_REQUIRED_SOC)
	return in.parser.Parse(weekly, t, required)
}

func (in *Inputs) NextDrive(t time.Time) *time.Time {
	next := service.NextDrive(in.Schedule(t), t)
	if next == nil {
		return nil
	}
	start := next.Start
	return &start
}

// BatteryEnergy is the stored energy in kWh. It is missing when either capacity or SoC is unknown.
func (in *Inputs) BatteryEnergy() domain.Reading[float64] {
	capacity, okCapacity := domain.BatteryCapacity.Read(in.store).Get()
	soc, okSOC := domain.BatterySOC.Read(in.store).Get()
	if !okCapacity || !okSOC || capacity <= 0 {
		return domain.Missing[float64]()
	}
	return domain.Present(capacity * soc / 100)
}

func (in *Inputs) EVEnergy() float64 {
	return domain.EVSOC.Read(in.store).OrElse(0) / 100 * domain.EV_CAPACITY_KWH
}

func (in *Inputs) DailyAvgPower() float64 {
	return domain.HouseDailyAvgPower.Read(in.store).OrElse(DEFAULT_DAILY_AVG_POWER_W)
}

func (in *Inputs) NightlyAvgPower() float64 {
	return domain.HouseNightlyAvgPower.Read(in.store).OrElse(DEFAULT_NIGHTLY_AVG_POWER_W)
}

// Snapshot reads every live value a simulation depends on.
func (in *Inputs) Snapshot() domain.EnergySnapshot {
	return domain.EnergySnapshot{
		EVSOC:              domain.EVSOC.Read(in.store).OrElse(0),
		EVRequiredSOC:      domain.EVRequiredSOC.Read(in.store).OrElse(domain.DEFAULT_REQUIRED_SOC),
		SmartLimiterActive: domain.SmartChargeLimiter.Read(in.store).OrElse(false),
		ChargerReady:       domain.ChargerReady.Read(in.store).OrElse(false),
		ChargerSwitchOn:    domain.ChargerSwitch.Read(in.store).OrElse(false),
		EfficientDischarge: domain.EfficientDischarge.Read(in.store).OrElse(false),
		DailyAvgPower:      in.DailyAvgPower(),
		NightlyAvgPower:    in.NightlyAvgPower(),
		EnergySurplus:      domain.EnergySurplus.Read(in.store).OrElse(0),
		MinDischargePrice:  domain.MinDischargePrice.Read(in.store).OrElse(0.2),
		MaxChargePrice:     domain.MaxChargePrice.Read(in.store).OrElse(0),
		ChargeLimitSOC:     domain.ForceChargeUpTo.Read(in.store).OrElse(0),
		ForceChargeSwitch:  domain.ForceChargeSwitch.Read(in.store).OrElse(false),
		ChargeLimitW:       domain.BatteryChargeLimit.Read(in.store).OrElse(domain.NO_CHARGE_LIMIT_W),
	}
}

func (in *Inputs) PVForecast() []domain.PVForecastEntry {
	return domain.PVForecast.Read(in.store).OrElse(nil)
}

// PVForecastDays splits the PV forecast into calendar days, in forecast order.
func (in *Inputs) PVForecastDays() [][]domain.PVForecastEntry {
	var days [][]domain.PVForecastEntry
	var day time.Time
	for _, entry := range in.PVForecast() {
		start := now.With(entry.PeriodStart).BeginningOfDay()
		if len(days) == 0 || !start.Equal(day) {
			days = append(days, nil)
			day = start
		}
		days[len(days)-1] = append(days[len(days)-1], entry)
	}
	return days
}
