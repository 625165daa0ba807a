package domain

import (
	"time"
)

const (
	EV_CAPACITY_KWH       = 60.0
	EV_MIN_ENERGY_KWH     = 5.0
	CHARGER_VOLTAGE       = 230.0
	CHARGER_MAX_CURRENT   = 16
	CHARGER_MIN_CURRENT   = 6
	CHARGER_MIN_PHASES    = 1
	CHARGER_MAX_PHASES    = 3
	CHARGE_HYSTERESIS_W   = 500.0
	SETPOINT_CEILING_W    = -20.0
	NO_DRIVE_HOURS        = 999.0
	NO_CHARGE_LIMIT_W     = -1.0
	DEFAULT_CHARGE_LIMIT  = 85.0
	DEFAULT_SIM_EV_LIMIT  = 80.0
	DEFAULT_REQUIRED_SOC  = 80.0
	DEFAULT_KWH_PER_100KM = 18.0
)

// ForecastPeriod is one slice of the PV forecast joined with its price.
type ForecastPeriod struct {
	PeriodStart time.Time
	// PVEstimate in kW as delivered by the forecast provider.
	PVEstimate float64
	Price      float64
}

type PriceSlot struct {
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
	Price float64   `json:"price_per_kwh"`
}

// PVForecastEntry mirrors the detailed forecast documents of common solar forecast providers.
type PVForecastEntry struct {
	PeriodStart time.Time `json:"period_start"`
	PVEstimate  float64   `json:"pv_estimate"`
}

type ScheduleEntry struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	RequiredSOC *float64  `json:"required_soc,omitempty"`
	Distance    *float64  `json:"distance,omitempty"`
}

func (e ScheduleEntry) Ongoing(t time.Time) bool {
	return !t.Before(e.Start) && !t.After(e.End)
}

type ForecastEntry struct {
	PeriodStart       time.Time `json:"period_start"`
	PVEstimate        float64   `json:"pv_estimate"`
	BatteryEnergy     float64   `json:"battery_energy"`
	BatteryPower      float64   `json:"battery_power"`
	HousePower        float64   `json:"house_power"`
	Setpoint          float64   `json:"setpoint"`
	PowerDraw         float64   `json:"power_draw"`
	EnergyUse         float64   `json:"energy_use"`
	EnergyProduction  float64   `json:"energy_production"`
	FreeCapacity      float64   `json:"free_capacity"`
	AccumulatedEnergy float64   `json:"accumulated_energy"`
	Feedin            float64   `json:"feedin"`
	Price             float64   `json:"price"`
	Spread            float64   `json:"spread"`
	EVEnergy          float64   `json:"ev_energy"`
	EVChargePower     float64   `json:"ev_charge_power"`
	ExcessTarget      float64   `json:"excess_target"`
	Surplus           float64   `json:"surplus"`
	PowerFromGrid     float64   `json:"power_from_grid"`
}

type SetpointResult struct {
	Setpoint              float64         `json:"setpoint"`
	MinBattery            float64         `json:"min_battery_energy"`
	MinBatteryAt          time.Time       `json:"t_min_battery_energy"`
	MaxBattery            float64         `json:"max_battery_energy"`
	MaxBatteryAt          time.Time       `json:"t_max_battery_energy"`
	MaxFeedin             float64         `json:"max_feedin"`
	MaxFeedinAt           time.Time       `json:"t_max_feedin"`
	Spread                float64         `json:"spread"`
	PriceMean             float64         `json:"prices_mean"`
	PriceStd              float64         `json:"prices_std"`
	MaxBatteryPowerTarget float64         `json:"max_battery_power_target"`
	Detail                []ForecastEntry `json:"detail"`
}

type ChargeAction string

const (
	CHARGE_ACTION_ON  ChargeAction = "on"
	CHARGE_ACTION_OFF ChargeAction = "off"
)

type ChargeDecision struct {
	Action  ChargeAction
	Phases  int
	Current int
	Reason  string
}

func (d ChargeDecision) Power() float64 {
	if d.Action != CHARGE_ACTION_ON {
		return 0
	}
	return float64(d.Phases*d.Current) * CHARGER_VOLTAGE
}

type InverterMode string

const (
	INVERTER_MODE_ON            InverterMode = "on"
	INVERTER_MODE_OFF           InverterMode = "off"
	INVERTER_MODE_CHARGER_ONLY  InverterMode = "charger_only"
	INVERTER_MODE_INVERTER_ONLY InverterMode = "inverter_only"
)

// Payload returns the VE.Bus switch position for the mode.
func (m InverterMode) Payload() uint16 {
	switch m {
	case INVERTER_MODE_CHARGER_ONLY:
		return 1
	case INVERTER_MODE_INVERTER_ONLY:
		return 2
	case INVERTER_MODE_OFF:
		return 4
	default:
		return 3
	}
}

func InverterModeFromPayload(payload uint16) (InverterMode, bool) {
	switch payload {
	case 1:
		return INVERTER_MODE_CHARGER_ONLY, true
	case 2:
		return INVERTER_MODE_INVERTER_ONLY, true
	case 3:
		return INVERTER_MODE_ON, true
	case 4:
		return INVERTER_MODE_OFF, true
	}
	return "", false
}

type InverterDecision struct {
	Mode        InverterMode
	ChargeLimit *float64
	ForceCharge *bool
	Reason      string
}

// EnergySnapshot holds the live readings a simulation depends on. It is read once per evaluation.
type EnergySnapshot struct {
	EVSOC              float64
	EVRequiredSOC      float64
	SmartLimiterActive bool
	ChargerReady       bool
	ChargerSwitchOn    bool
	EfficientDischarge bool
	DailyAvgPower      float64
	NightlyAvgPower    float64
	EnergySurplus      float64
	MinDischargePrice  float64
	MaxChargePrice     float64
	ChargeLimitSOC     float64
	ForceChargeSwitch  bool
	ChargeLimitW       float64
}

// SurplusForecast is the outcome of the multi-day no-EV / with-EV surplus simulations.
type SurplusForecast struct {
	Surplus        float64         `json:"surplus"`
	SurplusAfterEV float64         `json:"surplus_after_ev"`
	TotalFeedin    float64         `json:"total_feedin"`
	ComputedAt     time.Time       `json:"computed_at"`
	WithoutEV      *SetpointResult `json:"without_ev,omitempty"`
	WithEV         *SetpointResult `json:"with_ev,omitempty"`
}

// SimulationParams configures one forecast simulation run. Build it from DefaultSimulationParams.
type SimulationParams struct {
	Forecast              []ForecastPeriod
	Setpoint              float64
	Spread                float64
	BatteryCapacity       float64
	BatteryEnergy         float64
	BatteryMinEnergy      float64
	BatteryChargeLimit    float64
	MaxBatteryPowerTarget float64
	MaxSetpoint           float64
	MinFeedinPrice        float64
	Dampening             float64
	WithEVCharging        bool
	EVEnergy              float64
	Schedule              []ScheduleEntry
	// PriceCurve is used for per-period price classification, the static tariff applies outside of it.
	PriceCurve []PriceSlot
	// Surplus overrides Snapshot.EnergySurplus when set.
	Surplus  *float64
	Snapshot EnergySnapshot
	Now      time.Time
}

func DefaultSimulationParams() SimulationParams {
	return SimulationParams{
		Setpoint:              0,
		Spread:                1,
		BatteryEnergy:         2,
		BatteryMinEnergy:      2,
		BatteryChargeLimit:    6600,
		MaxBatteryPowerTarget: 4000,
		MaxSetpoint:           SETPOINT_CEILING_W,
		Dampening:             0.8,
		WithEVCharging:        true,
	}
}
