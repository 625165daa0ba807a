package domain

// Input points. Values arrive from MQTT and are kept in the state store under these ids.
const (
	POINT_BATTERY_SOC             = "battery_soc"
	POINT_BATTERY_CAPACITY        = "battery_capacity"
	POINT_BATTERY_POWER           = "battery_power"
	POINT_BATTERY_CELLS_BALANCED  = "battery_cells_balanced"
	POINT_PV_POWER                = "pv_power"
	POINT_HOUSE_LOADS             = "house_loads"
	POINT_HOUSE_DAILY_AVG_POWER   = "house_daily_average_power"
	POINT_HOUSE_NIGHTLY_AVG_POWER = "house_nightly_average_power"
	POINT_EXCESS_POWER            = "excess_power"
	POINT_EXCESS_TODAY_REMAINING  = "excess_today_remaining"
	POINT_EXCESS_NEXT_DAY         = "excess_next_day"
	POINT_EXCESS_TWO_DAYS         = "excess_two_days"
	POINT_EXCESS_NEXT_THREE_DAYS  = "excess_next_three_days"
	POINT_PV_FORECAST             = "pv_forecast"
	POINT_PRICE_FORECAST          = "price_forecast"
	POINT_CURRENT_PRICE           = "current_price"
	POINT_EV_SOC                  = "ev_soc"
	POINT_EV_CHARGING             = "ev_charging"
	POINT_EV_SCHEDULE             = "ev_schedule"
	POINT_CHARGER_READY           = "charger_ready"
	POINT_CHARGER_SWITCH          = "charger_switch"
	POINT_CHARGER_CURRENT         = "charger_current"
	POINT_CHARGER_PHASES          = "charger_phases"
	POINT_CHARGER_FORCE_CHARGE    = "charger_force_charge"
	POINT_INVERTER_MODE           = "inverter_mode_state"
)

// InputPoints lists every point the MQTT adapter subscribes to.
var InputPoints = []string{
	POINT_BATTERY_SOC,
	POINT_BATTERY_CAPACITY,
	POINT_BATTERY_POWER,
	POINT_BATTERY_CELLS_BALANCED,
	POINT_PV_POWER,
	POINT_HOUSE_LOADS,
	POINT_HOUSE_DAILY_AVG_POWER,
	POINT_HOUSE_NIGHTLY_AVG_POWER,
	POINT_EXCESS_POWER,
	POINT_EXCESS_TODAY_REMAINING,
	POINT_EXCESS_NEXT_DAY,
	POINT_EXCESS_TWO_DAYS,
	POINT_EXCESS_NEXT_THREE_DAYS,
	POINT_PV_FORECAST,
	POINT_PRICE_FORECAST,
	POINT_CURRENT_PRICE,
	POINT_EV_SOC,
	POINT_EV_CHARGING,
	POINT_EV_SCHEDULE,
	POINT_CHARGER_READY,
	POINT_CHARGER_SWITCH,
	POINT_CHARGER_CURRENT,
	POINT_CHARGER_PHASES,
	POINT_CHARGER_FORCE_CHARGE,
	POINT_INVERTER_MODE,
}

var (
	BatterySOC            = FloatPoint(POINT_BATTERY_SOC)
	BatteryCapacity       = FloatPoint(POINT_BATTERY_CAPACITY)
	BatteryPower          = FloatPoint(POINT_BATTERY_POWER)
	BatteryCellsBalanced  = BoolPoint(POINT_BATTERY_CELLS_BALANCED)
	PVPower               = FloatPoint(POINT_PV_POWER)
	HouseLoads            = FloatPoint(POINT_HOUSE_LOADS)
	HouseDailyAvgPower    = FloatPoint(POINT_HOUSE_DAILY_AVG_POWER)
	HouseNightlyAvgPower  = FloatPoint(POINT_HOUSE_NIGHTLY_AVG_POWER)
	ExcessPower           = FloatPoint(POINT_EXCESS_POWER)
	ExcessTodayRemaining  = FloatPoint(POINT_EXCESS_TODAY_REMAINING)
	ExcessNextDay         = FloatPoint(POINT_EXCESS_NEXT_DAY)
	ExcessTwoDays         = FloatPoint(POINT_EXCESS_TWO_DAYS)
	ExcessNextThreeDays   = FloatPoint(POINT_EXCESS_NEXT_THREE_DAYS)
	PVForecast            = JSONPoint[[]PVForecastEntry](POINT_PV_FORECAST)
	PriceForecast         = JSONPoint[[]PriceSlot](POINT_PRICE_FORECAST)
	CurrentPrice          = FloatPoint(POINT_CURRENT_PRICE)
	EVSOC                 = FloatPoint(POINT_EV_SOC)
	EVCharging            = BoolPoint(POINT_EV_CHARGING)
	EVSchedule            = JSONPoint[map[string]any](POINT_EV_SCHEDULE)
	ChargerReady          = BoolPoint(POINT_CHARGER_READY)
	ChargerSwitch         = BoolPoint(POINT_CHARGER_SWITCH)
	ChargerCurrent        = FloatPoint(POINT_CHARGER_CURRENT)
	ChargerPhases         = FloatPoint(POINT_CHARGER_PHASES)
	ChargerForceCharge    = BoolPoint(POINT_CHARGER_FORCE_CHARGE)
	InverterModeState     = FloatPoint(POINT_INVERTER_MODE)
	AutoSetpoint          = BoolPoint(SWITCH_ID_AUTO_SETPOINT)
	AutoEVCharging        = BoolPoint(SWITCH_ID_AUTO_EV_CHARGING)
	SmartChargeLimiter    = BoolPoint(SWITCH_ID_EV_SMART_CHARGE_LIMIT)
	AutoBatteryTargetSOC  = BoolPoint(SWITCH_ID_AUTO_BATTERY_TARGET_SOC)
	AutoExcessTarget      = BoolPoint(SWITCH_ID_AUTO_EXCESS_TARGET)
	AutoInverterMode      = BoolPoint(SWITCH_ID_AUTO_INVERTER_MODE)
	EfficientDischarge    = BoolPoint(SWITCH_ID_EFFICIENT_DISCHARGE)
	ForceChargeSwitch     = BoolPoint(SWITCH_ID_BATTERY_FORCE_CHARGE)
	MinDischargePrice     = FloatPoint(NUMBER_ID_MIN_DISCHARGE_PRICE)
	MaxChargePrice        = FloatPoint(NUMBER_ID_MAX_CHARGE_PRICE)
	ForceChargeUpTo       = FloatPoint(NUMBER_ID_FORCE_CHARGE_UP_TO)
	MaxFeedinTarget       = FloatPoint(NUMBER_ID_MAX_FEEDIN_TARGET)
	MaxPVFeedinTarget     = FloatPoint(NUMBER_ID_MAX_PV_FEEDIN_TARGET)
	MaxSetpoint           = FloatPoint(NUMBER_ID_MAX_SETPOINT)
	EVRequiredSOC         = FloatPoint(NUMBER_ID_EV_REQUIRED_SOC)
	BatteryTargetSOC      = FloatPoint(NUMBER_ID_BATTERY_TARGET_SOC)
	ExcessTarget          = FloatPoint(NUMBER_ID_EXCESS_TARGET)
	EnergySurplus         = FloatPoint(SENSOR_ID_ENERGY_SURPLUS)
	GridSetpointTarget    = FloatPoint(SENSOR_ID_GRID_SETPOINT_TARGET)
	GridSetpoint          = FloatPoint(SENSOR_ID_GRID_SETPOINT)
	BatteryChargeLimit    = FloatPoint(SENSOR_ID_BATTERY_CHARGE_LIMIT)
	PVNextMeetDemand      = TimePoint(SENSOR_ID_PV_NEXT_MEET_DEMAND)
	PVEnergyUntilDemand   = FloatPoint(SENSOR_ID_PV_ENERGY_UNTIL_DEMAND)
	HouseEnergyDemand     = FloatPoint(SENSOR_ID_HOUSE_ENERGY_DEMAND)
	BatteryUseUntilDemand = FloatPoint(SENSOR_ID_BATTERY_USE_UNTIL_DEMAND)
	PriceCurve            = JSONPoint[[]PriceSlot](STATE_ID_PRICE_CURVE)
)
