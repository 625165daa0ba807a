package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE                 = "bridge"
	SENSOR_ID_GRID_SETPOINT_TARGET         = "grid_setpoint_target"
	SENSOR_ID_GRID_SETPOINT                = "grid_setpoint"
	SENSOR_ID_ENERGY_SURPLUS               = "energy_surplus"
	SENSOR_ID_ENERGY_SURPLUS_AFTER_EV      = "energy_surplus_after_ev"
	SENSOR_ID_BATTERY_ENERGY               = "battery_energy"
	SENSOR_ID_BATTERY_REQUIRED_ENERGY      = "battery_required_energy"
	SENSOR_ID_BATTERY_MINIMAL_SOC          = "battery_minimal_soc"
	SENSOR_ID_BATTERY_TIME_UNTIL_CHARGED   = "battery_time_until_charged"
	SENSOR_ID_BATTERY_TIME_UNTIL_EMPTY     = "battery_time_until_discharged"
	SENSOR_ID_BATTERY_CHARGE_LIMIT         = "battery_charge_limit"
	SENSOR_ID_INVERTER_MODE                = "inverter_mode"
	SENSOR_ID_EV_SMART_CHARGE_LIMIT        = "ev_smart_charge_limit"
	SENSOR_ID_EV_ENERGY                    = "ev_energy"
	SENSOR_ID_EV_CHARGE_REASON             = "ev_charge_reason"
	SENSOR_ID_ELECTRICITY_PRICE            = "electricity_price"
	SENSOR_ID_PV_NEXT_MEET_DEMAND          = "pv_next_meet_demand"
	SENSOR_ID_PV_ENERGY_UNTIL_DEMAND       = "pv_energy_until_meet_demand"
	SENSOR_ID_HOUSE_ENERGY_DEMAND          = "house_energy_until_meet_demand"
	SENSOR_ID_BATTERY_USE_UNTIL_DEMAND     = "battery_use_until_meet_demand"
	BINARY_SENSOR_ID_LOW_PRICE             = "low_price"
	BINARY_SENSOR_ID_HIGH_PRICE            = "high_price"
	SWITCH_ID_AUTO_SETPOINT                = "auto_setpoint"
	SWITCH_ID_AUTO_EV_CHARGING             = "auto_ev_charging"
	SWITCH_ID_EV_SMART_CHARGE_LIMIT        = "ev_smart_charge_limit_enable"
	SWITCH_ID_AUTO_BATTERY_TARGET_SOC      = "auto_battery_target_soc"
	SWITCH_ID_AUTO_EXCESS_TARGET           = "auto_excess_target"
	SWITCH_ID_AUTO_INVERTER_MODE           = "auto_inverter_mode"
	SWITCH_ID_EFFICIENT_DISCHARGE          = "efficient_discharge"
	SWITCH_ID_BATTERY_FORCE_CHARGE         = "battery_force_charge"
	NUMBER_ID_MIN_DISCHARGE_PRICE          = "min_discharge_price"
	NUMBER_ID_MAX_CHARGE_PRICE             = "max_charge_price"
	NUMBER_ID_FORCE_CHARGE_UP_TO           = "force_charge_up_to"
	NUMBER_ID_MAX_FEEDIN_TARGET            = "max_feedin_target"
	NUMBER_ID_MAX_PV_FEEDIN_TARGET         = "max_pv_feedin_target"
	NUMBER_ID_MAX_SETPOINT                 = "max_setpoint"
	NUMBER_ID_EV_REQUIRED_SOC              = "ev_required_soc"
	NUMBER_ID_BATTERY_TARGET_SOC           = "battery_target_soc"
	NUMBER_ID_EXCESS_TARGET                = "excess_target"
	STATE_ID_PRICE_CURVE                   = "price_curve"
	STATE_CLASS_MEASUREMENT                = "measurement"
	STATE_CLASS_TOTAL                      = "total"
	DEVICE_CLASS_BATTERY                   = "battery"
	DEVICE_CLASS_DURATION                  = "duration"
	DEVICE_CLASS_ENERGY                    = "energy"
	DEVICE_CLASS_ENERGY_STORAGE            = "energy_storage"
	DEVICE_CLASS_MONETARY                  = "monetary"
	DEVICE_CLASS_POWER                     = "power"
	DEVICE_CLASS_TIMESTAMP                 = "timestamp"
	DEVICE_CLASS_CONNECTIVITY              = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC                = "diagnostic"
	ENTITY_CLASS_CONFIG                    = "config"
	SENSOR_TYPE_SENSOR                     = "sensor"
	SENSOR_TYPE_BINARY                     = "binary_sensor"
	INPUT_NUMBER_MODE_BOX                  = "box"
	INPUT_NUMBER_MODE_SLIDER               = "slider"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("hems_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "HEMS",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("HEMS %s", md5HashShort(baseTopic)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

// EngineSensors are the read-only outputs of the planner and the control loops.
func EngineSensors(device Device) []GenericSensor {
	power := func(id, name, icon string) GenericSensor {
		return GenericSensor{
			Device:            device,
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              name,
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_POWER,
			UnitOfMeasurement: "W",
			UniqueId:          uniqueId(device.Id, id),
			Icon:              icon,
		}
	}
	energy := func(id, name, icon string) GenericSensor {
		return GenericSensor{
			Device:            device,
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              name,
			StateClass:        STATE_CLASS_TOTAL,
			DeviceClass:       DEVICE_CLASS_ENERGY,
			UnitOfMeasurement: "kWh",
			UniqueId:          uniqueId(device.Id, id),
			Icon:              icon,
		}
	}

	sensors := []GenericSensor{
		power(SENSOR_ID_GRID_SETPOINT_TARGET, "Grid setpoint target", "mdi:transmission-tower-import"),
		power(SENSOR_ID_GRID_SETPOINT, "Grid setpoint", "mdi:transmission-tower"),
		power(SENSOR_ID_BATTERY_CHARGE_LIMIT, "Battery charge limit", "mdi:battery-arrow-up"),
		energy(SENSOR_ID_ENERGY_SURPLUS, "Energy surplus", "mdi:home"),
		energy(SENSOR_ID_ENERGY_SURPLUS_AFTER_EV, "Energy surplus after EV charging", "mdi:home"),
		energy(SENSOR_ID_BATTERY_ENERGY, "Battery energy", "mdi:car-battery"),
		energy(SENSOR_ID_BATTERY_REQUIRED_ENERGY, "Battery required energy", "mdi:battery-alert"),
		energy(SENSOR_ID_EV_ENERGY, "EV energy", "mdi:car-electric"),
		energy(SENSOR_ID_PV_ENERGY_UNTIL_DEMAND, "PV energy until production meets demand", "mdi:solar-power"),
		energy(SENSOR_ID_HOUSE_ENERGY_DEMAND, "House energy until production meets demand", "mdi:home-lightning-bolt"),
		energy(SENSOR_ID_BATTERY_USE_UNTIL_DEMAND, "Battery use until PV meets demand", "mdi:battery-minus"),
	}
	sensors = append(sensors,
		GenericSensor{
			Device:            device,
			Id:                SENSOR_ID_BATTERY_MINIMAL_SOC,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Battery minimal SoC",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_BATTERY,
			UnitOfMeasurement: "%",
			UniqueId:          uniqueId(device.Id, SENSOR_ID_BATTERY_MINIMAL_SOC),
		},
		GenericSensor{
			Device:            device,
			Id:                SENSOR_ID_EV_SMART_CHARGE_LIMIT,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "EV smart charge limit",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_BATTERY,
			UnitOfMeasurement: "%",
			UniqueId:          uniqueId(device.Id, SENSOR_ID_EV_SMART_CHARGE_LIMIT),
			Icon:              "mdi:car-cog",
		},
		GenericSensor{
			Device:            device,
			Id:                SENSOR_ID_BATTERY_TIME_UNTIL_CHARGED,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Battery time until charged",
			DeviceClass:       DEVICE_CLASS_DURATION,
			UnitOfMeasurement: "h",
			UniqueId:          uniqueId(device.Id, SENSOR_ID_BATTERY_TIME_UNTIL_CHARGED),
		},
		GenericSensor{
			Device:            device,
			Id:                SENSOR_ID_BATTERY_TIME_UNTIL_EMPTY,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Battery time until discharged",
			DeviceClass:       DEVICE_CLASS_DURATION,
			UnitOfMeasurement: "h",
			UniqueId:          uniqueId(device.Id, SENSOR_ID_BATTERY_TIME_UNTIL_EMPTY),
		},
		GenericSensor{
			Device:     device,
			Id:         SENSOR_ID_INVERTER_MODE,
			SensorType: SENSOR_TYPE_SENSOR,
			Name:       "Inverter mode",
			UniqueId:   uniqueId(device.Id, SENSOR_ID_INVERTER_MODE),
			Icon:       "mdi:sine-wave",
		},
		GenericSensor{
			Device:         device,
			Id:             SENSOR_ID_EV_CHARGE_REASON,
			SensorType:     SENSOR_TYPE_SENSOR,
			Name:           "EV charge decision",
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       uniqueId(device.Id, SENSOR_ID_EV_CHARGE_REASON),
			Icon:           "mdi:ev-station",
		},
		GenericSensor{
			Device:            device,
			Id:                SENSOR_ID_ELECTRICITY_PRICE,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Electricity price",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_MONETARY,
			UnitOfMeasurement: "EUR/kWh",
			UniqueId:          uniqueId(device.Id, SENSOR_ID_ELECTRICITY_PRICE),
			HasAttributes:     true,
		},
		GenericSensor{
			Device:      device,
			Id:          SENSOR_ID_PV_NEXT_MEET_DEMAND,
			SensorType:  SENSOR_TYPE_SENSOR,
			Name:        "PV next meets demand",
			DeviceClass: DEVICE_CLASS_TIMESTAMP,
			UniqueId:    uniqueId(device.Id, SENSOR_ID_PV_NEXT_MEET_DEMAND),
			Icon:        "mdi:solar-power-variant",
		},
		GenericSensor{
			Device:     device,
			Id:         BINARY_SENSOR_ID_LOW_PRICE,
			SensorType: SENSOR_TYPE_BINARY,
			Name:       "Low electricity price",
			UniqueId:   uniqueId(device.Id, BINARY_SENSOR_ID_LOW_PRICE),
			Icon:       "mdi:cash-minus",
		},
		GenericSensor{
			Device:     device,
			Id:         BINARY_SENSOR_ID_HIGH_PRICE,
			SensorType: SENSOR_TYPE_BINARY,
			Name:       "High electricity price",
			UniqueId:   uniqueId(device.Id, BINARY_SENSOR_ID_HIGH_PRICE),
			Icon:       "mdi:cash-plus",
		},
	)
	// plan detail is published as attributes of the setpoint target
	sensors[0].HasAttributes = true
	sensors[3].HasAttributes = true
	sensors[4].HasAttributes = true
	return sensors
}

func AutomationSwitches(device Device) []GenericSwitch {
	sw := func(id, name, icon string, on bool) GenericSwitch {
		return GenericSwitch{
			Device:   device,
			Id:       id,
			Name:     name,
			UniqueId: uniqueId(device.Id, id),
			Icon:     icon,
			Default:  on,
		}
	}
	return []GenericSwitch{
		sw(SWITCH_ID_AUTO_SETPOINT, "Auto setpoint", "mdi:transmission-tower-export", true),
		sw(SWITCH_ID_AUTO_EV_CHARGING, "Auto EV charging", "mdi:ev-plug-type2", true),
		sw(SWITCH_ID_EV_SMART_CHARGE_LIMIT, "EV smart charge limit", "mdi:car-cog", true),
		sw(SWITCH_ID_AUTO_BATTERY_TARGET_SOC, "Auto battery target SoC", "mdi:battery-sync", true),
		sw(SWITCH_ID_AUTO_EXCESS_TARGET, "Auto excess target", "mdi:solar-power", true),
		sw(SWITCH_ID_AUTO_INVERTER_MODE, "Auto inverter mode", "mdi:sine-wave", true),
		sw(SWITCH_ID_EFFICIENT_DISCHARGE, "Efficient discharge", "mdi:battery-heart-variant", false),
		sw(SWITCH_ID_BATTERY_FORCE_CHARGE, "Battery force charge", "mdi:battery-plus", false),
	}
}

func AutomationInputNumbers(device Device) []GenericInputNumber {
	num := func(id, name, icon string, min, max, step, initial float64) GenericInputNumber {
		return GenericInputNumber{
			Device:       device,
			Id:           id,
			Name:         name,
			UniqueId:     uniqueId(device.Id, id),
			Icon:         icon,
			Min:          min,
			Max:          max,
			Step:         step,
			Mode:         INPUT_NUMBER_MODE_BOX,
			InitialValue: initial,
		}
	}
	return []GenericInputNumber{
		num(NUMBER_ID_MIN_DISCHARGE_PRICE, "Min discharge price", "mdi:cash-lock", 0, 1, 0.005, 0.2),
		num(NUMBER_ID_MAX_CHARGE_PRICE, "Max charge price", "mdi:cash-check", 0, 1, 0.005, 0),
		num(NUMBER_ID_FORCE_CHARGE_UP_TO, "Force charge up to", "mdi:ticket-percent", 0, 100, 1, 0),
		num(NUMBER_ID_MAX_FEEDIN_TARGET, "Max feed-in target", "mdi:transmission-tower-export", 0, 10000, 50, 4000),
		num(NUMBER_ID_MAX_PV_FEEDIN_TARGET, "Max PV feed-in target", "mdi:solar-power-variant", 0, 10000, 50, 4000),
		num(NUMBER_ID_MAX_SETPOINT, "Max setpoint", "mdi:arrow-collapse-up", -10000, 0, 10, SETPOINT_CEILING_W),
		num(NUMBER_ID_EV_REQUIRED_SOC, "EV required SoC", "mdi:car-battery", 0, 100, 1, DEFAULT_REQUIRED_SOC),
		num(NUMBER_ID_BATTERY_TARGET_SOC, "Battery target SoC", "mdi:battery-charging-high", 0, 100, 1, 50),
		num(NUMBER_ID_EXCESS_TARGET, "Excess target", "mdi:solar-power", -10000, 10000, 10, 0),
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
