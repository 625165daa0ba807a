package util

import (
	"github.com/berfenger/hems2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "hems",
			HADiscoveryTopic: "homeassistant",
		},
		State: config.StateConfig{
			BaseTopic:     "hass/state",
			Topics:        map[string]string{"pv_forecast": "solcast/forecast"},
			MaxAgeSeconds: 900,
		},
		Victron: config.VictronConfig{
			MQTTPrefix:    "victron/W/venus",
			VEBusInstance: 275,
			Host:          "-.-.-.-",
			Port:          502,
			SystemUnitId:  100,
			VEBusUnitId:   227,
			TimeoutMillis: 1000,
		},
		Charger: config.ChargerConfig{
			SwitchTopic:          "charger/switch/set",
			CurrentTopic:         "charger/current/set",
			PhasesTopic:          "charger/phases/set",
			PhaseCooldownSeconds: 900,
		},
		Planner: config.PlannerConfig{
			SetpointCron:   "0 */15 * * * *",
			SurplusCron:    "0 5 * * * *",
			HorizonHours:   24,
			TimeoutSeconds: 60,
		},
		Control: config.ControlConfig{
			SetpointIntervalMillis:   5000,
			InverterIntervalMillis:   60000,
			EVChargingIntervalMillis: 15000,
			SensorsIntervalMillis:    60000,
		},
		EV: config.EVConfig{
			KWhPer100km: 18,
		},
		Port: 8080,
	}
}
