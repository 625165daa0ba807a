package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	MQTT     MQTTConfig    `mapstructure:"mqtt"`
	State    StateConfig   `mapstructure:"state"`
	Victron  VictronConfig `mapstructure:"victron"`
	Charger  ChargerConfig `mapstructure:"charger"`
	Planner  PlannerConfig `mapstructure:"planner"`
	Control  ControlConfig `mapstructure:"control"`
	EV       EVConfig      `mapstructure:"ev"`
	Port     uint          `mapstructure:"port"`
	HttpLog  bool          `mapstructure:"http_log"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

// StateConfig locates the input points. A point is read from <base_topic>/<point id> unless Topics
// overrides it.
type StateConfig struct {
	BaseTopic     string            `mapstructure:"base_topic"`
	Topics        map[string]string `mapstructure:"topics"`
	MaxAgeSeconds uint32            `mapstructure:"max_age_seconds"`
}

type VictronConfig struct {
	MQTTPrefix    string `mapstructure:"mqtt_prefix"`
	VEBusInstance uint   `mapstructure:"vebus_instance"`
	ModbusEnable  bool   `mapstructure:"modbus_enable"`
	Host          string
	Port          uint
	SystemUnitId  uint   `mapstructure:"system_unit_id"`
	VEBusUnitId   uint   `mapstructure:"vebus_unit_id"`
	TimeoutMillis uint32 `mapstructure:"timeout_millis"`
}

type ChargerConfig struct {
	SwitchTopic          string `mapstructure:"switch_topic"`
	CurrentTopic         string `mapstructure:"current_topic"`
	PhasesTopic          string `mapstructure:"phases_topic"`
	PhaseCooldownSeconds uint32 `mapstructure:"phase_cooldown_seconds"`
}

type PlannerConfig struct {
	SetpointCron   string `mapstructure:"setpoint_cron"`
	SurplusCron    string `mapstructure:"surplus_cron"`
	HorizonHours   uint32 `mapstructure:"horizon_hours"`
	TimeoutSeconds uint32 `mapstructure:"timeout_seconds"`
}

type ControlConfig struct {
	SetpointIntervalMillis   uint32 `mapstructure:"setpoint_interval_millis"`
	InverterIntervalMillis   uint32 `mapstructure:"inverter_interval_millis"`
	EVChargingIntervalMillis uint32 `mapstructure:"ev_charging_interval_millis"`
	SensorsIntervalMillis    uint32 `mapstructure:"sensors_interval_millis"`
}

type EVConfig struct {
	KWhPer100km  float64 `mapstructure:"kwh_per_100km"`
	ScheduleFile string  `mapstructure:"schedule_file"`
}

func (c StateConfig) PointTopic(id string) string {
	if topic, ok := c.Topics[id]; ok && topic != "" {
		return topic
	}
	return fmt.Sprintf("%s/%s", c.BaseTopic, id)
}

func (c StateConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeSeconds) * time.Second
}

func (c VictronConfig) SetpointTopic() string {
	return fmt.Sprintf("%s/settings/0/Settings/CGwacs/AcPowerSetPoint", c.MQTTPrefix)
}

func (c VictronConfig) ModeTopic() string {
	return fmt.Sprintf("%s/vebus/%d/Mode", c.MQTTPrefix, c.VEBusInstance)
}

func (c VictronConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c PlannerConfig) Horizon() time.Duration {
	return time.Duration(c.HorizonHours) * time.Hour
}

func (c PlannerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// Validate normalizes the topics and checks the bounds of every interval.
func Validate(cfg *Config) error {
	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	cfg.State.BaseTopic = strings.TrimSuffix(cfg.State.BaseTopic, "/")
	if cfg.State.BaseTopic == "" {
		return errors.New("config param state.base_topic should not be empty")
	}
	cfg.Victron.MQTTPrefix = strings.TrimSuffix(cfg.Victron.MQTTPrefix, "/")

	if cfg.Control.SetpointIntervalMillis < 1000 {
		return errors.New("config param control.setpoint_interval_millis should be >= 1000")
	}
	if cfg.Control.InverterIntervalMillis < 10000 {
		return errors.New("config param control.inverter_interval_millis should be >= 10000")
	}
	if cfg.Control.EVChargingIntervalMillis < 5000 {
		return errors.New("config param control.ev_charging_interval_millis should be >= 5000")
	}
	if cfg.Control.SensorsIntervalMillis < 5000 {
		return errors.New("config param control.sensors_interval_millis should be >= 5000")
	}
	if cfg.Planner.HorizonHours < 1 || cfg.Planner.HorizonHours > 96 {
		return errors.New("config param planner.horizon_hours should be in [1, 96]")
	}
	if cfg.Planner.TimeoutSeconds < 5 {
		return errors.New("config param planner.timeout_seconds should be >= 5")
	}
	if cfg.Victron.ModbusEnable && cfg.Victron.Host == "" {
		return errors.New("config param victron.host is required when victron.modbus_enable is set")
	}
	if cfg.Victron.SystemUnitId > 247 || cfg.Victron.VEBusUnitId > 247 {
		return errors.New("config param victron.*_unit_id should be <= 247")
	}
	if cfg.EV.KWhPer100km < 0 {
		return errors.New("config param ev.kwh_per_100km should be >= 0")
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	c.MQTT.Username = "*redacted*"
	c.MQTT.Password = "*redacted*"
	return c
}
