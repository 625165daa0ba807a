package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/hems2mqtt/internal/adapter/actor"
	"github.com/berfenger/hems2mqtt/internal/adapter/charger"
	"github.com/berfenger/hems2mqtt/internal/adapter/cron"
	"github.com/berfenger/hems2mqtt/internal/adapter/schedule"
	"github.com/berfenger/hems2mqtt/internal/adapter/state"
	"github.com/berfenger/hems2mqtt/internal/config"
	"github.com/berfenger/hems2mqtt/internal/core/actor"
	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"
	"github.com/berfenger/hems2mqtt/internal/core/service"
	"github.com/berfenger/hems2mqtt/internal/server"
	"github.com/berfenger/hems2mqtt/internal/util/actorutil"
	"github.com/berfenger/hems2mqtt/pkg/victron_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// weekly drive schedule
	var weekly service.WeeklySchedule
	if cfg.EV.ScheduleFile != "" {
		weekly, err = schedule.Load(cfg.EV.ScheduleFile)
		if err != nil {
			slog.Error("schedule file errors", "file", cfg.EV.ScheduleFile, "error", err)
			return
		}
	}

	store := state.NewStore(cfg.State.MaxAge())
	inputs := actor.NewInputs(store, service.NewStaticPriceOracle(), service.NewScheduleParser(cfg.EV.KWhPer100km), weekly)

	victronProv, err := victronActorProvider(cfg, store, logger)
	if err != nil {
		panic(err)
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	scheduler := cron.NewScheduler(logger)
	cronCtx, cronCancel := context.WithCancel(context.Background())
	defer cronCancel()
	scheduler.Start(cronCtx)

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, inputs, mqttActorProvider(cfg, store, logger), victronProv,
			chargerProvider(cfg, store, logger), logger).WithScheduler(scheduler)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		slog.Error("cannot spawn master actor", "error", err)
		return
	}

	server := server.NewServer(*cfg, ctx, pid)
	done := make(chan bool, 1)

	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	<-done
	log.Println("Graceful shutdown complete.")

	scheduler.Stop()
	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => HEMS_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("HEMS_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("hems")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	switch viper.GetString("log_level") {
	case "trace", "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func mqttActorProvider(cfg *config.Config, store port.StateStore, logger *zap.Logger) actor.MQTTActorProvider {
	return func(eventStream *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, eventStream, store, logger)
	}
}

// victronActorProvider writes through Modbus TCP when enabled and through the Venus OS MQTT
// broker otherwise.
func victronActorProvider(cfg *config.Config, store port.StateStore, logger *zap.Logger) (actor.VictronActorProvider, error) {
	var gx victron_modbus.GXClient
	if cfg.Victron.ModbusEnable {
		client, err := victron_modbus.CreateGXModbusClient(cfg.Victron.Host, cfg.Victron.Port,
			uint8(cfg.Victron.SystemUnitId), uint8(cfg.Victron.VEBusUnitId), cfg.Victron.Timeout(), logger, nil)
		if err != nil {
			return nil, err
		}
		gx = client
	}
	return func(mqttActor *pactor.PID) *adactor.VictronActor {
		return adactor.NewVictronActor(cfg, gx, mqttActor, store, logger)
	}, nil
}

func chargerProvider(cfg *config.Config, store port.StateStore, logger *zap.Logger) actor.ChargerProvider {
	return func(root *pactor.RootContext, mqttActor *pactor.PID) port.ChargerHardware {
		publisher := charger.NewActorPublisher(root, mqttActor, 5*time.Second)
		return charger.NewMQTTCharger(cfg.Charger, publisher, store, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)

	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.base_topic", "hems")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")

	viper.SetDefault("state.base_topic", "hems/input")
	viper.SetDefault("state.max_age_seconds", 900)

	viper.SetDefault("victron.mqtt_prefix", "victron/W/venus")
	viper.SetDefault("victron.vebus_instance", 276)
	viper.SetDefault("victron.modbus_enable", false)
	viper.SetDefault("victron.port", 502)
	viper.SetDefault("victron.system_unit_id", 100)
	viper.SetDefault("victron.vebus_unit_id", 227)
	viper.SetDefault("victron.timeout_millis", 1000)

	viper.SetDefault("charger.switch_topic", "charger/switch/set")
	viper.SetDefault("charger.current_topic", "charger/current/set")
	viper.SetDefault("charger.phases_topic", "charger/phases/set")
	viper.SetDefault("charger.phase_cooldown_seconds", 900)

	viper.SetDefault("planner.setpoint_cron", "0 */2 * * * *")
	viper.SetDefault("planner.surplus_cron", "30 */2 * * * *")
	viper.SetDefault("planner.horizon_hours", 24)
	viper.SetDefault("planner.timeout_seconds", 60)

	viper.SetDefault("control.setpoint_interval_millis", 5000)
	viper.SetDefault("control.inverter_interval_millis", 60000)
	viper.SetDefault("control.ev_charging_interval_millis", 15000)
	viper.SetDefault("control.sensors_interval_millis", 60000)

	viper.SetDefault("ev.kwh_per_100km", 18)
}

func safePrintConfig(cfg config.Config) {
	slog.Info("Using", "config", cfg.Redacted())
}
