package actorutil

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

var ErrUnknownSetting = errors.New("unknown setting")

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps a switch or number command topic onto the setting it changes.
// Numbers outside the entity range are rejected.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand, switches []domain.GenericSwitch,
	numbers []domain.GenericInputNumber) (domain.SettingCommand, error) {
	switch cmd.Command {
	case mqtt.COMMAND_SWITCH:
		for _, sw := range switches {
			if sw.Id != cmd.DeviceId {
				continue
			}
			switch cmd.Payload {
			case mqtt.MQTT_PAYLOAD_ON:
				return domain.SetSwitchCommand{SettingCommandMixIn: domain.SettingCommandMixIn{Id: sw.Id}, Enable: true}, nil
			case mqtt.MQTT_PAYLOAD_OFF:
				return domain.SetSwitchCommand{SettingCommandMixIn: domain.SettingCommandMixIn{Id: sw.Id}, Enable: false}, nil
			}
			return nil, fmt.Errorf("invalid switch payload %q", cmd.Payload)
		}
	case mqtt.COMMAND_NUMBER:
		for _, num := range numbers {
			if num.Id != cmd.DeviceId {
				continue
			}
			value, err := strconv.ParseFloat(cmd.Payload, 64)
			if err != nil {
				return nil, err
			}
			if value < num.Min || value > num.Max {
				return nil, fmt.Errorf("%s out of range [%g, %g]: %g", num.Id, num.Min, num.Max, value)
			}
			return domain.SetNumberCommand{SettingCommandMixIn: domain.SettingCommandMixIn{Id: num.Id}, Value: value}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSetting, cmd.DeviceId)
}
