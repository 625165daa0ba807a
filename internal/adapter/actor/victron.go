package actor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/berfenger/hems2mqtt/internal/config"
	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"
	"github.com/berfenger/hems2mqtt/internal/util/actorutil"
	"github.com/berfenger/hems2mqtt/pkg/victron_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	VICTRON_POLL_INTERVAL    = 10 * time.Second
	VICTRON_REFRESH_INTERVAL = 5 * time.Minute
	VICTRON_MODBUS_TIMEOUT   = 2 * time.Second
)

// VictronActor writes the ESS grid setpoint and the VE.Bus mode. With a GX client the writes go over
// Modbus TCP and the battery SoC and switch position are polled back into the store, otherwise they
// are published on the Venus OS MQTT write topics.
type VictronActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	gx        victron_modbus.GXClient
	mqttActor *actor.PID
	store     port.StateStore
	scheduler *scheduler.TimerScheduler
	cancel    scheduler.CancelFunc

	lastSetpoint    *int16
	lastSetpointAt  time.Time
	lastMode        domain.InverterMode
	lastModeAt      time.Time
	pendingSetpoint *int16
	pendingMode     domain.InverterMode

	logger *zap.Logger
}

type victronPollTick struct {
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

type gxReadings struct {
	soc  float64
	mode uint16
}

type gxPollFailed struct {
	err error
}

func NewVictronActor(config *config.Config, gx victron_modbus.GXClient, mqttActor *actor.PID, store port.StateStore,
	logger *zap.Logger) *VictronActor {
	act := &VictronActor{
		config:    config,
		gx:        gx,
		mqttActor: mqttActor,
		store:     store,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_VICTRON, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *VictronActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *VictronActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("victron@starting started")
		if state.gx != nil {
			if err := state.gx.Open(); err != nil {
				panic(err)
			}
			state.scheduler = scheduler.NewTimerScheduler(ctx)
			state.cancel = state.scheduler.SendRepeatedly(time.Second, VICTRON_POLL_INTERVAL, ctx.Self(), victronPollTick{})
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.close()
	default:
		state.logger.Debug("victron@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *VictronActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("victron@default: ActorHealthRequest")
		name := "mqtt"
		if state.gx != nil {
			name = "modbus"
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_VICTRON,
			Healthy: true,
			State:   name,
		})
	case domain.SetGridSetpointRequest:
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		if !state.setpointDue(msg.Watts) {
			state.respond(ctx, sender, domain.SetGridSetpointResponse{})
			return
		}
		state.logger.Debug("victron@default: SetGridSetpointRequest", zap.Int16("watts", msg.Watts))
		watts := msg.Watts
		if state.gx == nil {
			state.publishValue(ctx, state.config.Victron.SetpointTopic(), int(watts))
			state.setpointWritten(watts)
			state.respond(ctx, sender, domain.SetGridSetpointResponse{})
			return
		}
		state.pendingSetpoint = &watts
		runModbusTask(state, ctx, sender, func() (*domain.SetGridSetpointResponse, error) {
			if err := state.gx.SetGridSetpoint(watts); err != nil {
				return nil, err
			}
			return &domain.SetGridSetpointResponse{}, nil
		}, func(err error) any {
			return domain.SetGridSetpointResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
	case domain.SetInverterModeRequest:
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		if !state.modeDue(msg.Mode) {
			state.respond(ctx, sender, domain.SetInverterModeResponse{})
			return
		}
		state.logger.Info("victron@default: SetInverterModeRequest", zap.String("mode", string(msg.Mode)))
		mode := msg.Mode
		if state.gx == nil {
			state.publishValue(ctx, state.config.Victron.ModeTopic(), int(mode.Payload()))
			state.modeWritten(mode)
			state.respond(ctx, sender, domain.SetInverterModeResponse{})
			return
		}
		state.pendingMode = mode
		runModbusTask(state, ctx, sender, func() (*domain.SetInverterModeResponse, error) {
			if err := state.gx.SetSwitchMode(mode.Payload()); err != nil {
				return nil, err
			}
			return &domain.SetInverterModeResponse{}, nil
		}, func(err error) any {
			return domain.SetInverterModeResponse{ActorResponseMixIn: domain.ErrorResponse(err)}
		})
	case victronPollTick:
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.readGX), func(r *gxReadings) *backgroundTaskResult {
			return &backgroundTaskResult{message: *r}
		}).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{message: gxPollFailed{err: err}}
		}).WithTimeout(VICTRON_MODBUS_TIMEOUT).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingModbus)
	case *actor.Stopping:
		state.close()
	case *actor.Restarting:
		state.close()
	default:
		state.logger.Debug("victron@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *VictronActor) WaitingModbus(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("victron@WaitingModbus backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		state.onModbusResult(msg.message)
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("victron@WaitingModbus stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func runModbusTask[T any](state *VictronActor, ctx actor.Context, sender *actor.PID, fn func() (*T, error),
	recover func(error) any) {
	actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, fn), mapTaskResult[T](sender)).
		Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{message: recover(err), replyTo: sender}
		}).WithTimeout(VICTRON_MODBUS_TIMEOUT).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.WaitingModbus)
}

func (state *VictronActor) onModbusResult(message any) {
	switch msg := message.(type) {
	case domain.SetGridSetpointResponse:
		if msg.HasResponseError() {
			state.logger.Error("victron@WaitingModbus: setpoint write failed", zap.Error(msg.GetResponseError()))
		} else if state.pendingSetpoint != nil {
			state.setpointWritten(*state.pendingSetpoint)
		}
		state.pendingSetpoint = nil
	case domain.SetInverterModeResponse:
		if msg.HasResponseError() {
			state.logger.Error("victron@WaitingModbus: mode write failed", zap.Error(msg.GetResponseError()))
		} else if state.pendingMode != "" {
			state.modeWritten(state.pendingMode)
		}
		state.pendingMode = ""
	case gxReadings:
		if state.store != nil {
			state.store.Set(domain.POINT_BATTERY_SOC, strconv.FormatFloat(msg.soc, 'f', -1, 64))
			state.store.Set(domain.POINT_INVERTER_MODE, strconv.Itoa(int(msg.mode)))
		}
	case gxPollFailed:
		state.logger.Warn("victron@WaitingModbus: poll failed", zap.Error(msg.err))
	}
}

func (state *VictronActor) readGX() (*gxReadings, error) {
	soc, err := state.gx.BatterySOC()
	if err != nil {
		return nil, err
	}
	mode, err := state.gx.SwitchMode()
	if err != nil {
		return nil, err
	}
	return &gxReadings{soc: soc, mode: mode}, nil
}

func (state *VictronActor) setpointDue(watts int16) bool {
	return state.lastSetpoint == nil || *state.lastSetpoint != watts ||
		time.Since(state.lastSetpointAt) > VICTRON_REFRESH_INTERVAL
}

func (state *VictronActor) setpointWritten(watts int16) {
	state.lastSetpoint = &watts
	state.lastSetpointAt = time.Now()
}

func (state *VictronActor) modeDue(mode domain.InverterMode) bool {
	return state.lastMode != mode || time.Since(state.lastModeAt) > VICTRON_REFRESH_INTERVAL
}

func (state *VictronActor) modeWritten(mode domain.InverterMode) {
	state.lastMode = mode
	state.lastModeAt = time.Now()
}

// publishValue writes a Venus OS dbus value through its MQTT write topic.
func (state *VictronActor) publishValue(ctx actor.Context, topic string, value int) {
	payload, _ := json.Marshal(map[string]int{"value": value})
	if state.mqttActor == nil {
		state.logger.Warn("victron@default: no mqtt actor, write dropped", zap.String("topic", topic))
		return
	}
	ctx.Send(state.mqttActor, domain.PublishMessageRequest{
		Topic:   topic,
		Payload: string(payload),
	})
}

func (state *VictronActor) respond(ctx actor.Context, sender *actor.PID, resp any) {
	if sender != nil {
		ctx.Send(sender, resp)
	}
}

func (state *VictronActor) close() {
	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
	}
	if state.gx != nil {
		if err := state.gx.Close(); err != nil {
			state.logger.Debug("victron: close", zap.Error(err))
		}
	}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
