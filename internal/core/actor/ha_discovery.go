package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/hems2mqtt/internal/config"
	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"
	"github.com/berfenger/hems2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const SETTING_STATES_DELAY = 2 * time.Second

type publishSettingStates struct {
}

type HADiscoveryActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	mqttActor *actor.PID
	store     port.StateStore
	sensors   sensorPublisher

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, store port.StateStore,
	eventStream *eventstream.EventStream, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:    config,
		mqttActor: mqttActor,
		store:     store,
		sensors:   newSensorPublisher(eventStream, store),
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}
		bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
		sensors := append(domain.BridgeSensors(bridgeDevice), domain.EngineSensors(domain.IdDevice(bridgeDevice))...)
		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors:      sensors,
			Switches:     domain.AutomationSwitches(domain.IdDevice(bridgeDevice)),
			InputNumbers: domain.AutomationInputNumbers(domain.IdDevice(bridgeDevice)),
		})
		state.logger.Info("hadiscovery@healthcheck: discovery published", zap.Int("sensors", len(sensors)))
		// home assistant subscribes to the state topics once it processed the discovery
		scheduler.NewTimerScheduler(ctx).SendOnce(SETTING_STATES_DELAY, ctx.Self(), publishSettingStates{})
		state.behavior.Become(state.DoneReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) DoneReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishSettingStates:
		state.publishSettingStates()
	default:
		state.logger.Debug("hadiscovery@done: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) publishSettingStates() {
	device := domain.BridgeDevice(state.config.MQTT.BaseTopic)
	for _, sw := range domain.AutomationSwitches(device) {
		value := domain.BoolPoint(sw.Id).Read(state.store).OrElse(sw.Default)
		state.sensors.Switch(sw.Id, value)
	}
	for _, num := range domain.AutomationInputNumbers(device) {
		value := domain.FloatPoint(num.Id).Read(state.store).OrElse(num.InitialValue)
		state.sensors.Number(num.Id, value, 3)
	}
	state.logger.Debug("hadiscovery@done: setting states published")
}
