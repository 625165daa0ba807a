package actor

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	adactor "github.com/berfenger/hems2mqtt/internal/adapter/actor"
	"github.com/berfenger/hems2mqtt/internal/adapter/cron"
	"github.com/berfenger/hems2mqtt/internal/config"
	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"
	"github.com/berfenger/hems2mqtt/internal/core/task"
	. "github.com/berfenger/hems2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

const SETTING_NUMBER_DECIMALS = 3

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type VictronActorProvider func(mqttActor *actor.PID) *adactor.VictronActor

type ChargerProvider func(root *actor.RootContext, mqttActor *actor.PID) port.ChargerHardware

type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck   healthCheckResult
	eventStream          *eventstream.EventStream
	inputs               *Inputs
	tasks                *task.Registry
	sensors              sensorPublisher
	cron                 *cron.Scheduler
	plannerStartupDelay  time.Duration
	mqttActor            *actor.PID
	victronActor         *actor.PID
	plannerActor         *actor.PID
	evChargingActor      *actor.PID
	gridControlActor     *actor.PID
	mqttActorProvider    MQTTActorProvider
	victronActorProvider VictronActorProvider
	chargerProvider      ChargerProvider
	logger               *zap.Logger
}

type healthCheckResult struct {
	expected       []string
	healthy        map[string]bool
	checksReceived int
	respondTo      *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, inputs *Inputs, mqttActorProvider MQTTActorProvider,
	victronActorProvider VictronActorProvider, chargerProvider ChargerProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	eventStream := &eventstream.EventStream{}
	act := &MasterOfPuppetsActor{
		config:               config,
		behavior:             actor.NewBehavior(),
		stash:                &Stash{},
		logger:               ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:          eventStream,
		inputs:               inputs,
		tasks:                task.NewRegistry(),
		sensors:              newSensorPublisher(eventStream, inputs.Store()),
		plannerStartupDelay:  PLANNER_STARTUP_DELAY,
		mqttActorProvider:    mqttActorProvider,
		victronActorProvider: victronActorProvider,
		chargerProvider:      chargerProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

// WithScheduler runs the planner on the configured cron expressions.
func (state *MasterOfPuppetsActor) WithScheduler(scheduler *cron.Scheduler) *MasterOfPuppetsActor {
	state.cron = scheduler
	return state
}

func (state *MasterOfPuppetsActor) WithPlannerStartupDelay(delay time.Duration) *MasterOfPuppetsActor {
	state.plannerStartupDelay = delay
	return state
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.seedSettings()

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start Victron child
		victronActorPID, err := state.startVictronActor(ctx)
		if err != nil {
			panic(err)
		}
		state.victronActor = victronActorPID

		// start engine children
		plannerActorPID, err := state.startChild(ctx, domain.ACTOR_ID_PLANNER, func() actor.Actor {
			return NewPlannerActor(&state.config, state.inputs, state.tasks, state.eventStream, state.logger).
				WithStartupDelay(state.plannerStartupDelay)
		})
		if err != nil {
			panic(err)
		}
		state.plannerActor = plannerActorPID

		charger := state.chargerProvider(ctx.ActorSystem().Root, state.mqttActor)
		evChargingActorPID, err := state.startChild(ctx, domain.ACTOR_ID_EV_CHARGING, func() actor.Actor {
			return NewEVChargingActor(&state.config, state.inputs, charger, state.tasks, state.eventStream, state.logger)
		})
		if err != nil {
			panic(err)
		}
		state.evChargingActor = evChargingActorPID

		gridControlActorPID, err := state.startChild(ctx, domain.ACTOR_ID_GRID_CONTROL, func() actor.Actor {
			return NewGridControlActor(&state.config, state.inputs, state.victronActor, state.eventStream, state.logger)
		})
		if err != nil {
			panic(err)
		}
		state.gridControlActor = gridControlActorPID

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			_, err := state.startChild(ctx, domain.ACTOR_ID_HA_DISCOVERY, func() actor.Actor {
				return NewHADiscoveryActor(&state.config, state.mqttActor, state.inputs.Store(), state.eventStream, state.logger)
			})
			if err != nil {
				panic(err)
			}
		}

		if err := state.scheduleJobs(ctx); err != nil {
			panic(err)
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck = newHealthCheck(ForRequest(msg).ReplyTo(ctx))
		children := map[string]*actor.PID{
			domain.ACTOR_ID_MQTT:         state.mqttActor,
			domain.ACTOR_ID_VICTRON:      state.victronActor,
			domain.ACTOR_ID_PLANNER:      state.plannerActor,
			domain.ACTOR_ID_EV_CHARGING:  state.evChargingActor,
			domain.ACTOR_ID_GRID_CONTROL: state.gridControlActor,
		}
		for _, id := range state.currentHealthCheck.expected {
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(children[id], domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      id,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command == nil {
			return
		}
		device := domain.BridgeDevice(state.config.MQTT.BaseTopic)
		cmd, err := ParsedMQTTCommandToCommand(*msg.Command, domain.AutomationSwitches(device), domain.AutomationInputNumbers(device))
		if err != nil {
			state.logger.Warn("master@default: invalid command", zap.String("device", msg.Command.DeviceId), zap.Error(err))
			return
		}
		state.applySetting(ctx, cmd)
	case domain.SetSwitchCommand:
		changed := state.applySetting(ctx, msg)
		ForRequest(msg).Respond(ctx, domain.SettingCommandResponse{Changed: changed})
	case domain.SetNumberCommand:
		changed := state.applySetting(ctx, msg)
		ForRequest(msg).Respond(ctx, domain.SettingCommandResponse{Changed: changed})
	case domain.GetPlanRequest, domain.GetSurplusRequest, domain.ReplanRequest:
		ctx.Forward(state.plannerActor)
	case *actor.Terminated:
		if msg.Who.Equal(state.victronActor) {
			state.logger.Error("master@default victron terminated")
			panic(errors.New("victron terminated"))
		}
	case *actor.Stopping:
		if state.cron != nil {
			state.cron.Stop()
		}
	case *actor.ReceiveTimeout:
		ctx.CancelReceiveTimeout()
	default:
		state.logger.Debug("master@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.CancelReceiveTimeout()
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			state.currentHealthCheck.healthy[msg.Id] = true
		}
		if state.currentHealthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// applySetting stores a switch or number change and echoes it on its state topic. It reports
// whether the value changed.
func (state *MasterOfPuppetsActor) applySetting(ctx actor.Context, cmd domain.SettingCommand) bool {
	store := state.inputs.Store()
	changed := true
	switch c := cmd.(type) {
	case domain.SetSwitchCommand:
		if previous, ok := domain.BoolPoint(c.Id).Read(store).Get(); ok {
			changed = previous != c.Enable
		}
		state.sensors.Switch(c.Id, c.Enable)
	case domain.SetNumberCommand:
		if previous, ok := domain.FloatPoint(c.Id).Read(store).Get(); ok {
			changed = previous != c.Value
		}
		state.sensors.Number(c.Id, c.Value, SETTING_NUMBER_DECIMALS)
	}
	state.logger.Info("master@default: setting", zap.String("id", cmd.SettingId()), zap.String("value", cmd.StateValue()),
		zap.Bool("changed", changed))
	if changed && domain.ReplanTriggers[cmd.SettingId()] {
		ctx.Send(state.plannerActor, domain.ReplanRequest{Reason: fmt.Sprintf("setting %s changed", cmd.SettingId())})
	}
	return changed
}

// seedSettings stores the default of every setting that has no value yet. Retained states read back
// from the broker overwrite them.
func (state *MasterOfPuppetsActor) seedSettings() {
	store := state.inputs.Store()
	settings := domain.DefaultSettings(domain.BridgeDevice(state.config.MQTT.BaseTopic))
	for id, value := range settings.Switches {
		if _, ok := store.Lookup(id); !ok {
			store.SetWithTTL(id, onOff(value), 0)
		}
	}
	for id, value := range settings.Numbers {
		if _, ok := store.Lookup(id); !ok {
			store.SetWithTTL(id, strconv.FormatFloat(value, 'f', -1, 64), 0)
		}
	}
}

func (state *MasterOfPuppetsActor) scheduleJobs(ctx actor.Context) error {
	if state.cron == nil {
		return nil
	}
	root := ctx.ActorSystem().Root
	if err := state.cron.SendEvery(TASK_SETPOINT, state.config.Planner.SetpointCron, root, state.plannerActor, PlanSetpointTick{}); err != nil {
		return err
	}
	return state.cron.SendEvery(TASK_SURPLUS, state.config.Planner.SurplusCron, root, state.plannerActor, PlanSurplusTick{})
}

func (state *MasterOfPuppetsActor) startChild(ctx actor.Context, id string, producer actor.Producer) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child %s. reason: %v", id, reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(10, 1*time.Minute, decider)

	props := actor.PropsFromProducer(producer, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(props, id)
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *MasterOfPuppetsActor) startVictronActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	victronProps := actor.PropsFromProducer(func() actor.Actor {
		return state.victronActorProvider(state.mqttActor)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(victronProps, domain.ACTOR_ID_VICTRON)
}

func newHealthCheck(respondTo *actor.PID) healthCheckResult {
	return healthCheckResult{
		expected: []string{
			domain.ACTOR_ID_MQTT,
			domain.ACTOR_ID_VICTRON,
			domain.ACTOR_ID_PLANNER,
			domain.ACTOR_ID_EV_CHARGING,
			domain.ACTOR_ID_GRID_CONTROL,
		},
		healthy:   map[string]bool{},
		respondTo: respondTo,
	}
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= len(state.expected)
}

func (state *healthCheckResult) allHealthy() bool {
	for _, id := range state.expected {
		if !state.healthy[id] {
			return false
		}
	}
	return true
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	unhealthy := []string{}
	for _, id := range state.expected {
		if !state.healthy[id] {
			unhealthy = append(unhealthy, id)
		}
	}
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
		State:   fmt.Sprintf("unhealthy: %v", unhealthy),
	}
	if resp.Healthy {
		resp.State = "running"
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
