package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/hems2mqtt/internal/config"
	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"
	"github.com/berfenger/hems2mqtt/internal/core/service"
	"github.com/berfenger/hems2mqtt/internal/core/task"
	. "github.com/berfenger/hems2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const TASK_EV_CHARGING = "ev_charging"

type EVChargingTick struct {
}

type chargeApplied struct {
	decision domain.ChargeDecision
	err      error
}

// EVChargingActor runs the automatic EV charging loop. Every tick evaluates the charge decision from
// the live readings and hands it to the charger controller.
type EVChargingActor struct {
	ActorWithStates
	config     *config.Config
	inputs     *Inputs
	engine     *service.ChargeDecisionEngine
	controller *service.ChargerController
	tasks      *task.Registry
	sensors    sensorPublisher
	scheduler  *scheduler.TimerScheduler
	cancelTick scheduler.CancelFunc
	lastReason string

	logger *zap.Logger
}

func NewEVChargingActor(config *config.Config, inputs *Inputs, charger port.ChargerHardware, tasks *task.Registry,
	eventStream *eventstream.EventStream, logger *zap.Logger) *EVChargingActor {
	actorLogger := ActorLogger(domain.ACTOR_ID_EV_CHARGING, logger)
	controller := service.NewChargerController(charger, actorLogger)
	if config.Charger.PhaseCooldownSeconds > 0 {
		controller.PhaseCooldown = time.Duration(config.Charger.PhaseCooldownSeconds) * time.Second
	}
	act := &EVChargingActor{
		config:     config,
		inputs:     inputs,
		engine:     service.NewChargeDecisionEngine(),
		controller: controller,
		tasks:      tasks,
		sensors:    newSensorPublisher(eventStream, inputs.Store()),
		logger:     actorLogger,
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(EVChargingIdleState{
		actor: act,
	})
	return act
}

func (a *EVChargingActor) Receive(context actor.Context) {
	a.Behavior.Receive(context)
}

func (a *EVChargingActor) interval() time.Duration {
	return time.Duration(a.config.Control.EVChargingIntervalMillis) * time.Millisecond
}

// Idle state

type EVChargingIdleState struct {
	ActorState
	actor *EVChargingActor
}

func (state EVChargingIdleState) Name() string {
	return "idle"
}

func (state EVChargingIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("ev_charging@idle started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.cancelTick = state.actor.scheduler.SendRepeatedly(state.actor.interval(), state.actor.interval(),
			ctx.Self(), EVChargingTick{})
	case domain.ActorHealthRequest:
		name := state.Name()
		if state.actor.tasks.Running(TASK_EV_CHARGING) {
			name = "applying"
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_EV_CHARGING,
			Healthy: true,
			State:   name,
		})
	case EVChargingTick:
		state.actor.onTick(ctx)
	case chargeApplied:
		if msg.err != nil {
			state.actor.logger.Warn("ev_charging@idle: charge decision not applied", zap.Error(msg.err),
				zap.String("reason", msg.decision.Reason))
		}
	case *actor.Stopping, *actor.Restarting:
		if state.actor.cancelTick != nil {
			state.actor.cancelTick()
		}
		state.actor.tasks.Cancel(TASK_EV_CHARGING)
	default:
		state.actor.logger.Debug("ev_charging@idle: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (a *EVChargingActor) onTick(ctx actor.Context) {
	t := a.inputs.Now()
	store := a.inputs.Store()
	nextDrive := a.inputs.NextDrive(t)
	ongoing := service.OngoingDrive(a.inputs.Schedule(t), t) != nil
	limiterActive := domain.SmartChargeLimiter.Read(store).OrElse(false)

	smartLimit := service.SmartChargeLimit(nextDrive, t, ongoing)
	evSOC := domain.EVSOC.Read(store).OrElse(0)
	requiredSOC := domain.EVRequiredSOC.Read(store).OrElse(domain.DEFAULT_REQUIRED_SOC)
	needed := service.EVEnergyNeeded(requiredSOC, evSOC, smartLimit, limiterActive)

	a.sensors.Float(domain.SENSOR_ID_EV_SMART_CHARGE_LIMIT, smartLimit, 0)
	a.sensors.Float(domain.SENSOR_ID_EV_ENERGY, a.inputs.EVEnergy(), 2)

	if !a.active() {
		return
	}
	if a.tasks.Running(TASK_EV_CHARGING) {
		a.logger.Debug("ev_charging@idle: previous decision still applying")
		return
	}

	charger := a.controller.Hardware.State()
	in := service.ChargeDecisionInput{
		NextDrive:          nextDrive,
		CurrentSOC:         evSOC,
		RequiredSOC:        requiredSOC,
		EnergyNeeded:       needed,
		ExcessPower:        domain.ExcessPower.Read(store).OrElse(0),
		ExcessTarget:       domain.ExcessTarget.Read(store).OrElse(0),
		SurplusEnergy:      domain.EnergySurplus.Read(store).OrElse(0),
		SmartChargeLimit:   smartLimit,
		SmartLimiterActive: limiterActive,
		ConfiguredPhases:   max(charger.Phases, domain.CHARGER_MIN_PHASES),
		ConfiguredCurrent:  max(charger.Current, domain.CHARGER_MIN_CURRENT),
		IsLowPrice:         a.inputs.Oracle().IsLow(a.inputs.CurrentPrice(t)),
		PVTotalPower:       domain.PVPower.Read(store).OrElse(0),
		BatterySOC:         domain.BatterySOC.Read(store).OrElse(0),
		BatteryDischarging: a.batteryDischarging(),
		IsCharging:         charger.SwitchOn,
		Now:                t,
	}
	decision := a.engine.Decide(in)
	if decision.Reason != a.lastReason {
		a.logger.Info("ev_charging@idle: charge decision", zap.String("action", string(decision.Action)),
			zap.Int("phases", decision.Phases), zap.Int("current", decision.Current), zap.String("reason", decision.Reason))
		a.lastReason = decision.Reason
	}
	a.sensors.Text(domain.SENSOR_ID_EV_CHARGE_REASON, decision.Reason)

	taskCtx, done := a.tasks.Start(context.Background(), TASK_EV_CHARGING)
	timeout := a.interval() + service.DEFAULT_PHASE_DELAY + service.DEFAULT_SWITCH_DELAY
	NewBackgroundTask(ctx, func() (*chargeApplied, error) {
		defer done()
		return &chargeApplied{decision: decision, err: a.controller.Apply(taskCtx, decision)}, nil
	}).Recover(func(err error) chargeApplied {
		return chargeApplied{decision: decision, err: err}
	}).WithTimeout(timeout).PipeToAsync(ctx.Self())
}

// active reports whether automatic charging may drive the charger right now.
func (a *EVChargingActor) active() bool {
	store := a.inputs.Store()
	if !domain.AutoEVCharging.Read(store).OrElse(false) {
		return false
	}
	if domain.ChargerForceCharge.Read(store).OrElse(false) {
		return false
	}
	return domain.ChargerReady.Read(store).OrElse(false) || domain.ChargerSwitch.Read(store).OrElse(false)
}

func (a *EVChargingActor) batteryDischarging() bool {
	store := a.inputs.Store()
	mode, ok := domain.InverterModeState.Read(store).Get()
	if !ok {
		return false
	}
	current, _ := domain.InverterModeFromPayload(uint16(mode))
	return current == domain.INVERTER_MODE_ON && !domain.ForceChargeSwitch.Read(store).OrElse(false)
}
