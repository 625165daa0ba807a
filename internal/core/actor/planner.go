package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/hems2mqtt/internal/config"
	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/service"
	"github.com/berfenger/hems2mqtt/internal/core/task"
	. "github.com/berfenger/hems2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TASK_SETPOINT         = "setpoint"
	TASK_SURPLUS          = "surplus"
	PLANNER_STARTUP_DELAY = 30 * time.Second
)

type PlanSetpointTick struct {
}

type PlanSurplusTick struct {
}

type planResult struct {
	runId   string
	outcome *service.PlanOutcome
	err     error
}

type surplusResult struct {
	runId    string
	forecast *domain.SurplusForecast
	err      error
}

type PlannerActor struct {
	ActorWithStates
	config       *config.Config
	inputs       *Inputs
	search       *service.SetpointSearch
	forecaster   *service.SurplusForecaster
	tasks        *task.Registry
	sensors      sensorPublisher
	scheduler    *scheduler.TimerScheduler
	startupDelay time.Duration
	// runs holds the id of the latest run per task, older results are dropped
	runs        map[string]string
	lastPlan    *service.PlanOutcome
	lastSurplus *domain.SurplusForecast

	logger *zap.Logger
}

func NewPlannerActor(config *config.Config, inputs *Inputs, tasks *task.Registry, eventStream *eventstream.EventStream,
	logger *zap.Logger) *PlannerActor {
	actorLogger := ActorLogger(domain.ACTOR_ID_PLANNER, logger)
	simulator := service.NewForecastSimulator(inputs.StaticPrices(), config.EV.KWhPer100km)
	search := service.NewSetpointSearch(simulator, inputs.StaticPrices(), actorLogger)
	search.Horizon = config.Planner.Horizon()

	act := &PlannerActor{
		config:       config,
		inputs:       inputs,
		search:       search,
		forecaster:   service.NewSurplusForecaster(simulator, inputs.StaticPrices(), actorLogger),
		tasks:        tasks,
		sensors:      newSensorPublisher(eventStream, inputs.Store()),
		startupDelay: PLANNER_STARTUP_DELAY,
		runs:         map[string]string{},
		logger:       actorLogger,
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(PlannerStartingState{
		actor: act,
	})
	return act
}

// WithStartupDelay sets the delay of the first runs after start.
func (a *PlannerActor) WithStartupDelay(delay time.Duration) *PlannerActor {
	a.startupDelay = delay
	return a
}

func (a *PlannerActor) Receive(context actor.Context) {
	a.Behavior.Receive(context)
}

// Starting state

type PlannerStartingState struct {
	ActorState
	actor *PlannerActor
}

func (state PlannerStartingState) Name() string {
	return "starting"
}

func (state PlannerStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("planner@starting started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		// surplus first, the setpoint search reads the surplus it publishes
		state.actor.scheduler.RequestOnce(state.actor.startupDelay, ctx.Self(), PlanSurplusTick{})
		state.actor.scheduler.RequestOnce(state.actor.startupDelay+5*time.Second, ctx.Self(), PlanSetpointTick{})
		state.actor.Become(PlannerIdleState{
			actor: state.actor,
		})
	case *actor.Restarting:
		state.actor.tasks.Cancel(TASK_SETPOINT)
		state.actor.tasks.Cancel(TASK_SURPLUS)
	default:
		state.actor.logger.Debug("planner@starting: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Idle state. Runs execute in the background, the actor keeps serving requests meanwhile.

type PlannerIdleState struct {
	ActorState
	actor *PlannerActor
}

func (state PlannerIdleState) Name() string {
	return "idle"
}

func (state PlannerIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("planner@idle: ActorHealthRequest")
		name := state.Name()
		if state.actor.tasks.Running(TASK_SETPOINT) || state.actor.tasks.Running(TASK_SURPLUS) {
			name = "planning"
		}
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_PLANNER,
			Healthy: true,
			State:   name,
		})
	case PlanSetpointTick:
		state.actor.logger.Debug("planner@idle: PlanSetpointTick")
		state.actor.startSetpointRun(ctx, "schedule")
	case domain.ReplanRequest:
		state.actor.logger.Info("planner@idle: ReplanRequest", zap.String("reason", msg.Reason))
		state.actor.startSetpointRun(ctx, msg.Reason)
	case PlanSurplusTick:
		state.actor.logger.Debug("planner@idle: PlanSurplusTick")
		state.actor.startSurplusRun(ctx)
	case planResult:
		state.actor.onPlanResult(msg)
	case surplusResult:
		state.actor.onSurplusResult(msg)
	case domain.GetPlanRequest:
		resp := domain.GetPlanResponse{}
		if state.actor.lastPlan != nil {
			result := state.actor.lastPlan.Result
			resp.Result = &result
			resp.Applied = state.actor.lastPlan.Setpoint
		}
		ForRequest(msg).Respond(ctx, resp)
	case domain.GetSurplusRequest:
		resp := domain.GetSurplusResponse{}
		if state.actor.lastSurplus != nil {
			forecast := *state.actor.lastSurplus
			resp.Forecast = &forecast
		}
		ForRequest(msg).Respond(ctx, resp)
	case *actor.Stopping, *actor.Restarting:
		state.actor.tasks.Cancel(TASK_SETPOINT)
		state.actor.tasks.Cancel(TASK_SURPLUS)
	default:
		state.actor.logger.Debug("planner@idle: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Runs

func (a *PlannerActor) startSetpointRun(ctx actor.Context, reason string) {
	t := a.inputs.Now()
	in, err := a.planInput(t)
	if err != nil {
		a.logger.Warn("planner@idle: setpoint search skipped", zap.Error(err))
		return
	}

	runId := uuid.NewString()
	a.runs[TASK_SETPOINT] = runId
	taskCtx, done := a.tasks.Start(context.Background(), TASK_SETPOINT)
	timeout := a.config.Planner.Timeout()
	a.logger.Info("planner@idle: setpoint search started", zap.String("run", runId), zap.String("reason", reason))

	MapBackgroundTask(NewBackgroundTask(ctx, func() (*service.PlanOutcome, error) {
		defer done()
		runCtx, cancel := context.WithTimeout(taskCtx, timeout)
		defer cancel()
		outcome, err := a.search.Plan(runCtx, in)
		if err != nil {
			return nil, err
		}
		return &outcome, nil
	}), func(outcome *service.PlanOutcome) *planResult {
		return &planResult{runId: runId, outcome: outcome}
	}).Recover(func(err error) planResult {
		return planResult{runId: runId, err: err}
	}).WithTimeout(timeout + time.Second).PipeToAsync(ctx.Self())
}

func (a *PlannerActor) planInput(t time.Time) (service.PlanInput, error) {
	store := a.inputs.Store()
	capacity, ok := domain.BatteryCapacity.Read(store).Get()
	if !ok || capacity <= 0 {
		return service.PlanInput{}, service.ErrMissingCapacity
	}
	energy, ok := a.inputs.BatteryEnergy().Get()
	if !ok {
		return service.PlanInput{}, service.ErrMissingEnergy
	}
	pv := a.inputs.PVForecast()
	if len(pv) == 0 {
		return service.PlanInput{}, fmt.Errorf("%w: no pv forecast", service.ErrNoForecast)
	}
	dailyAvg := a.inputs.DailyAvgPower()
	return service.PlanInput{
		PVForecast:      pv,
		Prices:          a.inputs.PriceForecast(),
		Snapshot:        a.inputs.Snapshot(),
		Schedule:        a.inputs.Schedule(t),
		BatteryCapacity: capacity,
		BatteryEnergy:   energy,
		EVEnergy:        a.inputs.EVEnergy(),
		AutoSetpoint:    domain.AutoSetpoint.Read(store).OrElse(false),
		CurrentSetpoint: domain.GridSetpointTarget.Read(store).OrElse(domain.SETPOINT_CEILING_W),
		MaxFeedinLimit:  domain.MaxFeedinTarget.Read(store).OrElse(4000),
		MaxPVFeedin:     domain.MaxPVFeedinTarget.Read(store).OrElse(4000),
		MaxSetpoint:     domain.MaxSetpoint.Read(store).OrElse(domain.SETPOINT_CEILING_W),
		HouseAvgPower:   dailyAvg,
		HousePower:      domain.HouseLoads.Read(store).OrElse(dailyAvg),
		PVPower:         domain.PVPower.Read(store).OrElse(0),
		Now:             t,
	}, nil
}

func (a *PlannerActor) onPlanResult(msg planResult) {
	if msg.runId != a.runs[TASK_SETPOINT] {
		a.logger.Debug("planner@idle: stale setpoint result dropped", zap.String("run", msg.runId))
		return
	}
	if msg.err != nil {
		// keep the previous target
		a.logger.Warn("planner@idle: setpoint search failed", zap.String("run", msg.runId), zap.Error(msg.err))
		return
	}
	a.lastPlan = msg.outcome
	a.logger.Info("planner@idle: setpoint target", zap.String("run", msg.runId),
		zap.Float64("setpoint", msg.outcome.Setpoint), zap.String("skipped", msg.outcome.Skipped))
	a.sensors.Float(domain.SENSOR_ID_GRID_SETPOINT_TARGET, msg.outcome.Setpoint, 0)
	a.sensors.Attributes(domain.SENSOR_ID_GRID_SETPOINT_TARGET, planAttributes(msg.runId, msg.outcome))
}

func planAttributes(runId string, outcome *service.PlanOutcome) map[string]any {
	r := outcome.Result
	attrs := map[string]any{
		"run_id":                   runId,
		"setpoint_search":          r.Setpoint,
		"spread":                   r.Spread,
		"min_battery_energy":       r.MinBattery,
		"t_min_battery_energy":     r.MinBatteryAt,
		"max_battery_energy":       r.MaxBattery,
		"t_max_battery_energy":     r.MaxBatteryAt,
		"max_feedin":               r.MaxFeedin,
		"t_max_feedin":             r.MaxFeedinAt,
		"prices_mean":              r.PriceMean,
		"prices_std":               r.PriceStd,
		"max_battery_power_target": r.MaxBatteryPowerTarget,
		"searches":                 len(outcome.Searches),
	}
	if outcome.Skipped != "" {
		attrs["skipped"] = outcome.Skipped
	}
	return attrs
}

func (a *PlannerActor) startSurplusRun(ctx actor.Context) {
	t := a.inputs.Now()
	store := a.inputs.Store()
	capacity, ok := domain.BatteryCapacity.Read(store).Get()
	if !ok || capacity <= 0 {
		a.logger.Warn("planner@idle: surplus forecast skipped", zap.Error(service.ErrMissingCapacity))
		return
	}
	energy, ok := a.inputs.BatteryEnergy().Get()
	if !ok {
		a.logger.Warn("planner@idle: surplus forecast skipped", zap.Error(service.ErrMissingEnergy))
		return
	}
	pv := a.inputs.PVForecast()
	if len(pv) == 0 {
		a.logger.Warn("planner@idle: surplus forecast skipped", zap.Error(service.ErrNoForecast))
		return
	}
	in := service.SurplusInput{
		PVForecast:      pv,
		Prices:          a.inputs.PriceCurve(t),
		Snapshot:        a.inputs.Snapshot(),
		Schedule:        a.inputs.Schedule(t),
		BatteryCapacity: capacity,
		BatteryEnergy:   energy,
		EVEnergy:        a.inputs.EVEnergy(),
		Now:             t,
	}

	runId := uuid.NewString()
	a.runs[TASK_SURPLUS] = runId
	taskCtx, done := a.tasks.Start(context.Background(), TASK_SURPLUS)
	timeout := a.config.Planner.Timeout()

	MapBackgroundTask(NewBackgroundTask(ctx, func() (*domain.SurplusForecast, error) {
		defer done()
		runCtx, cancel := context.WithTimeout(taskCtx, timeout)
		defer cancel()
		forecast, err := a.forecaster.Forecast(runCtx, in)
		if err != nil {
			return nil, err
		}
		return &forecast, nil
	}), func(forecast *domain.SurplusForecast) *surplusResult {
		return &surplusResult{runId: runId, forecast: forecast}
	}).Recover(func(err error) surplusResult {
		return surplusResult{runId: runId, err: err}
	}).WithTimeout(timeout + time.Second).PipeToAsync(ctx.Self())
}

func (a *PlannerActor) onSurplusResult(msg surplusResult) {
	if msg.runId != a.runs[TASK_SURPLUS] {
		a.logger.Debug("planner@idle: stale surplus result dropped", zap.String("run", msg.runId))
		return
	}
	if msg.err != nil {
		a.logger.Warn("planner@idle: surplus forecast failed", zap.String("run", msg.runId), zap.Error(msg.err))
		return
	}
	a.lastSurplus = msg.forecast
	f := msg.forecast
	a.sensors.Float(domain.SENSOR_ID_ENERGY_SURPLUS, f.Surplus, 2)
	a.sensors.Attributes(domain.SENSOR_ID_ENERGY_SURPLUS, map[string]any{
		"total_feedin": f.TotalFeedin,
		"computed_at":  f.ComputedAt,
		"source":       "forecast",
	})
	a.sensors.Float(domain.SENSOR_ID_ENERGY_SURPLUS_AFTER_EV, f.SurplusAfterEV, 2)
	a.sensors.Attributes(domain.SENSOR_ID_ENERGY_SURPLUS_AFTER_EV, map[string]any{
		"with_ev_schedule": f.WithEV != nil,
		"computed_at":      f.ComputedAt,
	})
}
