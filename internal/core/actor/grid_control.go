package actor

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/berfenger/hems2mqtt/internal/config"
	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/service"
	. "github.com/berfenger/hems2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type setpointTick struct {
}

type inverterTick struct {
}

type sensorsTick struct {
}

// GridControlActor owns the fast control loops: the applied grid setpoint, the inverter mode and the
// derived battery and price sensors.
type GridControlActor struct {
	ActorWithStates
	config    *config.Config
	inputs    *Inputs
	victron   *actor.PID
	smoother  *service.SetpointSmoother
	selector  *service.InverterModeSelector
	sensors   sensorPublisher
	scheduler *scheduler.TimerScheduler
	cancels   []scheduler.CancelFunc
	lastMode  domain.InverterMode

	logger *zap.Logger
}

func NewGridControlActor(config *config.Config, inputs *Inputs, victron *actor.PID, eventStream *eventstream.EventStream,
	logger *zap.Logger) *GridControlActor {
	act := &GridControlActor{
		config:   config,
		inputs:   inputs,
		victron:  victron,
		smoother: service.NewSetpointSmoother(),
		selector: service.NewInverterModeSelector(),
		sensors:  newSensorPublisher(eventStream, inputs.Store()),
		logger:   ActorLogger(domain.ACTOR_ID_GRID_CONTROL, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(GridControlRunningState{
		actor: act,
	})
	return act
}

func (a *GridControlActor) Receive(context actor.Context) {
	a.Behavior.Receive(context)
}

func millis(v uint32) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Running state

type GridControlRunningState struct {
	ActorState
	actor *GridControlActor
}

func (state GridControlRunningState) Name() string {
	return "running"
}

func (state GridControlRunningState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("grid_control@running started")
		state.actor.start(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_GRID_CONTROL,
			Healthy: true,
			State:   state.Name(),
		})
	case setpointTick:
		state.actor.applySetpoint(ctx)
	case inverterTick:
		state.actor.selectInverterMode(ctx)
	case sensorsTick:
		state.actor.updateSensors()
	case domain.SetGridSetpointResponse, domain.SetInverterModeResponse:
	case *actor.Stopping, *actor.Restarting:
		for _, cancel := range state.actor.cancels {
			cancel()
		}
		state.actor.cancels = nil
	default:
		state.actor.logger.Debug("grid_control@running: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (a *GridControlActor) start(ctx actor.Context) {
	a.scheduler = scheduler.NewTimerScheduler(ctx)
	ctl := a.config.Control
	a.cancels = append(a.cancels,
		a.scheduler.SendRepeatedly(time.Second, millis(ctl.SensorsIntervalMillis), ctx.Self(), sensorsTick{}),
		a.scheduler.SendRepeatedly(millis(ctl.SetpointIntervalMillis), millis(ctl.SetpointIntervalMillis), ctx.Self(), setpointTick{}),
		a.scheduler.SendRepeatedly(millis(ctl.InverterIntervalMillis), millis(ctl.InverterIntervalMillis), ctx.Self(), inverterTick{}),
	)
}

func (a *GridControlActor) evCharging() bool {
	store := a.inputs.Store()
	return domain.EVCharging.Read(store).OrElse(false) || domain.ChargerSwitch.Read(store).OrElse(false)
}

// Setpoint loop

func (a *GridControlActor) applySetpoint(ctx actor.Context) {
	store := a.inputs.Store()
	if !domain.AutoSetpoint.Read(store).OrElse(false) {
		return
	}
	target, ok := domain.GridSetpointTarget.Read(store).Get()
	if !ok {
		a.logger.Debug("grid_control@running: no setpoint target yet")
		return
	}
	setpoint := a.smoother.ApplySetpoint(service.ApplySetpointInput{
		Target:          target,
		MaxSetpoint:     domain.MaxSetpoint.Read(store).OrElse(domain.SETPOINT_CEILING_W),
		MaxFeedinTarget: domain.MaxFeedinTarget.Read(store).OrElse(4000),
		DailyAvgPower:   a.inputs.DailyAvgPower(),
		HouseLoads:      domain.HouseLoads.Read(store).OrElse(service.DEFAULT_HOUSE_LOADS_W),
		EVCharging:      a.evCharging(),
	})
	setpoint = math.Max(math.MinInt16, math.Min(math.MaxInt16, setpoint))
	a.sensors.Float(domain.SENSOR_ID_GRID_SETPOINT, setpoint, 0)
	a.sensors.Attributes(domain.SENSOR_ID_GRID_SETPOINT, map[string]any{
		"target":         target,
		"smoothed_loads": math.Round(a.smoother.Loads()),
	})
	if a.victron != nil {
		ctx.Request(a.victron, domain.SetGridSetpointRequest{Watts: int16(setpoint)})
	}
}

// Inverter loop

func (a *GridControlActor) selectInverterMode(ctx actor.Context) {
	store := a.inputs.Store()
	if !domain.AutoInverterMode.Read(store).OrElse(false) {
		return
	}
	soc, okSOC := domain.BatterySOC.Read(store).Get()
	targetSOC, okTarget := domain.BatteryTargetSOC.Read(store).Get()
	pvPower, okPV := domain.PVPower.Read(store).Get()
	surplus, okSurplus := domain.EnergySurplus.Read(store).Get()
	dailyAvg, okAvg := domain.HouseDailyAvgPower.Read(store).Get()
	if missing := missingPoints(map[string]bool{
		domain.POINT_BATTERY_SOC:            okSOC,
		domain.NUMBER_ID_BATTERY_TARGET_SOC: okTarget,
		domain.POINT_PV_POWER:               okPV,
		domain.SENSOR_ID_ENERGY_SURPLUS:     okSurplus,
		domain.POINT_HOUSE_DAILY_AVG_POWER:  okAvg,
	}); len(missing) > 0 {
		a.logger.Warn("grid_control@running: inverter mode skipped, missing inputs", zap.Strings("points", missing))
		return
	}
	t := a.inputs.Now()
	snapshot := a.inputs.Snapshot()
	decision := a.selector.Select(service.InverterModeInput{
		EVCharging:        a.evCharging(),
		SurplusEnergy:     surplus,
		PVPower:           pvPower,
		DailyAvgPower:     dailyAvg,
		BatterySOC:        soc,
		TargetSOC:         targetSOC,
		Price:             a.inputs.CurrentPrice(t),
		MinDischargePrice: snapshot.MinDischargePrice,
		MaxChargePrice:    snapshot.MaxChargePrice,
		ChargeLimitSOC:    snapshot.ChargeLimitSOC,
		ForceChargeSwitch: snapshot.ForceChargeSwitch,
	})
	if decision.Mode != a.lastMode {
		a.logger.Info("grid_control@running: inverter mode", zap.String("mode", string(decision.Mode)),
			zap.String("reason", decision.Reason))
		a.lastMode = decision.Mode
	}
	a.sensors.Text(domain.SENSOR_ID_INVERTER_MODE, string(decision.Mode))
	a.sensors.Attributes(domain.SENSOR_ID_INVERTER_MODE, map[string]any{"reason": decision.Reason})
	if decision.ChargeLimit != nil {
		a.sensors.Float(domain.SENSOR_ID_BATTERY_CHARGE_LIMIT, *decision.ChargeLimit, 0)
	}
	if decision.ForceCharge != nil {
		a.sensors.Switch(domain.SWITCH_ID_BATTERY_FORCE_CHARGE, *decision.ForceCharge)
	}
	if a.victron != nil {
		ctx.Request(a.victron, domain.SetInverterModeRequest{Mode: decision.Mode})
	}
}

// Sensors loop

func (a *GridControlActor) updateSensors() {
	t := a.inputs.Now()
	store := a.inputs.Store()

	a.updatePriceSensors(t)

	dayW, nightW := a.inputs.DailyAvgPower(), a.inputs.NightlyAvgPower()
	next, pvEnergy := service.NextProductionMeetsDemand(t, dayW/1000, a.inputs.PVForecastDays())
	houseEnergy := service.HouseEnergyUntil(t, next, dayW, nightW)
	batteryUse := service.BatteryUseUntil(t, next, a.inputs.PriceCurve(t),
		domain.MinDischargePrice.Read(store).OrElse(0.2), dayW, nightW, pvEnergy)
	a.sensors.Timestamp(domain.SENSOR_ID_PV_NEXT_MEET_DEMAND, next)
	a.sensors.Float(domain.SENSOR_ID_PV_ENERGY_UNTIL_DEMAND, pvEnergy, 2)
	a.sensors.Float(domain.SENSOR_ID_HOUSE_ENERGY_DEMAND, houseEnergy, 2)
	a.sensors.Float(domain.SENSOR_ID_BATTERY_USE_UNTIL_DEMAND, batteryUse, 2)

	capacity, okCapacity := domain.BatteryCapacity.Read(store).Get()
	energy, okEnergy := a.inputs.BatteryEnergy().Get()
	if !okCapacity || !okEnergy {
		a.logger.Debug("grid_control@running: battery sensors skipped, no capacity or soc")
		return
	}
	soc := domain.BatterySOC.Read(store).OrElse(0)
	a.sensors.Float(domain.SENSOR_ID_BATTERY_ENERGY, energy, 2)

	full, empty := service.ChargeDischargeTimes(capacity, energy, domain.BatteryPower.Read(store).OrElse(0)/1000)
	a.sensors.Float(domain.SENSOR_ID_BATTERY_TIME_UNTIL_CHARGED, full, 2)
	a.sensors.Float(domain.SENSOR_ID_BATTERY_TIME_UNTIL_EMPTY, empty, 2)

	// without a PV forecast the planner cannot forecast the surplus, fall back to the excess points
	if len(a.inputs.PVForecast()) == 0 {
		surplus := service.EnergySurplus(service.EnergySurplusInput{
			BatteryEnergy:    energy,
			BatteryDemandNow: batteryUse,
			ExcessToday:      domain.ExcessTodayRemaining.Read(store).OrElse(0),
			ExcessTomorrow:   domain.ExcessNextDay.Read(store).OrElse(0),
			ExcessTwoDays:    domain.ExcessTwoDays.Read(store).OrElse(0),
			ExcessThreeDays:  domain.ExcessNextThreeDays.Read(store).OrElse(0),
			Now:              t,
		})
		a.sensors.Float(domain.SENSOR_ID_ENERGY_SURPLUS, surplus, 2)
		a.sensors.Attributes(domain.SENSOR_ID_ENERGY_SURPLUS, map[string]any{
			"source":         "excess",
			"surplus_target": service.SurplusTarget(t),
		})
	}

	evCharging := a.evCharging()
	target := service.BatteryTargetSOC(service.BatteryTargetInput{
		BatterySOC:      soc,
		BatteryEnergy:   energy,
		BatteryCapacity: capacity,
		HouseDemand:     houseEnergy,
		PVUpcoming:      pvEnergy,
		ExcessNextDays:  domain.ExcessNextDay.Read(store).OrElse(0),
		Surplus:         domain.EnergySurplus.Read(store).OrElse(0),
		CellsBalanced:   domain.BatteryCellsBalanced.Read(store).OrElse(true),
		EVCharging:      evCharging,
		Now:             t,
	})
	a.sensors.Float(domain.SENSOR_ID_BATTERY_REQUIRED_ENERGY, target.RequiredEnergy, 2)
	a.sensors.Float(domain.SENSOR_ID_BATTERY_MINIMAL_SOC, target.MinimalSOC, 0)
	if domain.AutoBatteryTargetSOC.Read(store).OrElse(false) {
		a.sensors.Number(domain.NUMBER_ID_BATTERY_TARGET_SOC, math.Round(target.TargetSOC), 0)
	}

	if domain.AutoExcessTarget.Read(store).OrElse(false) {
		excess := service.ExcessTarget(service.ExcessTargetInput{
			BatteryTargetSOC:   domain.BatteryTargetSOC.Read(store).OrElse(target.TargetSOC),
			BatterySOC:         soc,
			EVRequiredSOC:      domain.EVRequiredSOC.Read(store).OrElse(domain.DEFAULT_REQUIRED_SOC),
			EVCharging:         evCharging,
			NextDrive:          a.inputs.NextDrive(t),
			PVPower:            domain.PVPower.Read(store).OrElse(0),
			EVSOC:              domain.EVSOC.Read(store).OrElse(0),
			Now:                t,
			EfficientDischarge: domain.EfficientDischarge.Read(store).OrElse(false),
		})
		a.sensors.Number(domain.NUMBER_ID_EXCESS_TARGET, math.Round(excess), 0)
	}
}

func (a *GridControlActor) updatePriceSensors(t time.Time) {
	price := a.inputs.CurrentPrice(t)
	low := a.inputs.Oracle().IsLow(price)
	a.sensors.Float(domain.SENSOR_ID_ELECTRICITY_PRICE, price, 4)
	a.sensors.Attributes(domain.SENSOR_ID_ELECTRICITY_PRICE, map[string]any{
		"price_curve": a.inputs.PriceCurve(t),
	})
	a.sensors.Binary(domain.BINARY_SENSOR_ID_LOW_PRICE, low)
	a.sensors.Binary(domain.BINARY_SENSOR_ID_HIGH_PRICE, !low)
}

// missingPoints returns the sorted ids whose reading is absent.
func missingPoints(present map[string]bool) []string {
	missing := lo.Filter(lo.Keys(present), func(id string, _ int) bool { return !present[id] })
	slices.Sort(missing)
	return missing
}
