package actor

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/hems2mqtt/internal/adapter/state"
	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/service"
	"github.com/berfenger/hems2mqtt/internal/core/task"
	"github.com/berfenger/hems2mqtt/internal/util"
	"github.com/berfenger/hems2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPlanner(store *state.Store) *PlannerActor {
	cfg := util.LoadTestConfig()
	return NewPlannerActor(&cfg, testInputs(cfg, store), task.NewRegistry(), &eventstream.EventStream{}, zap.NewNop())
}

func TestPlannerInputRequiresBatteryAndForecast(t *testing.T) {
	require := require.New(t)
	store := state.NewStore(time.Minute)
	planner := newTestPlanner(store)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.Local)

	_, err := planner.planInput(now)
	require.ErrorIs(err, service.ErrMissingCapacity)

	store.Set(domain.POINT_BATTERY_CAPACITY, "10")
	_, err = planner.planInput(now)
	require.ErrorIs(err, service.ErrMissingEnergy)

	store.Set(domain.POINT_BATTERY_SOC, "50")
	_, err = planner.planInput(now)
	require.ErrorIs(err, service.ErrNoForecast)

	store.Set(domain.POINT_PV_FORECAST, `[{"period_start":"2024-05-10T12:00:00+02:00","pv_estimate":2.5}]`)
	store.Set(domain.POINT_HOUSE_LOADS, "750")
	in, err := planner.planInput(now)
	require.NoError(err)
	require.Equal(10.0, in.BatteryCapacity)
	require.Equal(5.0, in.BatteryEnergy)
	require.Equal(750.0, in.HousePower)
	require.Equal(DEFAULT_DAILY_AVG_POWER_W, in.HouseAvgPower)
	require.Equal(domain.SETPOINT_CEILING_W, in.CurrentSetpoint)
	require.Equal(4000.0, in.MaxFeedinLimit)
	require.Len(in.PVForecast, 1)
	require.Equal(now, in.Now)
}

func TestPlannerKeepsLatestRunOnly(t *testing.T) {
	require := require.New(t)
	store := state.NewStore(time.Minute)
	planner := newTestPlanner(store)

	planner.runs[TASK_SETPOINT] = "second"
	planner.onPlanResult(planResult{runId: "first", outcome: &service.PlanOutcome{Setpoint: -900}})
	_, ok := domain.GridSetpointTarget.Read(store).Get()
	require.False(ok, "stale result dropped")

	planner.onPlanResult(planResult{runId: "second", outcome: &service.PlanOutcome{Setpoint: -400}})
	require.Equal(-400.0, domain.GridSetpointTarget.Read(store).OrElse(0))

	// a failed run keeps the previous target
	planner.onPlanResult(planResult{runId: "second", err: errors.New("timeout")})
	require.Equal(-400.0, domain.GridSetpointTarget.Read(store).OrElse(0))
	require.Equal(-400.0, planner.lastPlan.Setpoint)
}

func TestPlannerSurplusResult(t *testing.T) {
	require := require.New(t)
	store := state.NewStore(time.Minute)
	planner := newTestPlanner(store)

	planner.runs[TASK_SURPLUS] = "run"
	planner.onSurplusResult(surplusResult{runId: "run", forecast: &domain.SurplusForecast{
		Surplus:        4.256,
		SurplusAfterEV: 1.5,
		ComputedAt:     time.Now(),
	}})
	require.Equal(4.26, domain.EnergySurplus.Read(store).OrElse(0))
	value, ok := store.Lookup(domain.SENSOR_ID_ENERGY_SURPLUS_AFTER_EV)
	require.True(ok)
	require.Equal("1.50", value)
}

func TestPlanAttributes(t *testing.T) {
	attrs := planAttributes("abc", &service.PlanOutcome{
		Setpoint: -20,
		Result:   domain.SetpointResult{Setpoint: -20, Spread: 0.12},
		Skipped:  "battery full",
	})
	require.Equal(t, "abc", attrs["run_id"])
	require.Equal(t, 0.12, attrs["spread"])
	require.Equal(t, 0, attrs["searches"])
	require.Equal(t, "battery full", attrs["skipped"])
}

func TestPlannerActor(t *testing.T) {
	require := require.New(t)

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	context := as.Root

	store := state.NewStore(time.Minute)
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return newTestPlanner(store).WithStartupDelay(time.Hour)
	}))
	defer context.Stop(pid)

	hcr, err := healthCheck(context, pid)
	require.NoError(err)
	require.True(hcr.Healthy)
	require.Equal("idle", hcr.State)

	// without inputs a replan is skipped and the actor stays idle
	context.Send(pid, domain.ReplanRequest{Reason: "test"})
	context.Send(pid, PlanSurplusTick{})

	res, err := context.RequestFuture(pid, domain.GetPlanRequest{}, 2*time.Second).Result()
	require.NoError(err)
	require.Nil(res.(domain.GetPlanResponse).Result)

	hcr, err = healthCheck(context, pid)
	require.NoError(err)
	require.Equal("idle", hcr.State)
}
