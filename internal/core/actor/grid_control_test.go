package actor

import (
	"testing"
	"time"

	adactor "github.com/berfenger/hems2mqtt/internal/adapter/actor"
	"github.com/berfenger/hems2mqtt/internal/adapter/state"
	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/util"
	"github.com/berfenger/hems2mqtt/internal/util/actorutil"
	"github.com/berfenger/hems2mqtt/pkg/victron_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGridControl(store *state.Store, victron *actor.PID) *GridControlActor {
	cfg := util.LoadTestConfig()
	cfg.Control.SetpointIntervalMillis = 100
	cfg.Control.InverterIntervalMillis = 100
	return NewGridControlActor(&cfg, testInputs(cfg, store), victron, &eventstream.EventStream{}, zap.NewNop())
}

func TestGridControlSetpointRequiresTarget(t *testing.T) {
	require := require.New(t)
	store := state.NewStore(time.Minute)
	gc := newTestGridControl(store, nil)

	gc.applySetpoint(nil)
	_, ok := domain.GridSetpoint.Read(store).Get()
	require.False(ok, "auto setpoint off")

	store.SetWithTTL(domain.SWITCH_ID_AUTO_SETPOINT, "on", 0)
	gc.applySetpoint(nil)
	_, ok = domain.GridSetpoint.Read(store).Get()
	require.False(ok, "no target yet")

	store.SetWithTTL(domain.SENSOR_ID_GRID_SETPOINT_TARGET, "-1500", 0)
	gc.applySetpoint(nil)
	setpoint, ok := domain.GridSetpoint.Read(store).Get()
	require.True(ok)
	require.LessOrEqual(setpoint, domain.SETPOINT_CEILING_W)
}

func TestGridControlInverterMode(t *testing.T) {
	require := require.New(t)
	store := state.NewStore(time.Minute)
	gc := newTestGridControl(store, nil)

	store.SetWithTTL(domain.SWITCH_ID_AUTO_INVERTER_MODE, "on", 0)
	gc.selectInverterMode(nil)
	_, ok := store.Lookup(domain.SENSOR_ID_INVERTER_MODE)
	require.False(ok, "skipped without battery soc")

	setInverterInputs(store)
	gc.selectInverterMode(nil)
	mode, ok := store.Lookup(domain.SENSOR_ID_INVERTER_MODE)
	require.True(ok)
	require.Contains([]domain.InverterMode{domain.INVERTER_MODE_ON, domain.INVERTER_MODE_OFF,
		domain.INVERTER_MODE_CHARGER_ONLY, domain.INVERTER_MODE_INVERTER_ONLY}, domain.InverterMode(mode))
	require.Equal(domain.InverterMode(mode), gc.lastMode)
}

func TestGridControlInverterModeSkipsMissingInputs(t *testing.T) {
	for _, id := range []string{
		domain.POINT_BATTERY_SOC,
		domain.NUMBER_ID_BATTERY_TARGET_SOC,
		domain.POINT_PV_POWER,
		domain.SENSOR_ID_ENERGY_SURPLUS,
		domain.POINT_HOUSE_DAILY_AVG_POWER,
	} {
		t.Run(id, func(t *testing.T) {
			require := require.New(t)
			store := state.NewStore(time.Minute)
			gc := newTestGridControl(store, nil)

			store.SetWithTTL(domain.SWITCH_ID_AUTO_INVERTER_MODE, "on", 0)
			setInverterInputs(store)
			store.Delete(id)

			gc.selectInverterMode(nil)
			_, ok := store.Lookup(domain.SENSOR_ID_INVERTER_MODE)
			require.False(ok, "no mode without %s", id)
			_, ok = store.Lookup(domain.SWITCH_ID_BATTERY_FORCE_CHARGE)
			require.False(ok)
			require.Empty(gc.lastMode)
		})
	}
}

func TestGridControlInverterModeForceCharge(t *testing.T) {
	require := require.New(t)
	store := state.NewStore(time.Minute)
	gc := newTestGridControl(store, nil)

	store.SetWithTTL(domain.SWITCH_ID_AUTO_INVERTER_MODE, "on", 0)
	setInverterInputs(store)
	store.Set(domain.POINT_BATTERY_SOC, "40")
	store.SetWithTTL(domain.NUMBER_ID_BATTERY_TARGET_SOC, "80", 0)
	// any tariff is below this charge price
	store.SetWithTTL(domain.NUMBER_ID_MAX_CHARGE_PRICE, "10", 0)
	store.SetWithTTL(domain.NUMBER_ID_FORCE_CHARGE_UP_TO, "90", 0)

	gc.selectInverterMode(nil)
	require.Equal(string(domain.INVERTER_MODE_ON), storeValue(store, domain.SENSOR_ID_INVERTER_MODE))
	require.True(domain.ForceChargeSwitch.Read(store).OrElse(false))
}

func setInverterInputs(store *state.Store) {
	store.Set(domain.POINT_BATTERY_SOC, "60")
	store.SetWithTTL(domain.NUMBER_ID_BATTERY_TARGET_SOC, "50", 0)
	store.Set(domain.POINT_PV_POWER, "0")
	store.SetWithTTL(domain.SENSOR_ID_ENERGY_SURPLUS, "0", 0)
	store.Set(domain.POINT_HOUSE_DAILY_AVG_POWER, "500")
}

func TestGridControlSensors(t *testing.T) {
	require := require.New(t)
	store := state.NewStore(time.Minute)
	gc := newTestGridControl(store, nil)

	gc.updateSensors()
	_, ok := store.Lookup(domain.SENSOR_ID_ELECTRICITY_PRICE)
	require.True(ok)
	_, ok = store.Lookup(domain.BINARY_SENSOR_ID_LOW_PRICE)
	require.True(ok)
	_, ok = store.Lookup(domain.SENSOR_ID_BATTERY_ENERGY)
	require.False(ok, "battery sensors need capacity and soc")

	store.Set(domain.POINT_BATTERY_CAPACITY, "10")
	store.Set(domain.POINT_BATTERY_SOC, "50")
	store.SetWithTTL(domain.SWITCH_ID_AUTO_BATTERY_TARGET_SOC, "on", 0)
	gc.updateSensors()
	require.Equal("5.00", storeValue(store, domain.SENSOR_ID_BATTERY_ENERGY))
	_, ok = domain.EnergySurplus.Read(store).Get()
	require.True(ok, "seasonal surplus without pv forecast")
	target, ok := domain.BatteryTargetSOC.Read(store).Get()
	require.True(ok)
	require.GreaterOrEqual(target, 0.0)
	require.LessOrEqual(target, 100.0)
	_, ok = store.Lookup(domain.SENSOR_ID_BATTERY_MINIMAL_SOC)
	require.True(ok)
}

func TestGridControlActor(t *testing.T) {
	require := require.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	context := as.Root

	store := state.NewStore(time.Minute)
	store.SetWithTTL(domain.SWITCH_ID_AUTO_SETPOINT, "on", 0)
	store.SetWithTTL(domain.SWITCH_ID_AUTO_INVERTER_MODE, "on", 0)
	store.SetWithTTL(domain.SENSOR_ID_GRID_SETPOINT_TARGET, "-800", 0)
	setInverterInputs(store)

	gx := victron_modbus.NewTestGXClient(60)
	victronPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewVictronActor(&cfg, gx, nil, store, logger)
	}))
	defer context.Stop(victronPID)

	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return newTestGridControl(store, victronPID)
	}))
	defer context.Stop(pid)

	hcr, err := healthCheck(context, pid)
	require.NoError(err)
	require.Equal("running", hcr.State)

	require.Eventually(func() bool { return gx.Writes() >= 2 }, 3*time.Second, 50*time.Millisecond)
	setpoint, err := gx.GridSetpoint()
	require.NoError(err)
	require.Equal(domain.GridSetpoint.Read(store).OrElse(0), float64(setpoint))

	mode, err := gx.SwitchMode()
	require.NoError(err)
	selected, ok := domain.InverterModeFromPayload(mode)
	require.True(ok)
	require.Equal(string(selected), storeValue(store, domain.SENSOR_ID_INVERTER_MODE))
}
