package actor

import (
	"testing"
	"time"

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

func TestVictronActorModbus(t *testing.T) {
	require := require.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	context := as.Root

	gx := victron_modbus.NewTestGXClient(57)
	store := state.NewStore(time.Minute)
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewVictronActor(&cfg, gx, nil, store, logger)
	}))
	defer context.Stop(pid)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(err)
	health := result.(domain.ActorHealthResponse)
	require.True(health.Healthy)
	require.Equal("modbus", health.State)

	result, err = context.RequestFuture(pid, domain.SetGridSetpointRequest{Watts: -150}, 5*time.Second).Result()
	require.NoError(err)
	resp, ok := result.(domain.SetGridSetpointResponse)
	require.True(ok)
	require.False(resp.HasResponseError())
	setpoint, err := gx.GridSetpoint()
	require.NoError(err)
	require.Equal(int16(-150), setpoint)
	require.Equal(1, gx.Writes())

	// an unchanged setpoint is not written again
	_, err = context.RequestFuture(pid, domain.SetGridSetpointRequest{Watts: -150}, 5*time.Second).Result()
	require.NoError(err)
	require.Equal(1, gx.Writes())

	result, err = context.RequestFuture(pid, domain.SetInverterModeRequest{Mode: domain.INVERTER_MODE_CHARGER_ONLY}, 5*time.Second).Result()
	require.NoError(err)
	require.False(result.(domain.SetInverterModeResponse).HasResponseError())
	mode, err := gx.SwitchMode()
	require.NoError(err)
	require.Equal(domain.INVERTER_MODE_CHARGER_ONLY.Payload(), mode)
	require.Equal(2, gx.Writes())

	// first poll runs one second after start
	require.Eventually(func() bool {
		soc, ok := domain.BatterySOC.Read(store).Get()
		return ok && soc == 57
	}, 5*time.Second, 100*time.Millisecond)
	current, ok := domain.InverterModeState.Read(store).Get()
	require.True(ok)
	require.Equal(float64(domain.INVERTER_MODE_CHARGER_ONLY.Payload()), current)
	require.Equal(2, gx.Writes())
}

func TestVictronActorMQTT(t *testing.T) {
	require := require.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	context := as.Root

	mqttActor := NewTestMQTTActor(&cfg, &eventstream.EventStream{}, state.NewStore(time.Minute), logger)
	mqttPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor { return mqttActor }))
	defer context.Stop(mqttPID)

	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewVictronActor(&cfg, nil, mqttPID, nil, logger)
	}))
	defer context.Stop(pid)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(err)
	require.Equal("mqtt", result.(domain.ActorHealthResponse).State)

	_, err = context.RequestFuture(pid, domain.SetGridSetpointRequest{Watts: 300}, 2*time.Second).Result()
	require.NoError(err)
	_, err = context.RequestFuture(pid, domain.SetGridSetpointRequest{Watts: 300}, 2*time.Second).Result()
	require.NoError(err)
	_, err = context.RequestFuture(pid, domain.SetInverterModeRequest{Mode: domain.INVERTER_MODE_ON}, 2*time.Second).Result()
	require.NoError(err)

	require.Eventually(func() bool { return len(mqttActor.Published()) == 2 }, 2*time.Second, 50*time.Millisecond)
	published := mqttActor.Published()
	require.Equal(cfg.Victron.SetpointTopic(), published[0].Topic)
	require.JSONEq(`{"value":300}`, published[0].Message)
	require.Equal("victron/W/venus/vebus/275/Mode", published[1].Topic)
	require.JSONEq(`{"value":3}`, published[1].Message)
}
