package actor

import (
	"testing"
	"time"

	"github.com/berfenger/hems2mqtt/internal/adapter/state"
	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/util"
	"github.com/berfenger/hems2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMQTTActor(t *testing.T) {
	require := require.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	context := as.Root

	es := eventstream.EventStream{}
	store := state.NewStore(time.Minute)
	mqttActor := NewTestMQTTActor(&cfg, &es, store, logger)
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor { return mqttActor }))
	defer context.Stop(pid)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(err)
	resp, ok := result.(domain.ActorHealthResponse)
	require.True(ok)
	require.True(resp.Healthy)

	es.Publish(domain.FloatEvent(domain.SENSOR_ID_GRID_SETPOINT, -20, 0))
	es.Publish(domain.SwitchEvent(domain.SWITCH_ID_AUTO_SETPOINT, true))
	es.Publish(domain.NumberEvent(domain.NUMBER_ID_EV_REQUIRED_SOC, 80, 1))
	es.Publish(domain.AttributesEvent(domain.SENSOR_ID_ENERGY_SURPLUS, map[string]any{"source": "forecast"}))
	es.Publish(domain.CommandEvent{Topic: "charger/switch/set", Payload: "on"})

	require.Eventually(func() bool { return len(mqttActor.Published()) == 5 }, 2*time.Second, 50*time.Millisecond)

	published := lo.KeyBy(mqttActor.Published(), func(m RawMessage) string { return m.Topic })
	require.Equal("-20", published["hems/sensor/grid_setpoint/state"].Message)
	require.False(published["hems/sensor/grid_setpoint/state"].Retain)
	require.Equal("on", published["hems/switch/auto_setpoint/state"].Message)
	require.True(published["hems/switch/auto_setpoint/state"].Retain)
	require.Equal("80.0", published["hems/number/ev_required_soc/state"].Message)
	require.JSONEq(`{"source":"forecast"}`, published["hems/sensor/energy_surplus/attributes"].Message)
	require.Equal("on", published["charger/switch/set"].Message)
}

func TestMQTTActorStoresIncomingState(t *testing.T) {
	require := require.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	context := as.Root

	store := state.NewStore(time.Minute)
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewTestMQTTActor(&cfg, &eventstream.EventStream{}, store, logger)
	}))
	defer context.Stop(pid)

	context.Send(pid, RawMessage{Topic: "hass/state/battery_soc", Message: "64"})
	context.Send(pid, RawMessage{Topic: "solcast/forecast", Message: "[]"})
	context.Send(pid, RawMessage{Topic: "hems/switch/auto_ev_charging/state", Message: "on"})
	context.Send(pid, RawMessage{Topic: "unrelated/topic", Message: "1"})

	// health request is answered after the raw messages were processed
	_, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(err)

	soc, ok := domain.BatterySOC.Read(store).Get()
	require.True(ok)
	require.Equal(64.0, soc)
	forecast, ok := store.Lookup(domain.POINT_PV_FORECAST)
	require.True(ok)
	require.Equal("[]", forecast)
	require.True(domain.AutoEVCharging.Read(store).OrElse(false))
	require.Len(store.Snapshot(), 3)
}

func TestMQTTActorPublishRequests(t *testing.T) {
	require := require.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	context := as.Root

	mqttActor := NewTestMQTTActor(&cfg, &eventstream.EventStream{}, state.NewStore(time.Minute), logger)
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor { return mqttActor }))
	defer context.Stop(pid)

	result, err := context.RequestFuture(pid, domain.PublishMessageRequest{
		Topic:   cfg.Victron.SetpointTopic(),
		Payload: `{"value":-50}`,
	}, 2*time.Second).Result()
	require.NoError(err)
	_, ok := result.(domain.PublishMessageResponse)
	require.True(ok)

	device := domain.IdDevice(domain.BridgeDevice(cfg.MQTT.BaseTopic))
	context.Send(pid, domain.PublishDiscoveryRequest{
		Switches:     domain.AutomationSwitches(device),
		InputNumbers: domain.AutomationInputNumbers(device),
	})

	expected := 1 + len(domain.AutomationSwitches(device)) + len(domain.AutomationInputNumbers(device))
	require.Eventually(func() bool { return len(mqttActor.Published()) == expected }, 2*time.Second, 50*time.Millisecond)
	first := mqttActor.Published()[0]
	require.Equal("victron/W/venus/settings/0/Settings/CGwacs/AcPowerSetPoint", first.Topic)
	require.Equal(`{"value":-50}`, first.Message)
	for _, m := range mqttActor.Published()[1:] {
		require.Contains(m.Topic, "homeassistant/")
		require.True(m.Retain)
	}
}

func TestEvent2MQTTMessageIgnoresUnknownEvents(t *testing.T) {
	cfg := util.LoadTestConfig()
	act := NewTestMQTTActor(&cfg, nil, nil, zap.NewNop())
	require.Nil(t, act.event2MQTTMessage("not an event"))
}
