package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *MQTTClient {
	cfg := util.LoadTestConfig()
	return NewMQTTClient(&cfg, nil)
}

func TestParseCommand(t *testing.T) {

	require := require.New(t)
	c := testClient()

	cmd, err := c.ParseCommand("hems/switch/auto_setpoint/command", "off")
	require.NoError(err)
	require.Equal(ParsedMQTTCommand{DeviceId: "auto_setpoint", Command: COMMAND_SWITCH, Payload: "off"}, *cmd)

	cmd, err = c.ParseCommand("hems/number/max_setpoint/set", "-150")
	require.NoError(err)
	require.Equal(COMMAND_NUMBER, cmd.Command)
	require.Equal("max_setpoint", cmd.DeviceId)

	_, err = c.ParseCommand("hems/number/max_setpoint/set", "abc")
	require.Error(err)

	_, err = c.ParseCommand("other/switch/auto_setpoint/command", "on")
	require.Error(err)

	_, err = c.ParseCommand("hems/switch/auto_setpoint/state", "on")
	require.Error(err)
}

func TestPointTopics(t *testing.T) {

	topics := testClient().PointTopics([]string{domain.POINT_BATTERY_SOC, domain.POINT_PV_FORECAST})
	assert.Equal(t, map[string]string{
		"hass/state/battery_soc": domain.POINT_BATTERY_SOC,
		"solcast/forecast":       domain.POINT_PV_FORECAST,
	}, topics)
}

func TestParseSettingState(t *testing.T) {

	require := require.New(t)
	c := testClient()

	id, ok := c.ParseSettingState("hems/switch/auto_setpoint/state")
	require.True(ok)
	require.Equal("auto_setpoint", id)

	id, ok = c.ParseSettingState("hems/number/max_setpoint/state")
	require.True(ok)
	require.Equal("max_setpoint", id)

	_, ok = c.ParseSettingState("hems/sensor/grid_setpoint/state")
	require.False(ok)
	require.Equal([]string{"hems/switch/+/state", "hems/number/+/state"}, c.SettingStateTopics())
}

func TestSensorDiscoveryMessage(t *testing.T) {

	require := require.New(t)
	c := testClient()
	dev := domain.BridgeDevice("hems")
	sensors := domain.EngineSensors(dev)

	msg := GenericSensorToHADiscoveryMessage(c, sensors[0])
	require.Equal("hems/sensor/grid_setpoint_target/state", msg.StateTopic)
	require.Equal("hems/sensor/grid_setpoint_target/attributes", msg.JsonAttributesTopic)
	require.Equal("hems/bridge/state", msg.AvTopic)
	require.Equal("W", msg.UnitOfMeasurement)
	require.Equal("homeassistant/sensor/"+dev.Id+"/grid_setpoint_target/config", HADiscoverySensorTopic(c.DiscoveryPrefix(), sensors[0]))

	bridge := GenericSensorToHADiscoveryMessage(c, domain.BridgeSensors(dev)[0])
	require.Equal(MQTT_PAYLOAD_ONLINE, bridge.PayloadOn)
	require.Equal("hems/bridge/state", bridge.StateTopic)
}

func TestInputNumberDiscoveryKeepsZeroBounds(t *testing.T) {

	require := require.New(t)
	c := testClient()
	numbers := domain.AutomationInputNumbers(domain.BridgeDevice("hems"))

	var maxSetpoint domain.GenericInputNumber
	for _, n := range numbers {
		if n.Id == domain.NUMBER_ID_MAX_SETPOINT {
			maxSetpoint = n
		}
	}
	payload, err := json.Marshal(GenericInputNumberToHADiscoveryMessage(c, maxSetpoint))
	require.NoError(err)

	var decoded map[string]any
	require.NoError(json.Unmarshal(payload, &decoded))
	require.Equal(0.0, decoded["max"])
	require.Equal(-10000.0, decoded["min"])
	require.Equal("hems/number/max_setpoint/set", decoded["command_topic"])
}
