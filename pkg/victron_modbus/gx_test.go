package victron_modbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateGXModbusClientDefaults(t *testing.T) {

	require := require.New(t)

	client, err := CreateGXModbusClient("127.0.0.1", 502, 0, 0, time.Second, zap.NewNop(), nil)
	require.NoError(err)
	gx := client.(*GXModbusClient)
	require.Equal(uint8(DEFAULT_SYSTEM_UNIT_ID), gx.systemUnitId)
	require.Equal(uint8(DEFAULT_VEBUS_UNIT_ID), gx.vebusUnitId)

	require.Error(gx.SetSwitchMode(0))
	require.Error(gx.SetSwitchMode(5))
}

func TestCreateGXModbusClientInvalidURL(t *testing.T) {

	_, err := CreateGXModbusClient("", 0, 100, 227, time.Second, zap.NewNop(), nil)
	require.Error(t, err)
}

func TestRecordTimer(t *testing.T) {

	require := require.New(t)
	var recorded []string
	done := RecordTimer("WriteRegister", []ModbusInstrument{{RecordTime: func(fnName string, _ time.Duration) {
		recorded = append(recorded, fnName)
	}}})
	done()
	require.Equal([]string{"WriteRegister"}, recorded)

	RecordTimer("noop", nil)()
}

func TestTestGXClient(t *testing.T) {

	require := require.New(t)
	c := NewTestGXClient(55)

	_, err := c.GridSetpoint()
	require.ErrorIs(err, ErrTestClientClosed)

	require.NoError(c.Open())
	require.NoError(c.SetGridSetpoint(-1500))
	v, err := c.GridSetpoint()
	require.NoError(err)
	require.Equal(int16(-1500), v)

	require.NoError(c.SetSwitchMode(1))
	mode, err := c.SwitchMode()
	require.NoError(err)
	require.Equal(uint16(1), mode)
	require.Error(c.SetSwitchMode(7))

	soc, err := c.BatterySOC()
	require.NoError(err)
	require.Equal(55.0, soc)
	require.Equal(2, c.Writes())
}
