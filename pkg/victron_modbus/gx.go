package victron_modbus

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

const (
	DEFAULT_SYSTEM_UNIT_ID = 100
	DEFAULT_VEBUS_UNIT_ID  = 227

	REG_SYSTEM_BATTERY_SOC  = 843
	REG_ESS_GRID_SETPOINT   = 2700
	REG_VEBUS_SWITCH_MODE   = 33
	MIN_VEBUS_SWITCH_MODE   = 1
	MAX_VEBUS_SWITCH_MODE   = 4
	DEFAULT_CONNECT_RETRIES = 5
)

// GXClient reads and writes the ESS registers of a Victron GX device.
type GXClient interface {
	Open() error
	Close() error
	GridSetpoint() (int16, error)
	SetGridSetpoint(watts int16) error
	SwitchMode() (uint16, error)
	SetSwitchMode(mode uint16) error
	BatterySOC() (float64, error)
}

type GXModbusClient struct {
	*ModbusClient

	logger       *zap.Logger
	systemUnitId uint8
	vebusUnitId  uint8
	retries      uint64
}

// Open connects with exponential backoff.
func (gx *GXModbusClient) Open() error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return gx.client.Open()
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), gx.retries), func(err error, next time.Duration) {
		gx.logger.Warn("victron_modbus: connect failed, retrying", zap.Int("attempt", attempt),
			zap.Duration("next", next), zap.Error(err))
	})
}

func (gx *GXModbusClient) Close() error {
	return gx.client.Close()
}

func (gx *GXModbusClient) GridSetpoint() (int16, error) {
	v, err := gx.readRegister(gx.systemUnitId, REG_ESS_GRID_SETPOINT, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	return int16(v), nil
}

func (gx *GXModbusClient) SetGridSetpoint(watts int16) error {
	gx.logger.Debug("victron_modbus: write grid setpoint", zap.Int16("watts", watts))
	return gx.writeRegister(gx.systemUnitId, REG_ESS_GRID_SETPOINT, uint16(watts))
}

func (gx *GXModbusClient) SwitchMode() (uint16, error) {
	return gx.readRegister(gx.vebusUnitId, REG_VEBUS_SWITCH_MODE, modbus.HOLDING_REGISTER)
}

func (gx *GXModbusClient) SetSwitchMode(mode uint16) error {
	if mode < MIN_VEBUS_SWITCH_MODE || mode > MAX_VEBUS_SWITCH_MODE {
		return fmt.Errorf("victron_modbus: invalid switch mode %d", mode)
	}
	gx.logger.Debug("victron_modbus: write switch mode", zap.Uint16("mode", mode))
	return gx.writeRegister(gx.vebusUnitId, REG_VEBUS_SWITCH_MODE, mode)
}

func (gx *GXModbusClient) BatterySOC() (float64, error) {
	v, err := gx.readRegister(gx.systemUnitId, REG_SYSTEM_BATTERY_SOC, modbus.INPUT_REGISTER)
	if err != nil {
		return 0, err
	}
	return float64(v), nil
}

func CreateGXModbusClient(host string, port uint, systemUnitId uint8, vebusUnitId uint8, timeout time.Duration,
	logger *zap.Logger, instrumentation *ModbusInstrument) (GXClient, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	if systemUnitId == 0 {
		systemUnitId = DEFAULT_SYSTEM_UNIT_ID
	}
	if vebusUnitId == 0 {
		vebusUnitId = DEFAULT_VEBUS_UNIT_ID
	}

	var inst []ModbusInstrument
	if logger.Core().Enabled(zap.DebugLevel) {
		inst = append(inst, debugLoggerInstrumentation(logger))
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	return &GXModbusClient{
		ModbusClient: &ModbusClient{
			client:     client,
			instrument: inst,
		},
		logger:       logger,
		systemUnitId: systemUnitId,
		vebusUnitId:  vebusUnitId,
		retries:      DEFAULT_CONNECT_RETRIES,
	}, nil
}

func debugLoggerInstrumentation(logger *zap.Logger) ModbusInstrument {
	return ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("victron_modbus: timing", zap.String("fn", fnName), zap.Duration("took", readTime))
		},
	}
}

// ensure interface compliance
var _ GXClient = (*GXModbusClient)(nil)
