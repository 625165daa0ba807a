package victron_modbus

import (
	"sync"
	"time"

	"github.com/simonvetter/modbus"
)

type ModbusClient struct {
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
	// unit id switching and the following request must not interleave
	mu sync.Mutex
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

func (c *ModbusClient) readRegister(unitId uint8, addr uint16, regType modbus.RegType) (uint16, error) {
	defer RecordTimer("ReadRegister", c.instrument)()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.client.SetUnitId(unitId); err != nil {
		return 0, err
	}
	return c.client.ReadRegister(addr, regType)
}

func (c *ModbusClient) writeRegister(unitId uint8, addr uint16, value uint16) error {
	defer RecordTimer("WriteRegister", c.instrument)()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.client.SetUnitId(unitId); err != nil {
		return err
	}
	return c.client.WriteRegister(addr, value)
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}
