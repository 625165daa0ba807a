package victron_modbus

import (
	"errors"
	"sync"
)

var ErrTestClientClosed = errors.New("victron_modbus: client closed")

// TestGXClient is an in-memory GX device.
type TestGXClient struct {
	mu       sync.Mutex
	open     bool
	setpoint int16
	mode     uint16
	soc      float64
	writes   int
}

func NewTestGXClient(soc float64) *TestGXClient {
	return &TestGXClient{mode: 3, soc: soc, setpoint: -20}
}

func (c *TestGXClient) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	return nil
}

func (c *TestGXClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

func (c *TestGXClient) GridSetpoint() (int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, ErrTestClientClosed
	}
	return c.setpoint, nil
}

func (c *TestGXClient) SetGridSetpoint(watts int16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrTestClientClosed
	}
	c.setpoint = watts
	c.writes++
	return nil
}

func (c *TestGXClient) SwitchMode() (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, ErrTestClientClosed
	}
	return c.mode, nil
}

func (c *TestGXClient) SetSwitchMode(mode uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrTestClientClosed
	}
	if mode < MIN_VEBUS_SWITCH_MODE || mode > MAX_VEBUS_SWITCH_MODE {
		return errors.New("victron_modbus: invalid switch mode")
	}
	c.mode = mode
	c.writes++
	return nil
}

func (c *TestGXClient) BatterySOC() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, ErrTestClientClosed
	}
	return c.soc, nil
}

func (c *TestGXClient) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

var _ GXClient = (*TestGXClient)(nil)
