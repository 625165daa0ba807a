package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/core/port"
	"go.uber.org/zap"
)

const (
	DEFAULT_PHASE_COOLDOWN = 15 * time.Minute
	DEFAULT_SWITCH_DELAY   = 5 * time.Second
	DEFAULT_PHASE_DELAY    = 20 * time.Second
)

var ErrPhaseCooldown = errors.New("phase change too frequent, cooldown active")

// ChargerController executes charge decisions against the charger. It owns the timestamp of the last
// phase change, phase changes within the cooldown are refused.
type ChargerController struct {
	Hardware      port.ChargerHardware
	PhaseCooldown time.Duration
	SwitchDelay   time.Duration
	PhaseDelay    time.Duration
	Now           func() time.Time
	Sleep         func(ctx context.Context, d time.Duration) error
	Logger        *zap.Logger

	mu              sync.Mutex
	lastPhaseChange time.Time
}

func NewChargerController(hardware port.ChargerHardware, logger *zap.Logger) *ChargerController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChargerController{
		Hardware:      hardware,
		PhaseCooldown: DEFAULT_PHASE_COOLDOWN,
		SwitchDelay:   DEFAULT_SWITCH_DELAY,
		PhaseDelay:    DEFAULT_PHASE_DELAY,
		Now:           time.Now,
		Sleep:         sleepContext,
		Logger:        logger,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Apply turns the charger off or sets phases/current and turns it on. A refused phase change keeps the
// current phases and still turns the charger on.
func (c *ChargerController) Apply(ctx context.Context, d domain.ChargeDecision) error {
	if d.Action != domain.CHARGE_ACTION_ON {
		_, err := c.TurnOff(ctx, d.Reason)
		return err
	}
	if err := c.SetPhasesAndCurrent(ctx, d.Phases, d.Current, d.Reason); err != nil && !errors.Is(err, ErrPhaseCooldown) {
		return err
	}
	_, err := c.TurnOn(ctx, d.Reason)
	return err
}

// EnableForceCharge switches the charger on at full power.
func (c *ChargerController) EnableForceCharge(ctx context.Context) error {
	if err := c.Hardware.SetSwitch(ctx, true); err != nil {
		return err
	}
	return c.SetPhasesAndCurrent(ctx, domain.CHARGER_MAX_PHASES, domain.CHARGER_MAX_CURRENT,
		"force charge enabled, setting max power")
}

func (c *ChargerController) TurnOn(ctx context.Context, reason string) (bool, error) {
	if c.Hardware.State().SwitchOn {
		return true, nil
	}
	c.Logger.Info("turning on charger", zap.String("reason", reason))
	if err := c.Hardware.SetSwitch(ctx, true); err != nil {
		return false, err
	}
	if err := c.Sleep(ctx, c.SwitchDelay); err != nil {
		return false, err
	}
	return c.Hardware.State().SwitchOn, nil
}

// TurnOff switches the charger off unless force charge is on.
func (c *ChargerController) TurnOff(ctx context.Context, reason string) (bool, error) {
	state := c.Hardware.State()
	if state.ForceCharge {
		c.Logger.Info("not turning off charger, force charge is on", zap.String("reason", reason))
		return state.SwitchOn, nil
	}
	if !state.SwitchOn {
		return false, nil
	}
	c.Logger.Info("turning off charger", zap.String("reason", reason))
	if err := c.Hardware.SetSwitch(ctx, false); err != nil {
		return true, err
	}
	if err := c.Sleep(ctx, c.SwitchDelay); err != nil {
		return true, err
	}
	return c.Hardware.State().SwitchOn, nil
}

// SetCurrent skips currents outside of the charger range.
func (c *ChargerController) SetCurrent(ctx context.Context, current int, reason string) error {
	configured := c.Hardware.State().Current
	if configured == current {
		c.Logger.Debug("current already set", zap.Int("current", current))
		return nil
	}
	if current < domain.CHARGER_MIN_CURRENT || current > domain.CHARGER_MAX_CURRENT {
		c.Logger.Warn("current out of bounds, skipping", zap.Int("current", current), zap.String("reason", reason))
		return nil
	}
	c.Logger.Info("setting current", zap.Int("from", configured), zap.Int("to", current), zap.String("reason", reason))
	return c.Hardware.SetCurrent(ctx, current)
}

// SetPhasesAndCurrent sets the current and, if needed, switches phases. Switching phases turns a
// running charger off, waits for the charger to settle and turns it back on.
func (c *ChargerController) SetPhasesAndCurrent(ctx context.Context, phases int, current int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	enabled := c.Hardware.State().SwitchOn
	if err := c.SetCurrent(ctx, current, reason); err != nil {
		return err
	}

	configured := c.Hardware.State().Phases
	if configured == phases {
		return nil
	}
	if c.lastPhaseChange.After(c.Now().Add(-c.PhaseCooldown)) {
		c.Logger.Warn("phase change too frequent, cooldown active", zap.String("reason", reason))
		return ErrPhaseCooldown
	}

	c.Logger.Info("setting phases", zap.Int("from", configured), zap.Int("to", phases), zap.Int("current", current),
		zap.String("reason", reason))
	if enabled {
		if _, err := c.TurnOff(ctx, "phase change"); err != nil {
			return err
		}
	}
	if err := c.Hardware.SetPhases(ctx, phases, domain.CHARGER_MAX_CURRENT); err != nil {
		return err
	}
	c.lastPhaseChange = c.Now()
	if err := c.Sleep(ctx, c.PhaseDelay); err != nil {
		return err
	}
	if enabled {
		if _, err := c.TurnOn(ctx, "phase change"); err != nil {
			return err
		}
	}
	return nil
}

func (c *ChargerController) LastPhaseChange() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPhaseChange
}
