package port

import "context"

type ChargerState struct {
	SwitchOn    bool
	Current     int
	Phases      int
	ForceCharge bool
}

// ChargerHardware executes raw charger commands. Every call returns once the command was sent,
// settle delays are the caller's concern.
type ChargerHardware interface {
	State() ChargerState
	SetSwitch(ctx context.Context, on bool) error
	SetCurrent(ctx context.Context, amps int) error
	SetPhases(ctx context.Context, phases int, amps int) error
}
