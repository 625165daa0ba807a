package domain

import "fmt"

// SettingCommand

type SettingCommand interface {
	ActorRequest
	SettingId() string
	// StateValue is the value as it is kept in the state store.
	StateValue() string
	SettingCommand() string
}

type SettingCommandMixIn struct {
	ActorRequestMixIn
	Id string
}

func (r SettingCommandMixIn) SettingId() string {
	return r.Id
}

func (r SettingCommandMixIn) SettingCommand() string {
	return fmt.Sprintf("%T", r)
}

// Setting commands

type SetSwitchCommand struct {
	SettingCommandMixIn
	Enable bool
}

func (c SetSwitchCommand) StateValue() string {
	if c.Enable {
		return "on"
	}
	return "off"
}

type SetNumberCommand struct {
	SettingCommandMixIn
	Value float64
}

func (c SetNumberCommand) StateValue() string {
	return fmt.Sprintf("%g", c.Value)
}

type SettingCommandResponse struct {
	ActorResponseMixIn
	Changed bool
}

// ReplanTriggers are the settings whose change makes the setpoint plan stale.
var ReplanTriggers = map[string]bool{
	NUMBER_ID_MAX_FEEDIN_TARGET:    true,
	NUMBER_ID_MAX_PV_FEEDIN_TARGET: true,
	SWITCH_ID_AUTO_SETPOINT:        true,
}

// ensure interface compliance
var _ SettingCommand = (*SetSwitchCommand)(nil)
var _ SettingCommand = (*SetNumberCommand)(nil)
