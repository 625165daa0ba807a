package domain

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_VICTRON      = "victron"
	ACTOR_ID_PLANNER      = "planner"
	ACTOR_ID_EV_CHARGING  = "ev_charging"
	ACTOR_ID_GRID_CONTROL = "grid_control"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Switches     []GenericSwitch
	InputNumbers []GenericInputNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// GetPlanRequest asks the planner for the last setpoint search outcome.
type GetPlanRequest struct {
	ActorRequestMixIn
}

type GetPlanResponse struct {
	ActorResponseMixIn
	Result *SetpointResult
	// Applied is the setpoint after the final mapping against live readings.
	Applied float64
}

type GetSurplusRequest struct {
	ActorRequestMixIn
}

type GetSurplusResponse struct {
	ActorResponseMixIn
	Forecast *SurplusForecast
}

// ReplanRequest triggers an out-of-schedule planner run, e.g. after a setting changed.
type ReplanRequest struct {
	ActorRequestMixIn
	Reason string
}

type SetGridSetpointRequest struct {
	ActorRequestMixIn
	Watts int16
}

type SetGridSetpointResponse struct {
	ActorResponseMixIn
}

type SetInverterModeRequest struct {
	ActorRequestMixIn
	Mode InverterMode
}

type SetInverterModeResponse struct {
	ActorResponseMixIn
}
