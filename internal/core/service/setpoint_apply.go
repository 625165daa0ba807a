package service

import (
	"math"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
)

const (
	DEFAULT_HOUSE_LOADS_W  = 500.0
	LOADS_SMOOTHING_FACTOR = 0.1
	SETPOINT_SLACK_W       = 30.0
)

type ApplySetpointInput struct {
	Target          float64
	MaxSetpoint     float64
	MaxFeedinTarget float64
	DailyAvgPower   float64
	HouseLoads      float64
	EVCharging      bool
}

// SetpointSmoother turns the planned setpoint target into the applied ESS setpoint. House loads are
// smoothed exponentially so short load spikes do not make the setpoint oscillate.
type SetpointSmoother struct {
	loads       float64
	initialized bool
}

func NewSetpointSmoother() *SetpointSmoother {
	return &SetpointSmoother{}
}

func (s *SetpointSmoother) Loads() float64 {
	if !s.initialized {
		return DEFAULT_HOUSE_LOADS_W
	}
	return s.loads
}

func (s *SetpointSmoother) ApplySetpoint(in ApplySetpointInput) float64 {
	if !s.initialized {
		s.loads = in.HouseLoads
		s.initialized = true
	}
	s.loads = s.loads*(1-LOADS_SMOOTHING_FACTOR) + LOADS_SMOOTHING_FACTOR*in.HouseLoads

	var setpoint float64
	if in.Target < in.MaxSetpoint-SETPOINT_SLACK_W {
		diff := in.DailyAvgPower - s.loads
		setpoint = math.Round(math.Max(-in.MaxFeedinTarget, math.Min(in.MaxSetpoint, in.Target-diff)))
	} else {
		setpoint = math.Min(in.MaxSetpoint, in.Target)
	}
	if in.EVCharging {
		setpoint = domain.SETPOINT_CEILING_W
	}
	return math.Round(setpoint)
}
