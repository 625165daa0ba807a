package service

import (
	"math"
	"time"
)

type ExcessTargetInput struct {
	BatteryTargetSOC   float64
	BatterySOC         float64
	EVRequiredSOC      float64
	EVCharging         bool
	NextDrive          *time.Time
	PVPower            float64
	EVSOC              float64
	Now                time.Time
	EfficientDischarge bool
}

// ExcessTarget maps the battery SoC deviation from its target onto a sinusoidal power request.
// While the EV charges in efficient discharge mode and no drive is due within 24 h, part of a strong PV
// production is reserved for the EV.
func ExcessTarget(in ExcessTargetInput) float64 {
	absMax := 6000.0
	if in.EfficientDischarge {
		absMax = 2500
	}
	diff := (in.BatteryTargetSOC - in.BatterySOC) / 100 * 2 * math.Pi
	power := clip(math.Sin(clip(diff, -math.Pi/2, math.Pi/2))*absMax, -absMax, absMax)

	if in.EVCharging && in.EfficientDischarge {
		leaveSoon := in.NextDrive != nil && in.NextDrive.Sub(in.Now).Hours() < 24
		if !leaveSoon && in.PVPower > 2000 {
			if in.EVSOC > in.EVRequiredSOC {
				power = math.Max(power, in.PVPower-4000)
			} else {
				power = math.Max(power, in.PVPower/3)
			}
		}
	}
	return power
}
