package state

import (
	"testing"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreReadsTypedPoints(t *testing.T) {

	require := require.New(t)
	s := NewStore(0)

	s.Set(domain.POINT_BATTERY_SOC, "55.5")
	s.Set(domain.POINT_EV_CHARGING, "on")
	s.Set(domain.POINT_PV_POWER, "unavailable")

	require.Equal(55.5, domain.BatterySOC.Read(s).OrElse(0))
	require.True(domain.EVCharging.Read(s).OrElse(false))
	require.False(domain.PVPower.Read(s).IsPresent())
	require.False(domain.HouseLoads.Read(s).IsPresent())

	s.Delete(domain.POINT_BATTERY_SOC)
	require.Equal(10.0, domain.BatterySOC.Read(s).OrElse(10))
}

func TestStoreExpiresStaleValues(t *testing.T) {

	require := require.New(t)
	s := NewStore(time.Hour)

	s.SetWithTTL(domain.POINT_HOUSE_LOADS, "700", 20*time.Millisecond)
	s.SetWithTTL(domain.SWITCH_ID_AUTO_SETPOINT, "on", 0)
	require.Equal(700.0, domain.HouseLoads.Read(s).OrElse(0))

	time.Sleep(50 * time.Millisecond)
	require.False(domain.HouseLoads.Read(s).IsPresent())
	require.True(domain.AutoSetpoint.Read(s).OrElse(false))
}

func TestStoreSnapshotAndSetIfMissing(t *testing.T) {

	assert := assert.New(t)
	s := NewStore(0)

	assert.True(s.SetIfMissing(domain.NUMBER_ID_MAX_SETPOINT, "-20"))
	assert.False(s.SetIfMissing(domain.NUMBER_ID_MAX_SETPOINT, "-100"))
	s.Set(domain.POINT_BATTERY_SOC, "40")

	assert.Equal(map[string]string{
		domain.NUMBER_ID_MAX_SETPOINT: "-20",
		domain.POINT_BATTERY_SOC:      "40",
	}, s.Snapshot())
}
