package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-05-08 is a Wednesday
var wednesday = time.Date(2024, 5, 8, 10, 0, 0, 0, time.Local)

func ptr[T any](v T) *T {
	return &v
}

func TestParseNextMonday(t *testing.T) {

	require := require.New(t)

	p := NewScheduleParser(18)
	entries := p.Parse(WeeklySchedule{
		"monday": {{From: "07:30", To: "17:00"}},
	}, wednesday, 80)

	require.Len(entries, 1)
	e := entries[0]
	require.Equal(time.Monday, e.Start.Weekday())
	require.Equal(time.Date(2024, 5, 13, 7, 30, 0, 0, time.Local), e.Start)
	require.Equal(time.Date(2024, 5, 13, 17, 0, 0, 0, time.Local), e.End)
	require.NotNil(e.RequiredSOC)
	require.Equal(80.0, *e.RequiredSOC)
}

func TestParseIncludesToday(t *testing.T) {

	require := require.New(t)

	p := NewScheduleParser(18)
	entries := p.Parse(WeeklySchedule{
		"wednesday": {{From: "07:00", To: "08:00"}},
	}, wednesday, 80)

	require.Len(entries, 1)
	require.Equal(8, entries[0].Start.Day())
}

func TestParseRequiredFromDistance(t *testing.T) {

	assert := assert.New(t)

	p := NewScheduleParser(18)
	entries := p.Parse(WeeklySchedule{
		"friday":   {{From: "09:00", To: "10:00", Data: SlotData{Distance: ptr(200.0)}}},
		"thursday": {{From: "09:00", To: "10:00", Data: SlotData{Required: ptr(55.0), Distance: ptr(10.0)}}},
	}, wednesday, 80)

	assert.Len(entries, 2)
	// sorted by start
	assert.Equal(time.Thursday, entries[0].Start.Weekday())
	assert.Equal(55.0, *entries[0].RequiredSOC)
	// 200 / 100 * 18 / 60 * 100 * 1.2
	assert.InDelta(72.0, *entries[1].RequiredSOC, 1e-9)
	assert.Equal(200.0, *entries[1].Distance)
}

func TestParseSkipsUnknownAndInvalid(t *testing.T) {

	require := require.New(t)

	p := NewScheduleParser(18)
	entries := p.Parse(WeeklySchedule{
		"someday":  {{From: "07:00", To: "08:00"}},
		"tuesday":  {{From: "09:00", To: "08:00"}},
		"saturday": {{From: "xx", To: "08:00"}, {From: "06:00:00", To: "08:00:00"}},
	}, wednesday, 80)

	require.Len(entries, 1)
	require.Equal(time.Saturday, entries[0].Start.Weekday())
	require.Equal(6, entries[0].Start.Hour())
}

func TestDecodeWeekly(t *testing.T) {

	require := require.New(t)

	raw := map[string]any{
		"monday": []any{
			map[string]any{"from": "07:30", "to": "17:00", "data": map[string]any{"required": "60"}},
		},
		"sunday": []any{},
	}
	w, err := DecodeWeekly(raw)
	require.NoError(err)
	require.Len(w["monday"], 1)
	require.Equal("07:30", w["monday"][0].From)
	require.Equal(60.0, *w["monday"][0].Data.Required)
	require.Empty(w["sunday"])
}

func TestNextAndOngoingDrive(t *testing.T) {

	require := require.New(t)

	p := NewScheduleParser(18)
	entries := p.Parse(WeeklySchedule{
		"wednesday": {{From: "09:00", To: "11:00"}, {From: "15:00", To: "16:00"}},
	}, wednesday, 80)

	require.Len(entries, 2)
	ongoing := OngoingDrive(entries, wednesday)
	require.NotNil(ongoing)
	require.Equal(9, ongoing.Start.Hour())

	next := NextDrive(entries, wednesday)
	require.NotNil(next)
	require.Equal(15, next.Start.Hour())

	require.Nil(NextDrive(entries, wednesday.Add(8*time.Hour)))
}
