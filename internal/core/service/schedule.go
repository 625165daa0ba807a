package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/jinzhu/now"
	"github.com/mitchellh/mapstructure"
)

// SlotData holds the optional per-drive requirement. Required is a SoC in percent, Distance in km.
type SlotData struct {
	Required *float64 `mapstructure:"required" yaml:"required" json:"required,omitempty"`
	Distance *float64 `mapstructure:"distance" yaml:"distance" json:"distance,omitempty"`
}

type WeeklySlot struct {
	From string   `mapstructure:"from" yaml:"from" json:"from"`
	To   string   `mapstructure:"to" yaml:"to" json:"to"`
	Data SlotData `mapstructure:"data" yaml:"data" json:"data"`
}

// WeeklySchedule maps lower case weekday names to their drive slots.
type WeeklySchedule map[string][]WeeklySlot

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

type ScheduleParser struct {
	KWhPer100km float64
	EVCapacity  float64
}

func NewScheduleParser(kwhPer100km float64) *ScheduleParser {
	if kwhPer100km <= 0 {
		kwhPer100km = domain.DEFAULT_KWH_PER_100KM
	}
	return &ScheduleParser{
		KWhPer100km: kwhPer100km,
		EVCapacity:  domain.EV_CAPACITY_KWH,
	}
}

// DecodeWeekly converts a loosely typed schedule document (decoded JSON or YAML) into a WeeklySchedule.
func DecodeWeekly(raw map[string]any) (WeeklySchedule, error) {
	var schedule WeeklySchedule
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &schedule,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode weekly schedule: %w", err)
	}
	return schedule, nil
}

// Parse resolves every weekday slot to its next occurrence, today included, and returns the
// drives sorted by start. Unknown weekdays and slots with unparsable or inverted times are skipped.
func (p *ScheduleParser) Parse(weekly WeeklySchedule, t time.Time, defaultSOC float64) []domain.ScheduleEntry {
	today := now.With(t).BeginningOfDay()
	entries := []domain.ScheduleEntry{}
	for day, slots := range weekly {
		weekday, ok := weekdays[strings.ToLower(strings.TrimSpace(day))]
		if !ok {
			continue
		}
		offset := (int(weekday) - int(today.Weekday()) + 7) % 7
		date := today.AddDate(0, 0, offset)
		for _, slot := range slots {
			start, err := atTimeOfDay(date, slot.From)
			if err != nil {
				continue
			}
			end, err := atTimeOfDay(date, slot.To)
			if err != nil || !start.Before(end) {
				continue
			}
			soc := p.requiredSOC(slot.Data, defaultSOC)
			entries = append(entries, domain.ScheduleEntry{
				Start:       start,
				End:         end,
				RequiredSOC: &soc,
				Distance:    slot.Data.Distance,
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Start.Before(entries[j].Start)
	})
	return entries
}

func (p *ScheduleParser) requiredSOC(data SlotData, defaultSOC float64) float64 {
	if data.Required != nil && *data.Required > 0 {
		return *data.Required
	}
	if data.Distance != nil && *data.Distance > 0 {
		// 20% margin on top of the expected consumption
		return *data.Distance / 100 * p.KWhPer100km / p.EVCapacity * 100 * 1.2
	}
	return defaultSOC
}

func atTimeOfDay(date time.Time, clock string) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if c, err := time.Parse(layout, clock); err == nil {
			return time.Date(date.Year(), date.Month(), date.Day(), c.Hour(), c.Minute(), c.Second(), 0, date.Location()), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time of day %q", clock)
}

// NextDrive returns the first drive starting after t.
func NextDrive(schedule []domain.ScheduleEntry, t time.Time) *domain.ScheduleEntry {
	for i := range schedule {
		if schedule[i].Start.After(t) {
			return &schedule[i]
		}
	}
	return nil
}

// OngoingDrive returns the drive with start <= t < end.
func OngoingDrive(schedule []domain.ScheduleEntry, t time.Time) *domain.ScheduleEntry {
	for i := range schedule {
		if !t.Before(schedule[i].Start) && t.Before(schedule[i].End) {
			return &schedule[i]
		}
	}
	return nil
}
