package schedule

import (
	"fmt"
	"os"

	"github.com/berfenger/hems2mqtt/internal/core/service"
	"gopkg.in/yaml.v3"
)

// Load reads a weekly drive schedule from a YAML file:
//
//	monday:
//	  - from: "07:30"
//	    to: "18:00"
//	    data:
//	      distance: 120
func Load(path string) (service.WeeklySchedule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (service.WeeklySchedule, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schedule file: %w", err)
	}
	if doc == nil {
		return service.WeeklySchedule{}, nil
	}
	return service.DecodeWeekly(doc)
}
