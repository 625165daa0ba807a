package port

import (
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
)

// StateStore keeps the last raw value seen for every point and setting.
type StateStore interface {
	domain.StateSource
	Set(id string, value string)
	// SetWithTTL stores a value that is considered missing once ttl elapsed.
	SetWithTTL(id string, value string, ttl time.Duration)
	Delete(id string)
	Snapshot() map[string]string
}
