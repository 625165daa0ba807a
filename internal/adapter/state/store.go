package state

import (
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/port"
	"github.com/patrickmn/go-cache"
)

// Store keeps the last raw value of every point. Values set with a TTL read as missing once expired,
// which is how stale sensor readings fall back to their defaults.
type Store struct {
	cache  *cache.Cache
	maxAge time.Duration
}

// NewStore creates a store whose Set uses maxAge as TTL. A zero maxAge keeps values forever.
func NewStore(maxAge time.Duration) *Store {
	ttl := maxAge
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Store{
		cache:  cache.New(ttl, time.Minute),
		maxAge: ttl,
	}
}

func (s *Store) Lookup(id string) (string, bool) {
	v, ok := s.cache.Get(id)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

func (s *Store) Set(id string, value string) {
	s.cache.Set(id, value, cache.DefaultExpiration)
}

func (s *Store) SetWithTTL(id string, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	s.cache.Set(id, value, ttl)
}

// SetIfMissing stores value unless the id already holds a live value.
func (s *Store) SetIfMissing(id string, value string) bool {
	return s.cache.Add(id, value, cache.NoExpiration) == nil
}

func (s *Store) Delete(id string) {
	s.cache.Delete(id)
}

func (s *Store) Snapshot() map[string]string {
	items := s.cache.Items()
	snapshot := make(map[string]string, len(items))
	for id, item := range items {
		if str, ok := item.Object.(string); ok {
			snapshot[id] = str
		}
	}
	return snapshot
}

// ensure interface compliance
var _ port.StateStore = (*Store)(nil)
