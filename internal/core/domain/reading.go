package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Reading is the typed result of a state lookup: either a present value or missing.
type Reading[T any] struct {
	value   T
	present bool
}

func Present[T any](value T) Reading[T] {
	return Reading[T]{value: value, present: true}
}

func Missing[T any]() Reading[T] {
	return Reading[T]{}
}

func (r Reading[T]) Get() (T, bool) {
	return r.value, r.present
}

func (r Reading[T]) IsPresent() bool {
	return r.present
}

func (r Reading[T]) OrElse(fallback T) T {
	if r.present {
		return r.value
	}
	return fallback
}

// StateSource is anything able to return the raw value last seen for a point id.
type StateSource interface {
	Lookup(id string) (string, bool)
}

type Point[T any] struct {
	Id    string
	parse func(string) (T, error)
}

func (p Point[T]) Read(src StateSource) Reading[T] {
	if src == nil {
		return Missing[T]()
	}
	raw, ok := src.Lookup(p.Id)
	if !ok {
		return Missing[T]()
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "unknown" || raw == "unavailable" {
		return Missing[T]()
	}
	v, err := p.parse(raw)
	if err != nil {
		return Missing[T]()
	}
	return Present(v)
}

func FloatPoint(id string) Point[float64] {
	return Point[float64]{Id: id, parse: func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	}}
}

func BoolPoint(id string) Point[bool] {
	return Point[bool]{Id: id, parse: parseBool}
}

func TimePoint(id string) Point[time.Time] {
	return Point[time.Time]{Id: id, parse: func(s string) (time.Time, error) {
		return time.Parse(time.RFC3339, s)
	}}
}

func TextPoint(id string) Point[string] {
	return Point[string]{Id: id, parse: func(s string) (string, error) {
		return s, nil
	}}
}

func JSONPoint[T any](id string) Point[T] {
	return Point[T]{Id: id, parse: func(s string) (T, error) {
		var v T
		err := json.Unmarshal([]byte(s), &v)
		return v, err
	}}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return strconv.ParseBool(s)
}
