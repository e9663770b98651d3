// Package telemetry maps loosely typed upstream payloads onto core.TelemetryPoint.
//
// Upstream device APIs disagree on field names and nesting, and frequently
// send numbers as strings. Normalization never fails on a malformed numeric
// field: it falls back to zero (or core.UnknownStatus) so that a partially
// populated payload still yields a usable point. The only rejection is
// ErrNoFix, for payloads whose coordinates are both exactly zero.
package telemetry

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/fleetconsole/tracker/internal/geo"
	"github.com/fleetconsole/tracker/pkg/core"
	"github.com/spf13/cast"
)

// ErrNoFix is returned when a payload carries the degenerate (0,0) position.
var ErrNoFix = errors.New("no GPS fix")

// Field aliases, most specific first.
var (
	latitudeKeys   = []string{"latitude", "lat", "Latitude"}
	longitudeKeys  = []string{"longitude", "lng", "lon", "long", "Longitude"}
	speedKeys      = []string{"speedKmh", "speed", "speed_kmh"}
	headingKeys    = []string{"heading", "course", "direction", "angle"}
	satelliteKeys  = []string{"satellites", "satelliteCount", "sats"}
	batteryKeys    = []string{"batteryVoltage", "battery", "battery_voltage"}
	gsmKeys        = []string{"gsmSignal", "gsm", "signal"}
	altitudeKeys   = []string{"altitude", "alt", "altitudeMeters"}
	statusKeys     = []string{"deviceStatus", "status"}
	eventTimeKeys  = []string{"timestamp", "eventTime", "gpsTime", "time"}
	lastUpdateKeys = []string{"lastUpdate", "last_update", "updatedAt"}
)

// nestedKeys are sub-objects whose fields are merged into the top level.
var nestedKeys = []string{"data", "telemetry", "location", "gps", "position"}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e12

// Normalize converts a raw payload into a TelemetryPoint.
//
// Timestamp resolution order: an explicit event timestamp, then a "last
// update" field, then now. The last fallback manufactures a timestamp from
// the wall clock rather than failing, so points from payloads without any
// time field are ordered by arrival.
func Normalize(raw map[string]any, now time.Time) (core.TelemetryPoint, error) {
	fields := flatten(raw)

	lat := floatField(fields, latitudeKeys)
	lng := floatField(fields, longitudeKeys)
	if lat == 0 && lng == 0 {
		return core.TelemetryPoint{}, ErrNoFix
	}

	speed := floatField(fields, speedKeys)
	if speed < 0 {
		speed = 0
	}

	status := core.UnknownStatus
	if v, ok := lookup(fields, statusKeys); ok {
		if s, err := cast.ToStringE(v); err == nil && strings.TrimSpace(s) != "" {
			status = s
		}
	}

	return core.TelemetryPoint{
		Position:       core.Position{Latitude: lat, Longitude: lng},
		SpeedKmh:       speed,
		HeadingDegrees: geo.NormalizeDegrees(floatField(fields, headingKeys)),
		Timestamp:      resolveTimestamp(fields, now),
		SatelliteCount: intField(fields, satelliteKeys),
		BatteryVoltage: floatField(fields, batteryKeys),
		GSMSignal:      intField(fields, gsmKeys),
		AltitudeMeters: floatField(fields, altitudeKeys),
		DeviceStatus:   status,
	}, nil
}

// envelopeKeys are wrapper fields that may hold the whole device record.
var envelopeKeys = []string{"data", "telemetry"}

// fieldSet is a stack of flattened maps searched in order.
type fieldSet []map[string]any

// flatten builds the field layers for raw. When the top level has no
// coordinates but an envelope does, the envelope is the device record and
// its fields come before the wrapper's, so a response-level "status" or
// "timestamp" cannot shadow the device's own.
func flatten(raw map[string]any) fieldSet {
	if !hasCoordinates(raw) {
		if record, ok := findRecord(raw, 0); ok {
			return fieldSet{flattenMap(record), flattenMap(raw)}
		}
	}
	return fieldSet{flattenMap(raw)}
}

func findRecord(m map[string]any, depth int) (map[string]any, bool) {
	if depth > 3 {
		return nil, false
	}
	for _, key := range envelopeKeys {
		sub, ok := m[key].(map[string]any)
		if !ok {
			continue
		}
		if hasCoordinates(sub) {
			return sub, true
		}
		if r, ok := findRecord(sub, depth+1); ok {
			return r, true
		}
	}
	return nil, false
}

func hasCoordinates(m map[string]any) bool {
	_, lat := lookupIn(m, latitudeKeys)
	_, lng := lookupIn(m, longitudeKeys)
	return lat && lng
}

// flattenMap merges known nested objects into a single map. Outer keys win
// over nested ones; earlier nested objects win over later ones.
func flattenMap(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	var merge func(m map[string]any, depth int)
	merge = func(m map[string]any, depth int) {
		for k, v := range m {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
		if depth > 3 {
			return
		}
		for _, key := range nestedKeys {
			if sub, ok := m[key].(map[string]any); ok {
				merge(sub, depth+1)
			}
		}
	}
	merge(raw, 0)
	return out
}

func lookup(fields fieldSet, keys []string) (any, bool) {
	for _, m := range fields {
		if v, ok := lookupIn(m, keys); ok {
			return v, true
		}
	}
	return nil, false
}

func lookupIn(m map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if _, nested := v.(map[string]any); nested {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func floatField(fields fieldSet, keys []string) float64 {
	v, ok := lookup(fields, keys)
	if !ok {
		return 0
	}
	if n, isNum := v.(json.Number); isNum {
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	}
	if s, isStr := v.(string); isStr {
		v = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0
	}
	return f
}

func intField(fields fieldSet, keys []string) int {
	return int(floatField(fields, keys))
}

func resolveTimestamp(fields fieldSet, now time.Time) time.Time {
	if t, ok := timeField(fields, eventTimeKeys); ok {
		return t
	}
	if t, ok := timeField(fields, lastUpdateKeys); ok {
		return t
	}
	return now
}

func timeField(fields fieldSet, keys []string) (time.Time, bool) {
	for _, m := range fields {
		for _, k := range keys {
			v, ok := m[k]
			if !ok || v == nil {
				continue
			}
			if t, ok := parseTime(v); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func parseTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, !val.IsZero()
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		if t, err := cast.ToTimeE(s); err == nil {
			return t, true
		}
		if f, err := cast.ToFloat64E(s); err == nil {
			return fromEpoch(f)
		}
		return time.Time{}, false
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	default:
		f, err := cast.ToFloat64E(val)
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	}
}

func fromEpoch(f float64) (time.Time, bool) {
	if f <= 0 {
		return time.Time{}, false
	}
	if f > epochMillisThreshold {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), true
}
