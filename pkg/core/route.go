// pkg/core/route.go
package core

import (
	"sort"
	"time"
)

// Route is an ordered, immutable sequence of telemetry points for the
// half-open interval [Start, End).
type Route struct {
	DeviceID string
	Start    time.Time
	End      time.Time
	points   []TelemetryPoint
}

// NewRoute copies points into a Route ordered by timestamp.
// Points sharing a timestamp keep their input order.
func NewRoute(deviceID string, start, end time.Time, points []TelemetryPoint) Route {
	cp := make([]TelemetryPoint, len(points))
	copy(cp, points)
	sort.SliceStable(cp, func(i, j int) bool {
		return cp[i].Timestamp.Before(cp[j].Timestamp)
	})
	return Route{DeviceID: deviceID, Start: start, End: end, points: cp}
}

// Len returns the number of points.
func (r Route) Len() int { return len(r.points) }

// Empty reports whether the route holds no points.
func (r Route) Empty() bool { return len(r.points) == 0 }

// At returns the point at index i. It panics when i is out of range, like a slice.
func (r Route) At(i int) TelemetryPoint { return r.points[i] }

// First returns the earliest point.
func (r Route) First() TelemetryPoint { return r.points[0] }

// Last returns the latest point.
func (r Route) Last() TelemetryPoint { return r.points[len(r.points)-1] }

// Points returns a copy of the route's points.
func (r Route) Points() []TelemetryPoint {
	cp := make([]TelemetryPoint, len(r.points))
	copy(cp, r.points)
	return cp
}

// Positions returns the route's coordinates in order.
func (r Route) Positions() []Position {
	out := make([]Position, len(r.points))
	for i, p := range r.points {
		out[i] = p.Position
	}
	return out
}

// RouteStats are derived from a Route and never stored.
type RouteStats struct {
	TotalDistanceKm float64 `json:"totalDistanceKm"`
	AvgSpeedKmh     float64 `json:"avgSpeedKmh"`
	MaxSpeedKmh     float64 `json:"maxSpeedKmh"`
	DurationHours   float64 `json:"durationHours"`
}
