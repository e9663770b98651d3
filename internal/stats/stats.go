// Package stats derives summary figures from a route.
package stats

import (
	"github.com/fleetconsole/tracker/internal/geo"
	"github.com/fleetconsole/tracker/pkg/core"
)

// Compute returns distance, speed and duration figures for route. Routes
// with fewer than two points yield all zeros.
//
// AvgSpeedKmh is the arithmetic mean of the sampled speeds, first sample
// included. It is not distance divided by duration.
func Compute(route core.Route) core.RouteStats {
	n := route.Len()
	if n < 2 {
		return core.RouteStats{}
	}

	var s core.RouteStats
	var speedSum float64
	for i := 0; i < n; i++ {
		p := route.At(i)
		speedSum += p.SpeedKmh
		if p.SpeedKmh > s.MaxSpeedKmh {
			s.MaxSpeedKmh = p.SpeedKmh
		}
		if i > 0 {
			s.TotalDistanceKm += geo.DistanceKm(route.At(i-1).Position, p.Position)
		}
	}
	s.AvgSpeedKmh = speedSum / float64(n)
	s.DurationHours = route.Last().Timestamp.Sub(route.First().Timestamp).Hours()
	return s
}
