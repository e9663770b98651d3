// Package heading decides the heading displayed for a vehicle marker.
package heading

import (
	"github.com/fleetconsole/tracker/internal/geo"
	"github.com/fleetconsole/tracker/pkg/core"
)

// StationaryKmh is the speed at or below which a vehicle is treated as parked.
const StationaryKmh = 0.5

// Estimate returns the heading to display for candidate.
//
// previous is the last displayed point (nil for the first sample) and its
// HeadingDegrees is the heading currently on screen. reported is the
// device-reported heading, where 0 may mean either north or unknown.
//
// Policy, in order: a stationary vehicle keeps the previous heading; a
// nonzero reported heading is trusted; otherwise the bearing from the
// previous position is used; the first sample with nothing reported is 0.
func Estimate(previous *core.TelemetryPoint, candidate core.TelemetryPoint, reported float64) float64 {
	prevHeading := 0.0
	if previous != nil {
		prevHeading = previous.HeadingDegrees
	}

	if candidate.SpeedKmh <= StationaryKmh {
		return prevHeading
	}
	if reported != 0 {
		return geo.NormalizeDegrees(reported)
	}
	if previous != nil {
		// Identical positions give a degenerate bearing of 0.
		if previous.Position == candidate.Position {
			return prevHeading
		}
		return geo.BearingDegrees(previous.Position, candidate.Position)
	}
	return 0
}
