// pkg/core/telemetry.go
package core

import "time"

// UnknownStatus is the device status used when the payload carries none.
const UnknownStatus = "UNKNOWN"

// Position is a WGS84 coordinate pair in degrees.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// IsZero reports whether the position is the degenerate (0,0) "no fix" pair.
func (p Position) IsZero() bool {
	return p.Latitude == 0 && p.Longitude == 0
}

// TelemetryPoint is one timestamped observation of a vehicle.
// Points are values; once normalized they are never modified in place.
type TelemetryPoint struct {
	Position
	SpeedKmh       float64   `json:"speedKmh"`
	HeadingDegrees float64   `json:"headingDegrees"`
	Timestamp      time.Time `json:"timestamp"`

	SatelliteCount int     `json:"satelliteCount"`
	BatteryVoltage float64 `json:"batteryVoltage"`
	GSMSignal      int     `json:"gsmSignal"`
	AltitudeMeters float64 `json:"altitudeMeters"`
	DeviceStatus   string  `json:"deviceStatus"`
}

// WithHeading returns a copy of the point carrying the given heading.
func (p TelemetryPoint) WithHeading(heading float64) TelemetryPoint {
	p.HeadingDegrees = heading
	return p
}
