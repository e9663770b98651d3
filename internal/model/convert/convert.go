// Package convert maps between GORM models and core telemetry types.
package convert

import (
	"github.com/fleetconsole/tracker/internal/geo"
	"github.com/fleetconsole/tracker/internal/model"
	"github.com/fleetconsole/tracker/pkg/core"
	"github.com/spf13/cast"
	"gorm.io/datatypes"
)

const (
	attrSatellites   = "satellites"
	attrGSMSignal    = "gsmSignal"
	attrDeviceStatus = "deviceStatus"
)

// CoreToTelemetry converts a core point recorded for deviceID to a GORM record.
func CoreToTelemetry(deviceID string, p core.TelemetryPoint) model.TelemetryRecord {
	return model.TelemetryRecord{
		DeviceID:       deviceID,
		RecordedAt:     p.Timestamp.UTC(),
		Position:       geo.Point(p.Position),
		SpeedKmh:       p.SpeedKmh,
		HeadingDegrees: p.HeadingDegrees,
		AltitudeMeters: p.AltitudeMeters,
		BatteryVoltage: p.BatteryVoltage,
		Attributes: datatypes.JSONMap{
			attrSatellites:   p.SatelliteCount,
			attrGSMSignal:    p.GSMSignal,
			attrDeviceStatus: p.DeviceStatus,
		},
	}
}

// TelemetryToCore converts a GORM record back to a core point.
// Attributes read back from JSON arrive as float64 and are coerced.
func TelemetryToCore(r model.TelemetryRecord) core.TelemetryPoint {
	status := cast.ToString(r.Attributes[attrDeviceStatus])
	if status == "" {
		status = core.UnknownStatus
	}
	return core.TelemetryPoint{
		Position:       geo.PositionFromPoint(r.Position),
		SpeedKmh:       r.SpeedKmh,
		HeadingDegrees: r.HeadingDegrees,
		Timestamp:      r.RecordedAt.UTC(),
		SatelliteCount: cast.ToInt(r.Attributes[attrSatellites]),
		BatteryVoltage: r.BatteryVoltage,
		GSMSignal:      cast.ToInt(r.Attributes[attrGSMSignal]),
		AltitudeMeters: r.AltitudeMeters,
		DeviceStatus:   status,
	}
}

// TelemetryToCoreSlice converts records in order.
func TelemetryToCoreSlice(records []model.TelemetryRecord) []core.TelemetryPoint {
	out := make([]core.TelemetryPoint, len(records))
	for i, r := range records {
		out[i] = TelemetryToCore(r)
	}
	return out
}
