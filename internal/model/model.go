package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []any{
	&TelemetryRecord{},
}

// TelemetryRecord is one recorded live observation of a device.
// Records for a device are read back ordered by RecordedAt.
type TelemetryRecord struct {
	ID         uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	CreatedAt  time.Time `json:"createdAt"`
	DeviceID   string    `json:"deviceId" gorm:"size:128;not null;index:idx_telemetry_device_time,priority:1"`
	RecordedAt time.Time `json:"recordedAt" gorm:"not null;index:idx_telemetry_device_time,priority:2"` // device timestamp, UTC

	Position       geom.Point `json:"position"` // X=longitude, Y=latitude, stored as WKB
	SpeedKmh       float64    `json:"speedKmh"`
	HeadingDegrees float64    `json:"headingDegrees"`
	AltitudeMeters float64    `json:"altitudeMeters"`
	BatteryVoltage float64    `json:"batteryVoltage"`

	// satellites, gsmSignal and deviceStatus
	Attributes datatypes.JSONMap `json:"attributes"`
}

func (*TelemetryRecord) TableName() string {
	return "telemetry_records"
}
