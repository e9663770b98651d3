// Package storage defines the telemetry store used to record live points
// and to serve store-backed route history.
package storage

import (
	"context"
	"time"

	"github.com/fleetconsole/tracker/internal/dispatcher"
	"github.com/fleetconsole/tracker/pkg/core"
)

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// RecordPoint stores one live observation for deviceID.
	RecordPoint(deviceID string, p core.TelemetryPoint) error

	// QueryRoute returns the points recorded for deviceID with timestamps
	// in [start, end), ordered by timestamp.
	QueryRoute(ctx context.Context, deviceID string, start, end time.Time) ([]core.TelemetryPoint, error)
}

// Recorder returns a dispatcher handler that stores every live update
// carrying a position. Playback and status-only updates are ignored.
func Recorder(b Backend) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) error {
		u := e.Update
		if u.Mode != core.ModeLive || !u.HasPoint || u.Status != core.StatusLive {
			return nil
		}
		return b.RecordPoint(u.DeviceID, u.Point)
	}
}
