package surface

import (
	"log/slog"

	"github.com/fleetconsole/tracker/internal/geo"
)

// LogSurface writes every draw call to a logger. It backs the CLI when no
// browser map is attached.
type LogSurface struct {
	logger *slog.Logger
}

// NewLogSurface creates a LogSurface.
func NewLogSurface(logger *slog.Logger) *LogSurface {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSurface{logger: logger}
}

func (s *LogSurface) UpdateMarker(m Marker) error {
	attrs := []any{
		"device", m.DeviceID,
		"mode", m.Mode.String(),
		"status", m.Status,
		"lat", m.Position.Latitude,
		"lng", m.Position.Longitude,
		"heading", m.HeadingDegrees,
		"speedKmh", m.SpeedKmh,
	}
	if m.Projected {
		attrs = append(attrs, "x", m.X, "y", m.Y)
	}
	if m.ProgressPercent > 0 {
		attrs = append(attrs, "progress", m.ProgressPercent)
	}
	s.logger.Info("marker", attrs...)
	return nil
}

func (s *LogSurface) SetPath(p Path) error {
	s.logger.Debug("path", "device", p.DeviceID, "mode", p.Mode.String(), "points", len(p.Points), "wkt", geo.PathWKT(p.Points))
	return nil
}

func (s *LogSurface) Remove(h HandleID) error {
	s.logger.Debug("remove", "handle", h)
	return nil
}

func (s *LogSurface) Close() error { return nil }
