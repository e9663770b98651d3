// Package surface drives a map rendering surface from display updates.
package surface

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetconsole/tracker/internal/dispatcher"
	"github.com/fleetconsole/tracker/internal/geo"
	"github.com/fleetconsole/tracker/pkg/core"
	"github.com/google/uuid"
)

// HandleID is an opaque reference to something drawn on the surface.
type HandleID string

// Projection selects the coordinates sent alongside WGS84.
type Projection string

const (
	ProjectionNone        Projection = ""
	ProjectionWebMercator Projection = "webmercator"
)

// ParseProjection accepts the configured projection names.
func ParseProjection(s string) (Projection, error) {
	switch s {
	case "", "none", "wgs84", "4326", "EPSG:4326":
		return ProjectionNone, nil
	case "webmercator", "3857", "EPSG:3857":
		return ProjectionWebMercator, nil
	default:
		return ProjectionNone, fmt.Errorf("unknown projection: %s", s)
	}
}

// Marker is the vehicle marker state to draw.
type Marker struct {
	Handle          HandleID
	DeviceID        string
	Mode            core.TrackingMode
	Status          core.Status
	Position        core.Position
	Projected       bool
	X, Y            float64
	HeadingDegrees  float64
	SpeedKmh        float64
	ProgressPercent float64
	Timestamp       time.Time
}

// Path is a polyline to draw in place of the previous one on its handle.
type Path struct {
	Handle   HandleID
	DeviceID string
	Mode     core.TrackingMode
	Points   []core.Position
}

// Surface draws markers and paths. Implementations need not be safe for
// concurrent use; the Adapter serializes calls.
type Surface interface {
	UpdateMarker(m Marker) error
	SetPath(p Path) error
	Remove(h HandleID) error
	Close() error
}

type handleKind int

const (
	markerHandle handleKind = iota
	pathHandle
)

type handleKey struct {
	deviceID string
	kind     handleKind
}

// Adapter translates updates into surface calls. It owns the handles so
// that engines never hold references into the surface.
type Adapter struct {
	surface    Surface
	projection Projection
	logger     *slog.Logger

	mu      sync.Mutex
	handles map[handleKey]HandleID
}

// NewAdapter creates an adapter drawing on s.
func NewAdapter(s Surface, projection Projection, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		surface:    s,
		projection: projection,
		logger:     logger,
		handles:    make(map[handleKey]HandleID),
	}
}

// Handle renders a dispatched event.
func (a *Adapter) Handle(e dispatcher.Event) error {
	return a.Render(e.Update)
}

// Render draws u. Handles of other devices are removed first, so the
// surface shows a single vehicle.
func (a *Adapter) Render(u core.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.dropOthersLocked(u.DeviceID); err != nil {
		return err
	}

	if u.Path != nil {
		p := Path{
			Handle:   a.handleLocked(u.DeviceID, pathHandle),
			DeviceID: u.DeviceID,
			Mode:     u.Mode,
			Points:   u.Path,
		}
		if err := a.surface.SetPath(p); err != nil {
			return fmt.Errorf("set path: %w", err)
		}
	}

	if !u.HasPoint {
		a.logger.Debug("status update", "device", u.DeviceID, "status", u.Status)
		return nil
	}

	m := Marker{
		Handle:          a.handleLocked(u.DeviceID, markerHandle),
		DeviceID:        u.DeviceID,
		Mode:            u.Mode,
		Status:          u.Status,
		Position:        u.Point.Position,
		HeadingDegrees:  u.Point.HeadingDegrees,
		SpeedKmh:        u.Point.SpeedKmh,
		ProgressPercent: u.ProgressPercent,
		Timestamp:       u.Point.Timestamp,
	}
	if a.projection == ProjectionWebMercator {
		m.X, m.Y = geo.ToWebMercator(u.Point.Position)
		m.Projected = true
	}
	if err := a.surface.UpdateMarker(m); err != nil {
		return fmt.Errorf("update marker: %w", err)
	}
	return nil
}

// Forget removes every handle of deviceID from the surface.
func (a *Adapter) Forget(deviceID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.forgetLocked(deviceID)
}

// Handles returns the number of live handles.
func (a *Adapter) Handles() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}

func (a *Adapter) handleLocked(deviceID string, kind handleKind) HandleID {
	key := handleKey{deviceID: deviceID, kind: kind}
	if h, ok := a.handles[key]; ok {
		return h
	}
	h := HandleID(uuid.NewString())
	a.handles[key] = h
	return h
}

func (a *Adapter) dropOthersLocked(deviceID string) error {
	var others []string
	seen := make(map[string]bool)
	for key := range a.handles {
		if key.deviceID != deviceID && !seen[key.deviceID] {
			seen[key.deviceID] = true
			others = append(others, key.deviceID)
		}
	}
	for _, id := range others {
		if err := a.forgetLocked(id); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) forgetLocked(deviceID string) error {
	for _, kind := range []handleKind{markerHandle, pathHandle} {
		key := handleKey{deviceID: deviceID, kind: kind}
		h, ok := a.handles[key]
		if !ok {
			continue
		}
		if err := a.surface.Remove(h); err != nil {
			return fmt.Errorf("remove %s: %w", h, err)
		}
		delete(a.handles, key)
	}
	return nil
}
