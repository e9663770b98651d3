// Package mode switches the display between live tracking and route playback.
package mode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fleetconsole/tracker/internal/live"
	"github.com/fleetconsole/tracker/internal/playback"
	"github.com/fleetconsole/tracker/pkg/core"
)

// LiveEngine is the live poller as seen by the coordinator.
type LiveEngine interface {
	Start(deviceID string) error
	Stop()
	ClearTrail()
}

// PlaybackEngine is the playback engine as seen by the coordinator.
type PlaybackEngine interface {
	Load(route core.Route) error
	Stop()
	Unload()
}

// RouteFetcher loads historical routes.
type RouteFetcher interface {
	Fetch(ctx context.Context, deviceID string, start, end time.Time) (core.Route, error)
}

// Dependencies holds all dependencies for the coordinator
type Dependencies struct {
	Gate     *Gate
	Live     LiveEngine
	Playback PlaybackEngine
	History  RouteFetcher
	Logger   *slog.Logger
}

// Coordinator owns the tracking mode and keeps at most one engine active.
type Coordinator struct {
	deps Dependencies

	mu       sync.Mutex
	deviceID string
}

// NewCoordinator creates a coordinator in live mode with no device.
func NewCoordinator(deps Dependencies) (*Coordinator, error) {
	if deps.Gate == nil || deps.Live == nil || deps.Playback == nil {
		return nil, fmt.Errorf("coordinator requires a gate, a live engine and a playback engine")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Gate.Set(core.ModeLive)
	return &Coordinator{deps: deps}, nil
}

// Mode returns the active tracking mode.
func (c *Coordinator) Mode() core.TrackingMode {
	return c.deps.Gate.Active()
}

// DeviceID returns the tracked device.
func (c *Coordinator) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// StartLive tracks deviceID live, leaving playback first if needed.
func (c *Coordinator) StartLive(deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLiveLocked(strings.TrimSpace(deviceID))
}

// SwitchDevice changes the tracked device. The trail is cleared and any
// playback session ends.
func (c *Coordinator) SwitchDevice(deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if !live.ValidDeviceID(deviceID) {
		return live.ErrNoDeviceSelected
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if deviceID == c.deviceID && c.deps.Gate.Active() == core.ModeLive {
		return nil
	}
	c.deps.Logger.Info("switching device", "from", c.deviceID, "to", deviceID)
	return c.startLiveLocked(deviceID)
}

func (c *Coordinator) startLiveLocked(deviceID string) error {
	if c.deps.Gate.Active() == core.ModePlayback {
		c.leavePlaybackLocked()
	}
	if err := c.deps.Live.Start(deviceID); err != nil {
		return err
	}
	c.deviceID = deviceID
	return nil
}

// EnterPlayback stops live polling and replays route. An empty route is
// rejected before live mode is touched.
func (c *Coordinator) EnterPlayback(route core.Route) error {
	if route.Empty() {
		return playback.ErrEmptyRoute
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Stop returns only once no live update can be published any more.
	c.deps.Live.Stop()
	c.deps.Live.ClearTrail()
	c.deps.Gate.Set(core.ModePlayback)
	if err := c.deps.Playback.Load(route); err != nil {
		c.deps.Gate.Set(core.ModeLive)
		if c.deviceID != "" {
			if lerr := c.deps.Live.Start(c.deviceID); lerr != nil {
				c.deps.Logger.Error("failed to resume live tracking", "device", c.deviceID, "error", lerr)
			}
		}
		return err
	}
	if route.DeviceID != "" {
		c.deviceID = route.DeviceID
	}
	c.deps.Logger.Info("entered playback", "device", c.deviceID, "points", route.Len())
	return nil
}

// EnterPlaybackRange fetches the tracked device's route for [start, end)
// and enters playback. On any failure live mode keeps running.
func (c *Coordinator) EnterPlaybackRange(ctx context.Context, start, end time.Time) (core.Route, error) {
	if c.deps.History == nil {
		return core.Route{}, fmt.Errorf("no route history source configured")
	}
	deviceID := c.DeviceID()
	if !live.ValidDeviceID(deviceID) {
		return core.Route{}, live.ErrNoDeviceSelected
	}

	route, err := c.deps.History.Fetch(ctx, deviceID, start, end)
	if err != nil {
		return core.Route{}, err
	}
	if err := c.EnterPlayback(route); err != nil {
		return route, err
	}
	return route, nil
}

// ExitPlayback tears down playback and resumes live tracking of the same
// device. It is a no-op in live mode.
func (c *Coordinator) ExitPlayback() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deps.Gate.Active() != core.ModePlayback {
		return nil
	}
	c.leavePlaybackLocked()
	if c.deviceID == "" {
		return nil
	}
	return c.deps.Live.Start(c.deviceID)
}

func (c *Coordinator) leavePlaybackLocked() {
	c.deps.Playback.Stop()
	c.deps.Playback.Unload()
	c.deps.Gate.Set(core.ModeLive)
	c.deps.Logger.Info("left playback", "device", c.deviceID)
}

// Shutdown stops both engines.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deps.Live.Stop()
	c.deps.Playback.Stop()
	c.deps.Playback.Unload()
}
