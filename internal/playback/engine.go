// Package playback replays a loaded route over a user-controlled timeline.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/fleetconsole/tracker/internal/stats"
	"github.com/fleetconsole/tracker/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrEmptyRoute is returned by Load for a route without points.
	ErrEmptyRoute = errors.New("route has no points")
	// ErrNoRoute is returned by controls that need a loaded route.
	ErrNoRoute = errors.New("no route loaded")
	// ErrInvalidSpeed is returned by SetSpeed for non-positive multipliers.
	ErrInvalidSpeed = errors.New("speed multiplier must be positive")
)

// Defaults for Config.
const (
	DefaultTickInterval  = 100 * time.Millisecond
	DefaultPointDuration = 100 * time.Millisecond
	DefaultSpeed         = 1.0
)

// Config holds timeline settings. At 1x the timeline advances one point
// per PointDuration.
type Config struct {
	TickInterval  time.Duration
	PointDuration time.Duration
	DefaultSpeed  float64
}

// DefaultConfig returns the standard timeline settings.
func DefaultConfig() Config {
	return Config{
		TickInterval:  DefaultTickInterval,
		PointDuration: DefaultPointDuration,
		DefaultSpeed:  DefaultSpeed,
	}
}

// Dependencies holds all dependencies for the engine
type Dependencies struct {
	Publisher core.Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine is the playback state machine. It starts Stopped with no route.
type Engine struct {
	cfg         Config
	deps        Dependencies
	transitions metric.Int64Counter

	mu     sync.Mutex
	route  core.Route
	loaded bool
	stats  core.RouteStats
	mode   core.PlaybackMode
	index  int
	speed  float64
	seq    uint64

	// Timeline position is anchorPos plus the points elapsed since anchorAt.
	anchorPos float64
	anchorAt  time.Time

	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates an engine with no route loaded.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.PointDuration <= 0 {
		cfg.PointDuration = DefaultPointDuration
	}
	if !validSpeed(cfg.DefaultSpeed) {
		cfg.DefaultSpeed = DefaultSpeed
	}
	if deps.Publisher == nil {
		deps.Publisher = core.PublisherFunc(func(core.Update) {})
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	transitions, err := meter().Int64Counter(
		"playback.transitions",
		metric.WithDescription("Playback state transitions by target state"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transition counter: %w", err)
	}

	return &Engine{
		cfg:         cfg,
		deps:        deps,
		transitions: transitions,
		mode:        core.Stopped,
		speed:       cfg.DefaultSpeed,
	}, nil
}

func validSpeed(m float64) bool {
	return m > 0 && !math.IsInf(m, 0) && !math.IsNaN(m)
}

// Load replaces the current route and resets to Stopped at index 0.
// An empty route is rejected and leaves the engine unchanged.
func (e *Engine) Load(route core.Route) error {
	if route.Empty() {
		e.deps.Logger.Warn("ignoring empty route", "device", route.DeviceID)
		return ErrEmptyRoute
	}

	e.mu.Lock()
	done := e.haltLocked()
	e.route = route
	e.loaded = true
	e.stats = stats.Compute(route)
	e.index = 0
	e.setModeLocked(core.Stopped)
	e.publishLocked(route.Positions())
	e.mu.Unlock()

	wait(done)
	e.deps.Logger.Info("route loaded for playback", "device", route.DeviceID, "points", route.Len())
	return nil
}

// Unload stops playback and discards the route.
func (e *Engine) Unload() {
	e.mu.Lock()
	done := e.haltLocked()
	e.route = core.Route{}
	e.loaded = false
	e.stats = core.RouteStats{}
	e.index = 0
	e.mode = core.Stopped
	e.mu.Unlock()

	wait(done)
}

// Play starts or resumes the timeline. Playing from the last point
// restarts at the first.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return ErrNoRoute
	}
	if e.mode == core.Playing {
		return nil
	}
	if e.index >= e.lastIndex() {
		e.index = 0
	}

	e.setModeLocked(core.Playing)
	e.anchorLocked(float64(e.index))
	e.publishLocked(nil)

	if e.index >= e.lastIndex() {
		// Single-point route: nothing to traverse.
		e.setModeLocked(core.Stopped)
		e.publishLocked(nil)
		return nil
	}

	e.gen++
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.schedule(ctx, e.gen, e.done)
	return nil
}

// Pause freezes the timeline at the current index. It is a no-op unless
// playing.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.mode != core.Playing {
		e.mu.Unlock()
		return
	}
	e.index = e.indexAt(e.positionLocked())
	done := e.haltLocked()
	e.setModeLocked(core.Paused)
	e.publishLocked(nil)
	e.mu.Unlock()

	wait(done)
}

// Stop returns to index 0 in the Stopped state.
func (e *Engine) Stop() {
	e.mu.Lock()
	done := e.haltLocked()
	e.index = 0
	e.setModeLocked(core.Stopped)
	if e.loaded {
		e.publishLocked(nil)
	}
	e.mu.Unlock()

	wait(done)
}

// Seek moves to index i, clamped into the route. The mode is unchanged;
// while playing the timeline continues from i.
func (e *Engine) Seek(i int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return ErrNoRoute
	}
	e.index = max(0, min(i, e.lastIndex()))
	if e.mode == core.Playing {
		e.anchorLocked(float64(e.index))
	}
	e.publishLocked(nil)
	return nil
}

// Skip seeks relative to the current index.
func (e *Engine) Skip(delta int) error {
	e.mu.Lock()
	target := e.index + delta
	if e.mode == core.Playing {
		target = e.indexAt(e.positionLocked()) + delta
	}
	e.mu.Unlock()
	return e.Seek(target)
}

// SetSpeed changes the multiplier. While playing the timeline re-anchors
// at its current fractional position so the index does not jump.
func (e *Engine) SetSpeed(m float64) error {
	if !validSpeed(m) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, m)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == core.Playing {
		e.anchorLocked(e.positionLocked())
	}
	e.speed = m
	if e.loaded {
		e.publishLocked(nil)
	}
	return nil
}

// State returns a snapshot of the playback state.
func (e *Engine) State() core.PlaybackState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return core.PlaybackState{
		Mode:            e.mode,
		CurrentIndex:    e.index,
		SpeedMultiplier: e.speed,
		ProgressPercent: e.progressLocked(),
	}
}

// Stats returns the statistics of the loaded route.
func (e *Engine) Stats() core.RouteStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Route returns the loaded route and whether one is loaded.
func (e *Engine) Route() (core.Route, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.route, e.loaded
}

// WallDuration is the real time a full replay takes at the current speed.
func (e *Engine) WallDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return 0
	}
	return time.Duration(float64(e.lastIndex()) * float64(e.cfg.PointDuration) / e.speed)
}

func (e *Engine) schedule(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			if gen == e.gen {
				e.advanceLocked()
			}
			e.mu.Unlock()
		}
	}
}

// advance moves the timeline to the current wall-clock position.
func (e *Engine) advance() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceLocked()
}

func (e *Engine) advanceLocked() {
	if e.mode != core.Playing {
		return
	}

	last := e.lastIndex()
	pos := e.positionLocked()
	if pos >= float64(last) {
		e.index = last
		// Called from the scheduler itself, so it is not waited on.
		e.haltLocked()
		e.setModeLocked(core.Stopped)
		e.publishLocked(nil)
		e.deps.Logger.Debug("playback complete", "device", e.route.DeviceID)
		return
	}

	if idx := e.indexAt(pos); idx != e.index {
		e.index = idx
		e.publishLocked(nil)
	}
}

func (e *Engine) anchorLocked(pos float64) {
	e.anchorPos = pos
	e.anchorAt = e.deps.Now()
}

func (e *Engine) positionLocked() float64 {
	elapsed := e.deps.Now().Sub(e.anchorAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return e.anchorPos + float64(elapsed)/float64(e.cfg.PointDuration)*e.speed
}

func (e *Engine) indexAt(pos float64) int {
	return max(0, min(int(math.Floor(pos)), e.lastIndex()))
}

func (e *Engine) lastIndex() int {
	return max(0, e.route.Len()-1)
}

func (e *Engine) progressLocked() float64 {
	return float64(e.index) / float64(max(1, e.route.Len()-1)) * 100
}

// haltLocked cancels the scheduler and invalidates its pending work. The
// returned channel closes once the scheduler goroutine has exited.
func (e *Engine) haltLocked() chan struct{} {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	e.gen++
	done := e.done
	e.cancel = nil
	e.done = nil
	return done
}

func wait(done chan struct{}) {
	if done != nil {
		<-done
	}
}

func (e *Engine) setModeLocked(m core.PlaybackMode) {
	e.mode = m
	e.transitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("to", m.String())))
}

func (e *Engine) publishLocked(path []core.Position) {
	if !e.loaded {
		return
	}
	e.seq++
	e.deps.Publisher.Publish(core.Update{
		DeviceID:        e.route.DeviceID,
		Mode:            core.ModePlayback,
		Status:          core.StatusPlayback,
		Point:           e.route.At(e.index),
		HasPoint:        true,
		Index:           e.index,
		ProgressPercent: e.progressLocked(),
		PlaybackMode:    e.mode,
		Path:            path,
		Sequence:        e.seq,
	})
}
