// Package live polls the telemetry server for a single device and publishes
// the resulting display updates.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fleetconsole/tracker/internal/api"
	"github.com/fleetconsole/tracker/internal/heading"
	"github.com/fleetconsole/tracker/internal/telemetry"
	"github.com/fleetconsole/tracker/internal/track"
	"github.com/fleetconsole/tracker/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrNoDeviceSelected is returned by Start for empty or placeholder device ids.
var ErrNoDeviceSelected = errors.New("no device selected")

// placeholder ids sent by device pickers before a real selection.
var placeholderIDs = map[string]struct{}{
	"":       {},
	"0":      {},
	"none":   {},
	"select": {},
}

// DefaultInterval is the fixed polling period.
const DefaultInterval = 3 * time.Second

// Fetcher returns the raw live payload for a device.
type Fetcher interface {
	FetchLive(ctx context.Context, deviceID string) (map[string]any, error)
}

// Authenticator is implemented by fetchers that can report missing
// credentials before the first request.
type Authenticator interface {
	HasCredentials() bool
}

// Config holds poller settings.
type Config struct {
	Interval      time.Duration
	Timeout       time.Duration // per fetch, defaults to Interval
	TrackCapacity int
}

// DefaultConfig returns the standard polling settings.
func DefaultConfig() Config {
	return Config{
		Interval:      DefaultInterval,
		Timeout:       DefaultInterval,
		TrackCapacity: track.DefaultCapacity,
	}
}

// Dependencies holds all dependencies for the poller
type Dependencies struct {
	Fetcher   Fetcher
	Publisher core.Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Poller runs the fetch, normalize, estimate, buffer, publish loop.
type Poller struct {
	cfg   Config
	deps  Dependencies
	ticks metric.Int64Counter

	mu       sync.Mutex
	deviceID string
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
	buffer   *track.Buffer
	last     *core.TelemetryPoint
	status   core.Status
	seq      uint64
}

// NewPoller creates an idle poller.
func NewPoller(cfg Config, deps Dependencies) (*Poller, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("live poller requires a fetcher")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
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

	ticks, err := meter().Int64Counter(
		"live.poll.ticks",
		metric.WithDescription("Live poll ticks by resulting status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tick counter: %w", err)
	}

	return &Poller{
		cfg:    cfg,
		deps:   deps,
		ticks:  ticks,
		buffer: track.NewBuffer(cfg.TrackCapacity),
		status: core.StatusIdle,
	}, nil
}

// ValidDeviceID reports whether id names a real device.
func ValidDeviceID(id string) bool {
	_, placeholder := placeholderIDs[strings.ToLower(strings.TrimSpace(id))]
	return !placeholder
}

// Start begins polling deviceID, replacing any running loop. Switching to a
// different device clears the trail. The first fetch happens immediately.
func (p *Poller) Start(deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if !ValidDeviceID(deviceID) {
		return ErrNoDeviceSelected
	}
	if a, ok := p.deps.Fetcher.(Authenticator); ok && !a.HasCredentials() {
		return api.ErrAuthRequired
	}

	p.mu.Lock()
	prevDone := p.stopLocked()
	if deviceID != p.deviceID {
		p.resetLocked()
	}
	p.deviceID = deviceID
	p.gen++
	gen := p.gen
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	if prevDone != nil {
		<-prevDone
	}

	p.deps.Logger.Info("live polling started", "device", deviceID, "interval", p.cfg.Interval)
	go p.run(ctx, gen, deviceID, done)
	return nil
}

// Stop cancels polling. Once it returns, nothing started before the call
// is published. Stop is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	done := p.stopLocked()
	p.mu.Unlock()

	if done != nil {
		<-done
		p.deps.Logger.Info("live polling stopped", "device", p.DeviceID())
	}
}

func (p *Poller) stopLocked() chan struct{} {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	p.gen++
	done := p.done
	p.cancel = nil
	p.done = nil
	return done
}

// ClearTrail empties the trail. The last published point is kept so the
// next sample of the same device still has heading context.
func (p *Poller) ClearTrail() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer.Clear()
}

func (p *Poller) resetLocked() {
	p.buffer.Clear()
	p.last = nil
	p.status = core.StatusIdle
}

// Running reports whether a polling loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// DeviceID returns the most recently started device.
func (p *Poller) DeviceID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deviceID
}

// Status returns the latest poll outcome.
func (p *Poller) Status() core.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Last returns the last published point.
func (p *Poller) Last() (core.TelemetryPoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return core.TelemetryPoint{}, false
	}
	return *p.last, true
}

// Buffer returns a snapshot of the trail, oldest first.
func (p *Poller) Buffer() []core.TelemetryPoint {
	return p.buffer.Points()
}

func (p *Poller) run(ctx context.Context, gen uint64, deviceID string, done chan struct{}) {
	defer close(done)

	// A Ticker drops ticks for slow receivers, so a slow fetch never queues
	// a burst of catch-up ticks.
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		p.tick(ctx, gen, deviceID)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context, gen uint64, deviceID string) {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	raw, err := p.deps.Fetcher.FetchLive(fctx, deviceID)
	cancel()
	if ctx.Err() != nil {
		return
	}

	var point core.TelemetryPoint
	status := core.StatusLive
	if err != nil {
		status = api.StatusFromError(err)
		p.deps.Logger.Warn("live fetch failed", "device", deviceID, "status", status, "error", err)
	} else {
		point, err = telemetry.Normalize(raw, p.deps.Now())
		if err != nil {
			status = core.StatusNoGpsFix
			p.deps.Logger.Debug("live payload without fix", "device", deviceID)
		}
	}
	p.ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return
	}

	p.status = status
	p.seq++
	u := core.Update{
		DeviceID: deviceID,
		Mode:     core.ModeLive,
		Status:   status,
		Sequence: p.seq,
	}

	if status == core.StatusLive {
		point = point.WithHeading(heading.Estimate(p.last, point, point.HeadingDegrees))
		p.buffer.Append(point)
		p.last = &point
		u.Point = point
		u.HasPoint = true
		u.Path = p.buffer.Path()
	}

	p.deps.Publisher.Publish(u)
}
