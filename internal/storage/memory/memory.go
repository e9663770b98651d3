// Package memory implements an in-process telemetry store.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/fleetconsole/tracker/internal/queue"
	"github.com/fleetconsole/tracker/pkg/core"
)

// Config holds memory store settings.
type Config struct {
	// MaxPointsPerDevice bounds each device's history. Zero means unbounded;
	// when bounded the oldest points are evicted first.
	MaxPointsPerDevice int
}

// Backend keeps recorded points per device in memory.
type Backend struct {
	cfg     Config
	devices map[string]*queue.Queue[core.TelemetryPoint]
	mu      sync.RWMutex
}

// New creates a new memory backend
func New(cfg Config) *Backend {
	return &Backend{
		cfg:     cfg,
		devices: make(map[string]*queue.Queue[core.TelemetryPoint]),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = make(map[string]*queue.Queue[core.TelemetryPoint])
	return nil
}

// RecordPoint appends p to deviceID's history.
func (b *Backend) RecordPoint(deviceID string, p core.TelemetryPoint) error {
	if deviceID == "" {
		return errors.New("device id is required")
	}

	b.mu.Lock()
	q, ok := b.devices[deviceID]
	if !ok {
		q = queue.New[core.TelemetryPoint](b.cfg.MaxPointsPerDevice)
		b.devices[deviceID] = q
	}
	b.mu.Unlock()

	q.Push(p)
	return nil
}

// QueryRoute returns deviceID's points in [start, end) ordered by timestamp.
func (b *Backend) QueryRoute(ctx context.Context, deviceID string, start, end time.Time) ([]core.TelemetryPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	q, ok := b.devices[deviceID]
	b.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	var out []core.TelemetryPoint
	for _, p := range q.Snapshot() {
		if p.Timestamp.Before(start) || !p.Timestamp.Before(end) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Devices returns the ids of devices with recorded points, sorted.
func (b *Backend) Devices() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.devices))
	for id := range b.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of points held for deviceID.
func (b *Backend) Count(deviceID string) int {
	b.mu.RLock()
	q, ok := b.devices[deviceID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return q.Len()
}
