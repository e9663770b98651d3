// Package track holds the bounded trail of recent live positions.
package track

import (
	"github.com/fleetconsole/tracker/internal/queue"
	"github.com/fleetconsole/tracker/pkg/core"
)

// DefaultCapacity is the number of points kept when no capacity is configured.
const DefaultCapacity = 200

// Buffer is a FIFO-bounded, chronologically ordered sequence of telemetry
// points. Appending to a full buffer evicts the oldest point first.
type Buffer struct {
	points *queue.Queue[core.TelemetryPoint]
}

// NewBuffer creates a buffer holding at most capacity points.
// A capacity of zero or less falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{points: queue.New[core.TelemetryPoint](capacity)}
}

// Append adds p as the newest point and reports whether a point was evicted.
func (b *Buffer) Append(p core.TelemetryPoint) bool {
	return b.points.Push(p) > 0
}

func (b *Buffer) Len() int      { return b.points.Len() }
func (b *Buffer) Capacity() int { return b.points.Cap() }
func (b *Buffer) Clear()        { b.points.Clear() }

// Last returns the newest point.
func (b *Buffer) Last() (core.TelemetryPoint, bool) {
	return b.points.Last()
}

// Points returns a copy of the buffered points, oldest first.
func (b *Buffer) Points() []core.TelemetryPoint {
	return b.points.Snapshot()
}

// Path returns the buffered positions, oldest first.
func (b *Buffer) Path() []core.Position {
	pts := b.points.Snapshot()
	path := make([]core.Position, len(pts))
	for i, p := range pts {
		path[i] = p.Position
	}
	return path
}
