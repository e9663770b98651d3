package mode

import (
	"sync/atomic"

	"github.com/fleetconsole/tracker/pkg/core"
)

// Gate drops updates from whichever engine is not the active one.
type Gate struct {
	active atomic.Int32
}

// NewGate creates a gate with live mode active.
func NewGate() *Gate {
	g := &Gate{}
	g.active.Store(int32(core.ModeLive))
	return g
}

// Active returns the mode whose updates pass the gate.
func (g *Gate) Active() core.TrackingMode {
	return core.TrackingMode(g.active.Load())
}

// Set switches the active mode.
func (g *Gate) Set(m core.TrackingMode) {
	g.active.Store(int32(m))
}

// Publisher wraps next so that only updates produced while source is the
// active mode get through.
func (g *Gate) Publisher(source core.TrackingMode, next core.Publisher) core.Publisher {
	return core.PublisherFunc(func(u core.Update) {
		if g.Active() != source {
			return
		}
		next.Publish(u)
	})
}
