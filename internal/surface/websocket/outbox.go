package websocket

import (
	"slices"
	"sync"

	"github.com/fleetconsole/tracker/pkg/streaming"
)

// frame is one encoded envelope waiting to be written.
type frame struct {
	kind   string
	handle string
	data   []byte
}

// outbox orders outgoing envelopes and remembers what the map shows.
//
// Session, path and remove envelopes go out first, in order. Marker
// envelopes are coalesced per handle: only the newest position of a
// marker is ever waiting, and it is written after pending structure
// changes. The scene (session, paths, shown markers) survives a dropped
// connection and is replayed onto the next one.
type outbox struct {
	mu    sync.Mutex
	limit int

	control     []frame
	markers     map[string][]byte
	markerOrder []string

	session    []byte
	paths      map[string][]byte
	pathOrder  []string
	shown      map[string][]byte
	shownOrder []string

	wake chan struct{}
}

func newOutbox(limit int) *outbox {
	return &outbox{
		limit:   limit,
		markers: make(map[string][]byte),
		paths:   make(map[string][]byte),
		shown:   make(map[string][]byte),
		wake:    make(chan struct{}, 1),
	}
}

// push queues data. It returns false when the ordered queue is full and the
// envelope was dropped; the scene is updated either way.
func (o *outbox) push(kind, handle string, data []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	queued := true
	switch kind {
	case streaming.TypeMarker:
		if _, pending := o.markers[handle]; !pending {
			o.markerOrder = append(o.markerOrder, handle)
		}
		o.markers[handle] = data
		o.shownOrder = remember(o.shown, o.shownOrder, handle, data)

	case streaming.TypePath:
		o.pathOrder = remember(o.paths, o.pathOrder, handle, data)
		if i := o.pendingPath(handle); i >= 0 {
			o.control[i].data = data
		} else {
			queued = o.appendControl(frame{kind: kind, handle: handle, data: data})
		}

	case streaming.TypeRemove:
		o.pathOrder = forget(o.paths, o.pathOrder, handle)
		o.shownOrder = forget(o.shown, o.shownOrder, handle)
		o.markerOrder = forget(o.markers, o.markerOrder, handle)
		o.control = slices.DeleteFunc(o.control, func(f frame) bool {
			return f.kind == streaming.TypePath && f.handle == handle
		})
		queued = o.appendControl(frame{kind: kind, handle: handle, data: data})

	default:
		if kind == streaming.TypeSession {
			o.session = data
		}
		queued = o.appendControl(frame{kind: kind, handle: handle, data: data})
	}

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return queued
}

func (o *outbox) appendControl(f frame) bool {
	if len(o.control) >= o.limit {
		return false
	}
	o.control = append(o.control, f)
	return true
}

func (o *outbox) pendingPath(handle string) int {
	return slices.IndexFunc(o.control, func(f frame) bool {
		return f.kind == streaming.TypePath && f.handle == handle
	})
}

// next pops the envelope to write, or reports false when nothing waits.
func (o *outbox) next() (frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.control) > 0 {
		f := o.control[0]
		o.control = o.control[1:]
		return f, true
	}
	if len(o.markerOrder) > 0 {
		handle := o.markerOrder[0]
		o.markerOrder = o.markerOrder[1:]
		data := o.markers[handle]
		delete(o.markers, handle)
		return frame{kind: streaming.TypeMarker, handle: handle, data: data}, true
	}
	return frame{}, false
}

// replay discards whatever was pending and queues the scene: the session,
// then every path, then the newest position of every shown marker.
func (o *outbox) replay() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.control = o.control[:0]
	if o.session != nil {
		o.control = append(o.control, frame{kind: streaming.TypeSession, data: o.session})
	}
	for _, h := range o.pathOrder {
		o.control = append(o.control, frame{kind: streaming.TypePath, handle: h, data: o.paths[h]})
	}

	clear(o.markers)
	o.markerOrder = o.markerOrder[:0]
	for _, h := range o.shownOrder {
		o.markers[h] = o.shown[h]
		o.markerOrder = append(o.markerOrder, h)
	}

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func remember(m map[string][]byte, order []string, handle string, data []byte) []string {
	if _, ok := m[handle]; !ok {
		order = append(order, handle)
	}
	m[handle] = data
	return order
}

func forget(m map[string][]byte, order []string, handle string) []string {
	if _, ok := m[handle]; !ok {
		return order
	}
	delete(m, handle)
	return slices.DeleteFunc(order, func(h string) bool { return h == handle })
}
