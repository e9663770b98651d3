// Package websocket streams surface draw calls to a browser map.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetconsole/tracker/internal/geo"
	"github.com/fleetconsole/tracker/internal/surface"
	"github.com/fleetconsole/tracker/pkg/streaming"
)

// Config holds WebSocket surface configuration.
type Config struct {
	URL        string
	Secret     string
	Client     string
	Projection surface.Projection
}

// Surface sends envelopes for every draw call. It implements surface.Surface.
type Surface struct {
	conn *connection
	cfg  Config
}

// New creates a new WebSocket surface.
func New(cfg Config, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Client == "" {
		cfg.Client = "fleettrack"
	}
	return &Surface{
		conn: newConnection(logger),
		cfg:  cfg,
	}
}

// Open connects and announces the session, waiting for the map's ack.
func (s *Surface) Open() error {
	if err := s.conn.dial(s.cfg.URL, s.cfg.Secret); err != nil {
		return err
	}

	data, err := marshalEnvelope(streaming.TypeSession, streaming.SessionPayload{
		Client:     s.cfg.Client,
		Projection: string(s.cfg.Projection),
		StartedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return s.conn.sendAndWait(streaming.TypeSession, data, ackTimeout)
}

// Close disconnects from the map.
func (s *Surface) Close() error {
	return s.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload and queues it for handle
// (fire-and-forget).
func (s *Surface) sendEnvelope(msgType string, handle surface.HandleID, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	s.conn.send(msgType, string(handle), data)
	return nil
}

func (s *Surface) UpdateMarker(m surface.Marker) error {
	p := streaming.MarkerPayload{
		Handle:          string(m.Handle),
		DeviceID:        m.DeviceID,
		Mode:            m.Mode.String(),
		Status:          string(m.Status),
		Latitude:        m.Position.Latitude,
		Longitude:       m.Position.Longitude,
		HeadingDegrees:  m.HeadingDegrees,
		SpeedKmh:        m.SpeedKmh,
		ProgressPercent: m.ProgressPercent,
		Timestamp:       m.Timestamp.UnixMilli(),
	}
	if m.Projected {
		p.X, p.Y = m.X, m.Y
	}
	return s.sendEnvelope(streaming.TypeMarker, m.Handle, p)
}

func (s *Surface) SetPath(p surface.Path) error {
	return s.sendEnvelope(streaming.TypePath, p.Handle, streaming.PathPayload{
		Handle:   string(p.Handle),
		DeviceID: p.DeviceID,
		Mode:     p.Mode.String(),
		WKT:      pathWKT(p),
		Points:   len(p.Points),
	})
}

func (s *Surface) Remove(h surface.HandleID) error {
	return s.sendEnvelope(streaming.TypeRemove, h, streaming.RemovePayload{Handle: string(h)})
}

func pathWKT(p surface.Path) string {
	if len(p.Points) < 2 {
		return ""
	}
	return geo.PathWKT(p.Points)
}
