// Package streaming defines the envelopes sent to a browser map over WebSocket.
package streaming

import (
	"encoding/json"
	"time"
)

// Message type constants matching the streaming protocol.
const (
	TypeSession = "session"
	TypeMarker  = "marker"
	TypePath    = "path"
	TypeRemove  = "remove"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// SessionPayload opens a stream and is replayed after reconnects.
type SessionPayload struct {
	Client     string    `json:"client"`
	Projection string    `json:"projection"`
	StartedAt  time.Time `json:"startedAt"`
}

// MarkerPayload moves or creates a vehicle marker.
type MarkerPayload struct {
	Handle          string  `json:"handle"`
	DeviceID        string  `json:"deviceId"`
	Mode            string  `json:"mode"`
	Status          string  `json:"status"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	X               float64 `json:"x,omitempty"`
	Y               float64 `json:"y,omitempty"`
	HeadingDegrees  float64 `json:"heading"`
	SpeedKmh        float64 `json:"speedKmh"`
	ProgressPercent float64 `json:"progressPercent,omitempty"`
	Timestamp       int64   `json:"timestamp"` // unix milliseconds
}

// PathPayload replaces a drawn polyline. WKT is the path as a
// LINESTRING, empty for fewer than two points.
type PathPayload struct {
	Handle   string `json:"handle"`
	DeviceID string `json:"deviceId"`
	Mode     string `json:"mode"`
	WKT      string `json:"wkt"`
	Points   int    `json:"points"`
}

// RemovePayload deletes a marker or path.
type RemovePayload struct {
	Handle string `json:"handle"`
}
