package core

// Update is one event published to the rendering surface and other subscribers.
type Update struct {
	DeviceID string       `json:"deviceId"`
	Mode     TrackingMode `json:"mode"`
	Status   Status       `json:"status"`

	// Point is only meaningful when HasPoint is set; status-only updates
	// (network errors, no fix) leave it zero.
	Point    TelemetryPoint `json:"point"`
	HasPoint bool           `json:"hasPoint"`

	// Playback fields.
	Index           int          `json:"index"`
	ProgressPercent float64      `json:"progressPercent"`
	PlaybackMode    PlaybackMode `json:"playbackMode"`

	// Path is the polyline to draw. Nil means unchanged.
	Path []Position `json:"path,omitempty"`

	Sequence uint64 `json:"sequence"`
}

// IsPlayback reports whether the update came from route playback.
func (u Update) IsPlayback() bool {
	return u.Mode == ModePlayback
}

// Publisher receives updates from a producing engine.
type Publisher interface {
	Publish(u Update)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Update)

// Publish calls f(u).
func (f PublisherFunc) Publish(u Update) { f(u) }
