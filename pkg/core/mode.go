// pkg/core/mode.go
package core

// TrackingMode is the active producer of display updates.
type TrackingMode int

const (
	ModeLive TrackingMode = iota
	ModePlayback
)

func (m TrackingMode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModePlayback:
		return "playback"
	default:
		return "unknown"
	}
}

// PlaybackMode is the state of the playback timeline.
type PlaybackMode int

const (
	Stopped PlaybackMode = iota
	Playing
	Paused
)

func (m PlaybackMode) String() string {
	switch m {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// PlaybackState is a snapshot of the playback engine.
type PlaybackState struct {
	Mode            PlaybackMode `json:"mode"`
	CurrentIndex    int          `json:"currentIndex"`
	SpeedMultiplier float64      `json:"speedMultiplier"`
	ProgressPercent float64      `json:"progressPercent"`
}

// Status reflects the latest outcome shown by the status indicator.
type Status string

const (
	StatusIdle         Status = "IDLE"
	StatusLive         Status = "LIVE"
	StatusNoGpsFix     Status = "NO_GPS_FIX"
	StatusNetworkError Status = "NETWORK_ERROR"
	StatusUnauthorized Status = "UNAUTHORIZED"
	StatusAPIError     Status = "API_ERROR"
	StatusPlayback     Status = "PLAYBACK"
)
