package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fleetconsole/tracker/pkg/core"
)

// DefaultInterval is used when Dependencies.Interval is not positive.
const DefaultInterval = time.Second

// ModeSource reports the active tracking mode and device.
type ModeSource interface {
	Mode() core.TrackingMode
	DeviceID() string
}

// LiveSource reports the live poller state.
type LiveSource interface {
	Status() core.Status
	Buffer() []core.TelemetryPoint
}

// PlaybackSource reports the playback engine state.
type PlaybackSource interface {
	State() core.PlaybackState
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Mode     ModeSource
	Live     LiveSource
	Playback PlaybackSource
	// Pending reports queued store writes; nil when no store is configured.
	Pending    func() int
	StatusFile string
	Interval   time.Duration
	Logger     *slog.Logger
}

// Status is one snapshot of the tracker.
type Status struct {
	Time          time.Time           `json:"time"`
	Mode          string              `json:"mode"`
	DeviceID      string              `json:"deviceId"`
	LiveStatus    core.Status         `json:"liveStatus"`
	TrackPoints   int                 `json:"trackPoints"`
	Playback      *core.PlaybackState `json:"playback,omitempty"`
	PendingWrites int                 `json:"pendingWrites"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) (*Service, error) {
	if deps.Mode == nil || deps.Live == nil || deps.Playback == nil {
		return nil, fmt.Errorf("monitor: mode, live and playback sources are required")
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}, nil
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current tracker status.
func (s *Service) GetStatus() Status {
	st := Status{
		Time:        time.Now().UTC(),
		Mode:        s.deps.Mode.Mode().String(),
		DeviceID:    s.deps.Mode.DeviceID(),
		LiveStatus:  s.deps.Live.Status(),
		TrackPoints: len(s.deps.Live.Buffer()),
	}
	if s.deps.Mode.Mode() == core.ModePlayback {
		ps := s.deps.Playback.State()
		st.Playback = &ps
	}
	if s.deps.Pending != nil {
		st.PendingWrites = s.deps.Pending()
	}
	return st
}

// WriteStatus replaces the status file with the current snapshot.
func (s *Service) WriteStatus() error {
	if s.deps.StatusFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.GetStatus(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	tmp := s.deps.StatusFile + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	return os.Rename(tmp, s.deps.StatusFile)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "file", s.deps.StatusFile, "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.WriteStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for its goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning || s.stopChan == nil {
		s.mu.Unlock()
		return
	}
	stop, done := s.stopChan, s.done
	s.stopChan = nil
	s.mu.Unlock()

	close(stop)
	<-done
}
