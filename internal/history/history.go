// Package history loads a device's recorded route for a bounded time range.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetconsole/tracker/internal/heading"
	"github.com/fleetconsole/tracker/internal/telemetry"
	"github.com/fleetconsole/tracker/pkg/core"
)

// DefaultMaxRange is the widest range a single request may cover.
const DefaultMaxRange = 7 * 24 * time.Hour

// ValidationError rejects a request before any I/O.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid route request: " + e.Reason
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Source returns the points recorded for a device in [start, end).
type Source interface {
	QueryRoute(ctx context.Context, deviceID string, start, end time.Time) ([]core.TelemetryPoint, error)
}

// Fetcher validates route requests and loads them from a Source.
type Fetcher struct {
	source   Source
	maxRange time.Duration
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher. A maxRange of zero or less uses DefaultMaxRange.
func NewFetcher(source Source, maxRange time.Duration, logger *slog.Logger) *Fetcher {
	if maxRange <= 0 {
		maxRange = DefaultMaxRange
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{source: source, maxRange: maxRange, logger: logger}
}

// Validate checks a request without fetching anything.
func (f *Fetcher) Validate(deviceID string, start, end time.Time) error {
	if strings.TrimSpace(deviceID) == "" {
		return &ValidationError{Reason: "device id is required"}
	}
	if !start.Before(end) {
		return &ValidationError{Reason: "start must be before end"}
	}
	if end.Sub(start) > f.maxRange {
		return &ValidationError{Reason: fmt.Sprintf("range exceeds %s", f.maxRange)}
	}
	return nil
}

// Fetch returns the route for deviceID in [start, end). A range with no
// recorded points yields an empty route and a nil error.
func (f *Fetcher) Fetch(ctx context.Context, deviceID string, start, end time.Time) (core.Route, error) {
	if err := f.Validate(deviceID, start, end); err != nil {
		return core.Route{}, err
	}

	points, err := f.source.QueryRoute(ctx, deviceID, start, end)
	if err != nil {
		return core.Route{}, fmt.Errorf("failed to fetch route for %s: %w", deviceID, err)
	}

	route := core.NewRoute(deviceID, start, end, points)
	f.logger.Info("route loaded", "device", deviceID, "start", start, "end", end, "points", route.Len())
	return route, nil
}

// RecordFetcher returns raw history records, as the API client does.
type RecordFetcher interface {
	FetchHistory(ctx context.Context, deviceID string, start, end time.Time) ([]map[string]any, error)
}

// RemoteSource reads routes from the telemetry server's history endpoint.
type RemoteSource struct {
	Client RecordFetcher
	Now    func() time.Time
}

// QueryRoute normalizes the records, drops those without a fix and fills
// in headings the device did not report.
func (s RemoteSource) QueryRoute(ctx context.Context, deviceID string, start, end time.Time) ([]core.TelemetryPoint, error) {
	records, err := s.Client.FetchHistory(ctx, deviceID, start, end)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ts := now()

	points := make([]core.TelemetryPoint, 0, len(records))
	for _, rec := range records {
		p, err := telemetry.Normalize(rec, ts)
		if err != nil {
			continue
		}
		points = append(points, p)
	}

	// Ordered first so bearings follow the route.
	ordered := core.NewRoute(deviceID, start, end, points).Points()
	return FillHeadings(ordered), nil
}

// FillHeadings applies the heading policy along an ordered point sequence.
func FillHeadings(points []core.TelemetryPoint) []core.TelemetryPoint {
	out := make([]core.TelemetryPoint, len(points))
	var prev *core.TelemetryPoint
	for i, p := range points {
		out[i] = p.WithHeading(heading.Estimate(prev, p, p.HeadingDegrees))
		prev = &out[i]
	}
	return out
}
