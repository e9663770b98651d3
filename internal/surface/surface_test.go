package surface

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/fleetconsole/tracker/internal/dispatcher"
	"github.com/fleetconsole/tracker/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSurface struct {
	markers []Marker
	paths   []Path
	removed []HandleID
	fail    error
}

func (f *fakeSurface) UpdateMarker(m Marker) error {
	if f.fail != nil {
		return f.fail
	}
	f.markers = append(f.markers, m)
	return nil
}

func (f *fakeSurface) SetPath(p Path) error {
	if f.fail != nil {
		return f.fail
	}
	f.paths = append(f.paths, p)
	return nil
}

func (f *fakeSurface) Remove(h HandleID) error {
	f.removed = append(f.removed, h)
	return nil
}

func (f *fakeSurface) Close() error { return nil }

func liveUpdate(device string, lat float64, path bool) core.Update {
	u := core.Update{
		DeviceID: device,
		Mode:     core.ModeLive,
		Status:   core.StatusLive,
		Point: core.TelemetryPoint{
			Position:       core.Position{Latitude: lat, Longitude: 78},
			HeadingDegrees: 90,
			SpeedKmh:       42,
			Timestamp:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		HasPoint: true,
	}
	if path {
		u.Path = []core.Position{{Latitude: lat - 0.01, Longitude: 78}, u.Point.Position}
	}
	return u
}

func TestParseProjection(t *testing.T) {
	p, err := ParseProjection("3857")
	require.NoError(t, err)
	assert.Equal(t, ProjectionWebMercator, p)

	p, err = ParseProjection("")
	require.NoError(t, err)
	assert.Equal(t, ProjectionNone, p)

	_, err = ParseProjection("mollweide")
	assert.Error(t, err)
}

func TestAdapter_StableHandles(t *testing.T) {
	fs := &fakeSurface{}
	a := NewAdapter(fs, ProjectionNone, nil)

	require.NoError(t, a.Render(liveUpdate("7", 20.30, true)))
	require.NoError(t, a.Render(liveUpdate("7", 20.31, true)))

	require.Len(t, fs.markers, 2)
	require.Len(t, fs.paths, 2)
	assert.Equal(t, fs.markers[0].Handle, fs.markers[1].Handle)
	assert.Equal(t, fs.paths[0].Handle, fs.paths[1].Handle)
	assert.NotEqual(t, fs.markers[0].Handle, fs.paths[0].Handle)
	assert.Equal(t, 2, a.Handles())

	m := fs.markers[1]
	assert.Equal(t, 20.31, m.Position.Latitude)
	assert.Equal(t, 90.0, m.HeadingDegrees)
	assert.False(t, m.Projected)
}

func TestAdapter_NilPathLeavesPathAlone(t *testing.T) {
	fs := &fakeSurface{}
	a := NewAdapter(fs, ProjectionNone, nil)

	require.NoError(t, a.Render(liveUpdate("7", 20.30, false)))
	assert.Empty(t, fs.paths)
	assert.Len(t, fs.markers, 1)
}

func TestAdapter_StatusOnlyUpdate(t *testing.T) {
	fs := &fakeSurface{}
	a := NewAdapter(fs, ProjectionNone, nil)

	require.NoError(t, a.Render(core.Update{DeviceID: "7", Status: core.StatusNetworkError}))
	assert.Empty(t, fs.markers)
	assert.Empty(t, fs.paths)
}

func TestAdapter_WebMercator(t *testing.T) {
	fs := &fakeSurface{}
	a := NewAdapter(fs, ProjectionWebMercator, nil)

	u := liveUpdate("7", 0, false)
	u.Point.Longitude = 0
	u.Point.Latitude = 0.000001
	require.NoError(t, a.Render(u))

	m := fs.markers[0]
	assert.True(t, m.Projected)
	assert.InDelta(t, 0, m.X, 1)
	assert.InDelta(t, 0, m.Y, 1)
}

func TestAdapter_DeviceChangeRemovesOldHandles(t *testing.T) {
	fs := &fakeSurface{}
	a := NewAdapter(fs, ProjectionNone, nil)

	require.NoError(t, a.Render(liveUpdate("7", 20.30, true)))
	old := []HandleID{fs.markers[0].Handle, fs.paths[0].Handle}

	require.NoError(t, a.Render(liveUpdate("8", 21, true)))
	assert.ElementsMatch(t, old, fs.removed)
	assert.Equal(t, 2, a.Handles())
	assert.NotContains(t, old, fs.markers[1].Handle)
}

func TestAdapter_Forget(t *testing.T) {
	fs := &fakeSurface{}
	a := NewAdapter(fs, ProjectionNone, nil)

	require.NoError(t, a.Render(liveUpdate("7", 20.30, true)))
	require.NoError(t, a.Forget("7"))
	assert.Len(t, fs.removed, 2)
	assert.Equal(t, 0, a.Handles())
}

func TestAdapter_SurfaceError(t *testing.T) {
	boom := errors.New("canvas gone")
	a := NewAdapter(&fakeSurface{fail: boom}, ProjectionNone, nil)

	assert.ErrorIs(t, a.Render(liveUpdate("7", 20.30, true)), boom)
}

func TestAdapter_AsDispatcherSubscriber(t *testing.T) {
	fs := &fakeSurface{}
	a := NewAdapter(fs, ProjectionNone, nil)

	d, err := dispatcher.New(discardLogger{})
	require.NoError(t, err)
	defer d.Close()
	d.Subscribe(dispatcher.TopicUpdate, "surface", a.Handle)

	d.Publisher(dispatcher.TopicUpdate).Publish(liveUpdate("7", 20.30, false))
	assert.Len(t, fs.markers, 1)
}

func TestLogSurface(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSurface(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	require.NoError(t, s.UpdateMarker(Marker{DeviceID: "7", Projected: true, X: 1, Y: 2}))
	require.NoError(t, s.SetPath(Path{DeviceID: "7", Points: []core.Position{{Latitude: 1, Longitude: 2}, {Latitude: 3, Longitude: 4}}}))
	require.NoError(t, s.Remove("h"))
	require.NoError(t, s.Close())

	out := buf.String()
	assert.Contains(t, out, "device=7")
	assert.Contains(t, out, "x=1")
	assert.Contains(t, out, "LINESTRING(2 1,4 3)")
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
