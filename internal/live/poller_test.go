package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fleetconsole/tracker/internal/api"
	"github.com/fleetconsole/tracker/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResult struct {
	payload map[string]any
	err     error
}

// fakeFetcher replays scripted results, repeating the last one.
type fakeFetcher struct {
	mu      sync.Mutex
	results []fakeResult
	calls   int
	devices []string
	block   chan struct{}
	noCreds bool
}

func (f *fakeFetcher) FetchLive(ctx context.Context, deviceID string) (map[string]any, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.devices = append(f.devices, deviceID)
	block := f.block
	var r fakeResult
	if len(f.results) > 0 {
		if i >= len(f.results) {
			i = len(f.results) - 1
		}
		r = f.results[i]
	}
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.payload, r.err
}

func (f *fakeFetcher) HasCredentials() bool { return !f.noCreds }

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu      sync.Mutex
	updates []core.Update
}

func (r *recorder) Publish(u core.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) snapshot() []core.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func fix(lat, lng, speed float64) fakeResult {
	return fakeResult{payload: map[string]any{"lat": lat, "lng": lng, "speed": speed}}
}

func newTestPoller(t *testing.T, f *fakeFetcher, interval time.Duration) (*Poller, *recorder) {
	t.Helper()
	rec := &recorder{}
	p, err := NewPoller(Config{Interval: interval, TrackCapacity: 5}, Dependencies{
		Fetcher:   f,
		Publisher: rec,
		Now:       func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	return p, rec
}

func TestNewPoller_RequiresFetcher(t *testing.T) {
	_, err := NewPoller(DefaultConfig(), Dependencies{})
	assert.Error(t, err)
}

func TestStart_RejectsPlaceholderIDs(t *testing.T) {
	p, _ := newTestPoller(t, &fakeFetcher{}, time.Hour)
	for _, id := range []string{"", "0", "none", "select", " NONE "} {
		assert.ErrorIs(t, p.Start(id), ErrNoDeviceSelected, "id %q", id)
	}
	assert.False(t, p.Running())
}

func TestStart_RequiresCredentials(t *testing.T) {
	p, _ := newTestPoller(t, &fakeFetcher{noCreds: true}, time.Hour)
	assert.ErrorIs(t, p.Start("7"), api.ErrAuthRequired)
	assert.False(t, p.Running())
}

func TestStart_FirstTickImmediate(t *testing.T) {
	f := &fakeFetcher{results: []fakeResult{fix(20.30, 78.0, 40)}}
	p, rec := newTestPoller(t, f, time.Hour)

	require.NoError(t, p.Start("7"))
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)

	u := rec.snapshot()[0]
	assert.Equal(t, "7", u.DeviceID)
	assert.Equal(t, core.ModeLive, u.Mode)
	assert.Equal(t, core.StatusLive, u.Status)
	assert.True(t, u.HasPoint)
	assert.Len(t, u.Path, 1)
	assert.Equal(t, core.StatusLive, p.Status())
}

func TestPoll_BearingFromConsecutiveFixes(t *testing.T) {
	f := &fakeFetcher{results: []fakeResult{
		fix(20.30, 78.0, 40),
		fix(20.31, 78.0, 40),
	}}
	p, rec := newTestPoller(t, f, 10*time.Millisecond)

	require.NoError(t, p.Start("7"))
	require.Eventually(t, func() bool { return rec.len() >= 2 }, time.Second, 5*time.Millisecond)
	p.Stop()

	second := rec.snapshot()[1]
	assert.InDelta(t, 0, second.Point.HeadingDegrees, 0.01)
	assert.Equal(t, 20.31, second.Point.Latitude)
}

func TestPoll_StationaryKeepsHeading(t *testing.T) {
	f := &fakeFetcher{results: []fakeResult{
		{payload: map[string]any{"lat": 20.30, "lng": 78.0, "speed": 30, "heading": 135}},
		{payload: map[string]any{"lat": 20.3001, "lng": 78.0, "speed": 0.2, "heading": 10}},
	}}
	p, rec := newTestPoller(t, f, 10*time.Millisecond)

	require.NoError(t, p.Start("7"))
	require.Eventually(t, func() bool { return rec.len() >= 3 }, time.Second, 5*time.Millisecond)
	p.Stop()

	for _, u := range rec.snapshot() {
		assert.Equal(t, 135.0, u.Point.HeadingDegrees)
	}
}

func TestPoll_ErrorsBecomeStatus(t *testing.T) {
	tests := []struct {
		name   string
		result fakeResult
		status core.Status
	}{
		{"network", fakeResult{err: api.ErrNetwork}, core.StatusNetworkError},
		{"unauthorized", fakeResult{err: &api.StatusError{Code: 401}}, core.StatusUnauthorized},
		{"api", fakeResult{err: &api.StatusError{Code: 500}}, core.StatusAPIError},
		{"no fix", fakeResult{payload: map[string]any{"lat": 0, "lng": 0}}, core.StatusNoGpsFix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{results: []fakeResult{tt.result}}
			p, rec := newTestPoller(t, f, 10*time.Millisecond)

			require.NoError(t, p.Start("7"))
			// The loop keeps going after a failed tick.
			require.Eventually(t, func() bool { return rec.len() >= 2 }, time.Second, 5*time.Millisecond)
			p.Stop()

			for _, u := range rec.snapshot() {
				assert.Equal(t, tt.status, u.Status)
				assert.False(t, u.HasPoint)
				assert.Nil(t, u.Path)
			}
			assert.Empty(t, p.Buffer())
			assert.Equal(t, tt.status, p.Status())
		})
	}
}

func TestPoll_BufferBounded(t *testing.T) {
	var results []fakeResult
	for i := 0; i < 20; i++ {
		results = append(results, fix(20+float64(i)*0.01, 78, 30))
	}
	f := &fakeFetcher{results: results}
	p, rec := newTestPoller(t, f, time.Millisecond)

	require.NoError(t, p.Start("7"))
	require.Eventually(t, func() bool { return rec.len() >= 20 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	buf := p.Buffer()
	assert.Len(t, buf, 5)
	for _, u := range rec.snapshot() {
		assert.LessOrEqual(t, len(u.Path), 5)
	}
}

func TestStop_SynchronousCancellation(t *testing.T) {
	f := &fakeFetcher{results: []fakeResult{fix(20.3, 78, 30)}, block: make(chan struct{})}
	p, rec := newTestPoller(t, f, 10*time.Millisecond)

	require.NoError(t, p.Start("7"))
	require.Eventually(t, func() bool { return f.callCount() == 1 }, time.Second, time.Millisecond)

	p.Stop()
	close(f.block)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 0, rec.len(), "no update may be published after Stop returns")
	assert.False(t, p.Running())
	p.Stop()
}

func TestStart_SwitchDeviceClearsTrail(t *testing.T) {
	f := &fakeFetcher{results: []fakeResult{fix(20.3, 78, 30)}}
	p, rec := newTestPoller(t, f, time.Hour)

	require.NoError(t, p.Start("7"))
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, time.Millisecond)
	require.Len(t, p.Buffer(), 1)

	// Same device keeps the trail.
	require.NoError(t, p.Start("7"))
	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, time.Millisecond)
	assert.Len(t, p.Buffer(), 2)

	require.NoError(t, p.Start("8"))
	require.Eventually(t, func() bool { return rec.len() == 3 }, time.Second, time.Millisecond)
	assert.Len(t, p.Buffer(), 1)
	assert.Equal(t, "8", p.DeviceID())
}

func TestClearTrail_KeepsHeadingContext(t *testing.T) {
	f := &fakeFetcher{results: []fakeResult{fix(20.30, 85.82, 20), fix(20.31, 85.83, 20), fix(20.31, 85.83, 0)}}
	p, rec := newTestPoller(t, f, time.Millisecond)

	require.NoError(t, p.Start("7"))
	require.Eventually(t, func() bool { return rec.len() >= 2 }, time.Second, time.Millisecond)
	p.Stop()

	last, ok := p.Last()
	require.True(t, ok)
	require.NotZero(t, last.HeadingDegrees)

	p.ClearTrail()
	assert.Empty(t, p.Buffer())
	kept, ok := p.Last()
	require.True(t, ok)
	assert.Equal(t, last, kept)
}

func TestPoll_FetchTimeout(t *testing.T) {
	f := &fakeFetcher{results: []fakeResult{{err: errors.New("unused")}}, block: make(chan struct{})}
	rec := &recorder{}
	p, err := NewPoller(Config{Interval: time.Hour, Timeout: 20 * time.Millisecond}, Dependencies{Fetcher: f, Publisher: rec})
	require.NoError(t, err)
	t.Cleanup(p.Stop)

	require.NoError(t, p.Start("7"))
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, core.StatusNetworkError, rec.snapshot()[0].Status)
}
