package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/fleetconsole/tracker/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
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

func (r *recorder) last() core.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func testRoute(n int) core.Route {
	points := make([]core.TelemetryPoint, n)
	for i := range points {
		points[i] = core.TelemetryPoint{
			Position:  core.Position{Latitude: 20 + float64(i)*0.001, Longitude: 78},
			SpeedKmh:  float64(10 * i),
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
		}
	}
	return core.NewRoute("7", t0, t0.Add(time.Duration(n)*time.Minute), points)
}

// newManualEngine returns an engine whose scheduler never fires on its own;
// tests drive the timeline with the clock and advance().
func newManualEngine(t *testing.T) (*Engine, *fakeClock, *recorder) {
	t.Helper()
	clock := &fakeClock{now: t0}
	rec := &recorder{}
	e, err := NewEngine(Config{TickInterval: time.Hour, PointDuration: 100 * time.Millisecond}, Dependencies{
		Publisher: rec,
		Now:       clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(e.Unload)
	return e, clock, rec
}

func TestNewEngine_Defaults(t *testing.T) {
	e, err := NewEngine(Config{}, Dependencies{})
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), e.cfg)
	st := e.State()
	assert.Equal(t, core.Stopped, st.Mode)
	assert.Equal(t, 0, st.CurrentIndex)
	assert.Equal(t, 1.0, st.SpeedMultiplier)
}

func TestLoad_EmptyRouteIsNoOp(t *testing.T) {
	e, _, rec := newManualEngine(t)
	require.NoError(t, e.Load(testRoute(5)))
	require.NoError(t, e.Seek(3))

	assert.ErrorIs(t, e.Load(core.Route{}), ErrEmptyRoute)

	route, ok := e.Route()
	require.True(t, ok)
	assert.Equal(t, 5, route.Len())
	assert.Equal(t, 3, e.State().CurrentIndex)
	assert.Equal(t, 2, rec.len())
}

func TestLoad_ResetsAndPublishesPath(t *testing.T) {
	e, _, rec := newManualEngine(t)
	require.NoError(t, e.Load(testRoute(5)))

	u := rec.last()
	assert.Equal(t, core.ModePlayback, u.Mode)
	assert.Equal(t, core.StatusPlayback, u.Status)
	assert.Len(t, u.Path, 5)
	assert.Equal(t, 0, u.Index)
	assert.Equal(t, core.Stopped, u.PlaybackMode)
	assert.Greater(t, e.Stats().TotalDistanceKm, 0.0)
}

func TestControls_RequireRoute(t *testing.T) {
	e, _, _ := newManualEngine(t)
	assert.ErrorIs(t, e.Play(), ErrNoRoute)
	assert.ErrorIs(t, e.Seek(1), ErrNoRoute)
	assert.ErrorIs(t, e.Skip(1), ErrNoRoute)
	e.Pause()
	e.Stop()
	assert.Equal(t, core.Stopped, e.State().Mode)
}

func TestSkip_ProgressMonotoneToHundred(t *testing.T) {
	e, _, _ := newManualEngine(t)
	require.NoError(t, e.Load(testRoute(7)))

	prev := e.State().ProgressPercent
	assert.Equal(t, 0.0, prev)
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Skip(1))
		p := e.State().ProgressPercent
		assert.GreaterOrEqual(t, p, prev)
		prev = p
	}
	assert.Equal(t, 100.0, prev)
	assert.Equal(t, 6, e.State().CurrentIndex)
}

func TestSeek_Clamps(t *testing.T) {
	e, _, _ := newManualEngine(t)
	require.NoError(t, e.Load(testRoute(5)))

	require.NoError(t, e.Seek(-5))
	assert.Equal(t, 0, e.State().CurrentIndex)

	require.NoError(t, e.Seek(99))
	assert.Equal(t, 4, e.State().CurrentIndex)
	assert.Equal(t, core.Stopped, e.State().Mode)

	require.NoError(t, e.Skip(-100))
	assert.Equal(t, 0, e.State().CurrentIndex)
}

func TestPlay_AdvancesWithClock(t *testing.T) {
	e, clock, _ := newManualEngine(t)
	require.NoError(t, e.Load(testRoute(11)))
	require.NoError(t, e.Play())
	assert.Equal(t, core.Playing, e.State().Mode)

	clock.Advance(250 * time.Millisecond)
	e.advance()
	assert.Equal(t, 2, e.State().CurrentIndex)

	require.NoError(t, e.SetSpeed(2))
	clock.Advance(200 * time.Millisecond)
	e.advance()
	assert.Equal(t, 6, e.State().CurrentIndex)
}

func TestSetSpeed_ReanchorsWithoutJump(t *testing.T) {
	e, clock, _ := newManualEngine(t)
	require.NoError(t, e.Load(testRoute(100)))
	require.NoError(t, e.Play())

	clock.Advance(550 * time.Millisecond)
	e.advance()
	require.Equal(t, 5, e.State().CurrentIndex)

	require.NoError(t, e.SetSpeed(5))
	e.advance()
	assert.Equal(t, 5, e.State().CurrentIndex, "changing speed must not move the index")

	// 5.5 + 0.1s/100ms*5 = 10.5
	clock.Advance(100 * time.Millisecond)
	e.advance()
	assert.Equal(t, 10, e.State().CurrentIndex)
}

func TestSetSpeed_Invalid(t *testing.T) {
	e, _, _ := newManualEngine(t)
	for _, m := range []float64{0, -1} {
		assert.ErrorIs(t, e.SetSpeed(m), ErrInvalidSpeed)
	}
	assert.Equal(t, 1.0, e.State().SpeedMultiplier)

	require.NoError(t, e.SetSpeed(0.5))
	assert.Equal(t, 0.5, e.State().SpeedMultiplier)
}

func TestPlay_CompletesAtEnd(t *testing.T) {
	e, clock, rec := newManualEngine(t)
	require.NoError(t, e.Load(testRoute(5)))
	require.NoError(t, e.Play())

	clock.Advance(10 * time.Second)
	e.advance()

	st := e.State()
	assert.Equal(t, core.Stopped, st.Mode)
	assert.Equal(t, 4, st.CurrentIndex)
	assert.Equal(t, 100.0, st.ProgressPercent)

	u := rec.last()
	assert.Equal(t, 100.0, u.ProgressPercent)
	assert.Equal(t, core.Stopped, u.PlaybackMode)

	// Playing again from the end restarts.
	require.NoError(t, e.Play())
	assert.Equal(t, 0, e.State().CurrentIndex)
	assert.Equal(t, core.Playing, e.State().Mode)
}

func TestPauseResume(t *testing.T) {
	e, clock, _ := newManualEngine(t)
	require.NoError(t, e.Load(testRoute(20)))
	require.NoError(t, e.Play())

	clock.Advance(300 * time.Millisecond)
	e.Pause()
	st := e.State()
	assert.Equal(t, core.Paused, st.Mode)
	assert.Equal(t, 3, st.CurrentIndex)

	// Time passing while paused does not move the index.
	clock.Advance(time.Second)
	e.advance()
	assert.Equal(t, 3, e.State().CurrentIndex)

	require.NoError(t, e.Play())
	clock.Advance(200 * time.Millisecond)
	e.advance()
	assert.Equal(t, 5, e.State().CurrentIndex)
}

func TestSeek_WhilePlayingReanchors(t *testing.T) {
	e, clock, _ := newManualEngine(t)
	require.NoError(t, e.Load(testRoute(50)))
	require.NoError(t, e.Play())

	clock.Advance(500 * time.Millisecond)
	require.NoError(t, e.Seek(20))
	assert.Equal(t, core.Playing, e.State().Mode)

	clock.Advance(300 * time.Millisecond)
	e.advance()
	assert.Equal(t, 23, e.State().CurrentIndex)
}

func TestStop_ResetsIndex(t *testing.T) {
	e, clock, _ := newManualEngine(t)
	require.NoError(t, e.Load(testRoute(20)))
	require.NoError(t, e.Play())
	clock.Advance(500 * time.Millisecond)
	e.advance()

	e.Stop()
	st := e.State()
	assert.Equal(t, core.Stopped, st.Mode)
	assert.Equal(t, 0, st.CurrentIndex)
}

func TestPlay_SinglePointRoute(t *testing.T) {
	e, _, _ := newManualEngine(t)
	require.NoError(t, e.Load(testRoute(1)))
	require.NoError(t, e.Play())

	st := e.State()
	assert.Equal(t, core.Stopped, st.Mode)
	assert.Equal(t, 0, st.CurrentIndex)
}

func TestUnload(t *testing.T) {
	e, _, _ := newManualEngine(t)
	require.NoError(t, e.Load(testRoute(5)))
	require.NoError(t, e.Play())

	e.Unload()
	_, ok := e.Route()
	assert.False(t, ok)
	assert.Equal(t, core.Stopped, e.State().Mode)
	assert.Equal(t, core.RouteStats{}, e.Stats())
	assert.Equal(t, time.Duration(0), e.WallDuration())
}

func TestWallDuration(t *testing.T) {
	e, _, _ := newManualEngine(t)
	require.NoError(t, e.Load(testRoute(11)))
	assert.Equal(t, time.Second, e.WallDuration())

	require.NoError(t, e.SetSpeed(2))
	assert.Equal(t, 500*time.Millisecond, e.WallDuration())
}

func TestScheduler_RunsToCompletion(t *testing.T) {
	rec := &recorder{}
	e, err := NewEngine(Config{TickInterval: 5 * time.Millisecond, PointDuration: 5 * time.Millisecond}, Dependencies{Publisher: rec})
	require.NoError(t, err)
	t.Cleanup(e.Unload)

	require.NoError(t, e.Load(testRoute(10)))
	require.NoError(t, e.Play())

	require.Eventually(t, func() bool {
		return e.State().Mode == core.Stopped
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 100.0, e.State().ProgressPercent)
}

func TestStop_NoPublicationAfterReturn(t *testing.T) {
	rec := &recorder{}
	e, err := NewEngine(Config{TickInterval: time.Millisecond, PointDuration: 50 * time.Millisecond}, Dependencies{Publisher: rec})
	require.NoError(t, err)
	t.Cleanup(e.Unload)

	require.NoError(t, e.Load(testRoute(1000)))
	require.NoError(t, e.Play())
	time.Sleep(20 * time.Millisecond)

	e.Stop()
	n := rec.len()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, rec.len())
}
