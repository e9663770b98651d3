package stats

import (
	"testing"
	"time"

	"github.com/fleetconsole/tracker/pkg/core"
	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func pt(lat, lng, speed float64, at time.Time) core.TelemetryPoint {
	return core.TelemetryPoint{
		Position:  core.Position{Latitude: lat, Longitude: lng},
		SpeedKmh:  speed,
		Timestamp: at,
	}
}

func TestCompute_FewerThanTwoPoints(t *testing.T) {
	assert.Equal(t, core.RouteStats{}, Compute(core.Route{}))

	one := core.NewRoute("7", t0, t0.Add(time.Hour), []core.TelemetryPoint{pt(1, 1, 80, t0)})
	assert.Equal(t, core.RouteStats{}, Compute(one))
}

func TestCompute_TwoPoints(t *testing.T) {
	route := core.NewRoute("7", t0, t0.Add(2*time.Hour), []core.TelemetryPoint{
		pt(0, 0, 60, t0),
		pt(1, 0, 120, t0.Add(time.Hour)),
	})

	s := Compute(route)
	assert.InDelta(t, 111.2, s.TotalDistanceKm, 0.05)
	assert.InDelta(t, 90, s.AvgSpeedKmh, 1e-9)
	assert.Equal(t, 120.0, s.MaxSpeedKmh)
	assert.InDelta(t, 1.0, s.DurationHours, 1e-9)
}

func TestCompute_AverageIsSampleMean(t *testing.T) {
	// Distance over duration would be far from the sample mean here.
	route := core.NewRoute("7", t0, t0.Add(time.Hour), []core.TelemetryPoint{
		pt(10, 10, 0, t0),
		pt(10, 10, 0, t0.Add(30*time.Minute)),
		pt(10.001, 10, 30, t0.Add(31*time.Minute)),
	})

	s := Compute(route)
	assert.InDelta(t, 10, s.AvgSpeedKmh, 1e-9)
	assert.Equal(t, 30.0, s.MaxSpeedKmh)
	assert.InDelta(t, 31.0/60, s.DurationHours, 1e-9)
}

func TestCompute_OrderIndependentInput(t *testing.T) {
	a := pt(0, 0, 10, t0)
	b := pt(0, 1, 20, t0.Add(time.Hour))
	c := pt(1, 1, 30, t0.Add(2*time.Hour))

	s1 := Compute(core.NewRoute("7", t0, t0.Add(3*time.Hour), []core.TelemetryPoint{a, b, c}))
	s2 := Compute(core.NewRoute("7", t0, t0.Add(3*time.Hour), []core.TelemetryPoint{c, a, b}))
	assert.Equal(t, s1, s2)
}
