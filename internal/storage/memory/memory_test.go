package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fleetconsole/tracker/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

func pointAt(minute int) core.TelemetryPoint {
	return core.TelemetryPoint{
		Position:  core.Position{Latitude: 20 + float64(minute)/100, Longitude: 40},
		SpeedKmh:  float64(minute),
		Timestamp: base.Add(time.Duration(minute) * time.Minute),
	}
}

func TestNew(t *testing.T) {
	b := New(Config{})
	require.NotNil(t, b)
	require.NoError(t, b.Init())
	assert.Empty(t, b.Devices())
}

func TestRecordPoint_RequiresDevice(t *testing.T) {
	b := New(Config{})
	assert.Error(t, b.RecordPoint("", pointAt(0)))
}

func TestQueryRoute_HalfOpenRange(t *testing.T) {
	b := New(Config{})
	for m := 0; m < 10; m++ {
		require.NoError(t, b.RecordPoint("van-1", pointAt(m)))
	}

	pts, err := b.QueryRoute(context.Background(), "van-1", base.Add(2*time.Minute), base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, 2.0, pts[0].SpeedKmh)
	assert.Equal(t, 4.0, pts[2].SpeedKmh)
}

func TestQueryRoute_SortsOutOfOrderPoints(t *testing.T) {
	b := New(Config{})
	for _, m := range []int{3, 1, 2} {
		require.NoError(t, b.RecordPoint("van-1", pointAt(m)))
	}

	pts, err := b.QueryRoute(context.Background(), "van-1", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{pts[0].SpeedKmh, pts[1].SpeedKmh, pts[2].SpeedKmh})
}

func TestQueryRoute_UnknownDevice(t *testing.T) {
	b := New(Config{})
	pts, err := b.QueryRoute(context.Background(), "ghost", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestQueryRoute_CancelledContext(t *testing.T) {
	b := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.QueryRoute(ctx, "van-1", base, base.Add(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMaxPointsPerDevice_EvictsOldest(t *testing.T) {
	b := New(Config{MaxPointsPerDevice: 3})
	for m := 0; m < 5; m++ {
		require.NoError(t, b.RecordPoint("van-1", pointAt(m)))
	}
	require.NoError(t, b.RecordPoint("van-2", pointAt(0)))

	assert.Equal(t, 3, b.Count("van-1"))
	assert.Equal(t, 1, b.Count("van-2"))
	assert.Equal(t, []string{"van-1", "van-2"}, b.Devices())

	pts, err := b.QueryRoute(context.Background(), "van-1", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, 2.0, pts[0].SpeedKmh)
}

func TestClose_DropsHistory(t *testing.T) {
	b := New(Config{})
	require.NoError(t, b.RecordPoint("van-1", pointAt(0)))
	require.NoError(t, b.Close())
	assert.Equal(t, 0, b.Count("van-1"))
}

func TestConcurrentRecordAndQuery(t *testing.T) {
	b := New(Config{MaxPointsPerDevice: 50})
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := 0; m < 100; m++ {
				_ = b.RecordPoint("van-1", pointAt(m))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, _ = b.QueryRoute(context.Background(), "van-1", base, base.Add(2*time.Hour))
		}
	}()
	wg.Wait()

	assert.Equal(t, 50, b.Count("van-1"))
}
