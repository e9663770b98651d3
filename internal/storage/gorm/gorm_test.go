package gormstorage

import (
	"context"
	"testing"
	"time"

	"github.com/fleetconsole/tracker/internal/database"
	"github.com/fleetconsole/tracker/internal/model"
	"github.com/fleetconsole/tracker/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

func pointAt(minute int) core.TelemetryPoint {
	return core.TelemetryPoint{
		Position:       core.Position{Latitude: 20 + float64(minute)/100, Longitude: 40.5},
		SpeedKmh:       float64(minute),
		HeadingDegrees: 90,
		Timestamp:      base.Add(time.Duration(minute) * time.Minute),
		SatelliteCount: 8,
		DeviceStatus:   "MOVING",
	}
}

// newTestBackend creates a Backend over a private in-memory SQLite DB.
// The writer interval is long so tests control flushing.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.OpenSqlite("", zerolog.Nop())
	require.NoError(t, err)

	b := New(Dependencies{DB: db, Logger: zerolog.Nop(), FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestInit_WithoutDB(t *testing.T) {
	b := New(Dependencies{Logger: zerolog.Nop()})
	assert.ErrorIs(t, b.Init(), ErrNotInitialized)
	assert.NoError(t, b.Close())
}

func TestInit_MigratesSchema(t *testing.T) {
	b := newTestBackend(t)
	assert.True(t, b.DB().Migrator().HasTable(&model.TelemetryRecord{}))
}

func TestRecordPoint_QueuesUntilFlush(t *testing.T) {
	b := newTestBackend(t)

	require.NoError(t, b.RecordPoint("van-1", pointAt(0)))
	require.NoError(t, b.RecordPoint("van-1", pointAt(1)))
	assert.Equal(t, 2, b.Pending())

	var count int64
	require.NoError(t, b.DB().Model(&model.TelemetryRecord{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	require.NoError(t, b.Flush())
	assert.Equal(t, 0, b.Pending())
	require.NoError(t, b.DB().Model(&model.TelemetryRecord{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestRecordPoint_RequiresDevice(t *testing.T) {
	b := newTestBackend(t)
	assert.Error(t, b.RecordPoint("", pointAt(0)))
}

func TestQueryRoute_FlushesAndFilters(t *testing.T) {
	b := newTestBackend(t)
	for m := 0; m < 10; m++ {
		require.NoError(t, b.RecordPoint("van-1", pointAt(m)))
	}
	require.NoError(t, b.RecordPoint("van-2", pointAt(3)))

	pts, err := b.QueryRoute(context.Background(), "van-1", base.Add(2*time.Minute), base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, pts, 3)

	assert.Equal(t, 2.0, pts[0].SpeedKmh)
	assert.Equal(t, 4.0, pts[2].SpeedKmh)
	assert.True(t, pts[0].Timestamp.Equal(base.Add(2*time.Minute)))
	assert.InDelta(t, 20.02, pts[0].Latitude, 1e-9)
	assert.InDelta(t, 40.5, pts[0].Longitude, 1e-9)
	assert.Equal(t, 8, pts[0].SatelliteCount)
	assert.Equal(t, "MOVING", pts[0].DeviceStatus)
	assert.Equal(t, 90.0, pts[0].HeadingDegrees)
}

func TestQueryRoute_OrdersByTimestamp(t *testing.T) {
	b := newTestBackend(t)
	for _, m := range []int{5, 1, 3} {
		require.NoError(t, b.RecordPoint("van-1", pointAt(m)))
	}

	pts, err := b.QueryRoute(context.Background(), "van-1", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, []float64{1, 3, 5}, []float64{pts[0].SpeedKmh, pts[1].SpeedKmh, pts[2].SpeedKmh})
}

func TestQueryRoute_NonUTCBounds(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.RecordPoint("van-1", pointAt(30)))

	eat := time.FixedZone("EAT", 3*3600)
	start := base.In(eat)
	pts, err := b.QueryRoute(context.Background(), "van-1", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, pts, 1)
}

func TestQueryRoute_Empty(t *testing.T) {
	b := newTestBackend(t)
	pts, err := b.QueryRoute(context.Background(), "ghost", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestClose_FlushesPending(t *testing.T) {
	db, err := database.OpenSqlite("", zerolog.Nop())
	require.NoError(t, err)

	b := New(Dependencies{DB: db, Logger: zerolog.Nop(), FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	require.NoError(t, b.RecordPoint("van-1", pointAt(0)))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	var count int64
	require.NoError(t, db.Model(&model.TelemetryRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWriteLoop_FlushesOnInterval(t *testing.T) {
	db, err := database.OpenSqlite("", zerolog.Nop())
	require.NoError(t, err)

	b := New(Dependencies{DB: db, Logger: zerolog.Nop(), FlushInterval: 10 * time.Millisecond})
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.RecordPoint("van-1", pointAt(0)))
	require.Eventually(t, func() bool { return b.Pending() == 0 }, time.Second, 5*time.Millisecond)
}
