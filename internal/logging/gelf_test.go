package logging

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 5, 10, 8, 0, 0, 500_000_000, time.UTC)

func TestGelfHandler_Message(t *testing.T) {
	rec := &recordingGelf{}
	h := NewGelfHandler(rec, slog.LevelDebug)

	r := slog.NewRecord(testTime, slog.LevelError, "fetch failed", 0)
	r.AddAttrs(slog.String("device", "van-1"), slog.Int("attempt", 3), slog.Bool("retry", true), slog.Float64("lat", 1.5))
	require.NoError(t, h.Handle(context.Background(), r))

	require.Len(t, rec.messages, 1)
	msg := rec.messages[0]
	assert.Equal(t, "1.1", msg.Version)
	assert.Equal(t, "fetch failed", msg.Short)
	assert.Equal(t, int32(3), msg.Level)
	assert.InDelta(t, 1715328000.5, msg.TimeUnix, 1e-3)
	assert.Equal(t, "van-1", msg.Extra["_device"])
	assert.Equal(t, int64(3), msg.Extra["_attempt"])
	assert.Equal(t, true, msg.Extra["_retry"])
	assert.Equal(t, 1.5, msg.Extra["_lat"])
}

func TestGelfHandler_Enabled(t *testing.T) {
	h := NewGelfHandler(&recordingGelf{}, slog.LevelInfo)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
}

func TestGelfHandler_AttrsAndGroups(t *testing.T) {
	rec := &recordingGelf{}
	logger := slog.New(NewGelfHandler(rec, slog.LevelInfo)).
		With("component", "poller").
		WithGroup("fix")

	logger.Info("point", "sats", 9, slog.Group("pos", "lat", 1.0), "id", "x")

	require.Len(t, rec.messages, 1)
	extra := rec.messages[0].Extra
	assert.Equal(t, "poller", extra["_component"])
	assert.Equal(t, int64(9), extra["_fix.sats"])
	assert.Equal(t, 1.0, extra["_fix.pos.lat"])
	assert.Equal(t, "x", extra["_fix.id"])
}

func TestGelfHandler_ReservedID(t *testing.T) {
	rec := &recordingGelf{}
	slog.New(NewGelfHandler(rec, slog.LevelInfo)).Info("m", "id", 7)

	require.Len(t, rec.messages, 1)
	assert.NotContains(t, rec.messages[0].Extra, "_id")
	assert.Equal(t, int64(7), rec.messages[0].Extra["_id_"])
}

func TestSyslogLevel(t *testing.T) {
	assert.Equal(t, int32(7), syslogLevel(slog.LevelDebug))
	assert.Equal(t, int32(6), syslogLevel(slog.LevelInfo))
	assert.Equal(t, int32(4), syslogLevel(slog.LevelWarn))
	assert.Equal(t, int32(3), syslogLevel(slog.LevelError))
}
