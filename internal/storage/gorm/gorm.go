// Package gormstorage implements the telemetry store on GORM with an
// internal write queue drained by a background writer goroutine.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleetconsole/tracker/internal/model"
	"github.com/fleetconsole/tracker/internal/model/convert"
	"github.com/fleetconsole/tracker/internal/queue"
	"github.com/fleetconsole/tracker/pkg/core"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// DefaultFlushInterval is how often queued records are written.
const DefaultFlushInterval = 2 * time.Second

// writeBatchSize bounds each INSERT issued by a flush.
const writeBatchSize = 500

// ErrNotInitialized is returned when the store is used before Init.
var ErrNotInitialized = errors.New("storage not initialized")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        zerolog.Logger
	FlushInterval time.Duration
}

// Backend implements the telemetry store using GORM with queue-based batch writes.
type Backend struct {
	deps    Dependencies
	pending *queue.Queue[model.TelemetryRecord]

	// serializes flushes so that a query sees every point recorded before it
	flushMu sync.Mutex

	stopChan  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps:    deps,
		pending: queue.New[model.TelemetryRecord](0),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return ErrNotInitialized
	}
	if err := b.setupDB(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writeLoop()
	return nil
}

func (b *Backend) setupDB() error {
	log := b.deps.Logger

	log.Info().Str("dialect", b.deps.DB.Name()).Msg("Migrating schema")
	if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.Info().Msg("Database setup complete")
	return nil
}

// Close stops the writer goroutine and writes whatever is still queued.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.stopChan == nil {
			return
		}
		close(b.stopChan)
		<-b.done
		err = b.Flush()
	})
	return err
}

// RecordPoint converts p and queues it for the next flush.
func (b *Backend) RecordPoint(deviceID string, p core.TelemetryPoint) error {
	if deviceID == "" {
		return errors.New("device id is required")
	}
	b.pending.Push(convert.CoreToTelemetry(deviceID, p))
	return nil
}

// Pending returns the number of queued, unwritten records.
func (b *Backend) Pending() int {
	return b.pending.Len()
}

// Flush writes all queued records in one transaction. On failure the
// records are requeued.
func (b *Backend) Flush() error {
	if b.deps.DB == nil {
		return ErrNotInitialized
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if b.pending.Empty() {
		return nil
	}
	items := b.pending.GetAndEmpty()

	err := b.deps.DB.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&items, writeBatchSize).Error
	})
	if err != nil {
		b.pending.Push(items...)
		return fmt.Errorf("error writing %d telemetry records: %w", len(items), err)
	}

	b.deps.Logger.Trace().Int("count", len(items)).Msg("Wrote telemetry records")
	return nil
}

// QueryRoute flushes queued records, then returns deviceID's points in
// [start, end) ordered by timestamp.
func (b *Backend) QueryRoute(ctx context.Context, deviceID string, start, end time.Time) ([]core.TelemetryPoint, error) {
	if err := b.Flush(); err != nil {
		if errors.Is(err, ErrNotInitialized) {
			return nil, err
		}
		b.deps.Logger.Warn().Err(err).Msg("Querying with unwritten telemetry")
	}

	var records []model.TelemetryRecord
	err := b.deps.DB.WithContext(ctx).
		Where("device_id = ? AND recorded_at >= ? AND recorded_at < ?", deviceID, start.UTC(), end.UTC()).
		Order("recorded_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query route for %s: %w", deviceID, err)
	}
	return convert.TelemetryToCoreSlice(records), nil
}

func (b *Backend) writeLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.deps.Logger.Error().Err(err).Msg("DB writer flush failed")
			}
		}
	}
}
