// Package postgres implements the telemetry store on PostgreSQL through
// the GORM backend and its queue-based writer.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetconsole/tracker/internal/database"
	gormstorage "github.com/fleetconsole/tracker/internal/storage/gorm"
	"github.com/fleetconsole/tracker/pkg/core"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	// DB is used as-is when set; otherwise Init connects with Config.
	DB            *gorm.DB
	Config        database.PostgresConfig
	FlushInterval time.Duration
	Logger        zerolog.Logger
}

// Backend implements the telemetry store on PostgreSQL.
type Backend struct {
	deps Dependencies
	gorm *gormstorage.Backend
}

// New creates a new Postgres storage backend. No connection is made until Init.
func New(deps Dependencies) *Backend {
	return &Backend{deps: deps}
}

// Init connects if needed, migrates the schema and starts the DB writer.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		db, err := database.OpenPostgres(b.deps.Config, b.deps.Logger)
		if err != nil {
			return err
		}
		b.deps.DB = db
	}

	g := gormstorage.New(gormstorage.Dependencies{
		DB:            b.deps.DB,
		Logger:        b.deps.Logger,
		FlushInterval: b.deps.FlushInterval,
	})
	if err := g.Init(); err != nil {
		return fmt.Errorf("failed to init postgres store: %w", err)
	}
	b.gorm = g
	return nil
}

// Close stops the writer and flushes queued records.
func (b *Backend) Close() error {
	if b.gorm == nil {
		return nil
	}
	return b.gorm.Close()
}

// RecordPoint queues p for deviceID.
func (b *Backend) RecordPoint(deviceID string, p core.TelemetryPoint) error {
	if b.gorm == nil {
		return gormstorage.ErrNotInitialized
	}
	return b.gorm.RecordPoint(deviceID, p)
}

// QueryRoute returns deviceID's points in [start, end).
func (b *Backend) QueryRoute(ctx context.Context, deviceID string, start, end time.Time) ([]core.TelemetryPoint, error) {
	if b.gorm == nil {
		return nil, gormstorage.ErrNotInitialized
	}
	return b.gorm.QueryRoute(ctx, deviceID, start, end)
}

// Pending returns the number of queued records.
func (b *Backend) Pending() int {
	if b.gorm == nil {
		return 0
	}
	return b.gorm.Pending()
}
