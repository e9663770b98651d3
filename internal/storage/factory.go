package storage

import (
	"fmt"

	"github.com/fleetconsole/tracker/internal/config"
	"github.com/fleetconsole/tracker/internal/database"
	"github.com/fleetconsole/tracker/internal/storage/memory"
	"github.com/fleetconsole/tracker/internal/storage/postgres"
	sqlitestorage "github.com/fleetconsole/tracker/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

// NewBackend creates a storage backend based on configuration.
// Type "none" returns a nil Backend and no error.
func NewBackend(cfg config.StorageConfig, log zerolog.Logger) (Backend, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "memory":
		return memory.New(memory.Config{MaxPointsPerDevice: cfg.MaxPointsPerDevice}), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			Path:          cfg.Sqlite.Path,
			DumpPath:      cfg.Sqlite.DumpPath,
			DumpInterval:  cfg.Sqlite.DumpInterval,
			FlushInterval: cfg.FlushInterval,
		}, log)
	case "postgres":
		return postgres.New(postgres.Dependencies{
			Config: database.PostgresConfig{
				Host:     cfg.DB.Host,
				Port:     cfg.DB.Port,
				Username: cfg.DB.Username,
				Password: cfg.DB.Password,
				Database: cfg.DB.Database,
				SSLMode:  cfg.DB.SSLMode,
			},
			FlushInterval: cfg.FlushInterval,
			Logger:        log,
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
