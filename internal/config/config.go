package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "fleettrack.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. FLEETTRACK_API_TOKEN.
const EnvPrefix = "FLEETTRACK"

var validate = validator.New()

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. Defaults and
// environment overrides stay in effect when the file cannot be read.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./fleetlogs")

	viper.SetDefault("api.serverUrl", "http://localhost:8080")
	viper.SetDefault("api.token", "")
	viper.SetDefault("api.timeout", "30s")

	viper.SetDefault("role", "default")
	viper.SetDefault("roles.default.livePath", "/api/devices/{deviceId}/live")
	viper.SetDefault("roles.default.historyPath", "/api/devices/{deviceId}/route-history")

	viper.SetDefault("live.interval", "3s")
	viper.SetDefault("live.timeout", "")
	viper.SetDefault("live.trackCapacity", 200)

	viper.SetDefault("playback.tickInterval", "100ms")
	viper.SetDefault("playback.pointDuration", "100ms")
	viper.SetDefault("playback.defaultSpeed", 1.0)

	viper.SetDefault("history.maxRange", "168h")
	viper.SetDefault("history.source", "api")

	viper.SetDefault("storage.type", "none")
	viper.SetDefault("storage.flushInterval", "2s")
	viper.SetDefault("storage.memory.maxPointsPerDevice", 0)
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpPath", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "fleet")
	viper.SetDefault("db.sslMode", "disable")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "fleet-metrics")
	viper.SetDefault("influx.bucket", "fleet-telemetry")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "fleettrack")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("surface.type", "log")
	viper.SetDefault("surface.url", "")
	viper.SetDefault("surface.secret", "")
	viper.SetDefault("surface.projection", "")

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", "1s")
	viper.SetDefault("monitor.statusFile", "status.json")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// APIConfig holds telemetry server settings.
type APIConfig struct {
	ServerURL   string `validate:"required,url"`
	Token       string
	Timeout     time.Duration `validate:"gt=0"`
	Role        string        `validate:"required"`
	LivePath    string        `validate:"required,startswith=/"`
	HistoryPath string        `validate:"required,startswith=/"`
}

// GetAPIConfig returns the API settings with the configured role's endpoints.
func GetAPIConfig() (APIConfig, error) {
	role := viper.GetString("role")
	livePath, historyPath := GetEndpoints(role)
	cfg := APIConfig{
		ServerURL:   viper.GetString("api.serverUrl"),
		Token:       viper.GetString("api.token"),
		Timeout:     viper.GetDuration("api.timeout"),
		Role:        role,
		LivePath:    livePath,
		HistoryPath: historyPath,
	}
	return cfg, check("api", cfg)
}

// GetEndpoints returns the live and history paths for role, falling back
// to the default role for paths the role does not override.
func GetEndpoints(role string) (livePath, historyPath string) {
	livePath = viper.GetString("roles." + role + ".livePath")
	historyPath = viper.GetString("roles." + role + ".historyPath")
	if livePath == "" {
		livePath = viper.GetString("roles.default.livePath")
	}
	if historyPath == "" {
		historyPath = viper.GetString("roles.default.historyPath")
	}
	return livePath, historyPath
}

// TrackingConfig holds live polling, playback and history settings.
type TrackingConfig struct {
	LiveInterval  time.Duration `validate:"gt=0"`
	LiveTimeout   time.Duration `validate:"gte=0"`
	TrackCapacity int           `validate:"gt=0"`
	TickInterval  time.Duration `validate:"gt=0"`
	PointDuration time.Duration `validate:"gt=0"`
	DefaultSpeed  float64       `validate:"gt=0"`
	MaxRange      time.Duration `validate:"gt=0"`
	HistorySource string        `validate:"oneof=api store"`
}

// GetTrackingConfig returns the live, playback and history settings.
func GetTrackingConfig() (TrackingConfig, error) {
	cfg := TrackingConfig{
		LiveInterval:  viper.GetDuration("live.interval"),
		LiveTimeout:   viper.GetDuration("live.timeout"),
		TrackCapacity: viper.GetInt("live.trackCapacity"),
		TickInterval:  viper.GetDuration("playback.tickInterval"),
		PointDuration: viper.GetDuration("playback.pointDuration"),
		DefaultSpeed:  viper.GetFloat64("playback.defaultSpeed"),
		MaxRange:      viper.GetDuration("history.maxRange"),
		HistorySource: viper.GetString("history.source"),
	}
	return cfg, check("tracking", cfg)
}

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	Username string
	Password string
	Database string `validate:"required"`
	SSLMode  string
}

// SqliteConfig holds SQLite store settings. An empty Path means in-memory.
type SqliteConfig struct {
	Path         string
	DumpPath     string
	DumpInterval time.Duration
}

// StorageConfig holds telemetry store settings.
type StorageConfig struct {
	Type               string `validate:"oneof=none memory sqlite postgres"`
	FlushInterval      time.Duration
	MaxPointsPerDevice int `validate:"gte=0"`
	Sqlite             SqliteConfig
	DB                 DBConfig
}

// GetStorageConfig returns the telemetry store settings.
func GetStorageConfig() (StorageConfig, error) {
	cfg := StorageConfig{
		Type:               viper.GetString("storage.type"),
		FlushInterval:      viper.GetDuration("storage.flushInterval"),
		MaxPointsPerDevice: viper.GetInt("storage.memory.maxPointsPerDevice"),
		Sqlite: SqliteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		DB: DBConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
			SSLMode:  viper.GetString("db.sslMode"),
		},
	}
	if err := check("storage", cfg); err != nil {
		return cfg, err
	}
	if cfg.Type == "postgres" {
		return cfg, check("db", cfg.DB)
	}
	return cfg, nil
}

// InfluxConfig holds InfluxDB sink settings.
type InfluxConfig struct {
	Enabled  bool
	Host     string `validate:"required_if=Enabled true"`
	Port     string
	Protocol string `validate:"omitempty,oneof=http https"`
	Token    string
	Org      string `validate:"required_if=Enabled true"`
	Bucket   string `validate:"required_if=Enabled true"`
}

// GetInfluxConfig returns the InfluxDB sink settings.
func GetInfluxConfig() (InfluxConfig, error) {
	cfg := InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
	return cfg, check("influx", cfg)
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// SurfaceConfig holds rendering surface settings.
type SurfaceConfig struct {
	Type       string `validate:"oneof=log websocket"`
	URL        string `validate:"required_if=Type websocket"`
	Secret     string
	Projection string
}

// GetSurfaceConfig returns the rendering surface settings.
func GetSurfaceConfig() (SurfaceConfig, error) {
	cfg := SurfaceConfig{
		Type:       viper.GetString("surface.type"),
		URL:        viper.GetString("surface.url"),
		Secret:     viper.GetString("surface.secret"),
		Projection: viper.GetString("surface.projection"),
	}
	if err := check("surface", cfg); err != nil {
		return cfg, err
	}
	if cfg.URL != "" {
		if err := validate.Var(cfg.URL, "url"); err != nil {
			return cfg, fmt.Errorf("invalid surface config: %w", err)
		}
	}
	return cfg, nil
}

// MonitorConfig holds status monitor settings. StatusFile is relative to logsDir.
type MonitorConfig struct {
	Enabled    bool
	Interval   time.Duration `validate:"required_if=Enabled true"`
	StatusFile string        `validate:"required_if=Enabled true"`
}

// GetMonitorConfig returns the status monitor settings.
func GetMonitorConfig() (MonitorConfig, error) {
	cfg := MonitorConfig{
		Enabled:    viper.GetBool("monitor.enabled"),
		Interval:   viper.GetDuration("monitor.interval"),
		StatusFile: viper.GetString("monitor.statusFile"),
	}
	return cfg, check("monitor", cfg)
}

func check(section string, cfg any) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid %s config: %w", section, err)
	}
	return nil
}
