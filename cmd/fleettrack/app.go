package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fleetconsole/tracker/internal/api"
	"github.com/fleetconsole/tracker/internal/config"
	"github.com/fleetconsole/tracker/internal/dispatcher"
	"github.com/fleetconsole/tracker/internal/history"
	"github.com/fleetconsole/tracker/internal/influx"
	"github.com/fleetconsole/tracker/internal/live"
	"github.com/fleetconsole/tracker/internal/logging"
	"github.com/fleetconsole/tracker/internal/mode"
	"github.com/fleetconsole/tracker/internal/monitor"
	intOtel "github.com/fleetconsole/tracker/internal/otel"
	"github.com/fleetconsole/tracker/internal/playback"
	"github.com/fleetconsole/tracker/internal/storage"
	"github.com/fleetconsole/tracker/internal/surface"
	wssurface "github.com/fleetconsole/tracker/internal/surface/websocket"
	"github.com/fleetconsole/tracker/pkg/core"
	"github.com/rs/zerolog"
)

// app holds the wired services for one CLI session.
type app struct {
	logs    *logging.SlogManager
	logger  *slog.Logger
	infra   zerolog.Logger
	otel    *intOtel.Provider
	logFile *os.File
	closers []func() error

	client  *api.Client
	store   storage.Backend
	influx  *influx.Manager
	events  *dispatcher.Dispatcher
	surface surface.Surface

	gate    *mode.Gate
	gateRef atomic.Pointer[mode.Gate] // read by the log context provider
	poller  *live.Poller
	engine  *playback.Engine
	coord   *mode.Coordinator
	history *history.Fetcher
	monitor *monitor.Service
}

// newApp builds every service from the loaded configuration.
// Optional services that fail to start are logged and skipped. On error
// everything opened so far, logging included, is released.
func newApp(ctx context.Context, command string, console io.Writer) (*app, error) {
	a := &app{}
	if err := a.build(ctx, command, console); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, command string, console io.Writer) error {
	if err := a.setupLogging(command, console); err != nil {
		return err
	}

	tracking, err := config.GetTrackingConfig()
	if err != nil {
		return err
	}

	if err := a.setupClient(ctx); err != nil {
		return err
	}
	if err := a.setupStorage(); err != nil {
		return err
	}
	if err := a.setupHistory(tracking); err != nil {
		return err
	}
	if err := a.setupEvents(); err != nil {
		return err
	}
	if err := a.setupEngines(tracking); err != nil {
		return err
	}
	return a.setupMonitor()
}

func (a *app) setupLogging(command string, console io.Writer) error {
	level := config.GetString("logLevel")
	logsDir := config.GetString("logsDir")

	var fileOut, otelOut io.Writer
	if logsDir != "" {
		f, err := logging.OpenLogFile(logging.LogFilePath(logsDir, AppName, command, SessionStartTime))
		if err != nil {
			return err
		}
		a.logFile = f
		fileOut = f
	}

	infraOut := io.Writer(logging.ConsoleWriter(console))
	if fileOut != nil {
		infraOut = zerolog.MultiLevelWriter(infraOut, fileOut)
	}
	a.infra = logging.NewZerolog(infraOut, level, AppName)

	if logsDir != "" {
		f, err := logging.OpenLogFile(filepath.Join(logsDir, AppName+".otel.jsonl"))
		if err != nil {
			a.infra.Warn().Err(err).Msg("Failed to open OTel log file")
		} else {
			otelOut = f
			a.closers = append(a.closers, f.Close)
		}
	}
	provider, err := intOtel.New(intOtel.ConfigFrom(config.GetOTelConfig(), otelOut, Version))
	if err != nil {
		a.infra.Warn().Err(err).Msg("OpenTelemetry disabled")
		provider, _ = intOtel.New(intOtel.Config{})
	}
	a.otel = provider

	opts := logging.Options{
		Level:    level,
		Console:  console,
		File:     fileOut,
		Provider: provider.LoggerProvider(),
	}
	if config.GetBool("graylog.enabled") {
		gw, err := logging.NewGraylogWriter(config.GetString("graylog.address"))
		if err != nil {
			a.infra.Warn().Err(err).Msg("Graylog disabled")
		} else {
			opts.Graylog = gw
			a.closers = append(a.closers, gw.Close)
		}
	}
	opts.Context = func() []slog.Attr {
		g := a.gateRef.Load()
		if g == nil {
			return nil
		}
		return []slog.Attr{slog.String("mode", g.Active().String())}
	}

	a.logs = logging.NewSlogManager()
	a.logs.Setup(opts)
	a.logger = a.logs.Logger()
	return nil
}

func (a *app) setupClient(ctx context.Context) error {
	apiCfg, err := config.GetAPIConfig()
	if err != nil {
		return err
	}

	a.client = api.New(apiCfg.ServerURL, api.StaticToken(apiCfg.Token), api.Endpoints{
		LivePath:    apiCfg.LivePath,
		HistoryPath: apiCfg.HistoryPath,
	})
	a.client.SetTimeout(apiCfg.Timeout)

	// check if server is running by making a healthcheck API request
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.client.Healthcheck(hctx); err != nil {
		a.logger.Warn("telemetry server healthcheck failed", "url", apiCfg.ServerURL, "error", err)
	} else {
		a.logger.Info("telemetry server reachable", "url", apiCfg.ServerURL, "role", apiCfg.Role)
	}
	return nil
}

func (a *app) setupStorage() error {
	storageCfg, err := config.GetStorageConfig()
	if err != nil {
		return err
	}

	store, err := storage.NewBackend(storageCfg, a.infra.With().Str("component", "storage").Logger())
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.Init(); err != nil {
			return fmt.Errorf("failed to init %s storage: %w", storageCfg.Type, err)
		}
		a.store = store
		a.logger.Info("telemetry store ready", "type", storageCfg.Type)
	}

	influxCfg, err := config.GetInfluxConfig()
	if err != nil {
		return err
	}
	if influxCfg.Enabled {
		backup := filepath.Join(config.GetString("logsDir"), "influx_backup.log.gz")
		m := influx.NewManager(influxCfg, a.infra.With().Str("component", "influx").Logger(), backup)
		if err := m.Connect(context.Background()); err != nil {
			a.logger.Warn("influx sink disabled", "error", err)
		} else {
			a.influx = m
		}
	}
	return nil
}

func (a *app) setupHistory(tracking config.TrackingConfig) error {
	var source history.Source
	switch tracking.HistorySource {
	case "store":
		if a.store == nil {
			return fmt.Errorf("history.source is store but storage.type is none")
		}
		source = a.store
	default:
		source = history.RemoteSource{Client: a.client}
	}
	a.history = history.NewFetcher(source, tracking.MaxRange, a.logs.Component("history"))
	return nil
}

func (a *app) setupEvents() error {
	events, err := dispatcher.New(logging.NewDispatcherLogger(a.infra.With().Str("component", "dispatcher").Logger()))
	if err != nil {
		return err
	}
	a.events = events

	surfCfg, err := config.GetSurfaceConfig()
	if err != nil {
		return err
	}
	projection, err := surface.ParseProjection(surfCfg.Projection)
	if err != nil {
		return err
	}

	switch surfCfg.Type {
	case "websocket":
		ws := wssurface.New(wssurface.Config{
			URL:        surfCfg.URL,
			Secret:     surfCfg.Secret,
			Client:     AppName + "/" + Version,
			Projection: projection,
		}, a.logs.Component("surface"))
		if err := ws.Open(); err != nil {
			return fmt.Errorf("failed to open websocket surface: %w", err)
		}
		a.surface = ws
	default:
		a.surface = surface.NewLogSurface(a.logs.Component("surface"))
	}

	adapter := surface.NewAdapter(a.surface, projection, a.logs.Component("surface"))
	a.events.Subscribe(dispatcher.TopicUpdate, "surface", adapter.Handle, dispatcher.Buffered(256), dispatcher.Blocking())

	if a.store != nil {
		a.events.Subscribe(dispatcher.TopicUpdate, "store", storage.Recorder(a.store), dispatcher.Buffered(1024), dispatcher.Logged())
	}
	if a.influx != nil {
		bucket := a.influx.BucketNames[0]
		a.events.Subscribe(dispatcher.TopicUpdate, "influx", influx.Sink(a.influx, bucket), dispatcher.Buffered(1024))
	}
	return nil
}

func (a *app) setupEngines(tracking config.TrackingConfig) error {
	a.gate = mode.NewGate()
	a.gateRef.Store(a.gate)
	updates := a.events.Publisher(dispatcher.TopicUpdate)

	poller, err := live.NewPoller(live.Config{
		Interval:      tracking.LiveInterval,
		Timeout:       tracking.LiveTimeout,
		TrackCapacity: tracking.TrackCapacity,
	}, live.Dependencies{
		Fetcher:   a.client,
		Publisher: a.gate.Publisher(core.ModeLive, updates),
		Logger:    a.logs.Component("live"),
	})
	if err != nil {
		return err
	}
	a.poller = poller

	engine, err := playback.NewEngine(playback.Config{
		TickInterval:  tracking.TickInterval,
		PointDuration: tracking.PointDuration,
		DefaultSpeed:  tracking.DefaultSpeed,
	}, playback.Dependencies{
		Publisher: a.gate.Publisher(core.ModePlayback, updates),
		Logger:    a.logs.Component("playback"),
	})
	if err != nil {
		return err
	}
	a.engine = engine

	coord, err := mode.NewCoordinator(mode.Dependencies{
		Gate:     a.gate,
		Live:     poller,
		Playback: engine,
		History:  a.history,
		Logger:   a.logs.Component("mode"),
	})
	if err != nil {
		return err
	}
	a.coord = coord
	return nil
}

func (a *app) setupMonitor() error {
	cfg, err := config.GetMonitorConfig()
	if err != nil {
		return err
	}
	logsDir := config.GetString("logsDir")
	if !cfg.Enabled || logsDir == "" {
		return nil
	}

	deps := monitor.Dependencies{
		Mode:       a.coord,
		Live:       a.poller,
		Playback:   a.engine,
		StatusFile: filepath.Join(logsDir, cfg.StatusFile),
		Interval:   cfg.Interval,
		Logger:     a.logs.Component("monitor"),
	}
	if p, ok := a.store.(interface{ Pending() int }); ok {
		deps.Pending = p.Pending
	}
	svc, err := monitor.NewService(deps)
	if err != nil {
		return err
	}
	a.monitor = svc
	return svc.Start()
}

// close stops the engines, drains subscribers and releases outputs.
func (a *app) close() {
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.coord != nil {
		a.coord.Shutdown()
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.surface != nil {
		if err := a.surface.Close(); err != nil {
			a.logger.Warn("surface close failed", "error", err)
		}
	}
	if a.influx != nil {
		if err := a.influx.Close(); err != nil {
			a.logger.Warn("influx close failed", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("storage close failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.logs != nil {
		_ = a.logs.Flush(ctx)
	}
	if a.otel != nil {
		_ = a.otel.Shutdown(ctx)
	}
	for _, c := range a.closers {
		_ = c()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
