// Command fleettrack follows a vehicle live and replays its recorded routes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fleetconsole/tracker/internal/config"
	"github.com/fleetconsole/tracker/internal/dispatcher"
	"github.com/fleetconsole/tracker/internal/stats"
	"github.com/fleetconsole/tracker/pkg/core"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// module defs - Version and BuildDate can be set at build time via ldflags
var (
	Version   string = "0.1.0"
	BuildDate string = "unknown"

	AppName string = "fleettrack"
)

// SessionStartTime names this session's log files.
var SessionStartTime time.Time = time.Now()

const usage = `usage: fleettrack [flags] <command> [args]

commands:
  live   <device>                        follow a device live
  replay <device> <start> <end> [speed]  replay a recorded route
  stats  <device> <start> <end>          print route statistics
  version                                print the version

times are RFC3339, "2006-01-02 15:04" or "2006-01-02" (local time)

flags:
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "fleettrack:", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configDir := flags.String("config-dir", ".", "directory holding "+config.FileName)
	interactive := flags.BoolP("interactive", "i", false, "read playback and mode commands from stdin")
	flags.String("log-level", "", "override logLevel")
	flags.String("storage", "", "override storage.type (none|memory|sqlite|postgres)")
	flags.String("surface", "", "override surface.type (log|websocket)")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := config.Load(*configDir); err != nil {
		fmt.Fprintf(stderr, "config: %v; using defaults\n", err)
	}
	bindFlag(flags, "log-level", "logLevel")
	bindFlag(flags, "storage", "storage.type")
	bindFlag(flags, "surface", "surface.type")

	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return errors.New("no command given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, cmdArgs := strings.ToLower(rest[0]), rest[1:]
	switch cmd {
	case "live", "replay", "stats":
	case "version":
		fmt.Fprintf(stdout, "%s %s (%s)\n", AppName, Version, BuildDate)
		return nil
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	a, err := newApp(ctx, cmd, stderr)
	if err != nil {
		return err
	}
	defer a.close()
	a.logger.Info("starting", "version", Version, "build", BuildDate, "command", cmd)

	switch cmd {
	case "live":
		return runLive(ctx, a, cmdArgs, *interactive, stdin, stdout)
	case "replay":
		return runReplay(ctx, a, cmdArgs, *interactive, stdin, stdout)
	default:
		return runStats(ctx, a, cmdArgs, stdout)
	}
}

// bindFlag copies a flag onto its config key when the flag was set.
func bindFlag(flags *pflag.FlagSet, name, key string) {
	if f := flags.Lookup(name); f != nil && f.Changed {
		viper.Set(key, f.Value.String())
	}
}

func runLive(ctx context.Context, a *app, args []string, interactive bool, stdin io.Reader, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: live <device>")
	}
	if err := a.coord.StartLive(args[0]); err != nil {
		return err
	}

	if interactive {
		return newController(a.coord, a.engine, stdout).Run(ctx, stdin)
	}
	<-ctx.Done()
	return nil
}

func runReplay(ctx context.Context, a *app, args []string, interactive bool, stdin io.Reader, stdout io.Writer) error {
	if len(args) < 3 || len(args) > 4 {
		return errors.New("usage: replay <device> <start> <end> [speed]")
	}
	start, end, err := parseRange(args[1], args[2])
	if err != nil {
		return err
	}
	speed := 0.0
	if len(args) == 4 {
		speed, err = strconv.ParseFloat(args[3], 64)
		if err != nil {
			return fmt.Errorf("invalid speed %q: %w", args[3], err)
		}
	}

	route, err := a.history.Fetch(ctx, args[0], start, end)
	if err != nil {
		return err
	}
	if route.Empty() {
		fmt.Fprintf(stdout, "no route data for %s between %s and %s\n", args[0], start.Format(time.RFC3339), end.Format(time.RFC3339))
		return nil
	}

	finished := make(chan struct{})
	var once sync.Once
	last := route.Len() - 1
	a.events.Subscribe(dispatcher.TopicUpdate, "replay-end", func(e dispatcher.Event) error {
		u := e.Update
		if u.IsPlayback() && u.PlaybackMode == core.Stopped && u.Index >= last {
			once.Do(func() { close(finished) })
		}
		return nil
	})

	if err := a.coord.EnterPlayback(route); err != nil {
		return err
	}
	if speed != 0 {
		if err := a.engine.SetSpeed(speed); err != nil {
			return err
		}
	}
	writeStats(stdout, route, a.engine.Stats())
	if err := a.engine.Play(); err != nil {
		return err
	}

	if interactive {
		return newController(a.coord, a.engine, stdout).Run(ctx, stdin)
	}
	select {
	case <-finished:
		fmt.Fprintln(stdout, "replay finished")
	case <-ctx.Done():
	}
	return nil
}

func runStats(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	if len(args) != 3 {
		return errors.New("usage: stats <device> <start> <end>")
	}
	start, end, err := parseRange(args[1], args[2])
	if err != nil {
		return err
	}

	route, err := a.history.Fetch(ctx, args[0], start, end)
	if err != nil {
		return err
	}
	writeStats(stdout, route, stats.Compute(route))
	return nil
}

func writeStats(w io.Writer, route core.Route, s core.RouteStats) {
	fmt.Fprintf(w, "device:    %s\n", route.DeviceID)
	fmt.Fprintf(w, "points:    %d\n", route.Len())
	fmt.Fprintf(w, "distance:  %.2f km\n", s.TotalDistanceKm)
	fmt.Fprintf(w, "avg speed: %.1f km/h\n", s.AvgSpeedKmh)
	fmt.Fprintf(w, "max speed: %.1f km/h\n", s.MaxSpeedKmh)
	fmt.Fprintf(w, "duration:  %.2f h\n", s.DurationHours)
}
