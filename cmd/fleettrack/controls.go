package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fleetconsole/tracker/pkg/core"
)

// errQuit ends the command loop.
var errQuit = errors.New("quit")

// timeLayouts are tried in order by parseTime.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime reads a command-line timestamp. Layouts without an offset are
// read in local time.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

func parseRange(startArg, endArg string) (time.Time, time.Time, error) {
	start, err := parseTime(startArg)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseTime(endArg)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// modeControl is the part of the mode coordinator driven by commands.
type modeControl interface {
	Mode() core.TrackingMode
	DeviceID() string
	SwitchDevice(deviceID string) error
	EnterPlaybackRange(ctx context.Context, start, end time.Time) (core.Route, error)
	ExitPlayback() error
}

// playbackControl is the part of the playback engine driven by commands.
type playbackControl interface {
	Play() error
	Pause()
	Stop()
	Seek(i int) error
	Skip(delta int) error
	SetSpeed(m float64) error
	State() core.PlaybackState
	Stats() core.RouteStats
}

// controller runs line commands against the coordinator and engine.
type controller struct {
	mode     modeControl
	playback playbackControl
	out      io.Writer
}

func newController(m modeControl, p playbackControl, out io.Writer) *controller {
	return &controller{mode: m, playback: p, out: out}
}

const commandHelp = `commands:
  device <id>          track another device live
  replay <start> <end> replay the tracked device's route
  live                 leave playback
  play | pause | stop
  seek <index> | skip <n> | speed <multiplier>
  state | stats | help | quit`

// Run reads commands from in until quit, EOF or ctx is done.
func (c *controller) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
	}()

	fmt.Fprintln(c.out, commandHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.Execute(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintln(c.out, "error:", err)
			}
		}
	}
}

// Execute runs one command line.
func (c *controller) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		fmt.Fprintln(c.out, commandHelp)
		return nil
	case "device":
		if len(args) != 1 {
			return errors.New("usage: device <id>")
		}
		return c.mode.SwitchDevice(args[0])
	case "replay":
		if len(args) != 2 {
			return errors.New("usage: replay <start> <end>")
		}
		start, end, err := parseRange(args[0], args[1])
		if err != nil {
			return err
		}
		route, err := c.mode.EnterPlaybackRange(ctx, start, end)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "loaded %d points for %s\n", route.Len(), route.DeviceID)
		return c.playback.Play()
	case "live":
		return c.mode.ExitPlayback()
	case "state":
		st := c.playback.State()
		fmt.Fprintf(c.out, "mode=%s device=%s playback=%s index=%d speed=%gx progress=%.1f%%\n",
			c.mode.Mode(), c.mode.DeviceID(), st.Mode, st.CurrentIndex, st.SpeedMultiplier, st.ProgressPercent)
		return nil
	case "stats":
		s := c.playback.Stats()
		fmt.Fprintf(c.out, "distance=%.2fkm avg=%.1fkm/h max=%.1fkm/h duration=%.2fh\n",
			s.TotalDistanceKm, s.AvgSpeedKmh, s.MaxSpeedKmh, s.DurationHours)
		return nil
	}

	switch cmd {
	case "play", "pause", "stop", "seek", "skip", "speed":
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if c.mode.Mode() != core.ModePlayback {
		return fmt.Errorf("%s: not in playback", cmd)
	}

	switch cmd {
	case "play":
		return c.playback.Play()
	case "pause":
		c.playback.Pause()
		return nil
	case "stop":
		c.playback.Stop()
		return nil
	case "seek", "skip":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <n>", cmd)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid number %q", args[0])
		}
		if cmd == "seek" {
			return c.playback.Seek(n)
		}
		return c.playback.Skip(n)
	case "speed":
		if len(args) != 1 {
			return errors.New("usage: speed <multiplier>")
		}
		m, err := strconv.ParseFloat(strings.TrimSuffix(args[0], "x"), 64)
		if err != nil {
			return fmt.Errorf("invalid speed %q", args[0])
		}
		return c.playback.SetSpeed(m)
	}
	return nil
}
