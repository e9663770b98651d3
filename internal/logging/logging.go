package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogFilePath names the log file for one CLI session: the app name, the
// command it ran and the session start, e.g. fleettrack.replay.20260212_213836.log.
// An empty command is left out.
func LogFilePath(logsDir, appName, command string, sessionStart time.Time) string {
	parts := []string{appName}
	if command = strings.TrimSpace(command); command != "" {
		parts = append(parts, command)
	}
	parts = append(parts, sessionStart.Format("20060102_150405"), "log")
	return filepath.Join(logsDir, strings.Join(parts, "."))
}

// OpenLogFile opens path for appending, creating its directory.
func OpenLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create logs dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
