// Package logging builds the zerolog loggers used across restbreak.
//
// Console output is human readable; the optional file sink keeps JSON lines.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "15:04:05.000"

// Config selects level and sinks.
type Config struct {
	Level string
	// File, when set, receives JSON log lines in addition to the console.
	File string
}

// New returns the root logger and a closer for the file sink.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	zerolog.ErrorFieldName = "err"
	zerolog.DurationFieldUnit = time.Second
	zerolog.DurationFieldInteger = false

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: consoleTimeFormat}}
	var closer io.Closer = nopCloser{}
	var openErr error
	if path := strings.TrimSpace(cfg.File); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			openErr = fmt.Errorf("create log dir: %w", err)
		} else if file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			openErr = fmt.Errorf("open log file %q: %w", path, err)
		} else {
			writers = append(writers, zerolog.SyncWriter(file))
			closer = file
		}
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	return logger, closer, openErr
}

// ParseLevel maps a case-insensitive level name to a zerolog level.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
