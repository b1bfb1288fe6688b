// Package logging configures zerolog output for the daemon and keeps a
// bounded in-memory tail of recent events that the dashboard reads and
// streams. The logger publishes into a Recorder; consumers subscribe to
// the Recorder and never reach back into the logger.
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

// Config controls log level, output format and optional file output.
type Config struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "console" or "json"
	Dir    string `json:"dir"`    // when set, tenant logs are appended under this directory
}

// New builds the process root logger.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(writerFor(cfg, os.Stdout)).With().Timestamp().Logger().Level(parseLevel(cfg.Level))
}

// NewTenant builds a logger for one tenant. Every event is teed into rec
// so the tenant dashboard can serve and stream its own log tail. When
// cfg.Dir is set the tenant additionally gets an append-only log file.
func NewTenant(cfg Config, tenantID string, rec *Recorder) (zerolog.Logger, error) {
	writers := []io.Writer{writerFor(cfg, os.Stdout)}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return zerolog.Logger{}, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.Dir, tenantID+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open tenant log file: %w", err)
		}
		writers = append(writers, f)
	}
	if rec != nil {
		writers = append(writers, rec)
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Str("tenant", tenantID).Logger().
		Level(parseLevel(cfg.Level))
	return logger, nil
}

func writerFor(cfg Config, out io.Writer) io.Writer {
	if strings.EqualFold(cfg.Format, "console") {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	return out
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
