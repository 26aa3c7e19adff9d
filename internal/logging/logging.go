// Package logging configures the process-wide zerolog logger.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level          string // trace, debug, info, warn, error
	Format         string // json, pretty
	FileEnabled    bool
	FilePath       string // directory
	RotationSize   int    // MB
	RetentionDays  int
	ServiceName    string
	ServiceVersion string
}

// errorsOnly passes only error-level and above events to w.
type errorsOnly struct {
	w io.Writer
}

func (e errorsOnly) Write(p []byte) (int, error) { return e.w.Write(p) }

func (e errorsOnly) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < zerolog.ErrorLevel {
		return len(p), nil
	}
	return e.w.Write(p)
}

func rotating(dir, name string, cfg Config) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    cfg.RotationSize,
		MaxAge:     cfg.RetentionDays,
		MaxBackups: 10,
		Compress:   true,
	}
}

// Init installs the global logger. Console output goes to stderr; with files
// enabled, everything also lands in app.log and errors in error.log. The
// returned closer flushes and closes the log files.
func Init(cfg Config) (io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	if cfg.Format == "pretty" {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		writers = append(writers, os.Stderr)
	}

	var files closers
	if cfg.FileEnabled {
		if err := os.MkdirAll(cfg.FilePath, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		app := rotating(cfg.FilePath, "app.log", cfg)
		errs := rotating(cfg.FilePath, "error.log", cfg)
		files = closers{app, errs}
		writers = append(writers, app, errorsOnly{w: errs})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.ServiceVersion).
		Logger()

	log.Info().
		Str("level", cfg.Level).
		Str("format", cfg.Format).
		Bool("file_enabled", cfg.FileEnabled).
		Msg("logger initialized")
	return files, nil
}

// NewAccessLogger returns a logger writing to access.log under dir, or the
// global logger when dir is empty or unusable.
func NewAccessLogger(dir string, rotationSize, retentionDays int) zerolog.Logger {
	if dir == "" {
		return log.Logger
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Msg("create access log directory, using default logger")
		return log.Logger
	}
	f := rotating(dir, "access.log", Config{RotationSize: rotationSize, RetentionDays: retentionDays})
	return zerolog.New(f).With().Timestamp().Str("type", "access").Logger()
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, x := range c {
		errs = append(errs, x.Close())
	}
	return errors.Join(errs...)
}
