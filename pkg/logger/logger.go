// Package logger builds the process-wide slog.Logger from environment-driven
// configuration: JSON output for production aggregation, text for local work.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logger configuration.
type Config struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`  // debug, info, warn, error
	Format string `env:"LOG_FORMAT" envDefault:"json"` // json or text
}

// Option configures logger creation.
type Option func(*settings)

type settings struct {
	level   slog.Level
	format  string
	output  io.Writer
	service string
}

// WithOutput sets a custom output destination. Nil writers are ignored.
func WithOutput(w io.Writer) Option {
	return func(s *settings) {
		if w != nil {
			s.output = w
		}
	}
}

// WithService attaches a static service attribute to every record.
func WithService(name string) Option {
	return func(s *settings) { s.service = name }
}

// New builds a slog.Logger from config.
// Panics on an unknown format so misconfiguration prevents startup.
func New(cfg Config, opts ...Option) *slog.Logger {
	s := &settings{
		level:  parseLevel(cfg.Level),
		format: strings.ToLower(cfg.Format),
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}

	handlerOpts := &slog.HandlerOptions{Level: s.level}

	var handler slog.Handler
	switch s.format {
	case "json", "":
		handler = slog.NewJSONHandler(s.output, handlerOpts)
	case "text":
		handler = slog.NewTextHandler(s.output, handlerOpts)
	default:
		panic(fmt.Errorf("invalid log format %q: must be json or text", s.format))
	}

	log := slog.New(handler)
	if s.service != "" {
		log = log.With(slog.String("service", s.service))
	}
	return log
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
