package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"reelrelay/config"
)

// Output bundles the configured logger with the writer it logs to, so access
// logs can share the same destination.
type Output struct {
	Logger *slog.Logger
	Writer io.Writer
	closer io.Closer
}

// Close releases the rotating file, if one is in use.
func (o *Output) Close() error {
	if o == nil || o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

// New builds a slog logger from the logging settings. When a file is
// configured, output goes to both stdout and a lumberjack-rotated file.
func New(cfg config.LoggingSettings) (*Output, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var (
		writer io.Writer = os.Stdout
		closer io.Closer
	)
	if path := strings.TrimSpace(cfg.File); path != "" {
		rotating := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		writer = io.MultiWriter(os.Stdout, rotating)
		closer = rotating
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		handler = slog.NewTextHandler(writer, opts)
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return &Output{Logger: slog.New(handler), Writer: writer, closer: closer}, nil
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(trimmed)); err != nil {
		return 0, fmt.Errorf("parse log level %q: %w", value, err)
	}
	return level, nil
}
