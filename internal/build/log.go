package build

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// LogConfig selects where logs go and how verbose they are.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error, critical or off.
	Level string

	// Console receives human readable output. Nil disables it.
	Console io.Writer

	// File enables the rotating log file when Dir is set.
	File RotatorConfig
}

// Logger is the daemon logger plus the resources backing it.
type Logger struct {
	*slog.Logger

	handlers *HandlerSet
	file     *RotatingWriter
}

// ParseLevel maps a level name to a btclog level.
func ParseLevel(s string) (btclog.Level, error) {
	if s == "" {
		return btclog.LevelInfo, nil
	}

	switch strings.ToLower(s) {
	case "warning":
		return btclog.LevelWarn, nil
	}

	level, ok := btclog.LevelFromString(strings.ToLower(s))
	if !ok {
		return 0, fmt.Errorf("unknown log level %q", s)
	}

	return level, nil
}

// NewLogger builds a logger fanning out to the console and, if configured,
// a rotating log file.
func NewLogger(cfg LogConfig) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var (
		handlers []btclogv2.Handler
		file     *RotatingWriter
	)
	if cfg.Console != nil {
		handlers = append(handlers, btclogv2.NewDefaultHandler(cfg.Console))
	}
	if cfg.File.Dir != "" {
		file, err = NewRotatingWriter(cfg.File)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, btclogv2.NewDefaultHandler(file))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, btclogv2.NewDefaultHandler(io.Discard))
	}

	set := NewHandlerSet(handlers...)
	set.SetLevel(level)

	return &Logger{
		Logger:   slog.New(set),
		handlers: set,
		file:     file,
	}, nil
}

// SetLevel changes the level of every handler.
func (l *Logger) SetLevel(level btclog.Level) {
	l.handlers.SetLevel(level)
}

// Close flushes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}

	return l.file.Close()
}
