package build

import (
	"context"
	"log/slog"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// HandlerSet fans log records out to several btclog handlers, so the daemon
// can write to the console and its log file at once. A record is handled by
// every member that is enabled for its level.
type HandlerSet struct {
	level btclog.Level
	set   []btclogv2.Handler
}

// NewHandlerSet groups handlers, all starting at the info level.
func NewHandlerSet(handlers ...btclogv2.Handler) *HandlerSet {
	h := &HandlerSet{set: handlers}
	h.SetLevel(btclog.LevelInfo)

	return h
}

// Enabled reports whether any member handles the level.
func (h *HandlerSet) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.set {
		if handler.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

// Handle passes the record to the members enabled for its level.
func (h *HandlerSet) Handle(ctx context.Context, record slog.Record) error {
	return handleAll(ctx, toSlog(h.set), record)
}

// WithAttrs returns a set whose members carry attrs.
func (h *HandlerSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	return slogSet(toSlog(h.set)).WithAttrs(attrs)
}

// WithGroup returns a set whose members open group name.
func (h *HandlerSet) WithGroup(name string) slog.Handler {
	return slogSet(toSlog(h.set)).WithGroup(name)
}

// SubSystem tags every member with a sub-system.
func (h *HandlerSet) SubSystem(tag string) btclogv2.Handler {
	return h.derive(func(b btclogv2.Handler) btclogv2.Handler {
		return b.SubSystem(tag)
	})
}

// WithPrefix prefixes every message of every member.
func (h *HandlerSet) WithPrefix(prefix string) btclogv2.Handler {
	return h.derive(func(b btclogv2.Handler) btclogv2.Handler {
		return b.WithPrefix(prefix)
	})
}

// SetLevel changes the level of every member.
func (h *HandlerSet) SetLevel(level btclog.Level) {
	for _, handler := range h.set {
		handler.SetLevel(level)
	}
	h.level = level
}

// Level returns the level last set.
func (h *HandlerSet) Level() btclog.Level {
	return h.level
}

func (h *HandlerSet) derive(
	f func(btclogv2.Handler) btclogv2.Handler) *HandlerSet {

	out := &HandlerSet{
		level: h.level,
		set:   make([]btclogv2.Handler, len(h.set)),
	}
	for i, handler := range h.set {
		out.set[i] = f(handler)
	}

	return out
}

var _ btclogv2.Handler = (*HandlerSet)(nil)

// slogSet is what a HandlerSet turns into once attrs or groups are added,
// since those return plain slog handlers.
type slogSet []slog.Handler

func (s slogSet) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range s {
		if handler.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

func (s slogSet) Handle(ctx context.Context, record slog.Record) error {
	return handleAll(ctx, s, record)
}

func (s slogSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	return slogSet(mapHandlers(s, func(h slog.Handler) slog.Handler {
		return h.WithAttrs(attrs)
	}))
}

func (s slogSet) WithGroup(name string) slog.Handler {
	return slogSet(mapHandlers(s, func(h slog.Handler) slog.Handler {
		return h.WithGroup(name)
	}))
}

var _ slog.Handler = slogSet(nil)

func toSlog(set []btclogv2.Handler) []slog.Handler {
	out := make([]slog.Handler, len(set))
	for i, h := range set {
		out[i] = h
	}

	return out
}

func mapHandlers(set []slog.Handler,
	f func(slog.Handler) slog.Handler) []slog.Handler {

	out := make([]slog.Handler, len(set))
	for i, h := range set {
		out[i] = f(h)
	}

	return out
}

// handleAll stops at the first member that fails.
func handleAll(ctx context.Context, set []slog.Handler,
	record slog.Record) error {

	for _, handler := range set {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}

	return nil
}
