package logging

import (
	"context"
	"errors"
	"log/slog"
)

// Tee sends each record to every handler that is enabled for its level.
// Handlers that are nil are skipped.
func Tee(handlers ...slog.Handler) slog.Handler {
	var out tee
	for _, handler := range handlers {
		if handler != nil {
			out = append(out, handler)
		}
	}
	switch len(out) {
	case 0:
		return slog.DiscardHandler
	case 1:
		return out[0]
	}
	return out
}

type tee []slog.Handler

func (t tee) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range t {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle gives each handler its own copy of the record; handlers may not
// retain or mutate a shared one.
func (t tee) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range t {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t tee) WithGroup(name string) slog.Handler {
	if name == "" {
		return t
	}
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t tee) each(fn func(slog.Handler) slog.Handler) tee {
	next := make(tee, len(t))
	for i, handler := range t {
		next[i] = fn(handler)
	}
	return next
}
