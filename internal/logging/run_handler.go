package logging

import (
	"context"
	"log/slog"
)

// runHandler stamps the daemon's session and run identifiers onto every
// record.
type runHandler struct {
	next  slog.Handler
	attrs []slog.Attr
}

func withRunAttrs(next slog.Handler, sessionID, runID string) slog.Handler {
	var attrs []slog.Attr
	if sessionID != "" {
		attrs = append(attrs, slog.String(FieldSessionID, sessionID))
	}
	if runID != "" {
		attrs = append(attrs, slog.String(FieldRunID, runID))
	}
	if next == nil || len(attrs) == 0 {
		return next
	}
	return &runHandler{next: next, attrs: attrs}
}

func (h *runHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *runHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(h.attrs...)
	return h.next.Handle(ctx, record)
}

func (h *runHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &runHandler{next: h.next.WithAttrs(attrs), attrs: h.attrs}
}

func (h *runHandler) WithGroup(name string) slog.Handler {
	return &runHandler{next: h.next.WithGroup(name), attrs: h.attrs}
}
