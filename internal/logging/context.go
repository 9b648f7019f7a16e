package logging

import (
	"context"
	"log/slog"

	"curator/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldViewerID identifies the end user a request is evaluated for.
	FieldViewerID = "viewer_id"
	// FieldCollectionID identifies the collection being materialized or edited.
	FieldCollectionID = "collection_id"
	// FieldMediaID is the catalog identifier of a media item.
	FieldMediaID = "media_id"
	// FieldItemType is Movie or Series.
	FieldItemType = "item_type"
	// FieldEventType classifies warnings for log filtering.
	FieldEventType = "event_type"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldErrorHint suggests an operator action for a warning.
	FieldErrorHint = "error_hint"
	// FieldSessionID identifies one daemon process across its log files.
	FieldSessionID = "session_id"
	// FieldRunID names the per-run log file the record also went to.
	FieldRunID = "run_id"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	if viewer, ok := services.ViewerIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldViewerID, viewer))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
