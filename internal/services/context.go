package services

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	viewerIDKey  contextKey = "viewer_id"
)

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithViewerID annotates context with the end user a request is evaluated for.
func WithViewerID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, viewerIDKey, id)
}

// ViewerIDFromContext returns the viewer identifier if present.
func ViewerIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(viewerIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
