package core

import "context"

type contextKey string

const ctxKeyRunID contextKey = "ingest_run_id"

// WithRunID stores an ingestion run id in the context for log correlation.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, id)
}

// RunIDFromContext returns the ingestion run id, if any.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRunID).(string); ok {
		return v
	}
	return ""
}
