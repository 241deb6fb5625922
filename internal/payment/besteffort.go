package payment

import (
	"context"
	"log/slog"
)

// Outcome is the result of a best-effort write. It carries the failure for
// inspection but is never returned as an error: the caller's primary effect
// has already happened and must not be undone by an audit write.
type Outcome struct {
	Operation string
	Err       error
}

// OK reports whether the write succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// BestEffort runs fn and logs a failure instead of propagating it.
// Extra slog attributes are attached to the failure log entry.
func BestEffort(ctx context.Context, logger *slog.Logger, metrics *Metrics, operation string, fn func(context.Context) error, attrs ...any) Outcome {
	err := fn(ctx)
	if err != nil {
		args := append([]any{"operation", operation, "error", err}, attrs...)
		logger.ErrorContext(ctx, "best-effort write failed", args...)
		metrics.IncBestEffortFailure(operation)
	}
	return Outcome{Operation: operation, Err: err}
}
