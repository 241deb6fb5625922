package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
)

type userIDKey struct{}

type errorCodeKey struct{}

// requestSlot carries values set deep in the handler chain back out to the
// Logging middleware, which only holds the outer request context.
type requestSlot struct {
	code    string
	userID  string
	traceID string
}

type requestSlotKey struct{}

func slotFrom(ctx context.Context) *requestSlot {
	slot, _ := ctx.Value(requestSlotKey{}).(*requestSlot)
	return slot
}

// SetUserID stores the authenticated user ID in the context and reports it to
// the request log.
func SetUserID(ctx context.Context, userID string) context.Context {
	if slot := slotFrom(ctx); slot != nil {
		slot.userID = userID
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

// GetUserID returns the authenticated user ID, or "" when the request is anonymous.
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// SetErrorCode records the API error code for the response being written.
func SetErrorCode(ctx context.Context, code string) context.Context {
	if slot := slotFrom(ctx); slot != nil {
		slot.code = code
	}
	return context.WithValue(ctx, errorCodeKey{}, code)
}

// GetErrorCode returns the error code set on ctx or reported through the
// request slot, or "".
func GetErrorCode(ctx context.Context) string {
	if code, ok := ctx.Value(errorCodeKey{}).(string); ok {
		return code
	}
	if slot := slotFrom(ctx); slot != nil {
		return slot.code
	}
	return ""
}

// NewLogger returns a JSON logger at info level in production and a text
// logger at debug level otherwise.
func NewLogger(env string) *slog.Logger {
	if env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Logging writes one "request completed" line per request with method, path,
// status, latency, size and, when present, request ID, trace ID, user ID and
// error code. 5xx logs at error level and 4xx at warn.
//
// A panicking handler produces no line here; Recover logs it instead.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := newStatusRecorder(w)
			slot := &requestSlot{}
			ctx := context.WithValue(r.Context(), requestSlotKey{}, slot)
			r = r.WithContext(ctx)

			next.ServeHTTP(rec, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				slog.Int64("size", rec.size),
			}
			if id := GetRequestID(ctx); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if slot.traceID != "" {
				attrs = append(attrs, slog.String("trace_id", slot.traceID))
			}
			if slot.userID != "" {
				attrs = append(attrs, slog.String("user_id", slot.userID))
			}
			if rec.status >= 400 && slot.code != "" {
				attrs = append(attrs, slog.String("error_code", slot.code))
			}

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(ctx, level, "request completed", attrs...)
		})
	}
}
