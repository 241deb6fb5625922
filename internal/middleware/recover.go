package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recover converts a panic in the handler chain into a 500 INTERNAL_ERROR response.
// If no CORS headers were set before the panic, a wildcard Allow-Origin is added
// so the browser can read the error. A panic after the response has started
// only aborts the handler; the partial response is left as written.
func Recover(logger *slog.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusRecorder(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				metrics.IncPanics()
				logger.ErrorContext(r.Context(), "panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
					slog.Bool("response_started", sw.wroteHeader),
					slog.String("stack", string(debug.Stack())))

				if sw.wroteHeader {
					return
				}

				if w.Header().Get("Access-Control-Allow-Origin") == "" {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				}
				WriteJSONError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
