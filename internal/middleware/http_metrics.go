package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// HTTPMetrics records duration, sizes and counts per method, route and status.
// Probe endpoints are not recorded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProbe(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(rec.status),
				time.Since(start).Seconds(),
				max(r.ContentLength, 0),
				rec.size,
			)
		})
	}
}
