package middleware

import "net/http"

// statusRecorder captures the status code and body size written by a handler.
// Only the first WriteHeader call is recorded, matching net/http.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	size        int64
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// knownRoutes are the paths the router serves.
var knownRoutes = map[string]bool{
	"/health":         true,
	"/ready":          true,
	"/metrics":        true,
	"/create-session": true,
	"/webhook":        true,
}

// unmatchedRoute labels every path the router does not serve.
const unmatchedRoute = "unmatched"

// normalizePath bounds route labels to the served paths so scanners probing
// random URLs cannot create unbounded label cardinality.
func normalizePath(path string) string {
	if knownRoutes[path] {
		return path
	}
	return unmatchedRoute
}

// isProbe reports whether path is a health or scrape endpoint, which are
// excluded from request metrics and tracing.
func isProbe(path string) bool {
	switch path {
	case "/health", "/ready", "/metrics":
		return true
	}
	return false
}
