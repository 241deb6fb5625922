// Package middleware provides HTTP middleware components for the payment API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/onnwee/courtside/internal/config"
)

// Default CORS values.
var (
	DefaultAllowedMethods = []string{http.MethodPost, http.MethodGet, http.MethodOptions}
	DefaultAllowedHeaders = []string{"Content-Type", "Authorization", "Stripe-Signature", RequestIDHeader}
)

// CORSConfig holds the configuration for CORS middleware.
type CORSConfig struct {
	Origins        config.Origins
	AllowedMethods []string // Defaults to DefaultAllowedMethods
	AllowedHeaders []string // Defaults to DefaultAllowedHeaders
}

// CORS returns a middleware that sets CORS headers on every response.
//
// The request Origin is echoed when it is on the allowlist. Otherwise the
// configured app URL, or failing that the first allowed origin, is returned so
// browsers from unknown origins are refused by the browser rather than the server.
// OPTIONS requests are answered with 200 and an empty body.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = DefaultAllowedMethods
	}
	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = DefaultAllowedHeaders
	}
	allowedMethodsStr := strings.Join(methods, ", ")
	allowedHeadersStr := strings.Join(headers, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if origin := cfg.Origins.Resolve(r.Header.Get("Origin")); origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			h.Set("Access-Control-Allow-Methods", allowedMethodsStr)
			h.Set("Access-Control-Allow-Headers", allowedHeadersStr)
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
