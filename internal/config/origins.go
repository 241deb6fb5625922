package config

import "strings"

// DefaultAllowedOrigins is used when no ALLOWED_ORIGINS value is configured.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
}

// Origins is the browser origin allowlist plus the fallback used when a request
// origin is not recognised.
type Origins struct {
	Allowed []string
	AppURL  string
}

// ParseOrigins splits a comma-separated origin list, trimming whitespace and
// dropping empty entries. An empty result yields DefaultAllowedOrigins.
func ParseOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultAllowedOrigins...)
	}
	return out
}

// IsAllowed reports whether origin is on the allowlist.
func (o Origins) IsAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range o.Allowed {
		if a == origin {
			return true
		}
	}
	return false
}

// Resolve returns origin if it is allowed, otherwise the app URL, otherwise the
// first allowed origin. Returns an empty string only when nothing is configured.
func (o Origins) Resolve(origin string) string {
	if o.IsAllowed(origin) {
		return origin
	}
	if o.AppURL != "" {
		return strings.TrimRight(o.AppURL, "/")
	}
	if len(o.Allowed) > 0 {
		return o.Allowed[0]
	}
	return ""
}
