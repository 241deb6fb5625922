package config

import (
	"reflect"
	"testing"
)

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", DefaultAllowedOrigins},
		{" , ,", DefaultAllowedOrigins},
		{"https://a.example", []string{"https://a.example"}},
		{"https://a.example/, http://localhost:3000 ", []string{"https://a.example", "http://localhost:3000"}},
	}
	for _, tt := range tests {
		if got := ParseOrigins(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseOrigins(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	// The default slice must not be shared with callers.
	got := ParseOrigins("")
	got[0] = "mutated"
	if DefaultAllowedOrigins[0] == "mutated" {
		t.Error("ParseOrigins returned the package default slice")
	}
}

func TestOrigins_Resolve(t *testing.T) {
	allowed := []string{"http://localhost:3000", "https://app.example"}

	tests := []struct {
		name    string
		origins Origins
		origin  string
		want    string
	}{
		{"echo allowed", Origins{Allowed: allowed}, "https://app.example", "https://app.example"},
		{"unknown uses first allowed", Origins{Allowed: allowed}, "https://evil.example", "http://localhost:3000"},
		{"empty uses first allowed", Origins{Allowed: allowed}, "", "http://localhost:3000"},
		{"unknown uses app url", Origins{Allowed: allowed, AppURL: "https://courtside.example/"}, "https://evil.example", "https://courtside.example"},
		{"allowed beats app url", Origins{Allowed: allowed, AppURL: "https://courtside.example"}, "http://localhost:3000", "http://localhost:3000"},
		{"nothing configured", Origins{}, "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.origins.Resolve(tt.origin); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.origin, got, tt.want)
			}
		})
	}
}
