package llm

import (
	"fmt"
	"net/url"
	"time"
)

// Request parameter bounds shared by every provider. Providers with a
// narrower range clamp again when building their request.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinTopP        = 0.0
	MaxTopP        = 1.0

	// Client timeouts outside [MinTimeout, MaxTimeout] are clamped.
	MinTimeout = time.Second
	MaxTimeout = 10 * time.Minute
)

// IsValidTemperature reports whether val is an accepted temperature.
func IsValidTemperature(val float64) bool { return val >= MinTemperature && val <= MaxTemperature }

// IsValidTopP reports whether val is an accepted nucleus sampling value.
func IsValidTopP(val float64) bool { return val >= MinTopP && val <= MaxTopP }

// IsPositiveInt reports whether val > 0.
func IsPositiveInt(val int) bool { return val > 0 }

// IsNonEmptyString reports whether val is not empty.
func IsNonEmptyString(val string) bool { return val != "" }

// ValidateBaseURL normalizes an endpoint override. Empty means the
// provider's default endpoint and is returned unchanged.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("base URL: %w", err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return "", fmt.Errorf("base URL %q: scheme must be http or https", baseURL)
	case u.Host == "":
		return "", fmt.Errorf("base URL %q: missing host", baseURL)
	}
	return u.String(), nil
}

// ValidateTimeout clamps a client timeout into [MinTimeout, MaxTimeout].
// Zero or negative means "no client timeout" and is returned as 0.
func ValidateTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	return min(max(timeout, MinTimeout), MaxTimeout)
}

// ClampFloat64 bounds val to [lo, hi].
func ClampFloat64(val, lo, hi float64) float64 { return min(max(val, lo), hi) }
