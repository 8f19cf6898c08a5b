// Package environment reads typed overrides from environment variables.
//
// Every helper takes a fallback and returns it when the variable is unset,
// empty, or unparseable. Nothing in this package exits the process; callers
// decide whether a missing value is fatal.
package environment

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StringOr returns the trimmed value of name, or fallback when it is unset
// or blank.
func StringOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

// Secret returns the raw value of name without trimming or defaulting.
// API keys go through here so that a missing key stays empty and surfaces
// as an authentication failure at request time.
func Secret(name string) string {
	return os.Getenv(name)
}

// BoolOr parses name with strconv.ParseBool.
func BoolOr(name string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// IntOr parses name as a base-10 integer.
func IntOr(name string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Float64Or parses name as a 64-bit float (e.g. a sampling temperature).
func Float64Or(name string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// DurationOr parses name with time.ParseDuration ("30s", "2m").
func DurationOr(name string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
