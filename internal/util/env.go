// Package util provides environment variable parsing helpers shared across components.
package util

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// ParseBoolEnv parses a boolean environment variable with a default value.
// Accepts: true/1/yes/on and false/0/no/off (case-insensitive). Invalid values return default.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		slog.Warn("ParseBoolEnv: invalid boolean value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
}

// ParseDurationEnv parses a duration such as "90m" or "2h". Invalid or non-positive values return default.
func ParseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		slog.Warn("ParseDurationEnv: invalid duration, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return d
}

// ParseFloatEnv parses a floating point number. Invalid values return default.
func ParseFloatEnv(key string, defaultValue float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		slog.Warn("ParseFloatEnv: invalid number, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return f
}

// SplitList splits a comma-separated list, trimming blanks and dropping empty and repeated entries.
func SplitList(s string) []string {
	parts := lo.Map(strings.Split(s, ","), func(p string, _ int) string { return strings.TrimSpace(p) })
	return lo.Uniq(lo.Compact(parts))
}
