// Package environment reads typed configuration values from environment
// variables. Every helper returns the supplied default when the variable is
// unset, empty or unparsable; none of them terminate the process.
package environment

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StringOr returns the variable's value, or def when it is unset or empty.
func StringOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// BoolOr parses the variable with strconv.ParseBool.
func BoolOr(name string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return def
	}
	return b
}

// IntOr parses the variable as a base-10 int.
func IntOr(name string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return def
	}
	return n
}

// Int64Or parses the variable as a base-10 int64. Used for byte quotas.
func Int64Or(name string, def int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(name)), 10, 64)
	if err != nil {
		return def
	}
	return n
}

// DurationOr parses the variable with time.ParseDuration ("800ms", "2m").
func DurationOr(name string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return def
	}
	return d
}

// LocationOr loads the IANA zone named by the variable (e.g. "Asia/Shanghai").
// An unknown zone name falls back to def.
func LocationOr(name string, def *time.Location) *time.Location {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		return def
	}
	return loc
}
