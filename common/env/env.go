// Package env reads typed configuration values from the process environment.
package env

import (
	"os"
	"strconv"
)

// String returns the environment variable value or def when unset.
func String(name string, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

// Int parses the environment variable as an integer, falling back to def on
// absence or parse failure.
func Int(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool parses the environment variable as a boolean, falling back to def on
// absence or parse failure.
func Bool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Float64 parses the environment variable as a float64, falling back to def
// on absence or parse failure.
func Float64(name string, def float64) float64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
