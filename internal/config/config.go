// Package config resolves server settings from the environment, falling
// back to the reference defaults used throughout development.
package config

import (
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// Config holds every environment-tunable setting for the exchange server.
type Config struct {
	Address           string
	Port              int
	LogLevel          zerolog.Level
	AutoCreateSymbols bool
	ReportBuffer      int
	LatencyWindow     int
}

// FromEnv reads PORT, ADDRESS, LOG_LEVEL, AUTO_CREATE_SYMBOLS,
// REPORT_BUFFER, and LATENCY_WINDOW, defaulting whatever is unset or
// unparsable.
func FromEnv() Config {
	cfg := Config{
		Address:           "0.0.0.0",
		Port:              8080,
		LogLevel:          zerolog.InfoLevel,
		AutoCreateSymbols: true,
		ReportBuffer:      1024,
		LatencyWindow:     10_000,
	}

	if v := os.Getenv("ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if level, err := zerolog.ParseLevel(v); err == nil {
			cfg.LogLevel = level
		}
	}
	if v := os.Getenv("AUTO_CREATE_SYMBOLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoCreateSymbols = b
		}
	}
	if v := os.Getenv("REPORT_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReportBuffer = n
		}
	}
	if v := os.Getenv("LATENCY_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LatencyWindow = n
		}
	}

	return cfg
}
