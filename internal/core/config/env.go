package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: SCRIBE_[SECTION]_[KEY] (e.g., SCRIBE_SCAN_WORKERS).
func ApplyEnvOverrides(cfg *Config) {
	// Scan
	setEnvList(&cfg.Scan.Roots, "SCRIBE_SCAN_ROOTS")
	setEnvList(&cfg.Scan.Extensions, "SCRIBE_SCAN_EXTENSIONS")
	setEnvInt(&cfg.Scan.Workers, "SCRIBE_SCAN_WORKERS")

	// Scribe
	setEnvString(&cfg.Scribe.AssetsDir, "SCRIBE_SCRIBE_ASSETS_DIR")
	setEnvString(&cfg.Scribe.HeuristicTarget, "SCRIBE_SCRIBE_HEURISTIC_TARGET")
	setEnvFloat64(&cfg.Scribe.WritesPerSecond, "SCRIBE_SCRIBE_WRITES_PER_SECOND")

	// Database
	setEnvBool(&cfg.DB.Enabled, "SCRIBE_DB_ENABLED")
	setEnvString(&cfg.DB.Path, "SCRIBE_DB_PATH")
	setEnvDuration(&cfg.DB.BusyTimeout, "SCRIBE_DB_BUSY_TIMEOUT")

	// Server
	setEnvString(&cfg.Server.Address, "SCRIBE_SERVER_ADDRESS")

	// Observability
	setEnvString(&cfg.Observability.OTLPEndpoint, "SCRIBE_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvString(&cfg.Observability.ServiceName, "SCRIBE_OBSERVABILITY_SERVICE_NAME")

	// Watch
	setEnvDuration(&cfg.Watch.Debounce, "SCRIBE_WATCH_DEBOUNCE")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}

// setEnvList splits a comma-separated value, dropping empty entries.
func setEnvList(target *[]string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		slog.Debug("applying env override", "key", key, "value", val)
		*target = out
	}
}
