package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays NAKADI_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("NAKADI_ADMIN_CLIENT_ID"); v != "" {
		cfg.AdminClientID = v
	}
	if v := os.Getenv("NAKADI_AUTH_MODE"); v != "" {
		cfg.AuthMode = strings.ToLower(v)
	}
	if v := os.Getenv("NAKADI_DEFAULT_STORAGE"); v != "" {
		cfg.DefaultStorage = v
	}
	if v := os.Getenv("NAKADI_TIMELINE_WAIT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TimelineWaitTimeoutMs = n
		}
	}
	if v := os.Getenv("NAKADI_HOT_PATH_WAIT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.HotPathWaitTimeoutMs = n
		}
	}
	if v := os.Getenv("NAKADI_EVENT_TYPE_DEFAULTS_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EventTypeDefaults.Partitions = n
		}
	}
	if v := os.Getenv("NAKADI_EVENT_TYPE_DEFAULTS_RETENTION_TIME_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.EventTypeDefaults.RetentionTimeMs = n
		}
	}
	if v := os.Getenv("NAKADI_METADATA_BACKEND"); v != "" {
		cfg.Metadata.Backend = v
	}
	if v := os.Getenv("NAKADI_METADATA_SQLITE_PATH"); v != "" {
		cfg.Metadata.SQLitePath = v
	}
	if v := os.Getenv("NAKADI_RETENTION_SCHEDULE"); v != "" {
		cfg.Retention.Schedule = v
	}
	if v := os.Getenv("NAKADI_RETENTION_MAX_PARTITION_SIZE"); v != "" {
		cfg.Retention.MaxPartitionSize = v
	}
	if v := os.Getenv("NAKADI_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("NAKADI_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	// NAKADI_FEATURES=disable_event_type_creation=true,high_level_api
	if v := os.Getenv("NAKADI_FEATURES"); v != "" {
		if cfg.Features == nil {
			cfg.Features = map[string]bool{}
		}
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			name, value, found := strings.Cut(p, "=")
			on := true
			if found {
				b, err := strconv.ParseBool(value)
				if err != nil {
					continue
				}
				on = b
			}
			cfg.Features[strings.TrimSpace(name)] = on
		}
	}
}
