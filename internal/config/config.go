package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/security"
	logpkg "github.com/adyach/nakadi/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	AdminClientID         string            `json:"adminClientId" yaml:"adminClientId" mapstructure:"adminClientId"`
	AuthMode              string            `json:"authMode" yaml:"authMode" mapstructure:"authMode"`
	DefaultStorage        string            `json:"defaultStorage" yaml:"defaultStorage" mapstructure:"defaultStorage"`
	TimelineWaitTimeoutMs int64             `json:"timelineWaitTimeoutMs" yaml:"timelineWaitTimeoutMs" mapstructure:"timelineWaitTimeoutMs"`
	HotPathWaitTimeoutMs  int64             `json:"hotPathWaitTimeoutMs" yaml:"hotPathWaitTimeoutMs" mapstructure:"hotPathWaitTimeoutMs"`
	EventTypeDefaults     EventTypeDefaults `json:"eventTypeDefaults" yaml:"eventTypeDefaults" mapstructure:"eventTypeDefaults"`
	Metadata              Metadata          `json:"metadata" yaml:"metadata" mapstructure:"metadata"`
	Storages              []domain.Storage  `json:"storages" yaml:"storages" mapstructure:"storages"`
	Features              map[string]bool   `json:"features" yaml:"features" mapstructure:"features"`
	Retention             Retention         `json:"retention" yaml:"retention" mapstructure:"retention"`
	Read                  Read              `json:"read" yaml:"read" mapstructure:"read"`
	RateLimit             RateLimit         `json:"rateLimit" yaml:"rateLimit" mapstructure:"rateLimit"`
	Log                   logpkg.Config     `json:"log" yaml:"log" mapstructure:"log"`
}

// EventTypeDefaults fill unset fields of new event types.
type EventTypeDefaults struct {
	Partitions      int   `json:"partitions" yaml:"partitions" mapstructure:"partitions"`
	RetentionTimeMs int64 `json:"retentionTimeMs" yaml:"retentionTimeMs" mapstructure:"retentionTimeMs"`
}

// Metadata selects the metadata store backend.
type Metadata struct {
	// Backend is "pebble" (shares the data directory) or "sqlite".
	Backend    string `json:"backend" yaml:"backend" mapstructure:"backend"`
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath" mapstructure:"sqlitePath"`
}

// Retention schedules trimming of local topics.
type Retention struct {
	// Schedule is a cron expression; empty disables retention.
	Schedule   string `json:"schedule" yaml:"schedule" mapstructure:"schedule"`
	BatchLimit int    `json:"batchLimit" yaml:"batchLimit" mapstructure:"batchLimit"`
	// MaxPartitionSize is a human readable size such as "512MiB"; empty means unbounded.
	MaxPartitionSize string `json:"maxPartitionSize" yaml:"maxPartitionSize" mapstructure:"maxPartitionSize"`
}

// Read bounds consumer reads.
type Read struct {
	MaxBatch  int   `json:"maxBatch" yaml:"maxBatch" mapstructure:"maxBatch"`
	MaxWaitMs int64 `json:"maxWaitMs" yaml:"maxWaitMs" mapstructure:"maxWaitMs"`
}

// RateLimit throttles publishing per client. Zero disables it.
type RateLimit struct {
	PublishPerSecond float64 `json:"publishPerSecond" yaml:"publishPerSecond" mapstructure:"publishPerSecond"`
	Burst            int     `json:"burst" yaml:"burst" mapstructure:"burst"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		AdminClientID:         "nakadi-admin",
		AuthMode:              string(security.AuthModeOff),
		DefaultStorage:        "default",
		TimelineWaitTimeoutMs: 40000,
		HotPathWaitTimeoutMs:  1000,
		EventTypeDefaults: EventTypeDefaults{
			Partitions:      8,
			RetentionTimeMs: 172800000,
		},
		Metadata: Metadata{Backend: "pebble"},
		Features: map[string]bool{},
		Retention: Retention{
			Schedule:   "*/5 * * * *",
			BatchLimit: 10000,
		},
		Read: Read{
			MaxBatch:  1000,
			MaxWaitMs: 30000,
		},
		Log: logpkg.Config{Level: "info", Format: "text", Outputs: []string{"console"}},
	}
}

// Load reads configuration from a JSON or YAML file over the defaults. If
// path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, fmt.Sprintf(format, args...))
	}
	switch security.AuthMode(c.AuthMode) {
	case security.AuthModeOff, security.AuthModeOn:
	default:
		return invalid("authMode must be off or on, got %q", c.AuthMode)
	}
	if c.AdminClientID == "" {
		return invalid("adminClientId is required")
	}
	if c.DefaultStorage == "" {
		return invalid("defaultStorage is required")
	}
	if c.TimelineWaitTimeoutMs <= 0 || c.HotPathWaitTimeoutMs <= 0 {
		return invalid("wait timeouts must be positive")
	}
	if c.EventTypeDefaults.Partitions <= 0 {
		return invalid("eventTypeDefaults.partitions must be positive")
	}
	switch c.Metadata.Backend {
	case "pebble":
	case "sqlite":
		if c.Metadata.SQLitePath == "" {
			return invalid("metadata.sqlitePath is required for the sqlite backend")
		}
	default:
		return invalid("unknown metadata backend %q", c.Metadata.Backend)
	}
	if _, err := c.MaxPartitionBytes(); err != nil {
		return err
	}
	return nil
}

// TimelineWaitTimeout bounds how long a switch waits for in-flight operations.
func (c Config) TimelineWaitTimeout() time.Duration {
	return time.Duration(c.TimelineWaitTimeoutMs) * time.Millisecond
}

// HotPathWaitTimeout bounds how long publish and read wait for a switch.
func (c Config) HotPathWaitTimeout() time.Duration {
	return time.Duration(c.HotPathWaitTimeoutMs) * time.Millisecond
}

// MaxReadWait caps consumer long polls.
func (c Config) MaxReadWait() time.Duration {
	return time.Duration(c.Read.MaxWaitMs) * time.Millisecond
}

// MaxPartitionBytes parses Retention.MaxPartitionSize; zero means unbounded.
func (c Config) MaxPartitionBytes() (int64, error) {
	if c.Retention.MaxPartitionSize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Retention.MaxPartitionSize)
	if err != nil {
		return 0, fmt.Errorf("%w: retention.maxPartitionSize: %v", domain.ErrConfiguration, err)
	}
	return int64(n), nil
}
