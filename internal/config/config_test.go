package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adyach/nakadi/internal/domain"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.DefaultStorage != "default" {
		t.Fatalf("default storage %q", cfg.DefaultStorage)
	}
	if cfg.TimelineWaitTimeout().Seconds() != 40 {
		t.Fatalf("timeline wait timeout %v", cfg.TimelineWaitTimeout())
	}
	if cfg.EventTypeDefaults.Partitions != 8 || cfg.EventTypeDefaults.RetentionTimeMs != 172800000 {
		t.Fatalf("event type defaults %+v", cfg.EventTypeDefaults)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nakadi.json")
	data := []byte(`{"adminClientId":"ops","timelineWaitTimeoutMs":5000,"eventTypeDefaults":{"partitions":32},"features":{"disable_event_type_creation":true}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AdminClientID != "ops" || cfg.TimelineWaitTimeoutMs != 5000 {
		t.Fatalf("unexpected %+v", cfg)
	}
	if cfg.EventTypeDefaults.Partitions != 32 {
		t.Fatalf("expected 32 partitions, got %d", cfg.EventTypeDefaults.Partitions)
	}
	if cfg.EventTypeDefaults.RetentionTimeMs != 172800000 {
		t.Fatalf("unset fields keep their defaults, got %d", cfg.EventTypeDefaults.RetentionTimeMs)
	}
	if !cfg.Features["disable_event_type_creation"] {
		t.Fatalf("features not loaded: %v", cfg.Features)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nakadi.yaml")
	data := []byte(`
defaultStorage: primary
metadata:
  backend: sqlite
  sqlitePath: /tmp/meta.db
retention:
  maxPartitionSize: 64MiB
storages:
  - id: primary
    type: local
  - id: kafka-eu
    type: kafka
    kafka:
      brokers: ["k1:9092", "k2:9092"]
      version: 2.8.0
`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []domain.Storage{
		{ID: "primary", Type: domain.StorageLocal},
		{ID: "kafka-eu", Type: domain.StorageKafka, Kafka: &domain.KafkaStorage{Brokers: []string{"k1:9092", "k2:9092"}, Version: "2.8.0"}},
	}
	if diff := cmp.Diff(want, cfg.Storages); diff != "" {
		t.Fatalf("storages (-want +got):\n%s", diff)
	}
	if cfg.Metadata.Backend != "sqlite" || cfg.DefaultStorage != "primary" {
		t.Fatalf("unexpected %+v", cfg)
	}
	n, err := cfg.MaxPartitionBytes()
	if err != nil || n != 64<<20 {
		t.Fatalf("max partition bytes %d %v", n, err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"auth mode":      func(c *Config) { c.AuthMode = "maybe" },
		"admin":          func(c *Config) { c.AdminClientID = "" },
		"timeout":        func(c *Config) { c.HotPathWaitTimeoutMs = 0 },
		"partitions":     func(c *Config) { c.EventTypeDefaults.Partitions = 0 },
		"backend":        func(c *Config) { c.Metadata.Backend = "etcd" },
		"sqlite path":    func(c *Config) { c.Metadata.Backend = "sqlite" },
		"partition size": func(c *Config) { c.Retention.MaxPartitionSize = "lots" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("NAKADI_ADMIN_CLIENT_ID", "root")
	t.Setenv("NAKADI_AUTH_MODE", "ON")
	t.Setenv("NAKADI_TIMELINE_WAIT_TIMEOUT_MS", "100")
	t.Setenv("NAKADI_EVENT_TYPE_DEFAULTS_PARTITIONS", "24")
	t.Setenv("NAKADI_FEATURES", "disable_event_type_creation, high_level_api=false,bogus=maybe")
	FromEnv(&cfg)
	if cfg.AdminClientID != "root" || cfg.AuthMode != "on" {
		t.Fatalf("env override %+v", cfg)
	}
	if cfg.TimelineWaitTimeoutMs != 100 || cfg.EventTypeDefaults.Partitions != 24 {
		t.Fatalf("env override numbers %+v", cfg)
	}
	want := map[string]bool{"disable_event_type_creation": true, "high_level_api": false}
	if diff := cmp.Diff(want, cfg.Features); diff != "" {
		t.Fatalf("features (-want +got):\n%s", diff)
	}
}
