package serverrun

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/adyach/nakadi/internal/config"
	pebblestore "github.com/adyach/nakadi/internal/storage/pebble"
)

func testConfig() cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.Log.Level = "error"
	cfg.Log.Outputs = []string{"null"}
	return cfg
}

// TestRunIntegration verifies Run starts the servers and stops cleanly
// when its context ends.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	opts := Options{
		DataDir:  t.TempDir(),
		HTTPAddr: "127.0.0.1:0",
		Fsync:    pebblestore.FsyncModeNever,
		Config:   testConfig(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := Run(ctx, opts); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Retention.Schedule = "not a cron"
	err := Run(context.Background(), Options{DataDir: t.TempDir(), HTTPAddr: "127.0.0.1:0", Config: cfg})
	if err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
}

func TestRunFailsOnInvalidAddress(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	err := Run(context.Background(), Options{DataDir: filepath.Join(dir, "a"), HTTPAddr: "256.0.0.1:1", Config: cfg})
	if err == nil {
		t.Fatalf("expected listen error")
	}
}
