package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDirEnv overrides the default data directory.
const DataDirEnv = "NAKADI_DATA_DIR"

// DefaultDataDir returns where the server keeps its Pebble store when no
// directory is configured: $NAKADI_DATA_DIR, then the per-user data
// directory of the platform, then ./data.
func DefaultDataDir() string {
	if dir := os.Getenv(DataDirEnv); dir != "" {
		return dir
	}
	if dir := userDataDir(runtime.GOOS); dir != "" {
		return filepath.Join(dir, "nakadi")
	}
	return filepath.Join(".", "data")
}

func userDataDir(goos string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" && goos != "windows" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support")
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return dir
		}
		return filepath.Join(home, "AppData", "Local")
	default:
		return filepath.Join(home, ".local", "share")
	}
}
