package storage

import (
	"testing"

	"TrackHub/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.LocalStorageDir = t.TempDir()
	return cfg
}
