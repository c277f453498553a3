// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file and REALMHIST_* env vars.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// WorldDBPath is the sqlite file holding realms and versioned entities.
	WorldDBPath string `koanf:"world_db_path"`
	// SessionDBPath is the sqlite file holding import sessions.
	SessionDBPath string `koanf:"session_db_path"`

	// MaxSnapshotBytes caps the accepted snapshot size.
	MaxSnapshotBytes int64 `koanf:"max_snapshot_bytes"`

	// SyncImportTimeout bounds imports run inline with the request.
	SyncImportTimeout time.Duration `koanf:"sync_import_timeout"`
	// BackgroundImportTimeout bounds imports run by the job worker.
	BackgroundImportTimeout time.Duration `koanf:"background_import_timeout"`

	// BatchSize is the number of rows written between cancellation checks.
	BatchSize int `koanf:"batch_size"`
	// JobQueueSize bounds the number of queued background imports.
	JobQueueSize int `koanf:"job_queue_size"`

	// MapWidth and MapHeight bound tile coordinates to [0, width) x [0, height).
	MapWidth  int `koanf:"map_width"`
	MapHeight int `koanf:"map_height"`

	// Structural limits applied during cleansing.
	MaxTiles      int `koanf:"max_tiles"`
	MaxPlayers    int `koanf:"max_players"`
	MaxAlliances  int `koanf:"max_alliances"`
	MaxNameLength int `koanf:"max_name_length"`

	// Realms lists realm ids created at startup when missing.
	Realms []string `koanf:"realms"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		WorldDBPath:             "realmhist.db",
		SessionDBPath:           "realmhist-sessions.db",
		MaxSnapshotBytes:        100 << 20,
		SyncImportTimeout:       5 * time.Minute,
		BackgroundImportTimeout: 30 * time.Minute,
		BatchSize:               1000,
		JobQueueSize:            16,
		MapWidth:                1000,
		MapHeight:               1000,
		MaxTiles:                1000 * 1000,
		MaxPlayers:              250_000,
		MaxAlliances:            25_000,
		MaxNameLength:           64,
		Realms:                  []string{"default"},
	}
}
