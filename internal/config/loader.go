package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "REALMHIST_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if REALMHIST_CONFIG is set
//  3. env (prefix REALMHIST_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// REALMHIST_BATCH_SIZE -> batch_size. Underscores are kept so keys match
	// the flat koanf tags; REALMHIST_REALMS is a comma separated list.
	envProvider := env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.TrimPrefix(strings.ToLower(key), strings.ToLower(envPrefix))
		if key == "config" {
			return "", nil
		}
		if key == "realms" {
			return key, splitList(value)
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the service relies on.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.WorldDBPath) == "":
		return fmt.Errorf("%w: world_db_path must not be empty", ErrInvalidConfig)
	case strings.TrimSpace(c.SessionDBPath) == "":
		return fmt.Errorf("%w: session_db_path must not be empty", ErrInvalidConfig)
	case c.WorldDBPath == c.SessionDBPath:
		return fmt.Errorf("%w: world_db_path and session_db_path must differ", ErrInvalidConfig)
	case c.MaxSnapshotBytes <= 0:
		return fmt.Errorf("%w: max_snapshot_bytes must be positive", ErrInvalidConfig)
	case c.SyncImportTimeout <= 0 || c.BackgroundImportTimeout <= 0:
		return fmt.Errorf("%w: import timeouts must be positive", ErrInvalidConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfig)
	case c.JobQueueSize <= 0:
		return fmt.Errorf("%w: job_queue_size must be positive", ErrInvalidConfig)
	case c.MapWidth <= 0 || c.MapHeight <= 0:
		return fmt.Errorf("%w: map dimensions must be positive", ErrInvalidConfig)
	case c.MaxTiles <= 0 || c.MaxPlayers <= 0 || c.MaxAlliances <= 0:
		return fmt.Errorf("%w: structural limits must be positive", ErrInvalidConfig)
	case c.MaxNameLength <= 0:
		return fmt.Errorf("%w: max_name_length must be positive", ErrInvalidConfig)
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
