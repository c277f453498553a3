package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/realmhist/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

var configEnvVars = []string{
	"REALMHIST_CONFIG",
	"REALMHIST_ADDR",
	"REALMHIST_BATCH_SIZE",
	"REALMHIST_SYNC_IMPORT_TIMEOUT",
	"REALMHIST_BACKGROUND_IMPORT_TIMEOUT",
	"REALMHIST_MAP_WIDTH",
	"REALMHIST_REALMS",
	"REALMHIST_WORLD_DB_PATH",
	"REALMHIST_SESSION_DB_PATH",
	"REALMHIST_LOG_LEVEL",
}

func clearConfigEnvVars() {
	for _, k := range configEnvVars {
		_ = os.Unsetenv(k)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.MaxSnapshotBytes, convey.ShouldEqual, 100<<20)
			convey.So(cfg.SyncImportTimeout, convey.ShouldEqual, 5*time.Minute)
			convey.So(cfg.BackgroundImportTimeout, convey.ShouldEqual, 30*time.Minute)
			convey.So(cfg.BatchSize, convey.ShouldEqual, 1000)
			convey.So(cfg.MapWidth, convey.ShouldEqual, 1000)
			convey.So(cfg.Realms, convey.ShouldResemble, []string{"default"})
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.BatchSize, convey.ShouldEqual, 1000)
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("REALMHIST_ADDR", ":8080")
			_ = os.Setenv("REALMHIST_BATCH_SIZE", "250")
			_ = os.Setenv("REALMHIST_SYNC_IMPORT_TIMEOUT", "90s")
			_ = os.Setenv("REALMHIST_REALMS", "eu-1, us-2 ,")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env overrides defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.BatchSize, convey.ShouldEqual, 250)
				convey.So(cfg.SyncImportTimeout, convey.ShouldEqual, 90*time.Second)
				convey.So(cfg.Realms, convey.ShouldResemble, []string{"eu-1", "us-2"})
			})
		})

		convey.Convey("When loading config with a YAML file and env", func() {
			path := writeConfigFile(t, `
addr: ":9090"
batch_size: 500
background_import_timeout: 10m
map_width: 1200
realms:
  - alpha
  - beta
`)
			_ = os.Setenv("REALMHIST_CONFIG", path)
			_ = os.Setenv("REALMHIST_MAP_WIDTH", "800")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env wins over file and file wins over defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.BatchSize, convey.ShouldEqual, 500)
				convey.So(cfg.BackgroundImportTimeout, convey.ShouldEqual, 10*time.Minute)
				convey.So(cfg.MapWidth, convey.ShouldEqual, 800)
				convey.So(cfg.MapHeight, convey.ShouldEqual, 1000)
				convey.So(cfg.Realms, convey.ShouldResemble, []string{"alpha", "beta"})
			})
		})

		convey.Convey("When loading config with invalid YAML", func() {
			_ = os.Setenv("REALMHIST_CONFIG", writeConfigFile(t, `invalid: yaml: content: [`))

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When loading config with a missing file", func() {
			_ = os.Setenv("REALMHIST_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When loading config with invalid numbers", func() {
			_ = os.Setenv("REALMHIST_BATCH_SIZE", "many")

			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When validation fails", func() {
			cases := map[string]string{
				"REALMHIST_ADDR":            "",
				"REALMHIST_BATCH_SIZE":      "0",
				"REALMHIST_SESSION_DB_PATH": "realmhist.db",
			}
			for key, value := range cases {
				clearConfigEnvVars()
				_ = os.Setenv(key, value)

				cfg, err := config.Load(ctx)

				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			}
		})
	})
}
