package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/realmhist/internal/config"
	"github.com/okian/realmhist/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New()
	cfg.WorldDBPath = filepath.Join(dir, "world.db")
	cfg.SessionDBPath = filepath.Join(dir, "sessions.db")
	cfg.Realms = []string{"eu-1", "us-2"}
	cfg.MapWidth, cfg.MapHeight = 10, 10
	return cfg
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			_ = os.Setenv("REALMHIST_ADDR", ":8080")
			_ = os.Setenv("REALMHIST_JOB_QUEUE_SIZE", "4")
			defer func() {
				_ = os.Unsetenv("REALMHIST_ADDR")
				_ = os.Unsetenv("REALMHIST_JOB_QUEUE_SIZE")
			}()

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.JobQueueSize, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When testing invalid configuration", func() {
			_ = os.Setenv("REALMHIST_ADDR", " ")
			defer func() { _ = os.Unsetenv("REALMHIST_ADDR") }()

			convey.Convey("Then configuration loading should fail", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func TestMainApplicationIntegration(t *testing.T) {
	convey.Convey("Given an application built from config", t, func() {
		ctx := context.Background()
		a, err := newApplication(ctx, testConfig(t), logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		defer a.close()

		convey.So(a.svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = a.svc.Stop(ctx) }()

		h := a.handler(ctx)
		do := func(method, target, body string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(method, target, strings.NewReader(body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			return w
		}

		convey.Convey("Then configured realms exist", func() {
			w := do(http.MethodGet, "/realms", "")
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"eu-1"`)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"us-2"`)
		})

		convey.Convey("Then docs and health are served", func() {
			convey.So(do(http.MethodGet, "/healthz", "").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(do(http.MethodGet, "/api-docs", "").Code, convey.ShouldEqual, http.StatusOK)
			convey.So(do(http.MethodGet, "/openapi.yaml", "").Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then a sync import round trips through the API", func() {
			body := `{"players":[{"playerId":"P1","name":"Rook","might":10}],
				"tiles":[{"x":3,"y":3,"type":"City","level":1,"playerId":"P1"}]}`
			w := do(http.MethodPost, "/realms/eu-1/imports?mode=sync&date=2024-05-01", body)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"status":"completed"`)

			w = do(http.MethodGet, "/realms/eu-1/players?date=2024-05-01", "")
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"city":{"x":3,"y":3}`)

			w = do(http.MethodGet, "/realms/eu-1/dates", "")
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"2024-05-01"`)
		})

		convey.Convey("Then tiles outside the configured map fail the import", func() {
			body := `{"tiles":[{"x":30,"y":3,"type":"Plain","level":1}]}`
			w := do(http.MethodPost, "/realms/eu-1/imports?mode=sync", body)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"status":"failed"`)
		})
	})

	convey.Convey("Given an unusable database path", t, func() {
		cfg := testConfig(t)
		cfg.WorldDBPath = filepath.Join(t.TempDir(), "missing", "dir", "world.db")

		convey.Convey("Then building the application fails", func() {
			_, err := newApplication(context.Background(), cfg, logger.Nop())
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given main application components", t, func() {
		a, err := newApplication(context.Background(), testConfig(t), logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		defer a.close()

		convey.Convey("When testing service metrics updater", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			convey.So(func() {
				startServiceMetricsUpdater(ctx, a.svc)
			}, convey.ShouldNotPanic)
		})

		convey.Convey("When testing service metrics update", func() {
			convey.So(func() {
				updateServiceMetrics(a.svc)
			}, convey.ShouldNotPanic)
		})
	})
}
