package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/realmhist/internal/adapters/repository"
	service "github.com/okian/realmhist/internal/app"
	"github.com/okian/realmhist/internal/domain/ingest"
	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/internal/domain/ranking"
	"github.com/okian/realmhist/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

const realm = "eu-1"

var day1 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

const snapshot = `{
	"alliances": [{"allianceId": "A1", "name": "Alpha", "tag": "ALP"}],
	"players": [
		{"playerId": "P1", "name": "Rook", "might": 1000},
		{"playerId": "P2", "name": "Kite", "might": 500}
	],
	"tiles": [
		{"x": 1, "y": 1, "type": "Plain", "level": 1, "playerId": "P1", "allianceId": "A1"},
		{"x": 2, "y": 2, "type": "City", "level": 3, "playerId": "P2"},
		{"x": 5, "y": 5, "type": "City", "level": 5, "playerId": "P1", "allianceId": "A1"}
	]
}`

type stores struct {
	world    *repository.SQLiteStore
	sessions *repository.SessionStore
}

func openStores(t *testing.T) stores {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	w, err := repository.Open(ctx, filepath.Join(dir, "world.db"), repository.WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("open world: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	s, err := repository.OpenSessions(ctx, filepath.Join(dir, "sessions.db"), repository.WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("open sessions: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, err := w.CreateRealm(ctx, realm, "Europe 1"); err != nil {
		t.Fatalf("create realm: %v", err)
	}
	return stores{world: w, sessions: s}
}

func newService(st stores, opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithLogger(logger.Nop()),
		service.WithClock(func() time.Time { return day1.Add(9 * time.Hour) }),
	}
	return service.New(st.world, st.sessions, append(base, opts...)...)
}

// waitTerminal polls until the session is final and the gate released.
func waitTerminal(ctx context.Context, svc *service.Service, id string) model.ImportSession {
	deadline := time.Now().Add(10 * time.Second)
	for {
		session, err := svc.ImportStatus(ctx, id)
		active, _ := svc.GetStats()["activeImports"].([]string)
		if err == nil && session.Status.Terminal() && len(active) == 0 {
			return session
		}
		if time.Now().After(deadline) {
			return session
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := newService(openStores(t))
		ctx := context.Background()

		Convey("It reports itself stopped", func() {
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When started", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()

			Convey("Then stats show the running queue", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["queueLength"], ShouldEqual, 0)
				So(stats["queueCapacity"], ShouldEqual, 16)
			})

			Convey("Then starting twice is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})

			Convey("Then stopping marks it stopped", func() {
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})
}

func TestService_StartFailsInterruptedSessions(t *testing.T) {
	Convey("Given a session left processing by a previous process", t, func() {
		st := openStores(t)
		ctx := context.Background()
		So(st.sessions.CreateSession(ctx, model.ImportSession{
			ID:         "stale",
			RealmID:    realm,
			ImportDate: day1,
			Status:     model.StatusProcessing,
		}), ShouldBeNil)

		Convey("When the service starts it is marked failed", func() {
			svc := newService(st)
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()

			session, err := svc.ImportStatus(ctx, "stale")
			So(err, ShouldBeNil)
			So(session.Status, ShouldEqual, model.StatusFailed)
			So(session.ErrorCategory, ShouldEqual, "unknown")
		})
	})
}

func TestService_StartImportValidation(t *testing.T) {
	Convey("Given a started service with a small snapshot cap", t, func() {
		svc := newService(openStores(t), service.WithMaxSnapshotBytes(int64(len(snapshot))))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("Unknown realms are rejected", func() {
			_, err := svc.StartImport(ctx, "nowhere", day1, strings.NewReader(snapshot))
			So(err, ShouldEqual, service.ErrRealmNotFound)
		})

		Convey("Empty bodies are rejected", func() {
			_, err := svc.StartImport(ctx, realm, day1, strings.NewReader("  \n"))
			So(err, ShouldEqual, service.ErrEmptySnapshot)
			_, err = svc.StartImport(ctx, realm, day1, nil)
			So(err, ShouldEqual, service.ErrEmptySnapshot)
		})

		Convey("Non-object bodies are rejected", func() {
			_, err := svc.StartImport(ctx, realm, day1, strings.NewReader(`[1, 2]`))
			So(err, ShouldEqual, service.ErrMalformedSnapshot)
		})

		Convey("Oversized bodies are rejected", func() {
			_, err := svc.StartImport(ctx, realm, day1, strings.NewReader(snapshot+" "))
			So(err, ShouldEqual, service.ErrSnapshotTooLarge)
		})

		Convey("No session is recorded for a rejected request", func() {
			_, _ = svc.StartImport(ctx, realm, day1, strings.NewReader(`[]`))
			history, err := svc.ImportHistory(ctx, realm, 10)
			So(err, ShouldBeNil)
			So(history, ShouldBeEmpty)
		})
	})

	Convey("Given a service that was never started", t, func() {
		svc := newService(openStores(t))

		Convey("Background imports are refused", func() {
			_, err := svc.StartImport(context.Background(), realm, day1, strings.NewReader(snapshot))
			So(err, ShouldEqual, service.ErrNotStarted)
		})
	})
}

func TestService_BackgroundImport(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := newService(openStores(t))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When a snapshot is queued", func() {
			session, err := svc.StartImport(ctx, realm, day1.Add(15*time.Hour), strings.NewReader(snapshot))
			So(err, ShouldBeNil)
			So(session.ID, ShouldNotBeEmpty)
			So(session.Status, ShouldEqual, model.StatusProcessing)
			So(session.ImportDate.Equal(day1), ShouldBeTrue)

			final := waitTerminal(ctx, svc, session.ID)

			Convey("Then it completes with full progress", func() {
				So(final.Status, ShouldEqual, model.StatusCompleted)
				So(final.Progress.OverallPercent, ShouldEqual, 100)
				So(final.FinishedAt, ShouldNotBeNil)
			})

			Convey("Then the world is readable", func() {
				tiles, err := svc.Tiles(ctx, realm, nil)
				So(err, ShouldBeNil)
				So(tiles, ShouldHaveLength, 3)

				dates, err := svc.ImportDates(ctx, realm)
				So(err, ShouldBeNil)
				So(dates, ShouldHaveLength, 1)
				So(dates[0].Equal(day1), ShouldBeTrue)
			})

			Convey("Then cancelling the finished import reports it untracked", func() {
				So(svc.CancelImport(ctx, session.ID), ShouldEqual, ingest.ErrNotTracked)
			})
		})
	})
}

func TestService_SyncImportAndReads(t *testing.T) {
	Convey("Given a world imported synchronously", t, func() {
		svc := newService(openStores(t))
		ctx := context.Background()

		session, err := svc.Import(ctx, realm, day1, strings.NewReader(snapshot))
		So(err, ShouldBeNil)
		So(session.Status, ShouldEqual, model.StatusCompleted)

		Convey("Rankings are dense and ordered by score", func() {
			r, err := svc.Rankings(ctx, realm, nil, 10)
			So(err, ShouldBeNil)
			So(r.Players, ShouldHaveLength, 2)
			So(r.Players[0].ID, ShouldEqual, "P1")
			So(r.Players[0].Rank, ShouldEqual, 1)
			So(r.Players[1].Rank, ShouldEqual, 2)
			So(r.Alliances, ShouldHaveLength, 1)
		})

		Convey("Rankings honour the limit", func() {
			r, err := svc.Rankings(ctx, realm, nil, 1)
			So(err, ShouldBeNil)
			So(r.Players, ShouldHaveLength, 1)

			_, err = svc.Rankings(ctx, realm, nil, 0)
			So(err, ShouldEqual, ranking.ErrInvalidLimit)
		})

		Convey("A single player rank can be looked up", func() {
			e, err := svc.PlayerRank(ctx, realm, "P2", nil)
			So(err, ShouldBeNil)
			So(e.Rank, ShouldEqual, 2)

			_, err = svc.PlayerRank(ctx, realm, "P9", nil)
			So(err, ShouldEqual, ranking.ErrNotFound)
		})

		Convey("Reads before the import see an empty world", func() {
			before := day1.Add(-time.Hour)
			players, err := svc.Players(ctx, realm, &before)
			So(err, ShouldBeNil)
			So(players, ShouldBeEmpty)
		})

		Convey("Entity history lists every version", func() {
			h, err := svc.History(ctx, realm, model.KindTile, model.TileKey(5, 5))
			So(err, ShouldBeNil)
			So(h, ShouldHaveLength, 1)

			_, err = svc.History(ctx, realm, model.Kind("castle"), "x")
			So(errors.Is(err, repository.ErrInvalidKind), ShouldBeTrue)
		})

		Convey("Import history lists the session", func() {
			history, err := svc.ImportHistory(ctx, realm, 5)
			So(err, ShouldBeNil)
			So(history, ShouldHaveLength, 1)
			So(history[0].ID, ShouldEqual, session.ID)
		})
	})
}

func TestService_Lookups(t *testing.T) {
	Convey("Given an empty service", t, func() {
		svc := newService(openStores(t))
		ctx := context.Background()

		Convey("Unknown sessions are not found", func() {
			_, err := svc.ImportStatus(ctx, "missing")
			So(err, ShouldEqual, service.ErrSessionNotFound)
			So(svc.CancelImport(ctx, "missing"), ShouldEqual, service.ErrSessionNotFound)
		})

		Convey("Realms can be created and listed", func() {
			created, err := svc.CreateRealm(ctx, "us-2", "")
			So(err, ShouldBeNil)
			So(created.Name, ShouldEqual, "us-2")

			realms, err := svc.Realms(ctx)
			So(err, ShouldBeNil)
			So(realms, ShouldHaveLength, 2)
		})

		Convey("Reads on unknown realms fail", func() {
			_, err := svc.Tiles(ctx, "nowhere", nil)
			So(err, ShouldEqual, service.ErrRealmNotFound)
			_, err = svc.ImportDates(ctx, "nowhere")
			So(err, ShouldEqual, service.ErrRealmNotFound)
		})
	})
}
