package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/realmhist/internal/adapters/repository"
	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var (
	day1 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
	day3 = day1.AddDate(0, 0, 2)
)

func openStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	s, err := repository.Open(context.Background(), filepath.Join(t.TempDir(), "world.db"),
		repository.WithLogger(logger.Nop()), repository.WithChunkSize(2))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func tile(realm string, x, y int, owner string, from time.Time) model.Tile {
	return model.Tile{
		X: x, Y: y, Type: "Plain", PlayerID: owner,
		Version: model.Version{RealmID: realm, IsActive: true, ValidFrom: from, SessionID: "s-" + from.Format("0102")},
	}
}

func commitTiles(t *testing.T, s *repository.SQLiteStore, realm string, deactivate []string, at time.Time, tiles ...model.Tile) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx, realm)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Deactivate(ctx, model.KindTile, deactivate, at); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := tx.InsertTiles(ctx, tiles); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestRealms(t *testing.T) {
	Convey("Given a fresh world store", t, func() {
		s := openStore(t)
		ctx := context.Background()

		Convey("When creating realms", func() {
			r, err := s.CreateRealm(ctx, "eu-1", "Europe 1")
			So(err, ShouldBeNil)
			So(r.Name, ShouldEqual, "Europe 1")
			So(s.EnsureRealm(ctx, "us-1"), ShouldBeNil)
			So(s.EnsureRealm(ctx, "us-1"), ShouldBeNil)

			Convey("Then they can be read back", func() {
				got, err := s.GetRealm(ctx, "eu-1")
				So(err, ShouldBeNil)
				So(got.ID, ShouldEqual, "eu-1")

				all, err := s.ListRealms(ctx)
				So(err, ShouldBeNil)
				So(len(all), ShouldEqual, 2)
			})

			Convey("Then duplicates and unknown ids are reported", func() {
				_, err := s.CreateRealm(ctx, "eu-1", "")
				So(errors.Is(err, repository.ErrAlreadyExists), ShouldBeTrue)

				_, err = s.GetRealm(ctx, "nowhere")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestVersionedWrites(t *testing.T) {
	Convey("Given a realm with two imports of tile (1,1)", t, func() {
		s := openStore(t)
		ctx := context.Background()
		So(s.EnsureRealm(ctx, "r1"), ShouldBeNil)

		commitTiles(t, s, "r1", nil, day1, tile("r1", 1, 1, "P1", day1), tile("r1", 2, 2, "", day1))
		commitTiles(t, s, "r1", []string{"1:1"}, day2, tile("r1", 1, 1, "P2", day2))

		Convey("Then only the newest version is active", func() {
			cur, err := s.CurrentTiles(ctx, "r1")
			So(err, ShouldBeNil)
			So(len(cur), ShouldEqual, 2)
			So(cur[0].PlayerID, ShouldEqual, "P2")
			So(cur[0].ValidFrom, ShouldEqual, day2)
			So(cur[0].ValidTo, ShouldBeNil)

			n, err := s.CountActive(ctx, model.KindTile, "r1")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)
		})

		Convey("Then history is ordered and gapless", func() {
			h, err := s.TileHistory(ctx, "r1", "1:1")
			So(err, ShouldBeNil)
			So(len(h), ShouldEqual, 2)
			So(h[0].IsActive, ShouldBeFalse)
			So(*h[0].ValidTo, ShouldEqual, h[1].ValidFrom)
			So(h[1].IsActive, ShouldBeTrue)
		})

		Convey("Then as-of queries reconstruct each day", func() {
			past, err := s.TilesAsOf(ctx, "r1", day1)
			So(err, ShouldBeNil)
			So(len(past), ShouldEqual, 2)
			So(past[0].PlayerID, ShouldEqual, "P1")

			now, err := s.TilesAsOf(ctx, "r1", day3)
			So(err, ShouldBeNil)
			So(now[0].PlayerID, ShouldEqual, "P2")

			before, err := s.TilesAsOf(ctx, "r1", day1.Add(-time.Hour))
			So(err, ShouldBeNil)
			So(before, ShouldBeEmpty)
		})

		Convey("Then keys are scoped to the realm", func() {
			So(s.EnsureRealm(ctx, "r2"), ShouldBeNil)
			commitTiles(t, s, "r2", nil, day1, tile("r2", 1, 1, "X", day1))

			r1, _ := s.CurrentTiles(ctx, "r1")
			r2, _ := s.CurrentTiles(ctx, "r2")
			So(len(r1), ShouldEqual, 2)
			So(len(r2), ShouldEqual, 1)
			So(r2[0].PlayerID, ShouldEqual, "X")
		})

		Convey("Then a second active row for a key is rejected by the store", func() {
			tx, err := s.Begin(ctx, "r1")
			So(err, ShouldBeNil)
			err = tx.InsertTiles(ctx, []model.Tile{tile("r1", 2, 2, "P9", day3)})
			So(err, ShouldNotBeNil)
			So(tx.Rollback(), ShouldBeNil)
		})
	})
}

func TestTxKeysAndRollback(t *testing.T) {
	Convey("Given an open import transaction", t, func() {
		s := openStore(t)
		ctx := context.Background()
		So(s.EnsureRealm(ctx, "r1"), ShouldBeNil)
		commitTiles(t, s, "r1", nil, day1, tile("r1", 1, 1, "", day1), tile("r1", 1, 2, "", day1))

		tx, err := s.Begin(ctx, "r1")
		So(err, ShouldBeNil)

		n, err := tx.Deactivate(ctx, model.KindTile, []string{"1:1", "1:2", "9:9"}, day2)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 2)

		Convey("Then active and known keys differ inside the transaction", func() {
			active, err := tx.ActiveKeys(ctx, model.KindTile)
			So(err, ShouldBeNil)
			So(active, ShouldBeEmpty)

			known, err := tx.KnownKeys(ctx, model.KindTile)
			So(err, ShouldBeNil)
			So(len(known), ShouldEqual, 2)

			_, err = tx.ActiveKeys(ctx, model.Kind("castle"))
			So(errors.Is(err, repository.ErrInvalidKind), ShouldBeTrue)
			So(tx.Rollback(), ShouldBeNil)
		})

		Convey("Then rolling back leaves readers on the previous state", func() {
			So(tx.InsertTiles(ctx, []model.Tile{tile("r1", 5, 5, "P1", day2)}), ShouldBeNil)
			So(tx.Rollback(), ShouldBeNil)
			So(tx.Rollback(), ShouldBeNil)

			cur, err := s.CurrentTiles(ctx, "r1")
			So(err, ShouldBeNil)
			So(len(cur), ShouldEqual, 2)
		})

		Convey("Then rows for another realm are refused", func() {
			err := tx.InsertTiles(ctx, []model.Tile{tile("r2", 5, 5, "", day2)})
			So(errors.Is(err, repository.ErrRealmMismatch), ShouldBeTrue)
			So(tx.Rollback(), ShouldBeNil)
		})
	})
}

func TestPlayersAndAlliancesRoundTrip(t *testing.T) {
	Convey("Given players and alliances with optional coordinates", t, func() {
		s := openStore(t)
		ctx := context.Background()
		So(s.EnsureRealm(ctx, "r1"), ShouldBeNil)
		v := model.Version{RealmID: "r1", IsActive: true, ValidFrom: day1, SessionID: "s1"}

		tx, err := s.Begin(ctx, "r1")
		So(err, ShouldBeNil)
		So(tx.InsertAlliances(ctx, []model.Alliance{
			{AllianceID: "A1", Name: "North", Tag: "NO", Power: 10, Base: &model.Coord{X: 3, Y: 4}, BaseLevel: 2, Version: v},
			{AllianceID: "A2", Version: v},
		}), ShouldBeNil)
		So(tx.InsertPlayers(ctx, []model.Player{
			{PlayerID: "P1", Name: "Ann", AllianceID: "A1", Might: 1000, City: &model.Coord{X: 5, Y: 5}, WildernessCount: 2, Version: v},
			{PlayerID: "P2", Version: v},
		}), ShouldBeNil)
		So(tx.Commit(), ShouldBeNil)

		Convey("Then every field survives the round trip", func() {
			alliances, err := s.CurrentAlliances(ctx, "r1")
			So(err, ShouldBeNil)
			So(alliances[0].Equal(model.Alliance{AllianceID: "A1", Name: "North", Tag: "NO", Power: 10, Base: &model.Coord{X: 3, Y: 4}, BaseLevel: 2}), ShouldBeTrue)
			So(alliances[1].Base, ShouldBeNil)

			players, err := s.PlayersAsOf(ctx, "r1", day2)
			So(err, ShouldBeNil)
			So(*players[0].City, ShouldResemble, model.Coord{X: 5, Y: 5})
			So(players[0].SessionID, ShouldEqual, "s1")
			So(players[1].City, ShouldBeNil)

			h, err := s.PlayerHistory(ctx, "r1", "P1")
			So(err, ShouldBeNil)
			So(len(h), ShouldEqual, 1)

			ah, err := s.AllianceHistory(ctx, "r1", "A1")
			So(err, ShouldBeNil)
			So(len(ah), ShouldEqual, 1)

			past, err := s.AlliancesAsOf(ctx, "r1", day1.Add(-time.Millisecond))
			So(err, ShouldBeNil)
			So(past, ShouldBeEmpty)
		})
	})
}
