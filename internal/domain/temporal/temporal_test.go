package temporal_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/realmhist/internal/domain/changes"
	"github.com/okian/realmhist/internal/domain/importerr"
	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/internal/domain/temporal"
	"github.com/okian/realmhist/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type row struct {
	key    string
	active bool
	to     *time.Time
	value  any
}

// memStore mimics the versioned tables, including the one active row per
// key constraint.
type memStore struct {
	rows      map[model.Kind][]*row
	failAfter int // inserts allowed before failing; negative never fails
	inserts   int
}

func newMemStore() *memStore {
	return &memStore{rows: map[model.Kind][]*row{}, failAfter: -1}
}

func (m *memStore) seed(kind model.Kind, key string, active bool) {
	m.rows[kind] = append(m.rows[kind], &row{key: key, active: active})
}

func (m *memStore) ActiveKeys(_ context.Context, kind model.Kind) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for _, r := range m.rows[kind] {
		if r.active {
			out[r.key] = struct{}{}
		}
	}
	return out, nil
}

func (m *memStore) KnownKeys(_ context.Context, kind model.Kind) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for _, r := range m.rows[kind] {
		out[r.key] = struct{}{}
	}
	return out, nil
}

func (m *memStore) Deactivate(_ context.Context, kind model.Kind, keys []string, at time.Time) (int, error) {
	n := 0
	for _, k := range keys {
		for _, r := range m.rows[kind] {
			if r.key == k && r.active {
				r.active = false
				r.to = &at
				n++
			}
		}
	}
	return n, nil
}

func (m *memStore) insert(kind model.Kind, key string, v any) error {
	if m.failAfter >= 0 && m.inserts >= m.failAfter {
		return errors.New("disk I/O error")
	}
	for _, r := range m.rows[kind] {
		if r.key == key && r.active {
			return fmt.Errorf("UNIQUE constraint failed: %s", key)
		}
	}
	m.inserts++
	m.rows[kind] = append(m.rows[kind], &row{key: key, active: true, value: v})
	return nil
}

func (m *memStore) InsertTiles(_ context.Context, tiles []model.Tile) error {
	for _, t := range tiles {
		if err := m.insert(model.KindTile, t.Key(), t); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) InsertPlayers(_ context.Context, players []model.Player) error {
	for _, p := range players {
		if err := m.insert(model.KindPlayer, p.Key(), p); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) InsertAlliances(_ context.Context, alliances []model.Alliance) error {
	for _, a := range alliances {
		if err := m.insert(model.KindAlliance, a.Key(), a); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) active(kind model.Kind) int {
	n := 0
	for _, r := range m.rows[kind] {
		if r.active {
			n++
		}
	}
	return n
}

var req = temporal.Request{
	RealmID:    "r1",
	SessionID:  "s1",
	ImportDate: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
}

func newApplier(opts ...temporal.Option) *temporal.Applier {
	return temporal.New(append([]temporal.Option{temporal.WithLogger(logger.Nop())}, opts...)...)
}

func TestApplyChangeKinds(t *testing.T) {
	Convey("Given active players P1 and P2 and a change set", t, func() {
		st := newMemStore()
		st.seed(model.KindPlayer, "P1", true)
		st.seed(model.KindPlayer, "P2", true)

		set := changes.Set[model.Player]{
			Added:    []model.Player{{PlayerID: "P3"}},
			Modified: []changes.Pair[model.Player]{{Old: model.Player{PlayerID: "P1"}, New: model.Player{PlayerID: "P1", Might: 5}}},
			Removed:  []model.Player{{PlayerID: "P2"}},
		}

		var calls [][2]int
		res, err := newApplier().ApplyPlayers(context.Background(), st, req, set, func(done, total int) {
			calls = append(calls, [2]int{done, total})
		})

		Convey("Then old versions close and new versions open", func() {
			So(err, ShouldBeNil)
			So(res.Cancelled, ShouldBeFalse)
			So(res.Deactivated, ShouldEqual, 2)
			So(res.Inserted, ShouldEqual, 2)
			So(st.active(model.KindPlayer), ShouldEqual, 2)
			So(*st.rows[model.KindPlayer][1].to, ShouldEqual, req.ImportDate)
		})

		Convey("Then inserted rows carry the import version", func() {
			p := st.rows[model.KindPlayer][2].value.(model.Player)
			So(p.PlayerID, ShouldEqual, "P3")
			So(p.IsActive, ShouldBeTrue)
			So(p.ValidFrom, ShouldEqual, req.ImportDate)
			So(p.ValidTo, ShouldBeNil)
			So(p.SessionID, ShouldEqual, "s1")
			So(p.RealmID, ShouldEqual, "r1")
		})

		Convey("Then progress reaches the total", func() {
			So(calls[len(calls)-1], ShouldResemble, [2]int{4, 4})
		})
	})

	Convey("Given an empty change set", t, func() {
		var last [2]int
		res, err := newApplier().ApplyAlliances(context.Background(), newMemStore(), req, changes.Set[model.Alliance]{},
			func(done, total int) { last = [2]int{done, total} })

		So(err, ShouldBeNil)
		So(res.Inserted+res.Deactivated, ShouldEqual, 0)
		So(last, ShouldResemble, [2]int{0, 0})
	})
}

func TestSafetyNets(t *testing.T) {
	Convey("Given staged inserts with a duplicate key", t, func() {
		st := newMemStore()
		set := changes.Set[model.Alliance]{Added: []model.Alliance{
			{AllianceID: "A1", Name: "first"}, {AllianceID: "A1", Name: "second"},
		}}

		res, err := newApplier().ApplyAlliances(context.Background(), st, req, set, nil)

		Convey("Then only the first is written", func() {
			So(err, ShouldBeNil)
			So(res.DroppedDuplicates, ShouldEqual, 1)
			So(res.Inserted, ShouldEqual, 1)
			So(st.rows[model.KindAlliance][0].value.(model.Alliance).Name, ShouldEqual, "first")
		})
	})

	Convey("Given an added key that is already active", t, func() {
		st := newMemStore()
		st.seed(model.KindTile, "1:1", true)
		st.seed(model.KindTile, "2:2", true)
		set := changes.Set[model.Tile]{
			Added:    []model.Tile{{X: 1, Y: 1}},
			Modified: []changes.Pair[model.Tile]{{Old: model.Tile{X: 2, Y: 2}, New: model.Tile{X: 2, Y: 2, Level: 3}}},
		}

		res, err := newApplier().ApplyTiles(context.Background(), st, req, set, nil)

		Convey("Then it is dropped while the modified key is replaced", func() {
			So(err, ShouldBeNil)
			So(res.DroppedActive, ShouldEqual, 1)
			So(res.Inserted, ShouldEqual, 1)
			So(st.active(model.KindTile), ShouldEqual, 2)
		})
	})

	Convey("Given tiles referencing players and alliances", t, func() {
		st := newMemStore()
		st.seed(model.KindPlayer, "P1", true)
		st.seed(model.KindPlayer, "P-old", false)
		st.seed(model.KindAlliance, "A1", true)
		set := changes.Set[model.Tile]{Added: []model.Tile{
			{X: 1, Y: 1, PlayerID: "P1", AllianceID: "A1"},
			{X: 1, Y: 2, PlayerID: "P-old"},
			{X: 1, Y: 3},
			{X: 1, Y: 4, PlayerID: "ghost"},
			{X: 1, Y: 5, PlayerID: "P1", AllianceID: "A-ghost"},
		}}

		res, err := newApplier().ApplyTiles(context.Background(), st, req, set, nil)

		Convey("Then only tiles with unresolvable references are dropped", func() {
			So(err, ShouldBeNil)
			So(res.DroppedUnresolved, ShouldEqual, 2)
			So(res.Inserted, ShouldEqual, 3)
			So(res.Dropped(), ShouldEqual, 2)
		})
	})
}

func TestBatchingAndFailures(t *testing.T) {
	Convey("Given a large change set and a small batch size", t, func() {
		st := newMemStore()
		var added []model.Tile
		for i := 0; i < 5; i++ {
			added = append(added, model.Tile{X: i, Y: 0})
		}
		set := changes.Set[model.Tile]{Added: added}
		a := newApplier(temporal.WithBatchSize(2))

		Convey("When the context is cancelled after the first batch", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			res, err := a.ApplyTiles(ctx, st, req, set, func(done, _ int) {
				if done >= 2 {
					cancel()
				}
			})

			Convey("Then a cancelled result is returned instead of an error", func() {
				So(err, ShouldBeNil)
				So(res.Cancelled, ShouldBeTrue)
				So(res.Inserted, ShouldEqual, 2)
			})
		})

		Convey("When a write fails in the last batch", func() {
			st.failAfter = 4
			res, err := a.ApplyTiles(context.Background(), st, req, set, nil)

			Convey("Then the failure propagates as a database update error", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, importerr.ErrDatabaseUpdate), ShouldBeTrue)
				So(res.Cancelled, ShouldBeFalse)
				So(res.Inserted, ShouldEqual, 4)
			})
		})
	})
}
