package model_test

import (
	"testing"
	"time"

	model "github.com/okian/realmhist/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestTile(t *testing.T) {
	convey.Convey("Given tiles", t, func() {
		tile := model.Tile{X: 5, Y: 7, Type: "City", Level: 3, PlayerID: "P1"}

		convey.Convey("Then the key is the coordinate", func() {
			convey.So(tile.Key(), convey.ShouldEqual, "5:7")
			convey.So(tile.Coord().Key(), convey.ShouldEqual, "5:7")
			convey.So(tile.IsCity(), convey.ShouldBeTrue)
			convey.So(tile.Owned(), convey.ShouldBeTrue)
		})

		convey.Convey("Then equality ignores temporal fields", func() {
			other := tile
			other.Version = model.Version{RealmID: "r1", IsActive: true, ValidFrom: time.Now()}
			convey.So(tile.Equal(other), convey.ShouldBeTrue)

			other.PlayerID = "P2"
			convey.So(tile.Equal(other), convey.ShouldBeFalse)
		})

		convey.Convey("Then an unowned tile has no owner", func() {
			convey.So(model.Tile{X: 1, Y: 1, Type: "Plain"}.Owned(), convey.ShouldBeFalse)
		})
	})
}

func TestPlayerAndAlliance(t *testing.T) {
	convey.Convey("Given players and alliances", t, func() {
		convey.Convey("Then player equality covers own fields only", func() {
			a := model.Player{PlayerID: "P1", Name: "Ann", Might: 1000}
			b := a
			b.City = &model.Coord{X: 6, Y: 6}
			convey.So(a.Equal(b), convey.ShouldBeTrue)

			b.Might = 1001
			convey.So(a.Equal(b), convey.ShouldBeFalse)
		})

		convey.Convey("Then alliance equality covers the base", func() {
			a := model.Alliance{AllianceID: "A1", Name: "North", Base: &model.Coord{X: 1, Y: 2}}
			b := a
			b.Base = &model.Coord{X: 1, Y: 2}
			convey.So(a.Equal(b), convey.ShouldBeTrue)

			b.Base = nil
			convey.So(a.Equal(b), convey.ShouldBeFalse)
		})
	})
}

func TestVersion(t *testing.T) {
	convey.Convey("Given a closed version", t, func() {
		from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		to := from.AddDate(0, 0, 2)
		v := model.Version{ValidFrom: from, ValidTo: &to}

		convey.So(v.ValidAt(from), convey.ShouldBeTrue)
		convey.So(v.ValidAt(from.AddDate(0, 0, 1)), convey.ShouldBeTrue)
		convey.So(v.ValidAt(to), convey.ShouldBeFalse)
		convey.So(v.ValidAt(from.Add(-time.Second)), convey.ShouldBeFalse)

		convey.Convey("And an open version stays valid", func() {
			open := model.Version{ValidFrom: from}
			convey.So(open.ValidAt(from.AddDate(10, 0, 0)), convey.ShouldBeTrue)
		})
	})
}

func TestStatusAndDay(t *testing.T) {
	convey.Convey("Given session helpers", t, func() {
		convey.So(model.StatusProcessing.Terminal(), convey.ShouldBeFalse)
		convey.So(model.StatusCancelled.Terminal(), convey.ShouldBeTrue)

		loc := time.FixedZone("x", 5*3600)
		day := model.ImportDay(time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC).In(loc))
		convey.So(day, convey.ShouldEqual, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC))
	})
}
