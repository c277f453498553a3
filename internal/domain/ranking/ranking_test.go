package ranking_test

import (
	"testing"

	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/internal/domain/ranking"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPlayers(t *testing.T) {
	Convey("Given players with tied might", t, func() {
		players := []model.Player{
			{PlayerID: "p3", Name: "c", Might: 500},
			{PlayerID: "p1", Name: "a", Might: 900, AllianceID: "A1"},
			{PlayerID: "p2", Name: "b", Might: 900},
			{PlayerID: "p4", Name: "d", Might: 100},
		}

		Convey("When they are ranked", func() {
			got := ranking.Players(players)

			Convey("Then ties share a rank and ids break the order", func() {
				So(got, ShouldHaveLength, 4)
				So(got[0], ShouldResemble, ranking.Entry{Rank: 1, ID: "p1", Name: "a", Score: 900, AllianceID: "A1"})
				So(got[1].ID, ShouldEqual, "p2")
				So(got[1].Rank, ShouldEqual, 1)
				So(got[2].ID, ShouldEqual, "p3")
				So(got[2].Rank, ShouldEqual, 2)
				So(got[3].Rank, ShouldEqual, 3)
			})

			Convey("Then the input is left untouched", func() {
				So(players[0].PlayerID, ShouldEqual, "p3")
			})

			Convey("Then Top and Find read the ranking", func() {
				top, err := ranking.Top(got, 2)
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 2)

				all, err := ranking.Top(got, 10)
				So(err, ShouldBeNil)
				So(all, ShouldHaveLength, 4)

				_, err = ranking.Top(got, 0)
				So(err, ShouldEqual, ranking.ErrInvalidLimit)

				e, err := ranking.Find(got, "p4")
				So(err, ShouldBeNil)
				So(e.Rank, ShouldEqual, 3)

				_, err = ranking.Find(got, "nobody")
				So(err, ShouldEqual, ranking.ErrNotFound)
			})
		})
	})

	Convey("Given no players", t, func() {
		So(ranking.Players(nil), ShouldBeEmpty)
	})
}

func TestAlliances(t *testing.T) {
	Convey("Given alliances", t, func() {
		got := ranking.Alliances([]model.Alliance{
			{AllianceID: "B", Name: "Beta", Power: 10},
			{AllianceID: "A", Name: "Alpha", Power: 30},
		})

		Convey("Then they are ordered by power", func() {
			So(got[0].ID, ShouldEqual, "A")
			So(got[0].Rank, ShouldEqual, 1)
			So(got[1].Rank, ShouldEqual, 2)
			So(got[1].AllianceID, ShouldBeEmpty)
		})
	})
}
