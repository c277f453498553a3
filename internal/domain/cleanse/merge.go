package cleanse

import (
	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/internal/domain/snapshot"
)

// mergeAlliances folds base records into alliance records. Alliance records
// keep their fields; a base adds its coordinate and level, and a base whose
// alliance has no record creates one.
func mergeAlliances(records []model.Alliance, bases []snapshot.AllianceBase) []model.Alliance {
	out := make([]model.Alliance, len(records), len(records)+len(bases))
	copy(out, records)
	index := make(map[string]int, len(out))
	for i, a := range out {
		index[a.AllianceID] = i
	}
	for _, b := range bases {
		base := &model.Coord{X: b.X, Y: b.Y}
		if i, ok := index[b.AllianceID]; ok {
			out[i].Base = base
			out[i].BaseLevel = b.Level
			if out[i].Name == "" {
				out[i].Name = b.Name
			}
			continue
		}
		index[b.AllianceID] = len(out)
		out = append(out, model.Alliance{
			AllianceID: b.AllianceID,
			Name:       b.Name,
			Base:       base,
			BaseLevel:  b.Level,
		})
	}
	return out
}

// derivePlayers fills the tile derived player attributes from the incoming
// tiles: the city coordinate, the wilderness count and the alliance, which
// is taken from the city tile when it names one. It returns the number of
// players owning more than one city tile.
func derivePlayers(players []model.Player, tiles []model.Tile) ([]model.Player, int) {
	type owned struct {
		city       *model.Tile
		cities     int
		wilderness int
	}
	byPlayer := make(map[string]*owned, len(players))
	for i := range tiles {
		t := &tiles[i]
		if !t.Owned() {
			continue
		}
		o := byPlayer[t.PlayerID]
		if o == nil {
			o = &owned{}
			byPlayer[t.PlayerID] = o
		}
		if !t.IsCity() {
			o.wilderness++
			continue
		}
		o.cities++
		if o.city == nil {
			o.city = t
		}
	}

	multi := 0
	out := make([]model.Player, len(players))
	for i, p := range players {
		if o := byPlayer[p.PlayerID]; o != nil {
			p.WildernessCount = o.wilderness
			if o.city != nil {
				c := o.city.Coord()
				p.City = &c
				if o.city.AllianceID != "" {
					p.AllianceID = o.city.AllianceID
				}
			}
			if o.cities > 1 {
				multi++
			}
		}
		out[i] = p
	}
	return out, multi
}
