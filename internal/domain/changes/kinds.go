package changes

import (
	"slices"

	"github.com/okian/realmhist/internal/domain/model"
)

// Tiles diffs tiles by coordinate.
func Tiles(incoming, current []model.Tile) Set[model.Tile] {
	return Detect(incoming, current, model.Tile.Key, model.Tile.Equal)
}

// Alliances diffs alliances by id.
func Alliances(incoming, current []model.Alliance) Set[model.Alliance] {
	return Detect(incoming, current, model.Alliance.Key, model.Alliance.Equal)
}

// Players diffs players by id on their own fields only.
func Players(incoming, current []model.Player) Set[model.Player] {
	return Detect(incoming, current, model.Player.Key, model.Player.Equal)
}

// PlayersWithTiles diffs players and additionally treats a moved city or a
// changed set of wilderness tiles as a modification, even when the player
// record itself is unchanged. Tile ownership is looked up through per-player
// indexes of the incoming and the active tiles.
func PlayersWithTiles(incoming, current []model.Player, incomingTiles, currentTiles []model.Tile) Set[model.Player] {
	next := IndexTiles(incomingTiles)
	prev := IndexTiles(currentTiles)
	return Detect(incoming, current, model.Player.Key, func(old, in model.Player) bool {
		if !old.Equal(in) {
			return false
		}
		return prev.SameHoldings(next, old.PlayerID)
	})
}

// TileIndex groups tiles by owning player. Unowned tiles are not indexed.
type TileIndex map[string][]model.Tile

// IndexTiles builds a TileIndex, keeping tile order per player.
func IndexTiles(tiles []model.Tile) TileIndex {
	ix := make(TileIndex)
	for _, t := range tiles {
		if !t.Owned() {
			continue
		}
		ix[t.PlayerID] = append(ix[t.PlayerID], t)
	}
	return ix
}

// City returns the coordinate of the player's first city tile.
func (ix TileIndex) City(playerID string) (model.Coord, bool) {
	for _, t := range ix[playerID] {
		if t.IsCity() {
			return t.Coord(), true
		}
	}
	return model.Coord{}, false
}

// Wilderness returns the sorted keys of the player's non-city tiles.
func (ix TileIndex) Wilderness(playerID string) []string {
	var out []string
	for _, t := range ix[playerID] {
		if !t.IsCity() {
			out = append(out, t.Key())
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// SameHoldings reports whether the player has the same city and wilderness
// in both indexes.
func (ix TileIndex) SameHoldings(other TileIndex, playerID string) bool {
	c1, ok1 := ix.City(playerID)
	c2, ok2 := other.City(playerID)
	if ok1 != ok2 || c1 != c2 {
		return false
	}
	return slices.Equal(ix.Wilderness(playerID), other.Wilderness(playerID))
}
