// Package model contains domain models passed between layers.
package model

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// Kind names one of the versioned entity families.
type Kind string

const (
	KindAlliance Kind = "alliance"
	KindPlayer   Kind = "player"
	KindTile     Kind = "tile"
)

// Kinds lists the versioned kinds in import phase order.
var Kinds = []Kind{KindAlliance, KindPlayer, KindTile}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindAlliance || k == KindPlayer || k == KindTile
}

// TileTypeCity marks the tile holding a player's city.
const TileTypeCity = "City"

// Coord is a map coordinate.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Key renders the coordinate as a tile natural key, e.g. "5:7".
func (c Coord) Key() string {
	return TileKey(c.X, c.Y)
}

// TileKey builds the natural key of the tile at (x, y).
func TileKey(x, y int) string {
	return strconv.Itoa(x) + ":" + strconv.Itoa(y)
}

// Version carries the temporal bookkeeping shared by every versioned row.
// It never takes part in business equality.
type Version struct {
	RealmID   string     `json:"realm_id"`
	IsActive  bool       `json:"is_active"`
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	SessionID string     `json:"import_session_id,omitempty"`
}

// ValidAt reports whether the version was valid at instant at.
func (v Version) ValidAt(at time.Time) bool {
	if v.ValidFrom.After(at) {
		return false
	}
	return v.ValidTo == nil || v.ValidTo.After(at)
}

// Tile is one map cell. PlayerID and AllianceID are soft references; empty
// means unowned.
type Tile struct {
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Type       string `json:"type"`
	Level      int    `json:"level"`
	Name       string `json:"name"`
	PlayerID   string `json:"player_id,omitempty"`
	AllianceID string `json:"alliance_id,omitempty"`
	Version
}

// Key returns the tile natural key.
func (t Tile) Key() string { return TileKey(t.X, t.Y) }

// Coord returns the tile position.
func (t Tile) Coord() Coord { return Coord{X: t.X, Y: t.Y} }

// IsCity reports whether the tile is a city tile.
func (t Tile) IsCity() bool { return strings.EqualFold(t.Type, TileTypeCity) }

// Owned reports whether the tile references a player.
func (t Tile) Owned() bool { return t.PlayerID != "" }

// Equal compares business fields only.
func (t Tile) Equal(o Tile) bool {
	return t.X == o.X &&
		t.Y == o.Y &&
		t.Type == o.Type &&
		t.Level == o.Level &&
		t.Name == o.Name &&
		t.PlayerID == o.PlayerID &&
		t.AllianceID == o.AllianceID
}

// Player is a game account. City and WildernessCount are derived from the
// tiles the player owns in the same snapshot.
type Player struct {
	PlayerID        string `json:"player_id"`
	Name            string `json:"name"`
	AllianceID      string `json:"alliance_id,omitempty"`
	Might           int64  `json:"might"`
	Kills           int64  `json:"kills"`
	City            *Coord `json:"city,omitempty"`
	WildernessCount int    `json:"wilderness_count"`
	Version
}

// Key returns the player natural key.
func (p Player) Key() string { return p.PlayerID }

// Equal compares the player's own business fields. Tile derived attributes
// are compared by the tile aware detector.
func (p Player) Equal(o Player) bool {
	return p.PlayerID == o.PlayerID &&
		p.Name == o.Name &&
		p.AllianceID == o.AllianceID &&
		p.Might == o.Might &&
		p.Kills == o.Kills
}

// Alliance merges alliance records and alliance base records.
type Alliance struct {
	AllianceID  string `json:"alliance_id"`
	Name        string `json:"name"`
	Tag         string `json:"tag"`
	Power       int64  `json:"power"`
	MemberCount int    `json:"member_count"`
	Base        *Coord `json:"base,omitempty"`
	BaseLevel   int    `json:"base_level"`
	Version
}

// Key returns the alliance natural key.
func (a Alliance) Key() string { return a.AllianceID }

// Equal compares business fields only.
func (a Alliance) Equal(o Alliance) bool {
	return a.AllianceID == o.AllianceID &&
		a.Name == o.Name &&
		a.Tag == o.Tag &&
		a.Power == o.Power &&
		a.MemberCount == o.MemberCount &&
		sameCoord(a.Base, o.Base) &&
		a.BaseLevel == o.BaseLevel
}

func sameCoord(a, b *Coord) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// SortTiles orders tiles by key for stable output.
func SortTiles(tiles []Tile) {
	slices.SortFunc(tiles, func(a, b Tile) int {
		if a.X != b.X {
			return a.X - b.X
		}
		return a.Y - b.Y
	})
}
