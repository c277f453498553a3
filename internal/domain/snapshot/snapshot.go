// Package snapshot decodes world snapshot exports into domain entities.
//
// Exports come from a third party producer and are loose about types and
// text encodings: identifiers may be numbers or strings, names may be
// encoded in a legacy single byte code page. The parser normalizes both.
package snapshot

import (
	"github.com/okian/realmhist/internal/domain/model"
)

// Encodings tried, in order, when the payload is not valid UTF-8.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
	EncodingLatin1      = "iso-8859-1"
	EncodingUTF8Replace = "utf-8-replacement"
)

// Snapshot is a decoded and field-validated export.
type Snapshot struct {
	Tiles         []model.Tile
	Players       []model.Player
	Alliances     []model.Alliance
	AllianceBases []AllianceBase

	// Encoding names the text encoding the payload was read with.
	Encoding string
	// Size is the payload length in bytes.
	Size int
}

// AllianceBase is the alliance base record of an export. It carries an
// alliance id and may overlap with the alliance records.
type AllianceBase struct {
	AllianceID string
	Name       string
	X          int
	Y          int
	Level      int
}

// Records returns the number of records across all lists.
func (s *Snapshot) Records() int {
	if s == nil {
		return 0
	}
	return len(s.Tiles) + len(s.Players) + len(s.Alliances) + len(s.AllianceBases)
}

// document mirrors the export layout.
type document struct {
	Tiles         []tileRecord         `json:"tiles" validate:"dive"`
	Players       []playerRecord       `json:"players" validate:"dive"`
	Alliances     []allianceRecord     `json:"alliances" validate:"dive"`
	AllianceBases []allianceBaseRecord `json:"allianceBases" validate:"dive"`
}

type tileRecord struct {
	X          FlexInt    `json:"x" validate:"min=0,mapx"`
	Y          FlexInt    `json:"y" validate:"min=0,mapy"`
	Type       FlexString `json:"type" validate:"namelen"`
	Level      FlexInt    `json:"level" validate:"min=0"`
	Name       FlexString `json:"name" validate:"namelen"`
	PlayerID   FlexString `json:"playerId" validate:"namelen"`
	AllianceID FlexString `json:"allianceId" validate:"namelen"`
}

type playerRecord struct {
	PlayerID   FlexString `json:"playerId" validate:"required,namelen"`
	Name       FlexString `json:"name" validate:"namelen"`
	Might      FlexInt    `json:"might" validate:"min=0"`
	Kills      FlexInt    `json:"kills" validate:"min=0"`
	AllianceID FlexString `json:"allianceId" validate:"namelen"`
}

type allianceRecord struct {
	AllianceID  FlexString `json:"allianceId" validate:"required,namelen"`
	Name        FlexString `json:"name" validate:"namelen"`
	Tag         FlexString `json:"tag" validate:"namelen"`
	Power       FlexInt    `json:"power" validate:"min=0"`
	MemberCount FlexInt    `json:"memberCount" validate:"min=0"`
}

type allianceBaseRecord struct {
	AllianceID FlexString `json:"allianceId" validate:"required,namelen"`
	Name       FlexString `json:"name" validate:"namelen"`
	X          FlexInt    `json:"x" validate:"min=0,mapx"`
	Y          FlexInt    `json:"y" validate:"min=0,mapy"`
	Level      FlexInt    `json:"level" validate:"min=0"`
}

func (d *document) toSnapshot() *Snapshot {
	s := &Snapshot{
		Tiles:         make([]model.Tile, 0, len(d.Tiles)),
		Players:       make([]model.Player, 0, len(d.Players)),
		Alliances:     make([]model.Alliance, 0, len(d.Alliances)),
		AllianceBases: make([]AllianceBase, 0, len(d.AllianceBases)),
	}
	for _, r := range d.Tiles {
		s.Tiles = append(s.Tiles, model.Tile{
			X:          int(r.X),
			Y:          int(r.Y),
			Type:       r.Type.String(),
			Level:      int(r.Level),
			Name:       r.Name.String(),
			PlayerID:   r.PlayerID.String(),
			AllianceID: r.AllianceID.String(),
		})
	}
	for _, r := range d.Players {
		s.Players = append(s.Players, model.Player{
			PlayerID:   r.PlayerID.String(),
			Name:       r.Name.String(),
			Might:      int64(r.Might),
			Kills:      int64(r.Kills),
			AllianceID: r.AllianceID.String(),
		})
	}
	for _, r := range d.Alliances {
		s.Alliances = append(s.Alliances, model.Alliance{
			AllianceID:  r.AllianceID.String(),
			Name:        r.Name.String(),
			Tag:         r.Tag.String(),
			Power:       int64(r.Power),
			MemberCount: int(r.MemberCount),
		})
	}
	for _, r := range d.AllianceBases {
		s.AllianceBases = append(s.AllianceBases, AllianceBase{
			AllianceID: r.AllianceID.String(),
			Name:       r.Name.String(),
			X:          int(r.X),
			Y:          int(r.Y),
			Level:      int(r.Level),
		})
	}
	return s
}
