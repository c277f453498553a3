// Package snapgen generates synthetic world snapshots, imports them into a
// running service day by day and verifies the point-in-time reads.
package snapgen

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"
)

// Generation constants.
const (
	tilesPerPlayer  = 4 // city plus up to three wilderness tiles
	maxMight        = 1_000_000
	maxMightGain    = 50_000
	maxCityLevel    = 10
	maxBaseLevel    = 5
	placeAttempts   = 1000
	unallied        = 4 // one in unallied players has no alliance
	unownedPerNPlay = 2 // unowned tiles per this many players
)

var (
	names = []string{"Rook", "Kite", "Vale", "Thorn", "Ash", "Brand", "Cinder", "Dusk", "Ember", "Frost"}
	// representable in windows-1252
	legacyNames = []string{"Zoë", "Björn", "Séverine", "Ærwyn", "Noël", "Façade", "Øystein", "Mañana"}
	tileTypes   = []string{"Plain", "Forest", "Hill", "Lake"}
)

// TileRecord mirrors a tile of the export format.
type TileRecord struct {
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Type       string `json:"type"`
	Level      int    `json:"level"`
	PlayerID   string `json:"playerId,omitempty"`
	AllianceID string `json:"allianceId,omitempty"`
}

// PlayerRecord mirrors a player of the export format.
type PlayerRecord struct {
	PlayerID   string `json:"playerId"`
	Name       string `json:"name"`
	Might      int64  `json:"might"`
	Kills      int64  `json:"kills"`
	AllianceID string `json:"allianceId,omitempty"`
}

// AllianceRecord mirrors an alliance of the export format.
type AllianceRecord struct {
	AllianceID  string `json:"allianceId"`
	Name        string `json:"name"`
	Tag         string `json:"tag"`
	Power       int64  `json:"power"`
	MemberCount int    `json:"memberCount"`
}

// AllianceBaseRecord mirrors an alliance base of the export format.
type AllianceBaseRecord struct {
	AllianceID string `json:"allianceId"`
	Name       string `json:"name"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Level      int    `json:"level"`
}

// World is one snapshot payload.
type World struct {
	Tiles         []TileRecord         `json:"tiles"`
	Players       []PlayerRecord       `json:"players"`
	Alliances     []AllianceRecord     `json:"alliances"`
	AllianceBases []AllianceBaseRecord `json:"allianceBases"`
}

// Expectation is what the service should report for a world.
type Expectation struct {
	Players   int
	Alliances int
	Tiles     int
	TopPlayer string
}

// Generator builds reproducible worlds. It is not safe for concurrent use.
type Generator struct {
	cfg      *Config
	rng      *rand.Rand
	ns       uuid.UUID
	seq      int
	occupied map[[2]int]bool
}

// NewGenerator creates a generator seeded from cfg.Seed.
func NewGenerator(cfg *Config) *Generator {
	seed := uint64(cfg.Seed)
	return &Generator{
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ns:       uuid.NewSHA1(uuid.NameSpaceOID, []byte("snapgen-"+strconv.FormatInt(cfg.Seed, 10))),
		occupied: make(map[[2]int]bool),
	}
}

// id returns a stable identifier; the same seed yields the same ids.
func (g *Generator) id(kind string) string {
	g.seq++
	return uuid.NewSHA1(g.ns, []byte(kind+"-"+strconv.Itoa(g.seq))).String()
}

func (g *Generator) name() string {
	pool := names
	if g.cfg.LegacyEncoding && g.rng.IntN(2) == 0 {
		pool = legacyNames
	}
	return pool[g.rng.IntN(len(pool))] + strconv.Itoa(g.rng.IntN(1000))
}

// place returns a free coordinate.
func (g *Generator) place() (int, int, error) {
	for range placeAttempts {
		x, y := g.rng.IntN(g.cfg.MapSize), g.rng.IntN(g.cfg.MapSize)
		if !g.occupied[[2]int{x, y}] {
			g.occupied[[2]int{x, y}] = true
			return x, y, nil
		}
	}
	return 0, 0, fmt.Errorf("no free tile on a %dx%d map", g.cfg.MapSize, g.cfg.MapSize)
}

// Generate builds the first world.
func (g *Generator) Generate() (World, error) {
	var w World
	for range g.cfg.Alliances {
		a := AllianceRecord{
			AllianceID: g.id("alliance"),
			Name:       g.name(),
			Power:      g.rng.Int64N(maxMight) + 1,
		}
		a.Tag = tag(a.Name)
		x, y, err := g.place()
		if err != nil {
			return World{}, err
		}
		w.Alliances = append(w.Alliances, a)
		w.AllianceBases = append(w.AllianceBases, AllianceBaseRecord{
			AllianceID: a.AllianceID, Name: a.Name, X: x, Y: y, Level: g.rng.IntN(maxBaseLevel) + 1,
		})
	}

	for range g.cfg.Players {
		if err := g.join(&w); err != nil {
			return World{}, err
		}
	}
	for range g.cfg.Players / unownedPerNPlay {
		x, y, err := g.place()
		if err != nil {
			return World{}, err
		}
		w.Tiles = append(w.Tiles, TileRecord{X: x, Y: y, Type: tileTypes[g.rng.IntN(len(tileTypes))], Level: 1})
	}
	countMembers(&w)
	return w, nil
}

// join adds a player with a city and some wilderness.
func (g *Generator) join(w *World) error {
	p := PlayerRecord{
		PlayerID: g.id("player"),
		Name:     g.name(),
		Might:    g.rng.Int64N(maxMight) + 1,
		Kills:    g.rng.Int64N(1000),
	}
	if len(w.Alliances) > 0 && g.rng.IntN(unallied) != 0 {
		p.AllianceID = w.Alliances[g.rng.IntN(len(w.Alliances))].AllianceID
	}
	w.Players = append(w.Players, p)

	x, y, err := g.place()
	if err != nil {
		return err
	}
	w.Tiles = append(w.Tiles, TileRecord{
		X: x, Y: y, Type: "City", Level: g.rng.IntN(maxCityLevel) + 1,
		PlayerID: p.PlayerID, AllianceID: p.AllianceID,
	})
	for range g.rng.IntN(tilesPerPlayer) {
		x, y, err := g.place()
		if err != nil {
			return err
		}
		w.Tiles = append(w.Tiles, TileRecord{
			X: x, Y: y, Type: tileTypes[g.rng.IntN(len(tileTypes))], Level: 1,
			PlayerID: p.PlayerID, AllianceID: p.AllianceID,
		})
	}
	return nil
}

// Mutate returns the next day's world: might changes, city moves, captured
// wilderness, and players joining and leaving.
func (g *Generator) Mutate(prev World) (World, error) {
	w := World{
		Tiles:         slices.Clone(prev.Tiles),
		Players:       slices.Clone(prev.Players),
		Alliances:     slices.Clone(prev.Alliances),
		AllianceBases: slices.Clone(prev.AllianceBases),
	}
	g.occupied = make(map[[2]int]bool, len(w.Tiles)+len(w.AllianceBases))
	for _, t := range w.Tiles {
		g.occupied[[2]int{t.X, t.Y}] = true
	}
	for _, b := range w.AllianceBases {
		g.occupied[[2]int{b.X, b.Y}] = true
	}

	churn := g.cfg.ChurnPercent
	cities := make(map[string]int, len(w.Players))
	for i, t := range w.Tiles {
		if t.Type == "City" && t.PlayerID != "" {
			cities[t.PlayerID] = i
		}
	}
	alliance := make(map[string]string, len(w.Players))
	for i := range w.Players {
		p := &w.Players[i]
		alliance[p.PlayerID] = p.AllianceID
		if g.rng.IntN(100) >= churn {
			continue
		}
		p.Might += g.rng.Int64N(maxMightGain) + 1
		if g.rng.IntN(2) == 0 {
			continue
		}
		// relocate: the old city turns into unowned land
		ci, ok := cities[p.PlayerID]
		if !ok {
			continue
		}
		x, y, err := g.place()
		if err != nil {
			return World{}, err
		}
		old := w.Tiles[ci]
		w.Tiles[ci] = TileRecord{X: old.X, Y: old.Y, Type: "Plain", Level: 1}
		w.Tiles = append(w.Tiles, TileRecord{
			X: x, Y: y, Type: "City", Level: old.Level,
			PlayerID: p.PlayerID, AllianceID: old.AllianceID,
		})
		cities[p.PlayerID] = len(w.Tiles) - 1
	}

	for i := range w.Tiles {
		t := &w.Tiles[i]
		if t.PlayerID != "" || t.Type == "City" || len(w.Players) == 0 || g.rng.IntN(100) >= churn {
			continue
		}
		owner := w.Players[g.rng.IntN(len(w.Players))]
		t.PlayerID, t.AllianceID = owner.PlayerID, alliance[owner.PlayerID]
	}

	moves := len(w.Players) * churn / 200
	for range moves {
		g.leave(&w)
	}
	for range moves {
		if err := g.join(&w); err != nil {
			return World{}, err
		}
	}
	countMembers(&w)
	return w, nil
}

// leave removes a random player; their land stays on the map unowned.
func (g *Generator) leave(w *World) {
	if len(w.Players) < 2 {
		return
	}
	i := g.rng.IntN(len(w.Players))
	gone := w.Players[i].PlayerID
	w.Players = slices.Delete(w.Players, i, i+1)
	for j := range w.Tiles {
		if w.Tiles[j].PlayerID == gone {
			w.Tiles[j] = TileRecord{X: w.Tiles[j].X, Y: w.Tiles[j].Y, Type: "Ruins", Level: 1}
		}
	}
}

// WithDuplicates returns a payload that repeats DuplicatePercent of the
// tiles and players verbatim, and the number of repeated records.
func (g *Generator) WithDuplicates(w World) (World, int) {
	pct := g.cfg.DuplicatePercent
	if pct == 0 {
		return w, 0
	}
	out := World{
		Tiles:         slices.Clone(w.Tiles),
		Players:       slices.Clone(w.Players),
		Alliances:     w.Alliances,
		AllianceBases: w.AllianceBases,
	}
	n := 0
	for _, t := range w.Tiles {
		if g.rng.IntN(100) < pct {
			out.Tiles = append(out.Tiles, t)
			n++
		}
	}
	for _, p := range w.Players {
		if g.rng.IntN(100) < pct {
			out.Players = append(out.Players, p)
			n++
		}
	}
	g.rng.Shuffle(len(out.Tiles), func(i, j int) { out.Tiles[i], out.Tiles[j] = out.Tiles[j], out.Tiles[i] })
	return out, n
}

// Expect derives the counts and leader the service should report.
func Expect(w World) Expectation {
	e := Expectation{Players: len(w.Players), Alliances: len(w.Alliances), Tiles: len(w.Tiles)}
	var best PlayerRecord
	for i, p := range w.Players {
		if i == 0 || p.Might > best.Might || (p.Might == best.Might && p.PlayerID < best.PlayerID) {
			best = p
		}
	}
	e.TopPlayer = best.PlayerID
	return e
}

// Encode renders w as JSON, optionally in windows-1252.
func Encode(w World, legacy bool) ([]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal world: %w", err)
	}
	if !legacy {
		return data, nil
	}
	out, err := charmap.Windows1252.NewEncoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("encode windows-1252: %w", err)
	}
	return out, nil
}

func countMembers(w *World) {
	members := make(map[string]int, len(w.Alliances))
	for _, p := range w.Players {
		if p.AllianceID != "" {
			members[p.AllianceID]++
		}
	}
	for i := range w.Alliances {
		w.Alliances[i].MemberCount = members[w.Alliances[i].AllianceID]
	}
}

func tag(name string) string {
	r := []rune(name)
	if len(r) > 3 {
		r = r[:3]
	}
	return string(r)
}
