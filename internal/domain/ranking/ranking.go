// Package ranking orders players by might and alliances by power.
//
// Ranks are derived on every read from the point-in-time entity set. They are
// never persisted or cached, so a ranking always matches the versions it was
// computed from.
package ranking

import (
	"errors"
	"sort"

	"github.com/okian/realmhist/internal/domain/model"
)

var (
	// ErrNotFound is returned when the requested id is not ranked.
	ErrNotFound = errors.New("not ranked")
	// ErrInvalidLimit is returned for a non-positive limit.
	ErrInvalidLimit = errors.New("limit must be positive")
)

// Entry is one ranked entity.
type Entry struct {
	Rank  int    `json:"rank"`
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int64  `json:"score"`
	// AllianceID is set for player entries.
	AllianceID string `json:"alliance_id,omitempty"`
}

// Players ranks players by might.
func Players(players []model.Player) []Entry {
	out := make([]Entry, 0, len(players))
	for _, p := range players {
		out = append(out, Entry{ID: p.PlayerID, Name: p.Name, Score: p.Might, AllianceID: p.AllianceID})
	}
	rank(out)
	return out
}

// Alliances ranks alliances by power.
func Alliances(alliances []model.Alliance) []Entry {
	out := make([]Entry, 0, len(alliances))
	for _, a := range alliances {
		out = append(out, Entry{ID: a.AllianceID, Name: a.Name, Score: a.Power})
	}
	rank(out)
	return out
}

// Top returns the first n entries of a ranking.
func Top(entries []Entry, n int) ([]Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	if n > len(entries) {
		n = len(entries)
	}
	return entries[:n], nil
}

// Find returns the entry of id.
func Find(entries []Entry, id string) (Entry, error) {
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func rank(entries []Entry) {
	sortEntries(entries)
	assignRanksWithTies(entries)
}

// sortEntries orders by score desc, then id asc.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ID < entries[j].ID
	})
}

// assignRanksWithTies gives equal scores the same rank; the next distinct
// score takes the following rank (dense ranking).
func assignRanksWithTies(entries []Entry) {
	current := 0
	for i := range entries {
		if i == 0 || entries[i].Score != entries[i-1].Score {
			current++
		}
		entries[i].Rank = current
	}
}
