package snapgen

import (
	"errors"
	"fmt"
	"time"
)

// Config holds configuration for a generation run.
type Config struct {
	BaseURL string // Base URL of the service
	Realm   string // Realm to import into; should have no later imports

	Days      int       // Number of daily snapshots to import
	StartDate time.Time // Import date of the first snapshot

	Players   int   // Players in the first snapshot
	Alliances int   // Alliances in the first snapshot
	MapSize   int   // Tiles are placed on [0, MapSize) x [0, MapSize)
	Seed      int64 // Seed for reproducible worlds

	ChurnPercent     int  // Share of players changed between days
	DuplicatePercent int  // Share of records repeated in each payload
	LegacyEncoding   bool // Encode payloads as windows-1252

	Workers      int           // Concurrent verification requests
	Timeout      time.Duration // HTTP request timeout
	PollInterval time.Duration // Interval between session status polls
	OutputDir    string        // Directory for generated payloads, empty to skip
	Verbose      bool          // Enable verbose logging
}

// Defaults for a small run.
const (
	DefaultDays         = 3
	DefaultPlayers      = 200
	DefaultAlliances    = 10
	DefaultMapSize      = 200
	DefaultChurn        = 20
	DefaultWorkers      = 4
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

var errInvalidConfig = errors.New("invalid config")

// Validate checks that the world fits the map.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: url must not be empty", errInvalidConfig)
	case c.Realm == "":
		return fmt.Errorf("%w: realm must not be empty", errInvalidConfig)
	case c.Days < 1:
		return fmt.Errorf("%w: days must be positive", errInvalidConfig)
	case c.Players < 1 || c.Alliances < 0:
		return fmt.Errorf("%w: players must be positive", errInvalidConfig)
	case c.ChurnPercent < 0 || c.ChurnPercent > 100:
		return fmt.Errorf("%w: churn must be within 0..100", errInvalidConfig)
	case c.DuplicatePercent < 0 || c.DuplicatePercent > 100:
		return fmt.Errorf("%w: duplicates must be within 0..100", errInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", errInvalidConfig)
	}
	// every player needs room for a city, wilderness and movement
	if need := (c.Players*tilesPerPlayer + c.Alliances) * 2; c.MapSize*c.MapSize < need {
		return fmt.Errorf("%w: map %dx%d too small for %d players", errInvalidConfig, c.MapSize, c.MapSize, c.Players)
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	Imported   int
	Failed     int
	Bytes      int
	Duplicates int
	Verified   int
	Mismatches int
	StartTime  time.Time
	Duration   time.Duration
}
