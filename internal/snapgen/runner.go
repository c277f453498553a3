package snapgen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

// day is one imported snapshot and what it should read back as.
type day struct {
	date   time.Time
	expect Expectation
	legacy []string // non-ASCII player names
}

// Run generates cfg.Days snapshots, imports them in date order and verifies
// every day's point-in-time reads.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("snapgen")
	log.Info(ctx, "starting snapshot run",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("realm", cfg.Realm),
		logger.Int("days", cfg.Days),
		logger.Int("players", cfg.Players),
		logger.Int64("seed", cfg.Seed),
		logger.Any("legacy", cfg.LegacyEncoding))

	client := NewClient(cfg.BaseURL, cfg.Timeout)

	// Step 1: Check service health
	if err := client.Health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}
	if err := client.CreateRealm(ctx, cfg.Realm); err != nil {
		return stats, fmt.Errorf("failed to create realm: %w", err)
	}

	// Step 2: Generate and import one snapshot per day
	days, err := importDays(ctx, cfg, client, stats, log)
	if err != nil {
		return stats, err
	}

	// Step 3: Verify every day as of its date
	verr := verifyDays(ctx, cfg, client, days, stats)

	stats.Duration = time.Since(stats.StartTime)
	displayFinalStats(ctx, log, stats)
	if verr != nil {
		return stats, fmt.Errorf("verification failed: %w", verr)
	}
	log.Info(ctx, "run completed successfully")
	return stats, nil
}

func importDays(ctx context.Context, cfg *Config, client *Client, stats *Stats, log logger.Logger) ([]day, error) {
	gen := NewGenerator(cfg)
	world, err := gen.Generate()
	if err != nil {
		return nil, fmt.Errorf("world generation failed: %w", err)
	}

	days := make([]day, 0, cfg.Days)
	for i := range cfg.Days {
		if i > 0 {
			if world, err = gen.Mutate(world); err != nil {
				return days, fmt.Errorf("world mutation failed: %w", err)
			}
		}
		date := cfg.StartDate.AddDate(0, 0, i)
		payload, dups := gen.WithDuplicates(world)
		body, err := Encode(payload, cfg.LegacyEncoding)
		if err != nil {
			return days, err
		}
		stats.Bytes += len(body)
		stats.Duplicates += dups

		if cfg.OutputDir != "" {
			if err := savePayload(cfg.OutputDir, cfg.Realm, date, body); err != nil {
				log.Warn(ctx, "failed to save snapshot", logger.Error(err))
			}
		}

		session, err := submit(ctx, cfg, client, date, body)
		if err != nil {
			stats.Failed++
			return days, fmt.Errorf("import of %s failed: %w", date.Format(dateLayout), err)
		}
		if session.Status != model.StatusCompleted {
			stats.Failed++
			return days, fmt.Errorf("import of %s ended %s: %s %s",
				date.Format(dateLayout), session.Status, session.ErrorCategory, session.ErrorMessage)
		}
		stats.Imported++
		log.Info(ctx, "snapshot imported",
			logger.String("date", date.Format(dateLayout)),
			logger.String("session_id", session.ID),
			logger.Int("changed", session.Progress.ChangedRecords),
			logger.Int("duplicates", dups))

		days = append(days, day{date: date, expect: Expect(world), legacy: legacyPlayerNames(world)})
	}
	return days, nil
}

// submit posts a snapshot and polls its session to a terminal status. A
// busy gate is retried; the previous import may still be releasing it.
func submit(ctx context.Context, cfg *Config, client *Client, date time.Time, body []byte) (model.ImportSession, error) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	var session model.ImportSession
	for {
		var err error
		session, err = client.Import(ctx, cfg.Realm, date, body)
		if err == nil {
			break
		}
		if !errors.Is(err, errBusy) {
			return session, err
		}
		select {
		case <-ctx.Done():
			return session, ctx.Err()
		case <-ticker.C:
		}
	}

	for !session.Status.Terminal() {
		select {
		case <-ctx.Done():
			return session, ctx.Err()
		case <-ticker.C:
		}
		var err error
		if session, err = client.Session(ctx, session.ID); err != nil {
			return session, err
		}
	}
	return session, nil
}

func savePayload(dir, realm string, date time.Time, body []byte) error {
	if err := os.MkdirAll(dir, directoryPermission); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	name := filepath.Join(dir, fmt.Sprintf("%s_%s.json", realm, date.Format(dateLayout)))
	if err := os.WriteFile(name, body, filePermission); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var bytesPerSecond float64
	if stats.Duration > 0 {
		bytesPerSecond = float64(stats.Bytes) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("imported", stats.Imported),
		logger.Int("failed", stats.Failed),
		logger.Int("bytes", stats.Bytes),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("verified", stats.Verified),
		logger.Int("mismatches", stats.Mismatches),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("bytesPerSecond", bytesPerSecond))
}
