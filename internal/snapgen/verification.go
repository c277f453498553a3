package snapgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/okian/realmhist/pkg/logger"
)

var errMismatch = errors.New("mismatch")

// verifyDays reads every imported day back as of its date. Reads run
// concurrently; mismatches are collected and do not stop the other days.
func verifyDays(ctx context.Context, cfg *Config, client *Client, days []day, stats *Stats) error {
	log := logger.Get().Named("snapgen")
	log.Info(ctx, "verifying point-in-time reads", logger.Int("days", len(days)))

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, d := range days {
		g.Go(func() error {
			mismatches, err := verifyDay(gctx, cfg, client, d)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			stats.Verified++
			stats.Mismatches += len(mismatches)
			errs = append(errs, mismatches...)
			if cfg.Verbose {
				log.Info(gctx, "day verified",
					logger.String("date", d.date.Format(dateLayout)),
					logger.Int("mismatches", len(mismatches)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// verifyDay compares one day's reads with its expectation. Transport
// failures are returned as err; differences as mismatches.
func verifyDay(ctx context.Context, cfg *Config, client *Client, d day) ([]error, error) {
	date := d.date.Format(dateLayout)
	var mismatches []error

	players, err := client.Players(ctx, cfg.Realm, d.date)
	if err != nil {
		return nil, fmt.Errorf("players of %s: %w", date, err)
	}
	if len(players) != d.expect.Players {
		mismatches = append(mismatches, fmt.Errorf("%w: %s has %d players, want %d",
			errMismatch, date, len(players), d.expect.Players))
	}

	r, err := client.Rankings(ctx, cfg.Realm, d.date, 1)
	if err != nil {
		return nil, fmt.Errorf("rankings of %s: %w", date, err)
	}
	switch {
	case len(r.Players) == 0:
		mismatches = append(mismatches, fmt.Errorf("%w: %s has no ranked players", errMismatch, date))
	case r.Players[0].ID != d.expect.TopPlayer:
		mismatches = append(mismatches, fmt.Errorf("%w: %s leader is %s, want %s",
			errMismatch, date, r.Players[0].ID, d.expect.TopPlayer))
	}

	// legacy names must survive the encoding fallback
	names := make(map[string]bool, len(players))
	for _, p := range players {
		names[p.Name] = true
	}
	for _, name := range d.legacy {
		if !names[name] {
			mismatches = append(mismatches, fmt.Errorf("%w: %s is missing player name %q", errMismatch, date, name))
		}
	}
	return mismatches, nil
}

// legacyPlayerNames returns the distinct non-ASCII player names of w.
func legacyPlayerNames(w World) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range w.Players {
		if seen[p.Name] || isASCII(p.Name) {
			continue
		}
		seen[p.Name] = true
		out = append(out, p.Name)
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
