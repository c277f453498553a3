package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/realmhist/internal/snapgen"
)

const (
	defaultRunTimeout = 30 * time.Minute
	dateLayout        = "2006-01-02"
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		realm      = flag.String("realm", "snapgen", "Realm to import into")
		days       = flag.Int("days", snapgen.DefaultDays, "Number of daily snapshots")
		start      = flag.String("start", "", "Import date of the first snapshot, YYYY-MM-DD (default: today)")
		players    = flag.Int("players", snapgen.DefaultPlayers, "Players in the first snapshot")
		alliances  = flag.Int("alliances", snapgen.DefaultAlliances, "Alliances in the first snapshot")
		mapSize    = flag.Int("map", snapgen.DefaultMapSize, "Map side length")
		seed       = flag.Int64("seed", 1, "Seed for reproducible worlds")
		churn      = flag.Int("churn", snapgen.DefaultChurn, "Percent of players changed between days")
		duplicates = flag.Int("duplicates", 0, "Percent of records repeated in each payload")
		legacy     = flag.Bool("legacy", false, "Encode payloads as windows-1252")
		workers    = flag.Int("workers", snapgen.DefaultWorkers, "Concurrent verification requests")
		timeout    = flag.Duration("timeout", snapgen.DefaultTimeout, "HTTP request timeout")
		outputDir  = flag.String("output", "", "Directory for generated payloads")
		logFile    = flag.String("log", "", "Log file (default: snapgen_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		snapgen.ShowHelp()
		return
	}

	startDate := time.Now().UTC().Truncate(24 * time.Hour)
	if *start != "" {
		d, err := time.Parse(dateLayout, *start)
		if err != nil {
			os.Stderr.WriteString("Invalid start date: " + err.Error() + "\n")
			os.Exit(2)
		}
		startDate = d
	}

	closeLog, err := snapgen.SetupLogging(*logFile, *verbose)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := &snapgen.Config{
		BaseURL:          *baseURL,
		Realm:            *realm,
		Days:             *days,
		StartDate:        startDate,
		Players:          *players,
		Alliances:        *alliances,
		MapSize:          *mapSize,
		Seed:             *seed,
		ChurnPercent:     *churn,
		DuplicatePercent: *duplicates,
		LegacyEncoding:   *legacy,
		Workers:          *workers,
		Timeout:          *timeout,
		PollInterval:     snapgen.DefaultPollInterval,
		OutputDir:        *outputDir,
		Verbose:          *verbose,
	}

	if _, err := snapgen.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Run failed: " + err.Error() + "\n")
		_ = closeLog()
		os.Exit(1)
	}
}
