package snapgen

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/realmhist/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging configures logging to both console and file and returns a
// function closing the file. If logFile is empty, a timestamped filename is
// generated.
func SetupLogging(logFile string, verbose bool) (func() error, error) {
	if logFile == "" {
		logFile = "snapgen_" + time.Now().Format("20060102_150405") + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	if err := logger.Init(logger.WithOutput(io.MultiWriter(os.Stdout, file))); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return file.Close, nil
}

// ShowHelp prints usage information for the snapshot generator.
func ShowHelp() {
	os.Stdout.WriteString(`Realm Snapshot Generator
========================

Generates synthetic daily world snapshots, imports them into a running
realmhist service and verifies the point-in-time reads of every day.

Usage:
  go run ./cmd/snapgen [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -realm string
        Realm to import into, created when missing (default "snapgen")
  -days int
        Number of daily snapshots (default 3)
  -start string
        Import date of the first snapshot, YYYY-MM-DD (default: today)
  -players int
        Players in the first snapshot (default 200)
  -alliances int
        Alliances in the first snapshot (default 10)
  -map int
        Map side length; must not exceed the service map size (default 200)
  -seed int
        Seed for reproducible worlds (default 1)
  -churn int
        Percent of players changed between days (default 20)
  -duplicates int
        Percent of records repeated in each payload (default 0)
  -legacy
        Encode payloads as windows-1252
  -workers int
        Concurrent verification requests (default 4)
  -timeout duration
        HTTP request timeout (default 30s)
  -output string
        Directory for generated payloads (default: not saved)
  -log string
        Log file (default: snapgen_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Import a week of snapshots into a fresh realm
  go run ./cmd/snapgen -realm test-week -days 7

  # Exercise deduplication and the encoding fallback
  go run ./cmd/snapgen -realm legacy -duplicates 10 -legacy

Dates must be later than any completed import of the realm.
`)
}
