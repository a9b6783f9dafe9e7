package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/quorumfi/finagent/pkg/config"
	"github.com/quorumfi/finagent/pkg/ledger"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stderr)
	}
	switch args[1] {
	case "serve", "server":
		return runServe(stderr)
	case "verify":
		return runVerify(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: finagent [serve|verify|help]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  serve    run the orchestrator HTTP server (default)")
	fmt.Fprintln(w, "  verify   verify the ledger hash chain and exit")
}

func runServe(stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := serve(context.Background(), cfg, logger); err != nil {
		fmt.Fprintf(stderr, "finagent: %v\n", err)
		return 1
	}
	return 0
}

func runVerify(stdout, stderr io.Writer) int {
	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, cleanup, err := openLedger(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "finagent: open ledger: %v\n", err)
		return 1
	}
	defer cleanup()

	entries, err := store.Query(ctx, ledger.Filter{})
	if err != nil {
		fmt.Fprintf(stderr, "finagent: read ledger: %v\n", err)
		return 1
	}
	if err := ledger.VerifyChain(entries); err != nil {
		fmt.Fprintf(stderr, "finagent: chain verification FAILED: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "chain intact: %d entries\n", len(entries))
	return 0
}

// openLedger builds the configured ledger backend.
func openLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, func(), error) {
	switch cfg.DatabaseDriver {
	case "memory":
		return ledger.NewMemory(), func() {}, nil
	case "sqlite", "postgres":
		db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", cfg.DatabaseDriver, err)
		}
		store := ledger.NewSQL(db)
		if err := store.Init(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("init ledger schema: %w", err)
		}
		return store, func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
