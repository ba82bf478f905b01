// Package maintenance implements offline upkeep tasks for combat stores:
// journal verification, snapshot compaction, and idempotency pruning.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/journal"
	"github.com/ttrpg-tools/crossfire/internal/combat/storage/bolt"
	"github.com/ttrpg-tools/crossfire/internal/combat/storage/sqlite"
)

// Supported maintenance tasks, given as the first positional argument.
const (
	TaskVerifyJournal    = "verify-journal"
	TaskCompactSnapshots = "compact-snapshots"
	TaskPruneIdempotency = "prune-idempotency"
)

// Config holds maintenance command configuration.
type Config struct {
	// Task selects the maintenance operation to run.
	Task          string
	DBPath        string        `env:"CROSSFIRE_COMBAT_DB_PATH"`
	SnapshotStore string        `env:"CROSSFIRE_COMBAT_SNAPSHOT_STORE" envDefault:"sqlite"`
	BoltPath      string        `env:"CROSSFIRE_COMBAT_BOLT_PATH"`
	Timeout       time.Duration `env:"CROSSFIRE_MAINTENANCE_TIMEOUT" envDefault:"10m"`
	SessionID     string
	Keep          int
	OlderThan     time.Duration
	JSONOutput    bool
}

type envConfig struct {
	DBPath        string        `env:"CROSSFIRE_COMBAT_DB_PATH"`
	SnapshotStore string        `env:"CROSSFIRE_COMBAT_SNAPSHOT_STORE" envDefault:"sqlite"`
	BoltPath      string        `env:"CROSSFIRE_COMBAT_BOLT_PATH"`
	Timeout       time.Duration `env:"CROSSFIRE_MAINTENANCE_TIMEOUT" envDefault:"10m"`
}

// ParseConfig parses environment and flags into a Config. The task name is
// the first positional argument after the flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		DBPath:        envCfg.DBPath,
		SnapshotStore: envCfg.SnapshotStore,
		BoltPath:      envCfg.BoltPath,
		Timeout:       envCfg.Timeout,
		Keep:          1,
		OlderThan:     7 * 24 * time.Hour,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "combat.db")
	}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the combat sqlite database")
	fs.StringVar(&cfg.SnapshotStore, "snapshot-store", cfg.SnapshotStore, "snapshot store backend (sqlite or bolt)")
	fs.StringVar(&cfg.BoltPath, "bolt", cfg.BoltPath, "path to the bolt snapshot database")
	fs.StringVar(&cfg.SessionID, "session", "", "restrict the task to one session ID")
	fs.IntVar(&cfg.Keep, "keep", cfg.Keep, "snapshots to keep per session when compacting")
	fs.DurationVar(&cfg.OlderThan, "older-than", cfg.OlderThan, "age threshold for idempotency pruning")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Task = fs.Arg(0)
	return cfg, nil
}

// Run executes the selected maintenance task.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	switch cfg.Task {
	case TaskVerifyJournal:
		return runVerifyJournal(ctx, cfg, out, errOut)
	case TaskCompactSnapshots:
		return runCompactSnapshots(ctx, cfg, out, errOut)
	case TaskPruneIdempotency:
		return runPruneIdempotency(ctx, cfg, out, errOut)
	case "":
		return fmt.Errorf("task is required: %s, %s, or %s", TaskVerifyJournal, TaskCompactSnapshots, TaskPruneIdempotency)
	default:
		return fmt.Errorf("task %q is not supported", cfg.Task)
	}
}

// verifyReport is one session's verification outcome.
type verifyReport struct {
	SessionID string `json:"session_id"`
	Events    int    `json:"events"`
	LastSeq   uint64 `json:"last_seq"`
	Error     string `json:"error,omitempty"`
}

// runVerifyJournal re-walks every hash link in each session's stream and
// re-folds the events, checking the recorded state checksums.
func runVerifyJournal(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	store, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer closeStore(store.Close, errOut)

	sessions, err := targetSessions(ctx, cfg, store)
	if err != nil {
		return err
	}

	reports := make([]verifyReport, 0, len(sessions))
	failures := 0
	for _, sessionID := range sessions {
		report := verifyReport{SessionID: sessionID}
		if err := journal.VerifyChain(ctx, store, sessionID); err != nil {
			report.Error = err.Error()
		} else {
			result, err := journal.Rebuild(ctx, store, sessionID)
			report.Events = result.Applied
			report.LastSeq = result.LastSeq
			if err != nil {
				report.Error = err.Error()
			}
		}
		if report.Error != "" {
			failures++
		}
		reports = append(reports, report)
	}

	if cfg.JSONOutput {
		if err := json.NewEncoder(out).Encode(reports); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	} else {
		for _, report := range reports {
			if report.Error != "" {
				fmt.Fprintf(errOut, "%s: FAIL %s\n", report.SessionID, report.Error)
				continue
			}
			fmt.Fprintf(out, "%s: OK events=%d last_seq=%d\n", report.SessionID, report.Events, report.LastSeq)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d sessions failed verification", failures, len(sessions))
	}
	return nil
}

// compactReport is one session's snapshot compaction outcome.
type compactReport struct {
	SessionID string `json:"session_id"`
	Pruned    int    `json:"pruned"`
	Error     string `json:"error,omitempty"`
}

// runCompactSnapshots prunes superseded snapshots, keeping the newest per
// session.
func runCompactSnapshots(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if cfg.Keep < 1 {
		return errors.New("-keep must be at least 1")
	}

	snapshots, err := openRecords(cfg)
	if err != nil {
		return err
	}
	defer closeStore(snapshots.Close, errOut)

	sessions, err := compactionSessions(ctx, cfg, errOut)
	if err != nil {
		return err
	}

	reports := make([]compactReport, 0, len(sessions))
	failures := 0
	for _, sessionID := range sessions {
		report := compactReport{SessionID: sessionID}
		pruned, err := snapshots.PruneSnapshots(ctx, sessionID, cfg.Keep)
		report.Pruned = pruned
		if err != nil {
			report.Error = err.Error()
			failures++
		}
		reports = append(reports, report)
	}

	if cfg.JSONOutput {
		if err := json.NewEncoder(out).Encode(reports); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	} else {
		for _, report := range reports {
			if report.Error != "" {
				fmt.Fprintf(errOut, "%s: FAIL %s\n", report.SessionID, report.Error)
				continue
			}
			fmt.Fprintf(out, "%s: pruned %d snapshots (kept %d)\n", report.SessionID, report.Pruned, cfg.Keep)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d sessions failed compaction", failures, len(sessions))
	}
	return nil
}

// runPruneIdempotency deletes idempotency records older than the threshold.
func runPruneIdempotency(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if cfg.OlderThan <= 0 {
		return errors.New("-older-than must be positive")
	}

	tokens, err := openRecords(cfg)
	if err != nil {
		return err
	}
	defer closeStore(tokens.Close, errOut)

	cutoff := time.Now().UTC().Add(-cfg.OlderThan)
	pruned, err := tokens.PruneIdempotency(ctx, cutoff)
	if err != nil {
		return err
	}

	if cfg.JSONOutput {
		report := struct {
			Pruned int    `json:"pruned"`
			Before string `json:"before"`
		}{Pruned: pruned, Before: cutoff.Format(time.RFC3339)}
		if err := json.NewEncoder(out).Encode(report); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	}
	fmt.Fprintf(out, "pruned %d idempotency records older than %s\n", pruned, cfg.OlderThan)
	return nil
}

// openJournal opens the sqlite store holding the journal.
func openJournal(cfg Config) (*sqlite.Store, error) {
	path := strings.TrimSpace(cfg.DBPath)
	if path == "" {
		return nil, errors.New("-db is required")
	}
	store, err := sqlite.Open(path, event.DefaultRegistry())
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

// openRecords opens the store holding snapshots and idempotency records,
// selected by configuration. Both record kinds live side by side in either
// backend.
func openRecords(cfg Config) (recordStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.SnapshotStore)) {
	case "", "sqlite":
		return openJournal(cfg)
	case "bolt":
		path := strings.TrimSpace(cfg.BoltPath)
		if path == "" {
			return nil, errors.New("-bolt is required when the snapshot store is bolt")
		}
		store, err := bolt.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("snapshot store %q is not supported", cfg.SnapshotStore)
	}
}

// targetSessions resolves which sessions a journal task covers.
func targetSessions(ctx context.Context, cfg Config, store journalStore) ([]string, error) {
	if sessionID := strings.TrimSpace(cfg.SessionID); sessionID != "" {
		return []string{sessionID}, nil
	}
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil, errors.New("no sessions in the journal")
	}
	return sessions, nil
}

// compactionSessions resolves which sessions compaction covers. The bolt
// store cannot enumerate sessions itself, so the journal supplies the list
// unless -session narrows it.
func compactionSessions(ctx context.Context, cfg Config, errOut io.Writer) ([]string, error) {
	if sessionID := strings.TrimSpace(cfg.SessionID); sessionID != "" {
		return []string{sessionID}, nil
	}
	store, err := openJournal(cfg)
	if err != nil {
		return nil, err
	}
	defer closeStore(store.Close, errOut)
	return targetSessions(ctx, cfg, store)
}

func closeStore(closeFn func() error, errOut io.Writer) {
	if closeFn == nil {
		return
	}
	if err := closeFn(); err != nil {
		fmt.Fprintf(errOut, "Error: close store: %v\n", err)
	}
}
