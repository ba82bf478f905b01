// Package combat parses combat command flags and starts the session service.
package combat

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/ttrpg-tools/crossfire/internal/api"
	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/journal"
	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
	"github.com/ttrpg-tools/crossfire/internal/combat/service"
	"github.com/ttrpg-tools/crossfire/internal/combat/storage/bolt"
	"github.com/ttrpg-tools/crossfire/internal/combat/storage/sqlite"
	entrypoint "github.com/ttrpg-tools/crossfire/internal/platform/cmd"
	"github.com/ttrpg-tools/crossfire/internal/telemetry"
)

// Snapshot store backends selectable through configuration.
const (
	SnapshotStoreSQLite = "sqlite"
	SnapshotStoreBolt   = "bolt"
)

// Config holds combat command configuration.
type Config struct {
	Port int `env:"CROSSFIRE_COMBAT_PORT" envDefault:"8084"`
	// Addr overrides Port with a full listen address. Flag only.
	Addr          string
	DBPath        string `env:"CROSSFIRE_COMBAT_DB_PATH"`
	SnapshotStore string `env:"CROSSFIRE_COMBAT_SNAPSHOT_STORE" envDefault:"sqlite"`
	BoltPath      string `env:"CROSSFIRE_COMBAT_BOLT_PATH"`
	PlaneOrder    string `env:"CROSSFIRE_COMBAT_PLANE_ORDER"`
	QueueSize     int    `env:"CROSSFIRE_COMBAT_QUEUE_SIZE"`
	SnapshotEvery int    `env:"CROSSFIRE_COMBAT_SNAPSHOT_EVERY"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The combat server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The combat server listen address (overrides -port)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path; empty keeps state in memory")
	fs.StringVar(&cfg.SnapshotStore, "snapshot-store", cfg.SnapshotStore, "Snapshot store backend (sqlite or bolt)")
	fs.StringVar(&cfg.BoltPath, "bolt", cfg.BoltPath, "Bolt database path for the bolt snapshot store")
	fs.StringVar(&cfg.PlaneOrder, "plane-order", cfg.PlaneOrder, "Comma-separated default plane order for new sessions")
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "Per-session submission queue size")
	fs.IntVar(&cfg.SnapshotEvery, "snapshot-every", cfg.SnapshotEvery, "Committed events between snapshots")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ListenAddr resolves the configured listen address.
func (c Config) ListenAddr() string {
	if addr := strings.TrimSpace(c.Addr); addr != "" {
		return addr
	}
	return fmt.Sprintf(":%d", c.Port)
}

// BuildService assembles the combat service and its stores from the
// configuration. The returned cleanup closes the service and every store it
// opened, in reverse order.
func BuildService(cfg Config) (*service.Service, func(), error) {
	registry := event.DefaultRegistry()
	svcCfg := service.Config{
		QueueSize:     cfg.QueueSize,
		SnapshotEvery: cfg.SnapshotEvery,
		Observe:       telemetry.NewEmitter(nil).Observe,
	}

	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	if order := strings.TrimSpace(cfg.PlaneOrder); order != "" {
		planes, err := plane.ParseOrder(order)
		if err != nil {
			return nil, nil, fmt.Errorf("parse plane order: %w", err)
		}
		svcCfg.PlaneOrder = planes
	}

	if path := strings.TrimSpace(cfg.DBPath); path != "" {
		store, err := sqlite.Open(path, registry)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		closers = append(closers, store.Close)
		svcCfg.Journal = store
		svcCfg.Sessions = store
		svcCfg.Snapshots = store
		svcCfg.Tokens = store
	} else {
		svcCfg.Journal = journal.NewMemory(registry)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.SnapshotStore)) {
	case "", SnapshotStoreSQLite:
		// Snapshots and idempotency records ride in the primary store.
	case SnapshotStoreBolt:
		path := strings.TrimSpace(cfg.BoltPath)
		if path == "" {
			closeAll()
			return nil, nil, fmt.Errorf("bolt path is required when the snapshot store is bolt")
		}
		store, err := bolt.Open(path)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open bolt store: %w", err)
		}
		closers = append(closers, store.Close)
		svcCfg.Snapshots = store
		svcCfg.Tokens = store
	default:
		closeAll()
		return nil, nil, fmt.Errorf("snapshot store %q is not supported", cfg.SnapshotStore)
	}

	svc, err := service.New(svcCfg)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	cleanup := func() {
		svc.Close()
		closeAll()
	}
	return svc, cleanup, nil
}

// Run starts the combat session API service.
func Run(ctx context.Context, cfg Config) error {
	svc, cleanup, err := BuildService(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCombat, func(context.Context) error {
		return api.Run(ctx, api.Config{
			HTTPAddr: cfg.ListenAddr(),
			Service:  svc,
		})
	})
}
