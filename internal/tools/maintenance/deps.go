package maintenance

import (
	"context"

	"github.com/ttrpg-tools/crossfire/internal/combat/journal"
	"github.com/ttrpg-tools/crossfire/internal/combat/storage"
)

// journalStore extends the journal with session enumeration and cleanup.
type journalStore interface {
	journal.Store
	Sessions(ctx context.Context) ([]string, error)
	Close() error
}

// recordStore holds snapshots and idempotency records side by side, with a
// Close method for resource cleanup.
type recordStore interface {
	storage.SnapshotStore
	storage.IdempotencyStore
	Close() error
}
