// Package storage defines the persistence contracts behind the combat
// service: session metadata, state snapshots, and durable idempotency
// records. The journal's event stream contract lives with the journal.
package storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/journal"
	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
	"github.com/ttrpg-tools/crossfire/internal/combat/session"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
)

// ErrNotFound indicates a requested persistence record is missing. Callers
// use it to tell a legitimate "no such record" apart from a storage failure.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

var (
	// ErrSessionIDRequired indicates a missing session id.
	ErrSessionIDRequired = stderrors.New("session id is required")
	// ErrTokenRequired indicates a missing idempotency token.
	ErrTokenRequired = stderrors.New("idempotency token is required")
)

// SessionRecord captures the session metadata list and lookup APIs read.
type SessionRecord struct {
	ID         string
	Name       string
	Status     session.Status
	PlaneOrder []plane.Plane
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SnapshotRecord is one persisted state checkpoint. State holds the bytes
// produced by session.MarshalState; Checksum is the content hash of the
// state at Seq, letting restore verify the snapshot before trusting it.
type SnapshotRecord struct {
	SessionID string
	Seq       uint64
	State     []byte
	Checksum  string
	TakenAt   time.Time
}

// IdempotencyRecord caches the outcome of one applied submission keyed by
// its client token, so a replayed token returns the original result after
// a restart.
type IdempotencyRecord struct {
	SessionID   string
	Token       string
	Fingerprint string
	Delta       []byte
	CreatedAt   time.Time
}

// SessionStore persists session metadata.
type SessionStore interface {
	// PutSession inserts or overwrites a session record.
	PutSession(ctx context.Context, rec SessionRecord) error
	// GetSession retrieves a session by id, ErrNotFound when absent.
	GetSession(ctx context.Context, sessionID string) (SessionRecord, error)
	// ListSessions returns records ordered by most recent update. A
	// non-positive limit returns everything.
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
}

// SnapshotStore persists replay checkpoints used to shorten reopen replays.
type SnapshotStore interface {
	// PutSnapshot stores a checkpoint. Re-writing the same sequence
	// overwrites the previous record.
	PutSnapshot(ctx context.Context, snap SnapshotRecord) error
	// LatestSnapshot retrieves the highest-sequence checkpoint for the
	// session, ErrNotFound when none exists.
	LatestSnapshot(ctx context.Context, sessionID string) (SnapshotRecord, error)
	// PruneSnapshots deletes all but the keep highest-sequence checkpoints
	// and reports how many were removed.
	PruneSnapshots(ctx context.Context, sessionID string, keep int) (int, error)
}

// IdempotencyStore persists submission outcomes keyed by client token.
type IdempotencyStore interface {
	// PutIdempotency stores a token record. Re-writing the same token
	// overwrites the previous record.
	PutIdempotency(ctx context.Context, rec IdempotencyRecord) error
	// GetIdempotency retrieves a token record, ErrNotFound when absent.
	GetIdempotency(ctx context.Context, sessionID, token string) (IdempotencyRecord, error)
	// PruneIdempotency deletes records created before the cutoff and
	// reports how many were removed.
	PruneIdempotency(ctx context.Context, before time.Time) (int, error)
}

// Store is the full persistence surface one deployment provides.
type Store interface {
	journal.Store
	SessionStore
	SnapshotStore
	IdempotencyStore
	Close() error
}
