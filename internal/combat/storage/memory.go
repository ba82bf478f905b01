package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
)

// Memory implements the session, snapshot, and idempotency stores in memory.
// It is safe for concurrent use and backs tests and ephemeral deployments.
type Memory struct {
	mu        sync.Mutex
	sessions  map[string]SessionRecord
	snapshots map[string][]SnapshotRecord
	tokens    map[string]map[string]IdempotencyRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]SessionRecord),
		snapshots: make(map[string][]SnapshotRecord),
		tokens:    make(map[string]map[string]IdempotencyRecord),
	}
}

// PutSession inserts or overwrites a session record.
func (m *Memory) PutSession(ctx context.Context, rec SessionRecord) error {
	if err := guard(ctx); err != nil {
		return err
	}
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return ErrSessionIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.ID] = cloneSessionRecord(rec)
	return nil
}

// GetSession retrieves a session by id.
func (m *Memory) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	if err := guard(ctx); err != nil {
		return SessionRecord{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionRecord{}, ErrSessionIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return cloneSessionRecord(rec), nil
}

// ListSessions returns records ordered by update time descending, then id.
func (m *Memory) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if err := guard(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, cloneSessionRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PutSnapshot stores a checkpoint, overwriting any record at the same
// sequence.
func (m *Memory) PutSnapshot(ctx context.Context, snap SnapshotRecord) error {
	if err := guard(ctx); err != nil {
		return err
	}
	snap.SessionID = strings.TrimSpace(snap.SessionID)
	if snap.SessionID == "" {
		return ErrSessionIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := m.snapshots[snap.SessionID]
	stored := cloneSnapshotRecord(snap)
	replaced := false
	for i := range snaps {
		if snaps[i].Seq == snap.Seq {
			snaps[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		snaps = append(snaps, stored)
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].Seq < snaps[j].Seq })
	}
	m.snapshots[snap.SessionID] = snaps
	return nil
}

// LatestSnapshot retrieves the highest-sequence checkpoint for the session.
func (m *Memory) LatestSnapshot(ctx context.Context, sessionID string) (SnapshotRecord, error) {
	if err := guard(ctx); err != nil {
		return SnapshotRecord{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SnapshotRecord{}, ErrSessionIDRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := m.snapshots[sessionID]
	if len(snaps) == 0 {
		return SnapshotRecord{}, ErrNotFound
	}
	return cloneSnapshotRecord(snaps[len(snaps)-1]), nil
}

// PruneSnapshots deletes all but the keep highest-sequence checkpoints.
func (m *Memory) PruneSnapshots(ctx context.Context, sessionID string, keep int) (int, error) {
	if err := guard(ctx); err != nil {
		return 0, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, ErrSessionIDRequired
	}
	if keep < 0 {
		keep = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := m.snapshots[sessionID]
	if len(snaps) <= keep {
		return 0, nil
	}
	removed := len(snaps) - keep
	m.snapshots[sessionID] = append([]SnapshotRecord(nil), snaps[removed:]...)
	return removed, nil
}

// PutIdempotency stores a token record, overwriting any previous value.
func (m *Memory) PutIdempotency(ctx context.Context, rec IdempotencyRecord) error {
	if err := guard(ctx); err != nil {
		return err
	}
	rec.SessionID = strings.TrimSpace(rec.SessionID)
	rec.Token = strings.TrimSpace(rec.Token)
	if rec.SessionID == "" {
		return ErrSessionIDRequired
	}
	if rec.Token == "" {
		return ErrTokenRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tokens := m.tokens[rec.SessionID]
	if tokens == nil {
		tokens = make(map[string]IdempotencyRecord)
		m.tokens[rec.SessionID] = tokens
	}
	tokens[rec.Token] = cloneIdempotencyRecord(rec)
	return nil
}

// GetIdempotency retrieves a token record.
func (m *Memory) GetIdempotency(ctx context.Context, sessionID, token string) (IdempotencyRecord, error) {
	if err := guard(ctx); err != nil {
		return IdempotencyRecord{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	token = strings.TrimSpace(token)
	if sessionID == "" {
		return IdempotencyRecord{}, ErrSessionIDRequired
	}
	if token == "" {
		return IdempotencyRecord{}, ErrTokenRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tokens[sessionID][token]
	if !ok {
		return IdempotencyRecord{}, ErrNotFound
	}
	return cloneIdempotencyRecord(rec), nil
}

// PruneIdempotency deletes records created before the cutoff.
func (m *Memory) PruneIdempotency(ctx context.Context, before time.Time) (int, error) {
	if err := guard(ctx); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for sessionID, tokens := range m.tokens {
		for token, rec := range tokens {
			if rec.CreatedAt.Before(before) {
				delete(tokens, token)
				removed++
			}
		}
		if len(tokens) == 0 {
			delete(m.tokens, sessionID)
		}
	}
	return removed, nil
}

func guard(ctx context.Context) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func cloneSessionRecord(rec SessionRecord) SessionRecord {
	out := rec
	out.PlaneOrder = append([]plane.Plane(nil), rec.PlaneOrder...)
	return out
}

func cloneSnapshotRecord(snap SnapshotRecord) SnapshotRecord {
	out := snap
	if snap.State != nil {
		out.State = append([]byte(nil), snap.State...)
	}
	return out
}

func cloneIdempotencyRecord(rec IdempotencyRecord) IdempotencyRecord {
	out := rec
	if rec.Delta != nil {
		out.Delta = append([]byte(nil), rec.Delta...)
	}
	return out
}
