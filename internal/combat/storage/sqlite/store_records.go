package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
	"github.com/ttrpg-tools/crossfire/internal/combat/session"
	"github.com/ttrpg-tools/crossfire/internal/combat/storage"
)

// PutSession upserts one session record as given.
func (s *Store) PutSession(ctx context.Context, rec storage.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(rec.ID) == "" {
		return storage.ErrSessionIDRequired
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO combat_sessions (id, name, status, plane_order, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    status = excluded.status,
    plane_order = excluded.plane_order,
    created_at = excluded.created_at,
    updated_at = excluded.updated_at`,
		rec.ID, rec.Name, string(rec.Status), plane.OrderString(rec.PlaneOrder),
		toMillis(rec.CreatedAt), toMillis(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession retrieves one session record by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (storage.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.SessionRecord{}, err
	}
	if err := s.ready(); err != nil {
		return storage.SessionRecord{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return storage.SessionRecord{}, storage.ErrSessionIDRequired
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, status, plane_order, created_at, updated_at
FROM combat_sessions
WHERE id = ?`, sessionID)
	rec, err := scanSessionRecord(row.Scan)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return storage.SessionRecord{}, storage.ErrNotFound
		}
		return storage.SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	return rec, nil
}

// ListSessions returns session records ordered by most recent update, then
// id. A non-positive limit returns all records.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, name, status, plane_order, created_at, updated_at
FROM combat_sessions
ORDER BY updated_at DESC, id ASC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []storage.SessionRecord
	for rows.Next() {
		rec, err := scanSessionRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read session rows: %w", err)
	}
	return out, nil
}

func scanSessionRecord(scan func(...any) error) (storage.SessionRecord, error) {
	var rec storage.SessionRecord
	var status, order string
	var createdAt, updatedAt int64
	if err := scan(&rec.ID, &rec.Name, &status, &order, &createdAt, &updatedAt); err != nil {
		return storage.SessionRecord{}, err
	}
	rec.Status = session.Status(status)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	if order != "" {
		parsed, err := plane.ParseOrder(order)
		if err != nil {
			return storage.SessionRecord{}, fmt.Errorf("decode plane order: %w", err)
		}
		rec.PlaneOrder = parsed
	}
	return rec, nil
}

// PutSnapshot upserts one state snapshot; a second write at the same
// sequence replaces the stored copy.
func (s *Store) PutSnapshot(ctx context.Context, snap storage.SnapshotRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(snap.SessionID) == "" {
		return storage.ErrSessionIDRequired
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO combat_snapshots (session_id, seq, state, checksum, taken_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(session_id, seq) DO UPDATE SET
    state = excluded.state,
    checksum = excluded.checksum,
    taken_at = excluded.taken_at`,
		snap.SessionID, int64(snap.Seq), snap.State, snap.Checksum, toMillis(snap.TakenAt),
	)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the highest-sequence snapshot for the session.
func (s *Store) LatestSnapshot(ctx context.Context, sessionID string) (storage.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.SnapshotRecord{}, err
	}
	if err := s.ready(); err != nil {
		return storage.SnapshotRecord{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return storage.SnapshotRecord{}, storage.ErrSessionIDRequired
	}

	var snap storage.SnapshotRecord
	var seq, takenAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT session_id, seq, state, checksum, taken_at
FROM combat_snapshots
WHERE session_id = ?
ORDER BY seq DESC
LIMIT 1`, sessionID).Scan(&snap.SessionID, &seq, &snap.State, &snap.Checksum, &takenAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return storage.SnapshotRecord{}, storage.ErrNotFound
		}
		return storage.SnapshotRecord{}, fmt.Errorf("latest snapshot: %w", err)
	}
	snap.Seq = uint64(seq)
	snap.TakenAt = fromMillis(takenAt)
	return snap, nil
}

// PruneSnapshots deletes all but the newest keep snapshots for the session
// and reports how many rows were removed.
func (s *Store) PruneSnapshots(ctx context.Context, sessionID string, keep int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ready(); err != nil {
		return 0, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, storage.ErrSessionIDRequired
	}
	if keep < 0 {
		keep = 0
	}

	res, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM combat_snapshots
WHERE session_id = ? AND seq NOT IN (
    SELECT seq FROM combat_snapshots
    WHERE session_id = ?
    ORDER BY seq DESC
    LIMIT ?
)`, sessionID, sessionID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned snapshots: %w", err)
	}
	return int(removed), nil
}

// PutIdempotency upserts one idempotency record as given.
func (s *Store) PutIdempotency(ctx context.Context, rec storage.IdempotencyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(rec.SessionID) == "" {
		return storage.ErrSessionIDRequired
	}
	if strings.TrimSpace(rec.Token) == "" {
		return storage.ErrTokenRequired
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO combat_idempotency (session_id, token, fingerprint, result, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(session_id, token) DO UPDATE SET
    fingerprint = excluded.fingerprint,
    result = excluded.result,
    created_at = excluded.created_at`,
		rec.SessionID, rec.Token, rec.Fingerprint, rec.Delta, toMillis(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put idempotency record: %w", err)
	}
	return nil
}

// GetIdempotency retrieves one idempotency record by session and token.
func (s *Store) GetIdempotency(ctx context.Context, sessionID, token string) (storage.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.IdempotencyRecord{}, err
	}
	if err := s.ready(); err != nil {
		return storage.IdempotencyRecord{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return storage.IdempotencyRecord{}, storage.ErrSessionIDRequired
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return storage.IdempotencyRecord{}, storage.ErrTokenRequired
	}

	var rec storage.IdempotencyRecord
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT session_id, token, fingerprint, result, created_at
FROM combat_idempotency
WHERE session_id = ? AND token = ?`, sessionID, token).
		Scan(&rec.SessionID, &rec.Token, &rec.Fingerprint, &rec.Delta, &createdAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return storage.IdempotencyRecord{}, storage.ErrNotFound
		}
		return storage.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}

// PruneIdempotency deletes records created before the cutoff and reports
// how many rows were removed.
func (s *Store) PruneIdempotency(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ready(); err != nil {
		return 0, err
	}

	res, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM combat_idempotency WHERE created_at < ?", toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("prune idempotency records: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned idempotency records: %w", err)
	}
	return int(removed), nil
}
