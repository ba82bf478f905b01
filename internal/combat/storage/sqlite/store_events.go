package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/journal"
)

const defaultPageSize = 200

// Append validates the event, assigns the next sequence inside one
// transaction, seals the hash chain, and stores the row.
func (s *Store) Append(ctx context.Context, evt event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if err := s.ready(); err != nil {
		return event.Event{}, err
	}
	if s.registry == nil {
		return event.Event{}, fmt.Errorf("event registry is required")
	}

	validated, err := s.registry.ValidateForAppend(evt)
	if err != nil {
		return event.Event{}, err
	}
	evt = validated
	evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO combat_seq (session_id, next_seq) VALUES (?, 1)",
		evt.SessionID,
	); err != nil {
		return event.Event{}, fmt.Errorf("init event seq: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx,
		"SELECT next_seq FROM combat_seq WHERE session_id = ?", evt.SessionID,
	).Scan(&seq); err != nil {
		return event.Event{}, fmt.Errorf("get event seq: %w", err)
	}
	if seq <= 0 {
		return event.Event{}, fmt.Errorf("event seq is required")
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE combat_seq SET next_seq = next_seq + 1 WHERE session_id = ?", evt.SessionID,
	); err != nil {
		return event.Event{}, fmt.Errorf("increment event seq: %w", err)
	}
	evt.Seq = uint64(seq)

	hash, err := event.EventHash(evt)
	if err != nil {
		return event.Event{}, fmt.Errorf("compute event hash: %w", err)
	}
	evt.Hash = hash

	prevHash := ""
	if evt.Seq > 1 {
		if err := tx.QueryRowContext(ctx,
			"SELECT chain_hash FROM combat_events WHERE session_id = ? AND seq = ?",
			evt.SessionID, seq-1,
		).Scan(&prevHash); err != nil {
			return event.Event{}, fmt.Errorf("load previous event: %w", err)
		}
	}
	chainHash, err := event.ChainHash(evt, prevHash)
	if err != nil {
		return event.Event{}, fmt.Errorf("compute chain hash: %w", err)
	}
	evt.PrevHash = prevHash
	evt.ChainHash = chainHash

	if _, err := tx.ExecContext(ctx, `
INSERT INTO combat_events (
    session_id, seq, event_hash, prev_event_hash, chain_hash,
    timestamp, event_type, token, actor_type, actor_id,
    entity_type, entity_id, payload_json, state_checksum
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.SessionID, seq, evt.Hash, evt.PrevHash, evt.ChainHash,
		toMillis(evt.Timestamp), string(evt.Type), evt.Token, string(evt.ActorType), evt.ActorID,
		evt.EntityType, evt.EntityID, evt.PayloadJSON, evt.StateChecksum,
	); err != nil {
		return event.Event{}, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("commit append: %w", err)
	}
	return evt, nil
}

// ListEvents returns events after the given sequence in ascending order.
func (s *Store) ListEvents(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, journal.ErrSessionIDRequired
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT session_id, seq, event_hash, prev_event_hash, chain_hash,
       timestamp, event_type, token, actor_type, actor_id,
       entity_type, entity_id, payload_json, state_checksum
FROM combat_events
WHERE session_id = ? AND seq > ?
ORDER BY seq ASC
LIMIT ?`, sessionID, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var evt event.Event
		var seq, timestamp int64
		var eventType, actorType string
		if err := rows.Scan(
			&evt.SessionID, &seq, &evt.Hash, &evt.PrevHash, &evt.ChainHash,
			&timestamp, &eventType, &evt.Token, &actorType, &evt.ActorID,
			&evt.EntityType, &evt.EntityID, &evt.PayloadJSON, &evt.StateChecksum,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		evt.Seq = uint64(seq)
		evt.Timestamp = fromMillis(timestamp)
		evt.Type = event.Type(eventType)
		evt.ActorType = event.ActorType(actorType)
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read event rows: %w", err)
	}
	return out, nil
}

// LatestSeq returns the highest assigned sequence, zero for an empty stream.
func (s *Store) LatestSeq(ctx context.Context, sessionID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ready(); err != nil {
		return 0, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, journal.ErrSessionIDRequired
	}

	var latest int64
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM combat_events WHERE session_id = ?", sessionID,
	).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return uint64(latest), nil
}

// Sessions lists every session id holding at least one event, sorted.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT DISTINCT session_id FROM combat_events ORDER BY session_id ASC")
	if err != nil {
		return nil, fmt.Errorf("list journal sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read session ids: %w", err)
	}
	return ids, nil
}
