// Package bolt provides a BoltDB-backed sidecar store for snapshots and
// idempotency records, for deployments that keep the journal elsewhere.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/storage"
	"go.etcd.io/bbolt"
)

const (
	snapshotBucket    = "snapshots"
	idempotencyBucket = "idempotency"
)

// Store implements storage.SnapshotStore and storage.IdempotencyStore on a
// single BoltDB file. Each session gets its own nested bucket so snapshot
// keys stay ordered by sequence.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{snapshotBucket, idempotencyBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

type snapshotDocument struct {
	State    []byte `json:"state"`
	Checksum string `json:"checksum,omitempty"`
	TakenAt  int64  `json:"taken_at"`
}

type idempotencyDocument struct {
	Fingerprint string `json:"fingerprint"`
	Result      []byte `json:"result,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// PutSnapshot upserts one state snapshot; a second write at the same
// sequence replaces the stored copy.
func (s *Store) PutSnapshot(ctx context.Context, snap storage.SnapshotRecord) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	sessionID := strings.TrimSpace(snap.SessionID)
	if sessionID == "" {
		return storage.ErrSessionIDRequired
	}

	payload, err := json.Marshal(snapshotDocument{
		State:    snap.State,
		Checksum: snap.Checksum,
		TakenAt:  snap.TakenAt.UTC().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket([]byte(snapshotBucket))
		if parent == nil {
			return fmt.Errorf("snapshot bucket is missing")
		}
		bucket, err := parent.CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return fmt.Errorf("create session snapshot bucket: %w", err)
		}
		return bucket.Put(seqKey(snap.Seq), payload)
	})
}

// LatestSnapshot returns the highest-sequence snapshot for the session.
func (s *Store) LatestSnapshot(ctx context.Context, sessionID string) (storage.SnapshotRecord, error) {
	if err := s.guard(ctx); err != nil {
		return storage.SnapshotRecord{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return storage.SnapshotRecord{}, storage.ErrSessionIDRequired
	}

	var snap storage.SnapshotRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		parent := tx.Bucket([]byte(snapshotBucket))
		if parent == nil {
			return fmt.Errorf("snapshot bucket is missing")
		}
		bucket := parent.Bucket([]byte(sessionID))
		if bucket == nil {
			return storage.ErrNotFound
		}
		key, payload := bucket.Cursor().Last()
		if key == nil {
			return storage.ErrNotFound
		}
		var doc snapshotDocument
		if err := json.Unmarshal(payload, &doc); err != nil {
			return fmt.Errorf("unmarshal snapshot: %w", err)
		}
		snap = storage.SnapshotRecord{
			SessionID: sessionID,
			Seq:       binary.BigEndian.Uint64(key),
			State:     doc.State,
			Checksum:  doc.Checksum,
			TakenAt:   time.UnixMilli(doc.TakenAt).UTC(),
		}
		return nil
	})
	if err != nil {
		return storage.SnapshotRecord{}, err
	}
	return snap, nil
}

// PruneSnapshots deletes all but the newest keep snapshots for the session
// and reports how many entries were removed.
func (s *Store) PruneSnapshots(ctx context.Context, sessionID string, keep int) (int, error) {
	if err := s.guard(ctx); err != nil {
		return 0, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, storage.ErrSessionIDRequired
	}
	if keep < 0 {
		keep = 0
	}

	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket([]byte(snapshotBucket))
		if parent == nil {
			return fmt.Errorf("snapshot bucket is missing")
		}
		bucket := parent.Bucket([]byte(sessionID))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		kept := 0
		var stale [][]byte
		for key, _ := cursor.Last(); key != nil; key, _ = cursor.Prev() {
			if kept < keep {
				kept++
				continue
			}
			stale = append(stale, append([]byte(nil), key...))
		}
		for _, key := range stale {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("delete snapshot: %w", err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// PutIdempotency upserts one idempotency record as given.
func (s *Store) PutIdempotency(ctx context.Context, rec storage.IdempotencyRecord) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	sessionID := strings.TrimSpace(rec.SessionID)
	if sessionID == "" {
		return storage.ErrSessionIDRequired
	}
	token := strings.TrimSpace(rec.Token)
	if token == "" {
		return storage.ErrTokenRequired
	}

	payload, err := json.Marshal(idempotencyDocument{
		Fingerprint: rec.Fingerprint,
		Result:      rec.Delta,
		CreatedAt:   rec.CreatedAt.UTC().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket([]byte(idempotencyBucket))
		if parent == nil {
			return fmt.Errorf("idempotency bucket is missing")
		}
		bucket, err := parent.CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return fmt.Errorf("create session idempotency bucket: %w", err)
		}
		return bucket.Put([]byte(token), payload)
	})
}

// GetIdempotency retrieves one idempotency record by session and token.
func (s *Store) GetIdempotency(ctx context.Context, sessionID, token string) (storage.IdempotencyRecord, error) {
	if err := s.guard(ctx); err != nil {
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
	err := s.db.View(func(tx *bbolt.Tx) error {
		parent := tx.Bucket([]byte(idempotencyBucket))
		if parent == nil {
			return fmt.Errorf("idempotency bucket is missing")
		}
		bucket := parent.Bucket([]byte(sessionID))
		if bucket == nil {
			return storage.ErrNotFound
		}
		payload := bucket.Get([]byte(token))
		if payload == nil {
			return storage.ErrNotFound
		}
		var doc idempotencyDocument
		if err := json.Unmarshal(payload, &doc); err != nil {
			return fmt.Errorf("unmarshal idempotency record: %w", err)
		}
		rec = storage.IdempotencyRecord{
			SessionID:   sessionID,
			Token:       token,
			Fingerprint: doc.Fingerprint,
			Delta:       doc.Result,
			CreatedAt:   time.UnixMilli(doc.CreatedAt).UTC(),
		}
		return nil
	})
	if err != nil {
		return storage.IdempotencyRecord{}, err
	}
	return rec, nil
}

// PruneIdempotency deletes records created before the cutoff across every
// session and reports how many entries were removed.
func (s *Store) PruneIdempotency(ctx context.Context, before time.Time) (int, error) {
	if err := s.guard(ctx); err != nil {
		return 0, err
	}
	cutoff := before.UTC().UnixMilli()

	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket([]byte(idempotencyBucket))
		if parent == nil {
			return fmt.Errorf("idempotency bucket is missing")
		}

		var emptied [][]byte
		parentCursor := parent.Cursor()
		for name, value := parentCursor.First(); name != nil; name, value = parentCursor.Next() {
			if value != nil {
				continue
			}
			bucket := parent.Bucket(name)
			if bucket == nil {
				continue
			}
			var stale [][]byte
			cursor := bucket.Cursor()
			for key, payload := cursor.First(); key != nil; key, payload = cursor.Next() {
				var doc idempotencyDocument
				if err := json.Unmarshal(payload, &doc); err != nil {
					return fmt.Errorf("unmarshal idempotency record: %w", err)
				}
				if doc.CreatedAt < cutoff {
					stale = append(stale, append([]byte(nil), key...))
				}
			}
			for _, key := range stale {
				if err := bucket.Delete(key); err != nil {
					return fmt.Errorf("delete idempotency record: %w", err)
				}
				removed++
			}
			if first, _ := bucket.Cursor().First(); first == nil {
				emptied = append(emptied, append([]byte(nil), name...))
			}
		}
		for _, name := range emptied {
			if err := parent.DeleteBucket(name); err != nil {
				return fmt.Errorf("delete empty session bucket: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
