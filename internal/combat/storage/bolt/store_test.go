package bolt

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/storage"
)

func testStamp(min int) time.Time {
	return time.Date(2026, 3, 14, 15, min, 0, 0, time.UTC)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "combat.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close bolt store: %v", err)
		}
	})
	return store
}

func TestSnapshotLatestAndPrune(t *testing.T) {
	store := openTestStore(t)

	for _, seq := range []uint64{8, 16, 24} {
		snap := storage.SnapshotRecord{
			SessionID: "sess-a",
			Seq:       seq,
			State:     []byte(fmt.Sprintf(`{"seq":%d}`, seq)),
			Checksum:  fmt.Sprintf("sum-%d", seq),
			TakenAt:   testStamp(int(seq)),
		}
		if err := store.PutSnapshot(context.Background(), snap); err != nil {
			t.Fatalf("put snapshot %d: %v", seq, err)
		}
	}

	latest, err := store.LatestSnapshot(context.Background(), "sess-a")
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if latest.Seq != 24 || latest.Checksum != "sum-24" || string(latest.State) != `{"seq":24}` {
		t.Fatalf("latest = %+v, want seq 24", latest)
	}
	if !latest.TakenAt.Equal(testStamp(24)) {
		t.Fatalf("taken at = %v, want %v", latest.TakenAt, testStamp(24))
	}

	removed, err := store.PruneSnapshots(context.Background(), "sess-a", 1)
	if err != nil {
		t.Fatalf("prune snapshots: %v", err)
	}
	if removed != 2 {
		t.Fatalf("pruned %d snapshots, want 2", removed)
	}
	latest, err = store.LatestSnapshot(context.Background(), "sess-a")
	if err != nil {
		t.Fatalf("latest after prune: %v", err)
	}
	if latest.Seq != 24 {
		t.Fatalf("prune removed the newest snapshot, latest = %d", latest.Seq)
	}

	if _, err := store.LatestSnapshot(context.Background(), "sess-missing"); !stderrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing snapshot error = %v, want ErrNotFound", err)
	}
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combat.bolt")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	snap := storage.SnapshotRecord{
		SessionID: "sess-a",
		Seq:       4,
		State:     []byte(`{"seq":4}`),
		Checksum:  "sum-4",
		TakenAt:   testStamp(0),
	}
	if err := store.PutSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("put snapshot: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.LatestSnapshot(context.Background(), "sess-a")
	if err != nil {
		t.Fatalf("latest after reopen: %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Fatalf("snapshot after reopen = %+v, want %+v", got, snap)
	}
}

func TestIdempotencyRoundTripAndPrune(t *testing.T) {
	store := openTestStore(t)

	stale := storage.IdempotencyRecord{
		SessionID:   "sess-a",
		Token:       "tok-old",
		Fingerprint: "fp-0",
		Delta:       []byte(`{"last_seq":1}`),
		CreatedAt:   testStamp(0),
	}
	fresh := storage.IdempotencyRecord{
		SessionID:   "sess-b",
		Token:       "tok-new",
		Fingerprint: "fp-1",
		Delta:       []byte(`{"last_seq":3}`),
		CreatedAt:   testStamp(30),
	}
	for _, rec := range []storage.IdempotencyRecord{stale, fresh} {
		if err := store.PutIdempotency(context.Background(), rec); err != nil {
			t.Fatalf("put idempotency %s: %v", rec.Token, err)
		}
	}

	got, err := store.GetIdempotency(context.Background(), "sess-b", "tok-new")
	if err != nil {
		t.Fatalf("get idempotency: %v", err)
	}
	if !reflect.DeepEqual(got, fresh) {
		t.Fatalf("record = %+v, want %+v", got, fresh)
	}

	removed, err := store.PruneIdempotency(context.Background(), testStamp(15))
	if err != nil {
		t.Fatalf("prune idempotency: %v", err)
	}
	if removed != 1 {
		t.Fatalf("pruned %d records, want 1", removed)
	}
	if _, err := store.GetIdempotency(context.Background(), "sess-a", "tok-old"); !stderrors.Is(err, storage.ErrNotFound) {
		t.Fatalf("stale record error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetIdempotency(context.Background(), "sess-b", "tok-new"); err != nil {
		t.Fatalf("fresh record lost: %v", err)
	}

	if err := store.PutIdempotency(context.Background(), storage.IdempotencyRecord{SessionID: "sess-a", Token: ""}); !stderrors.Is(err, storage.ErrTokenRequired) {
		t.Fatalf("blank token error = %v, want ErrTokenRequired", err)
	}
}
