package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/event"
)

func journalEvent(sessionID string, payload string, stamp time.Time) event.Event {
	return event.Event{
		SessionID:   sessionID,
		Timestamp:   stamp,
		Type:        event.TypeSessionStarted,
		ActorType:   event.ActorTypeSystem,
		EntityType:  "session",
		EntityID:    sessionID,
		PayloadJSON: []byte(payload),
	}
}

func TestMemoryAppend_AssignsSeqAndHashes(t *testing.T) {
	store := NewMemory(event.DefaultRegistry())
	stamp := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	first, err := store.Append(context.Background(), journalEvent("sess-1", `{"name":"one"}`, stamp))
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.Seq != 1 {
		t.Fatalf("first seq = %d, want 1", first.Seq)
	}
	if first.Hash == "" {
		t.Fatal("expected first hash")
	}
	if first.PrevHash != "" {
		t.Fatalf("first prev hash = %q, want empty", first.PrevHash)
	}
	if first.ChainHash == "" {
		t.Fatal("expected first chain hash")
	}

	second, err := store.Append(context.Background(), journalEvent("sess-1", `{"name":"two"}`, stamp.Add(time.Minute)))
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if second.Seq != 2 {
		t.Fatalf("second seq = %d, want 2", second.Seq)
	}
	if second.PrevHash != first.ChainHash {
		t.Fatalf("second prev hash = %q, want %q", second.PrevHash, first.ChainHash)
	}
	if second.ChainHash == first.ChainHash {
		t.Fatal("chain hash did not advance")
	}
}

func TestMemoryAppend_IndependentChainsPerSession(t *testing.T) {
	store := NewMemory(event.DefaultRegistry())
	stamp := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	if _, err := store.Append(context.Background(), journalEvent("sess-1", `{"name":"one"}`, stamp)); err != nil {
		t.Fatalf("append sess-1: %v", err)
	}
	other, err := store.Append(context.Background(), journalEvent("sess-2", `{"name":"two"}`, stamp))
	if err != nil {
		t.Fatalf("append sess-2: %v", err)
	}
	if other.Seq != 1 {
		t.Fatalf("sess-2 seq = %d, want 1", other.Seq)
	}
	if other.PrevHash != "" {
		t.Fatalf("sess-2 prev hash = %q, want empty", other.PrevHash)
	}
}

func TestMemoryAppend_RejectsUnknownType(t *testing.T) {
	store := NewMemory(event.DefaultRegistry())
	stamp := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	evt := journalEvent("sess-1", `{}`, stamp)
	evt.Type = event.Type("combat.unknown")
	if _, err := store.Append(context.Background(), evt); !errors.Is(err, event.ErrTypeUnknown) {
		t.Fatalf("append error = %v, want ErrTypeUnknown", err)
	}
}

func TestMemoryListEvents_PagesAscending(t *testing.T) {
	store := NewMemory(event.DefaultRegistry())
	stamp := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if _, err := store.Append(context.Background(), journalEvent("sess-1", `{"name":"n"}`, stamp.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	page, err := store.ListEvents(context.Background(), "sess-1", 2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Seq != 3 || page[1].Seq != 4 {
		t.Fatalf("page seqs = %v, want [3 4]", seqsOf(page))
	}

	tail, err := store.ListEvents(context.Background(), "sess-1", 4, 10)
	if err != nil {
		t.Fatalf("list tail: %v", err)
	}
	if len(tail) != 1 || tail[0].Seq != 5 {
		t.Fatalf("tail seqs = %v, want [5]", seqsOf(tail))
	}

	empty, err := store.ListEvents(context.Background(), "sess-1", 5, 10)
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no events past the end, got %v", seqsOf(empty))
	}
}

func TestMemoryLatestSeq(t *testing.T) {
	store := NewMemory(event.DefaultRegistry())
	stamp := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	seq, err := store.LatestSeq(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if seq != 0 {
		t.Fatalf("seq = %d, want 0 for empty stream", seq)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.Append(context.Background(), journalEvent("sess-1", `{"name":"n"}`, stamp)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	seq, err = store.LatestSeq(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if seq != 3 {
		t.Fatalf("seq = %d, want 3", seq)
	}
}

func TestMemoryListEvents_ReturnsCopies(t *testing.T) {
	store := NewMemory(event.DefaultRegistry())
	stamp := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	if _, err := store.Append(context.Background(), journalEvent("sess-1", `{"name":"n"}`, stamp)); err != nil {
		t.Fatalf("append: %v", err)
	}

	page, err := store.ListEvents(context.Background(), "sess-1", 0, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	page[0].PayloadJSON[0] = 'X'

	again, err := store.ListEvents(context.Background(), "sess-1", 0, 1)
	if err != nil {
		t.Fatalf("list again: %v", err)
	}
	if again[0].PayloadJSON[0] == 'X' {
		t.Fatal("caller mutation leaked into the store")
	}
}

func seqsOf(events []event.Event) []uint64 {
	out := make([]uint64, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.Seq)
	}
	return out
}

type stubStore struct {
	events []event.Event
}

func (s *stubStore) Append(ctx context.Context, evt event.Event) (event.Event, error) {
	return event.Event{}, errors.New("append not supported")
}

func (s *stubStore) ListEvents(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]event.Event, error) {
	var out []event.Event
	for _, evt := range s.events {
		if evt.Seq > afterSeq {
			out = append(out, evt)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stubStore) LatestSeq(ctx context.Context, sessionID string) (uint64, error) {
	if len(s.events) == 0 {
		return 0, nil
	}
	return s.events[len(s.events)-1].Seq, nil
}

func TestVerifyChain(t *testing.T) {
	store := NewMemory(event.DefaultRegistry())
	stamp := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := store.Append(context.Background(), journalEvent("sess-1", `{"name":"n"}`, stamp.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := VerifyChain(context.Background(), store, "sess-1"); err != nil {
		t.Fatalf("verify intact chain: %v", err)
	}

	intact, err := store.ListEvents(context.Background(), "sess-1", 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	tests := []struct {
		name   string
		tamper func([]event.Event) []event.Event
	}{
		{"payload flipped", func(events []event.Event) []event.Event {
			events[1].PayloadJSON = []byte(`{"name":"forged"}`)
			return events
		}},
		{"chain hash flipped", func(events []event.Event) []event.Event {
			events[2].ChainHash = "00000000000000000000000000000000"
			return events
		}},
		{"event dropped", func(events []event.Event) []event.Event {
			return append(events[:1], events[2:]...)
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			copied := make([]event.Event, len(intact))
			for i, evt := range intact {
				copied[i] = evt
				copied[i].PayloadJSON = append([]byte(nil), evt.PayloadJSON...)
			}
			store := &stubStore{events: tc.tamper(copied)}
			if err := VerifyChain(context.Background(), store, "sess-1"); err == nil {
				t.Fatal("expected a verification error")
			}
		})
	}
}
