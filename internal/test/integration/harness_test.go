//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/api"
	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/intent"
	"github.com/ttrpg-tools/crossfire/internal/combat/service"
	"github.com/ttrpg-tools/crossfire/internal/combat/session"
	"github.com/ttrpg-tools/crossfire/internal/combat/storage/sqlite"
	mcpclient "github.com/ttrpg-tools/crossfire/internal/mcp"
)

// integrationGM identifies the game master actor across integration tests.
const integrationGM = "gm-1"

// integrationTimeout returns the default timeout for integration calls.
func integrationTimeout() time.Duration {
	return 10 * time.Second
}

// combatFixture is one combat deployment: a sqlite store, the service on top
// of it, and the HTTP API on an ephemeral listener.
type combatFixture struct {
	store  *sqlite.Store
	svc    *service.Service
	server *httptest.Server
	client *mcpclient.Client
}

// openCombatStore opens a fresh sqlite store under the test's temp dir.
func openCombatStore(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "combat.db"), event.DefaultRegistry())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close sqlite store: %v", err)
		}
	})
	return store
}

// startCombatAPI boots the combat service on the store and serves its HTTP
// API. Production wiring throughout: real clock, real ids, real seeds.
func startCombatAPI(t *testing.T, store *sqlite.Store) *combatFixture {
	t.Helper()

	svc, err := service.New(service.Config{
		Journal:   store,
		Sessions:  store,
		Snapshots: store,
		Tokens:    store,
	})
	if err != nil {
		t.Fatalf("new combat service: %v", err)
	}
	t.Cleanup(svc.Close)

	server := httptest.NewServer(api.NewHandler(svc))
	t.Cleanup(server.Close)

	client, err := mcpclient.NewClient(server.URL)
	if err != nil {
		t.Fatalf("new combat client: %v", err)
	}
	return &combatFixture{store: store, svc: svc, server: server, client: client}
}

// startCombatServer boots a complete single-store fixture.
func startCombatServer(t *testing.T) *combatFixture {
	t.Helper()
	return startCombatAPI(t, openCombatStore(t))
}

// stop shuts the fixture's API and service down ahead of cleanup, leaving
// the store open for a successor process.
func (f *combatFixture) stop() {
	f.server.Close()
	f.svc.Close()
}

// latestSeq pages the session journal and returns the highest sequence.
func latestSeq(t *testing.T, ctx context.Context, client *mcpclient.Client, sessionID string) uint64 {
	t.Helper()

	var last uint64
	for {
		events, err := client.ListEvents(ctx, sessionID, last, 200)
		if err != nil {
			t.Fatalf("list events: %v", err)
		}
		if len(events) == 0 {
			return last
		}
		last = events[len(events)-1].Seq
	}
}

// requireEventAppended asserts the mutation moved the journal forward past
// the mark and returns the new head sequence.
func requireEventAppended(t *testing.T, ctx context.Context, client *mcpclient.Client, sessionID, label string, before uint64) uint64 {
	t.Helper()

	after := latestSeq(t, ctx, client, sessionID)
	if after <= before {
		t.Fatalf("expected %s to append events: before=%d after=%d", label, before, after)
	}
	return after
}

// requireSeqUnchanged asserts nothing landed in the journal since the mark.
func requireSeqUnchanged(t *testing.T, ctx context.Context, client *mcpclient.Client, sessionID, label string, before uint64) {
	t.Helper()

	after := latestSeq(t, ctx, client, sessionID)
	if after != before {
		t.Fatalf("expected %s to append nothing: before=%d after=%d", label, before, after)
	}
}

// requireEventType asserts an event of the given type landed after the mark.
func requireEventType(t *testing.T, ctx context.Context, client *mcpclient.Client, sessionID string, after uint64, eventType event.Type) {
	t.Helper()

	events, err := client.ListEvents(ctx, sessionID, after, 200)
	if err != nil {
		t.Fatalf("list events after %d: %v", after, err)
	}
	for _, evt := range events {
		if evt.Type == string(eventType) {
			return
		}
	}
	t.Fatalf("expected event type %s after seq %d in session %s", eventType, after, sessionID)
}

// mustJSON encodes an intent payload.
func mustJSON(t *testing.T, payload map[string]any) json.RawMessage {
	t.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return data
}

// gmSubmission builds a game master intent submission.
func gmSubmission(t *testing.T, kind intent.Kind, payload map[string]any) mcpclient.IntentSubmission {
	t.Helper()

	return mcpclient.IntentSubmission{
		Kind:      string(kind),
		ActorType: string(intent.ActorTypeGM),
		ActorID:   integrationGM,
		Payload:   mustJSON(t, payload),
	}
}

// participantSubmission builds an intent submission attributed to a combatant.
func participantSubmission(t *testing.T, kind intent.Kind, actorID string, payload map[string]any) mcpclient.IntentSubmission {
	t.Helper()

	return mcpclient.IntentSubmission{
		Kind:      string(kind),
		ActorType: string(intent.ActorTypeParticipant),
		ActorID:   actorID,
		Payload:   mustJSON(t, payload),
	}
}

// submitAccepted submits an intent and fails the test on rejection.
func submitAccepted(t *testing.T, ctx context.Context, client *mcpclient.Client, sessionID string, sub mcpclient.IntentSubmission) *session.StateDelta {
	t.Helper()

	delta, err := client.SubmitIntent(ctx, sessionID, sub)
	if err != nil {
		t.Fatalf("%s: %v", sub.Kind, err)
	}
	return delta
}

// requireRejectionCode submits an intent and asserts the rejection code.
func requireRejectionCode(t *testing.T, ctx context.Context, client *mcpclient.Client, sessionID string, sub mcpclient.IntentSubmission, code string) {
	t.Helper()

	_, err := client.SubmitIntent(ctx, sessionID, sub)
	if err == nil {
		t.Fatalf("expected %s to be rejected with %s", sub.Kind, code)
	}
	var rejection *mcpclient.RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected a rejection error for %s, got %v", sub.Kind, err)
	}
	if rejection.Code != code {
		t.Fatalf("expected rejection code %s for %s, got %s (%s)", code, sub.Kind, rejection.Code, rejection.Reason)
	}
}

// addParticipant enrolls a combatant and returns the assigned identifier.
func addParticipant(t *testing.T, ctx context.Context, client *mcpclient.Client, sessionID string, payload map[string]any) string {
	t.Helper()

	delta := submitAccepted(t, ctx, client, sessionID, gmSubmission(t, intent.KindParticipantAdd, payload))
	for _, evt := range delta.Events {
		if evt.Type == string(event.TypeParticipantAdded) {
			return evt.EntityID
		}
	}
	t.Fatal("participant add delta carries no participant.added event")
	return ""
}

// decodeStructuredContent decodes structured MCP content into the target type.
func decodeStructuredContent[T any](t *testing.T, value any) T {
	t.Helper()

	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	var output T
	if err := json.Unmarshal(data, &output); err != nil {
		t.Fatalf("unmarshal structured content: %v", err)
	}
	return output
}

// repoRoot returns the repository root by walking up to go.mod.
func repoRoot(t *testing.T) string {
	t.Helper()

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve runtime caller")
	}

	dir := filepath.Dir(filename)
	for {
		candidate := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(candidate); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	t.Fatalf("go.mod not found from %s", filename)
	return ""
}
