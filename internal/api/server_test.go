package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/journal"
	"github.com/ttrpg-tools/crossfire/internal/combat/service"
)

func testClock() time.Time {
	return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
}

func sequentialIDs() func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("cf-%03d", n), nil
	}
}

func newTestService(t *testing.T) *service.Service {
	t.Helper()
	svc, err := service.New(service.Config{
		Journal: journal.NewMemory(event.DefaultRegistry()),
		Now:     testClock,
		NewID:   sequentialIDs(),
		NewSeed: func() (int64, error) { return 41, nil },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func newTestServer(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()
	svc := newTestService(t)
	srv := httptest.NewServer(NewHandler(svc))
	t.Cleanup(srv.Close)
	return srv, svc
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (int, response) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var envelope response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response envelope: %v", err)
	}
	return resp.StatusCode, envelope
}

func createSessionHTTP(t *testing.T, srv *httptest.Server, name string) string {
	t.Helper()
	status, envelope := doJSON(t, http.MethodPost, srv.URL+"/sessions", map[string]any{"name": name}, nil)
	if status != http.StatusCreated {
		t.Fatalf("create session status = %d, want %d", status, http.StatusCreated)
	}
	if envelope.Delta == nil || envelope.Delta.Snapshot.SessionID == "" {
		t.Fatalf("create session returned no session id: %+v", envelope)
	}
	return envelope.Delta.Snapshot.SessionID
}

func submitIntentHTTP(t *testing.T, srv *httptest.Server, sessionID string, body map[string]any, headers map[string]string) (int, response) {
	t.Helper()
	return doJSON(t, http.MethodPost, srv.URL+"/sessions/"+sessionID+"/intents", body, headers)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/up")
	if err != nil {
		t.Fatalf("get /up: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "OK" {
		t.Fatalf("body = %q, want OK", body)
	}
}

func TestCreateSessionReturnsOpeningDelta(t *testing.T) {
	srv, _ := newTestServer(t)

	status, envelope := doJSON(t, http.MethodPost, srv.URL+"/sessions", map[string]any{"name": "Docks Ambush"}, nil)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, want %d", status, http.StatusCreated)
	}
	if !envelope.Accepted {
		t.Fatalf("accepted = false, want true: %+v", envelope.Error)
	}
	if envelope.Delta == nil {
		t.Fatal("expected delta in response")
	}
	if envelope.Delta.LastSeq != 1 {
		t.Fatalf("last seq = %d, want 1", envelope.Delta.LastSeq)
	}
	if len(envelope.Delta.Events) != 1 || envelope.Delta.Events[0].Type != "session.started" {
		t.Fatalf("events = %+v, want one session.started", envelope.Delta.Events)
	}
	snap := envelope.Delta.Snapshot
	if snap.SessionID != "cf-001" {
		t.Fatalf("session id = %q, want cf-001", snap.SessionID)
	}
	if snap.Name != "Docks Ambush" {
		t.Fatalf("name = %q, want Docks Ambush", snap.Name)
	}
	if snap.Status != "setup" {
		t.Fatalf("status = %q, want setup", snap.Status)
	}
	wantOrder := []string{"physical", "astral", "matrix"}
	if len(snap.PlaneOrder) != len(wantOrder) {
		t.Fatalf("plane order = %v, want %v", snap.PlaneOrder, wantOrder)
	}
	for i, pl := range wantOrder {
		if snap.PlaneOrder[i] != pl {
			t.Fatalf("plane order = %v, want %v", snap.PlaneOrder, wantOrder)
		}
	}
}

func TestCreateSessionCustomPlaneOrder(t *testing.T) {
	srv, _ := newTestServer(t)

	status, envelope := doJSON(t, http.MethodPost, srv.URL+"/sessions", map[string]any{
		"name":        "Matrix First",
		"plane_order": []string{"matrix", "physical", "astral"},
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, want %d", status, http.StatusCreated)
	}
	got := envelope.Delta.Snapshot.PlaneOrder
	want := []string{"matrix", "physical", "astral"}
	if len(got) != len(want) {
		t.Fatalf("plane order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("plane order = %v, want %v", got, want)
		}
	}
}

func TestCreateSessionRejectsDuplicatePlanes(t *testing.T) {
	srv, _ := newTestServer(t)

	status, envelope := doJSON(t, http.MethodPost, srv.URL+"/sessions", map[string]any{
		"name":        "Broken Order",
		"plane_order": []string{"physical", "physical", "astral"},
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", status, http.StatusBadRequest)
	}
	if envelope.Accepted {
		t.Fatal("accepted = true, want false")
	}
	if envelope.Error == nil || envelope.Error.Code != "PLANE_ORDER_INVALID" {
		t.Fatalf("error = %+v, want PLANE_ORDER_INVALID", envelope.Error)
	}
}

func TestSessionStateReturnsSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSessionHTTP(t, srv, "Docks Ambush")

	status, envelope := doJSON(t, http.MethodGet, srv.URL+"/sessions/"+sessionID, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
	if !envelope.Accepted || envelope.State == nil {
		t.Fatalf("expected accepted state response, got %+v", envelope)
	}
	if envelope.State.SessionID != sessionID {
		t.Fatalf("session id = %q, want %q", envelope.State.SessionID, sessionID)
	}
	if envelope.State.Checksum == "" {
		t.Fatal("expected state checksum")
	}
}

func TestSessionStateUnknownSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	status, envelope := doJSON(t, http.MethodGet, srv.URL+"/sessions/ghost", nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", status, http.StatusNotFound)
	}
	if envelope.Accepted {
		t.Fatal("accepted = true, want false")
	}
	if envelope.Error == nil || envelope.Error.Code != "NOT_FOUND" {
		t.Fatalf("error = %+v, want NOT_FOUND", envelope.Error)
	}
}

func TestErrorReasonLocalization(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name    string
		query   string
		headers map[string]string
		want    string
	}{
		{
			name: "default english",
			want: "The requested resource was not found",
		},
		{
			name:  "lang query",
			query: "?lang=pt-BR",
			want:  "O recurso solicitado não foi encontrado",
		},
		{
			name:    "accept language header",
			headers: map[string]string{"Accept-Language": "pt-BR,pt;q=0.9"},
			want:    "O recurso solicitado não foi encontrado",
		},
		{
			name:    "lang query wins over header",
			query:   "?lang=en-US",
			headers: map[string]string{"Accept-Language": "pt-BR"},
			want:    "The requested resource was not found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, envelope := doJSON(t, http.MethodGet, srv.URL+"/sessions/ghost"+tc.query, nil, tc.headers)
			if envelope.Error == nil {
				t.Fatal("expected error envelope")
			}
			if envelope.Error.Reason != tc.want {
				t.Fatalf("reason = %q, want %q", envelope.Error.Reason, tc.want)
			}
		})
	}
}

func TestListSessionsReturnsSummaries(t *testing.T) {
	srv, _ := newTestServer(t)
	createSessionHTTP(t, srv, "Docks Ambush")
	createSessionHTTP(t, srv, "Rooftop Chase")

	status, envelope := doJSON(t, http.MethodGet, srv.URL+"/sessions", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
	if len(envelope.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(envelope.Sessions))
	}
	first := envelope.Sessions[0]
	if first.SessionID != "cf-001" || first.Name != "Docks Ambush" {
		t.Fatalf("first summary = %+v", first)
	}
	if first.Status != "setup" {
		t.Fatalf("status = %q, want setup", first.Status)
	}
	if first.CreatedAt != "2026-03-14T15:09:26Z" {
		t.Fatalf("created at = %q", first.CreatedAt)
	}
}

func TestSubmitIntentAppliesParticipantAdd(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSessionHTTP(t, srv, "Docks Ambush")

	status, envelope := submitIntentHTTP(t, srv, sessionID, map[string]any{
		"kind":       "participant.add",
		"actor_type": "gm",
		"actor_id":   "gm-1",
		"payload": map[string]any{
			"name":     "Aria",
			"kind":     "player",
			"presence": map[string]bool{"physical": true},
		},
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d: %+v", status, http.StatusOK, envelope.Error)
	}
	if !envelope.Accepted || envelope.Delta == nil {
		t.Fatalf("expected accepted delta, got %+v", envelope)
	}
	if len(envelope.Delta.Events) != 1 || envelope.Delta.Events[0].Type != "participant.added" {
		t.Fatalf("events = %+v, want one participant.added", envelope.Delta.Events)
	}
	participants := envelope.Delta.Snapshot.Participants
	if len(participants) != 1 || participants[0].Name != "Aria" {
		t.Fatalf("participants = %+v, want Aria", participants)
	}
}

func TestSubmitIntentRejectionMapsConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSessionHTTP(t, srv, "Docks Ambush")

	status, envelope := submitIntentHTTP(t, srv, sessionID, map[string]any{
		"kind":       "combat.begin",
		"actor_type": "gm",
		"actor_id":   "gm-1",
	}, nil)
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want %d", status, http.StatusConflict)
	}
	if envelope.Accepted {
		t.Fatal("accepted = true, want false")
	}
	if envelope.Error == nil || envelope.Error.Code != "INITIATIVE_NOT_ROLLED" {
		t.Fatalf("error = %+v, want INITIATIVE_NOT_ROLLED", envelope.Error)
	}
	if envelope.Error.Reason == "" {
		t.Fatal("expected a localized reason")
	}
}

func TestSubmitIntentIdempotencyKeyHeader(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSessionHTTP(t, srv, "Docks Ambush")

	body := map[string]any{
		"kind":       "participant.add",
		"actor_type": "gm",
		"actor_id":   "gm-1",
		"payload": map[string]any{
			"name":     "Aria",
			"kind":     "player",
			"presence": map[string]bool{"physical": true},
		},
	}
	headers := map[string]string{"Idempotency-Key": "tok-add"}

	status, first := submitIntentHTTP(t, srv, sessionID, body, headers)
	if status != http.StatusOK {
		t.Fatalf("first submit status = %d: %+v", status, first.Error)
	}

	status, replay := submitIntentHTTP(t, srv, sessionID, body, headers)
	if status != http.StatusOK {
		t.Fatalf("replay status = %d: %+v", status, replay.Error)
	}
	if replay.Delta == nil || replay.Delta.LastSeq != first.Delta.LastSeq {
		t.Fatalf("replay delta = %+v, want last seq %d", replay.Delta, first.Delta.LastSeq)
	}

	conflicting := map[string]any{
		"kind":       "participant.add",
		"actor_type": "gm",
		"actor_id":   "gm-1",
		"payload": map[string]any{
			"name":     "Sable",
			"kind":     "npc",
			"presence": map[string]bool{"physical": true},
		},
	}
	status, conflict := submitIntentHTTP(t, srv, sessionID, conflicting, headers)
	if status != http.StatusConflict {
		t.Fatalf("conflict status = %d, want %d", status, http.StatusConflict)
	}
	if conflict.Error == nil || conflict.Error.Code != "CONFLICT" {
		t.Fatalf("error = %+v, want CONFLICT", conflict.Error)
	}
}

func TestSubmitIntentTokenMismatchRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSessionHTTP(t, srv, "Docks Ambush")

	status, envelope := submitIntentHTTP(t, srv, sessionID, map[string]any{
		"kind":       "participant.add",
		"actor_type": "gm",
		"actor_id":   "gm-1",
		"token":      "tok-body",
		"payload":    map[string]any{"name": "Aria", "kind": "player"},
	}, map[string]string{"Idempotency-Key": "tok-header"})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", status, http.StatusBadRequest)
	}
	if envelope.Error == nil || envelope.Error.Code != "INTENT_INVALID" {
		t.Fatalf("error = %+v, want INTENT_INVALID", envelope.Error)
	}
}

func TestCancelUnknownIntentNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSessionHTTP(t, srv, "Docks Ambush")

	status, envelope := doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+sessionID+"/intents/tok-ghost", nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", status, http.StatusNotFound)
	}
	if envelope.Error == nil || envelope.Error.Code != "NOT_FOUND" {
		t.Fatalf("error = %+v, want NOT_FOUND", envelope.Error)
	}
}

func TestEventListPagination(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSessionHTTP(t, srv, "Docks Ambush")
	for _, name := range []string{"Aria", "Sable"} {
		status, envelope := submitIntentHTTP(t, srv, sessionID, map[string]any{
			"kind":       "participant.add",
			"actor_type": "gm",
			"actor_id":   "gm-1",
			"payload":    map[string]any{"name": name, "kind": "player", "presence": map[string]bool{"physical": true}},
		}, nil)
		if status != http.StatusOK {
			t.Fatalf("add %s status = %d: %+v", name, status, envelope.Error)
		}
	}

	status, envelope := doJSON(t, http.MethodGet, srv.URL+"/sessions/"+sessionID+"/events", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d", status, http.StatusOK)
	}
	if len(envelope.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(envelope.Events))
	}
	for i, evt := range envelope.Events {
		if evt.Seq != uint64(i+1) {
			t.Fatalf("event %d seq = %d, want %d", i, evt.Seq, i+1)
		}
		if evt.Hash == "" || evt.ChainHash == "" || evt.StateChecksum == "" {
			t.Fatalf("event %d missing integrity fields: %+v", i, evt)
		}
	}
	if envelope.Events[0].Type != "session.started" {
		t.Fatalf("first event type = %q", envelope.Events[0].Type)
	}

	status, page := doJSON(t, http.MethodGet, srv.URL+"/sessions/"+sessionID+"/events?after_seq=1&limit=1", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("page status = %d", status)
	}
	if len(page.Events) != 1 || page.Events[0].Seq != 2 {
		t.Fatalf("page = %+v, want single event seq 2", page.Events)
	}

	status, tail := doJSON(t, http.MethodGet, srv.URL+"/sessions/"+sessionID+"/events?after_seq=3", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("tail status = %d", status)
	}
	if len(tail.Events) != 0 {
		t.Fatalf("tail = %+v, want empty", tail.Events)
	}
}

func TestEventListUnknownSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	status, envelope := doJSON(t, http.MethodGet, srv.URL+"/sessions/ghost/events", nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", status, http.StatusNotFound)
	}
	if envelope.Error == nil || envelope.Error.Code != "NOT_FOUND" {
		t.Fatalf("error = %+v, want NOT_FOUND", envelope.Error)
	}
}

func TestEventListRejectsBadQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSessionHTTP(t, srv, "Docks Ambush")

	for _, query := range []string{"?after_seq=minus", "?limit=abc", "?limit=-5"} {
		status, envelope := doJSON(t, http.MethodGet, srv.URL+"/sessions/"+sessionID+"/events"+query, nil, nil)
		if status != http.StatusBadRequest {
			t.Fatalf("query %q status = %d, want %d", query, status, http.StatusBadRequest)
		}
		if envelope.Error == nil || envelope.Error.Code != "INTENT_INVALID" {
			t.Fatalf("query %q error = %+v, want INTENT_INVALID", query, envelope.Error)
		}
	}
}

func TestEndSessionReturnsFinalDelta(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSessionHTTP(t, srv, "Docks Ambush")

	status, envelope := doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+sessionID, map[string]any{
		"actor_id": "gm-1",
		"reason":   "wrapped",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want %d: %+v", status, http.StatusOK, envelope.Error)
	}
	if envelope.Delta == nil || envelope.Delta.Snapshot.Status != "ended" {
		t.Fatalf("delta = %+v, want ended snapshot", envelope.Delta)
	}
	last := envelope.Delta.Events[len(envelope.Delta.Events)-1]
	if last.Type != "session.ended" {
		t.Fatalf("last event = %+v, want session.ended", last)
	}

	// The ended session is still readable; state reopens from the journal.
	status, state := doJSON(t, http.MethodGet, srv.URL+"/sessions/"+sessionID, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("state status = %d, want %d", status, http.StatusOK)
	}
	if state.State == nil || state.State.Status != "ended" {
		t.Fatalf("state = %+v, want ended", state.State)
	}
}

func TestInvalidJSONBodyRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/sessions", "application/json", strings.NewReader("{broken"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	var envelope response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error == nil || envelope.Error.Code != "INTENT_INVALID" {
		t.Fatalf("error = %+v, want INTENT_INVALID", envelope.Error)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := createSessionHTTP(t, srv, "Docks Ambush")

	req, err := http.NewRequest(http.MethodPatch, srv.URL+"/sessions/"+sessionID, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}
