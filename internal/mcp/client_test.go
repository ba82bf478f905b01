package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClientNormalizesAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		want    string
		wantErr bool
	}{
		{name: "empty", addr: "", wantErr: true},
		{name: "blank", addr: "   ", wantErr: true},
		{name: "missing host", addr: "http://", wantErr: true},
		{name: "bare host port", addr: "localhost:8084", want: "http://localhost:8084"},
		{name: "explicit scheme", addr: "http://combat.internal:8084", want: "http://combat.internal:8084"},
		{name: "trailing slash", addr: "http://localhost:8084/", want: "http://localhost:8084"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.addr)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewClient(%q) succeeded, want error", tt.addr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient(%q): %v", tt.addr, err)
			}
			if client.baseURL != tt.want {
				t.Fatalf("base URL = %q, want %q", client.baseURL, tt.want)
			}
		})
	}
}

func TestClientSurfacesEnvelopeRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accepted": false,
			"error":    map[string]string{"code": "OUT_OF_TURN", "reason": "It is not this combatant's turn"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.SubmitIntent(context.Background(), "cf-001", IntentSubmission{Kind: "action.perform"})
	if err == nil {
		t.Fatal("expected rejection error")
	}
	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("error %v is not a RejectionError", err)
	}
	if rejection.Code != "OUT_OF_TURN" {
		t.Fatalf("code = %q, want OUT_OF_TURN", rejection.Code)
	}
	if rejection.Reason != "It is not this combatant's turn" {
		t.Fatalf("reason = %q", rejection.Reason)
	}
	if rejection.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rejection.StatusCode, http.StatusConflict)
	}
}

func TestClientRejectsDeclineWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": false})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.SessionState(context.Background(), "cf-001")
	if err == nil || !strings.Contains(err.Error(), "declined") {
		t.Fatalf("err = %v, want declined", err)
	}
}

func TestClientRequiresDeltaOnCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": true})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.CreateSession(context.Background(), "Docks Ambush", nil)
	if err == nil || !strings.Contains(err.Error(), "missing the delta") {
		t.Fatalf("err = %v, want missing the delta", err)
	}
}

func TestClientSubmitIntentForwardsBody(t *testing.T) {
	var got submitIntentBody
	var gotPath, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accepted": true,
			"delta": map[string]any{
				"last_seq": 2,
				"snapshot": map[string]any{"session_id": "cf-001"},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	delta, err := client.SubmitIntent(context.Background(), "cf-001", IntentSubmission{
		Kind:      "participant.add",
		ActorType: "gm",
		ActorID:   "gm-1",
		Token:     "tok-1",
		Payload:   json.RawMessage(`{"name":"Aria","kind":"player"}`),
	})
	if err != nil {
		t.Fatalf("submit intent: %v", err)
	}
	if gotPath != "/sessions/cf-001/intents" {
		t.Fatalf("path = %q, want /sessions/cf-001/intents", gotPath)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q, want application/json", gotContentType)
	}
	if got.Kind != "participant.add" || got.ActorType != "gm" || got.ActorID != "gm-1" || got.Token != "tok-1" {
		t.Fatalf("forwarded body = %+v", got)
	}
	if !strings.Contains(string(got.Payload), `"Aria"`) {
		t.Fatalf("payload = %s, want Aria", got.Payload)
	}
	if delta.LastSeq != 2 {
		t.Fatalf("last seq = %d, want 2", delta.LastSeq)
	}
	if delta.Snapshot.SessionID != "cf-001" {
		t.Fatalf("snapshot session = %q, want cf-001", delta.Snapshot.SessionID)
	}
}

func TestClientListEventsBuildsQuery(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accepted": true,
			"events":   []map[string]any{{"seq": 6, "type": "action.performed"}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	events, err := client.ListEvents(context.Background(), "cf-001", 5, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if gotPath != "/sessions/cf-001/events" {
		t.Fatalf("path = %q, want /sessions/cf-001/events", gotPath)
	}
	if gotQuery != "after_seq=5&limit=10" {
		t.Fatalf("query = %q, want after_seq=5&limit=10", gotQuery)
	}
	if len(events) != 1 || events[0].Seq != 6 {
		t.Fatalf("events = %+v, want single seq 6", events)
	}
}

func TestRejectionErrorMessage(t *testing.T) {
	var nilErr *RejectionError
	if got := nilErr.Error(); got != "combat request rejected" {
		t.Fatalf("nil message = %q", got)
	}
	if got := (&RejectionError{Code: "NOT_FOUND"}).Error(); got != "NOT_FOUND" {
		t.Fatalf("code-only message = %q", got)
	}
	withReason := &RejectionError{Code: "OUT_OF_TURN", Reason: "It is not this combatant's turn"}
	if got := withReason.Error(); got != "OUT_OF_TURN: It is not this combatant's turn" {
		t.Fatalf("message = %q", got)
	}
}
