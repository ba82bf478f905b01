package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ttrpg-tools/crossfire/internal/combat/session"
	"github.com/ttrpg-tools/crossfire/internal/platform/timeouts"
)

// Client calls the combat service HTTP API on behalf of tool and resource
// handlers. It decodes the service envelope and surfaces rejections as
// RejectionError values so handlers can report the machine code alongside
// the localized reason.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a combat API client for the given base address.
// A bare host:port is treated as plain HTTP.
func NewClient(addr string) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("combat address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse combat address %q: %w", addr, err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("combat address %q has no host", addr)
	}
	return &Client{
		baseURL:    strings.TrimSuffix(base.String(), "/"),
		httpClient: &http.Client{Timeout: timeouts.Request},
	}, nil
}

// RejectionError is a combat service rejection: the stable machine code
// plus the localized reason from the response envelope.
type RejectionError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Reason     string `json:"reason"`
}

func (e *RejectionError) Error() string {
	if e == nil {
		return "combat request rejected"
	}
	if e.Reason == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// SessionSummary is one row of the combat session listing.
type SessionSummary struct {
	SessionID  string   `json:"session_id"`
	Name       string   `json:"name"`
	Status     string   `json:"status"`
	PlaneOrder []string `json:"plane_order"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

// EventRecord is one journal entry as served by the combat API.
type EventRecord struct {
	Seq           uint64          `json:"seq"`
	Timestamp     string          `json:"timestamp"`
	Type          string          `json:"type"`
	ActorType     string          `json:"actor_type"`
	ActorID       string          `json:"actor_id,omitempty"`
	EntityType    string          `json:"entity_type,omitempty"`
	EntityID      string          `json:"entity_id,omitempty"`
	Token         string          `json:"token,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Hash          string          `json:"hash"`
	PrevHash      string          `json:"prev_hash,omitempty"`
	ChainHash     string          `json:"chain_hash"`
	StateChecksum string          `json:"state_checksum"`
}

// IntentSubmission is one intent forwarded to the combat service.
type IntentSubmission struct {
	Kind      string
	ActorType string
	ActorID   string
	Token     string
	Payload   json.RawMessage
}

// combatEnvelope mirrors the combat API response envelope.
type combatEnvelope struct {
	Accepted bool                `json:"accepted"`
	State    *session.Snapshot   `json:"state"`
	Delta    *session.StateDelta `json:"delta"`
	Sessions []SessionSummary    `json:"sessions"`
	Events   []EventRecord       `json:"events"`
	Error    *RejectionError     `json:"error"`
}

type createSessionBody struct {
	Name       string   `json:"name"`
	PlaneOrder []string `json:"plane_order,omitempty"`
	ActorID    string   `json:"actor_id,omitempty"`
	Token      string   `json:"token,omitempty"`
}

type submitIntentBody struct {
	Kind      string          `json:"kind"`
	ActorType string          `json:"actor_type"`
	ActorID   string          `json:"actor_id"`
	Token     string          `json:"token,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// CreateSession opens a combat session and returns the opening delta.
func (c *Client) CreateSession(ctx context.Context, name string, planeOrder []string) (*session.StateDelta, error) {
	envelope, err := c.do(ctx, http.MethodPost, "/sessions", createSessionBody{
		Name:       name,
		PlaneOrder: planeOrder,
	})
	if err != nil {
		return nil, err
	}
	if envelope.Delta == nil {
		return nil, fmt.Errorf("session create response is missing the delta")
	}
	return envelope.Delta, nil
}

// SessionState fetches the current snapshot for one session.
func (c *Client) SessionState(ctx context.Context, sessionID string) (*session.Snapshot, error) {
	envelope, err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	if envelope.State == nil {
		return nil, fmt.Errorf("session state response is missing the snapshot")
	}
	return envelope.State, nil
}

// ListSessions fetches up to limit session summaries, newest activity first.
func (c *Client) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	path := "/sessions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	envelope, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return envelope.Sessions, nil
}

// SubmitIntent forwards one intent and returns the resulting delta.
func (c *Client) SubmitIntent(ctx context.Context, sessionID string, in IntentSubmission) (*session.StateDelta, error) {
	envelope, err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/intents", submitIntentBody{
		Kind:      in.Kind,
		ActorType: in.ActorType,
		ActorID:   in.ActorID,
		Token:     in.Token,
		Payload:   in.Payload,
	})
	if err != nil {
		return nil, err
	}
	if envelope.Delta == nil {
		return nil, fmt.Errorf("intent response is missing the delta")
	}
	return envelope.Delta, nil
}

// ListEvents fetches one journal page for a session.
func (c *Client) ListEvents(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]EventRecord, error) {
	query := url.Values{}
	if afterSeq > 0 {
		query.Set("after_seq", strconv.FormatUint(afterSeq, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/sessions/" + url.PathEscape(sessionID) + "/events"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	envelope, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return envelope.Events, nil
}

// do performs one round trip and decodes the envelope. An envelope carrying
// an error field becomes a RejectionError regardless of HTTP status.
func (c *Client) do(ctx context.Context, method, path string, body any) (*combatEnvelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode combat request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build combat request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call combat service: %w", err)
	}
	defer resp.Body.Close()

	var envelope combatEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode combat response (status %d): %w", resp.StatusCode, err)
	}
	if envelope.Error != nil {
		envelope.Error.StatusCode = resp.StatusCode
		return nil, envelope.Error
	}
	if !envelope.Accepted {
		return nil, fmt.Errorf("combat service declined the request (status %d)", resp.StatusCode)
	}
	return &envelope, nil
}
