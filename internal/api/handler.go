package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/ttrpg-tools/crossfire/internal/combat/intent"
	"github.com/ttrpg-tools/crossfire/internal/combat/service"
	"github.com/ttrpg-tools/crossfire/internal/combat/session"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
	errorsi18n "github.com/ttrpg-tools/crossfire/internal/platform/errors/i18n"
	"github.com/ttrpg-tools/crossfire/internal/platform/i18n"
)

const (
	maxBodyBytes     = 64 * 1024
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// response is the JSON envelope shared by every combat endpoint. Fields
// beyond Accepted are filled per endpoint; absent list fields mean empty.
type response struct {
	Accepted bool                `json:"accepted"`
	State    *session.Snapshot   `json:"state,omitempty"`
	Delta    *session.StateDelta `json:"delta,omitempty"`
	Sessions []sessionSummary    `json:"sessions,omitempty"`
	Events   []eventView         `json:"events,omitempty"`
	Error    *responseError      `json:"error,omitempty"`
}

type responseError struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type sessionSummary struct {
	SessionID  string   `json:"session_id"`
	Name       string   `json:"name"`
	Status     string   `json:"status"`
	PlaneOrder []string `json:"plane_order"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
}

type eventView struct {
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

type createSessionRequest struct {
	Name       string   `json:"name"`
	PlaneOrder []string `json:"plane_order,omitempty"`
	ActorID    string   `json:"actor_id,omitempty"`
	Token      string   `json:"token,omitempty"`
}

type endSessionRequest struct {
	ActorID string `json:"actor_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type intentRequest struct {
	Kind      string          `json:"kind"`
	ActorType string          `json:"actor_type"`
	ActorID   string          `json:"actor_id"`
	Token     string          `json:"token,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type handler struct {
	service *service.Service
}

// NewHandler creates the combat route set over the given service.
func NewHandler(svc *service.Service) http.Handler {
	h := &handler{service: svc}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /sessions", h.handleSessionCreate)
	mux.HandleFunc("GET /sessions", h.handleSessionList)
	mux.HandleFunc("GET /sessions/{sessionID}", h.handleSessionState)
	mux.HandleFunc("DELETE /sessions/{sessionID}", h.handleSessionEnd)
	mux.HandleFunc("POST /sessions/{sessionID}/intents", h.handleIntentSubmit)
	mux.HandleFunc("DELETE /sessions/{sessionID}/intents/{token}", h.handleIntentCancel)
	mux.HandleFunc("GET /sessions/{sessionID}/events", h.handleEventList)
	mux.Handle("GET /sessions/{sessionID}/ws", websocket.Handler(h.streamSession))
	return mux
}

func (h *handler) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	token, err := idempotencyToken(r, req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}

	delta, err := h.service.CreateSession(r.Context(), service.CreateParams{
		Name:       req.Name,
		PlaneOrder: req.PlaneOrder,
		ActorID:    req.ActorID,
		Token:      token,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Accepted: true, Delta: &delta})
}

func (h *handler) handleSessionList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, err := h.service.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	summaries := make([]sessionSummary, 0, len(records))
	for _, rec := range records {
		order := make([]string, 0, len(rec.PlaneOrder))
		for _, pl := range rec.PlaneOrder {
			order = append(order, pl.String())
		}
		summaries = append(summaries, sessionSummary{
			SessionID:  rec.ID,
			Name:       rec.Name,
			Status:     string(rec.Status),
			PlaneOrder: order,
			CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:  rec.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, response{Accepted: true, Sessions: summaries})
}

func (h *handler) handleSessionState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context(), r.PathValue("sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Accepted: true, State: &snap})
}

func (h *handler) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	delta, err := h.service.EndSession(r.Context(), r.PathValue("sessionID"), req.ActorID, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Accepted: true, Delta: &delta})
}

func (h *handler) handleIntentSubmit(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	token, err := idempotencyToken(r, req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}

	delta, err := h.service.Submit(r.Context(), intent.Intent{
		SessionID:   r.PathValue("sessionID"),
		Kind:        intent.Kind(strings.TrimSpace(req.Kind)),
		ActorType:   intent.ActorType(strings.TrimSpace(req.ActorType)),
		ActorID:     strings.TrimSpace(req.ActorID),
		Token:       token,
		PayloadJSON: req.Payload,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Accepted: true, Delta: &delta})
}

func (h *handler) handleIntentCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	token := r.PathValue("token")
	if h.service.Cancel(sessionID, token) {
		writeJSON(w, http.StatusOK, response{Accepted: true})
		return
	}
	writeError(w, r, errors.WithMetadata(errors.CodeNotFound, "no queued intent for token", map[string]string{
		"Token": token,
	}))
}

func (h *handler) handleEventList(w http.ResponseWriter, r *http.Request) {
	afterSeq, err := queryUint(r, "after_seq")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	events, err := h.service.Events(r.Context(), r.PathValue("sessionID"), afterSeq, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]eventView, 0, len(events))
	for _, evt := range events {
		views = append(views, eventView{
			Seq:           evt.Seq,
			Timestamp:     evt.Timestamp.UTC().Format(time.RFC3339Nano),
			Type:          string(evt.Type),
			ActorType:     string(evt.ActorType),
			ActorID:       evt.ActorID,
			EntityType:    evt.EntityType,
			EntityID:      evt.EntityID,
			Token:         evt.Token,
			Payload:       evt.PayloadJSON,
			Hash:          evt.Hash,
			PrevHash:      evt.PrevHash,
			ChainHash:     evt.ChainHash,
			StateChecksum: evt.StateChecksum,
		})
	}
	writeJSON(w, http.StatusOK, response{Accepted: true, Events: views})
}

// decodeBody fills dst from the request body. An empty body leaves dst
// zero-valued so endpoints with fully optional fields accept bare requests.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || stderrors.Is(err, io.EOF) {
		return nil
	}
	return errors.Wrap(errors.CodeIntentInvalid, "decode request body", err)
}

// idempotencyToken resolves the client token from the Idempotency-Key header
// or the body field. Conflicting values are rejected rather than silently
// preferring one.
func idempotencyToken(r *http.Request, field string) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	field = strings.TrimSpace(field)
	if header != "" && field != "" && header != field {
		return "", errors.New(errors.CodeIntentInvalid, "idempotency token differs between header and body")
	}
	if header != "" {
		return header, nil
	}
	return field, nil
}

func queryUint(r *http.Request, name string) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.WithMetadata(errors.CodeIntentInvalid, "parse query parameter", map[string]string{
			"Name": name,
		})
	}
	return value, nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultPageLimit, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errors.WithMetadata(errors.CodeIntentInvalid, "parse query parameter", map[string]string{
			"Name": "limit",
		})
	}
	if value == 0 {
		return defaultPageLimit, nil
	}
	if value > maxPageLimit {
		return maxPageLimit, nil
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders the envelope for a rejected request. The reason is
// localized against the client locale; the code stays machine-stable.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	reason := errorsi18n.GetCatalog(clientLocale(r)).Format(string(code), errors.MetadataOf(err))
	writeJSON(w, errors.HTTPStatus(err), response{
		Accepted: false,
		Error:    &responseError{Code: string(code), Reason: reason},
	})
}

// clientLocale resolves the response locale from the lang query parameter,
// falling back to Accept-Language.
func clientLocale(r *http.Request) string {
	if lang := strings.TrimSpace(r.URL.Query().Get("lang")); lang != "" {
		if tag, ok := i18n.ParseTag(lang); ok {
			return tag.String()
		}
	}
	return i18n.MatchAcceptLanguage(r.Header.Get("Accept-Language")).String()
}
