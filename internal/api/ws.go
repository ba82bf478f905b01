package api

import (
	"encoding/json"
	"log"

	"golang.org/x/net/websocket"

	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/session"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
	errorsi18n "github.com/ttrpg-tools/crossfire/internal/platform/errors/i18n"
)

const (
	wsFrameState  = "combat.state"
	wsFrameDelta  = "combat.delta"
	wsFrameNotice = "combat.notice"
	wsFrameClosed = "combat.closed"
	wsFrameError  = "combat.error"
)

const (
	noticeRoundAdvanced     = "round.advanced"
	noticeTurnChanged       = "turn.changed"
	noticeParticipantJoined = "participant.joined"
)

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsStatePayload struct {
	State session.Snapshot `json:"state"`
}

type wsErrorEnvelope struct {
	Error responseError `json:"error"`
}

type wsNotice struct {
	Notice        string `json:"notice"`
	Round         int    `json:"round,omitempty"`
	Plane         string `json:"plane,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
}

// streamSession pushes the current state, every committed delta, and derived
// notices to one session watcher. Each connection holds its own watch
// subscription, so a stalled connection only loses its own deltas; the
// session loop never blocks on a slow consumer. The read side is watched
// solely for disconnect, client frames carry no protocol meaning.
func (h *handler) streamSession(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	r := conn.Request()
	encoder := json.NewEncoder(conn)
	sessionID := r.PathValue("sessionID")

	deltas, stop, err := h.service.Watch(r.Context(), sessionID)
	if err != nil {
		_ = writeWSFrame(encoder, wsFrameError, wsErrorPayload(clientLocale(r), err))
		return
	}
	defer stop()

	snap, err := h.service.Snapshot(r.Context(), sessionID)
	if err != nil {
		_ = writeWSFrame(encoder, wsFrameError, wsErrorPayload(clientLocale(r), err))
		return
	}
	if err := writeWSFrame(encoder, wsFrameState, wsStatePayload{State: snap}); err != nil {
		return
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		discard := json.NewDecoder(conn)
		for {
			var frame json.RawMessage
			if err := discard.Decode(&frame); err != nil {
				return
			}
		}
	}()

	last := snap
	for {
		select {
		case <-readerDone:
			return
		case delta, ok := <-deltas:
			if !ok {
				_ = writeWSFrame(encoder, wsFrameClosed, nil)
				return
			}
			if err := writeWSFrame(encoder, wsFrameDelta, delta); err != nil {
				return
			}
			for _, notice := range deriveNotices(last, delta) {
				if err := writeWSFrame(encoder, wsFrameNotice, notice); err != nil {
					return
				}
			}
			last = delta.Snapshot
		}
	}
}

// deriveNotices compares consecutive snapshots and scans the applied events
// for changes a table client wants called out without diffing state itself.
func deriveNotices(prev session.Snapshot, delta session.StateDelta) []wsNotice {
	var out []wsNotice
	next := delta.Snapshot
	if next.Round > prev.Round {
		out = append(out, wsNotice{Notice: noticeRoundAdvanced, Round: next.Round})
	}
	if next.CurrentActor != "" && (next.CurrentActor != prev.CurrentActor || next.ActivePlane != prev.ActivePlane) {
		out = append(out, wsNotice{
			Notice:        noticeTurnChanged,
			Plane:         next.ActivePlane,
			ParticipantID: next.CurrentActor,
		})
	}
	for _, evt := range delta.Events {
		if evt.Type == string(event.TypeParticipantAdded) {
			out = append(out, wsNotice{Notice: noticeParticipantJoined, ParticipantID: evt.EntityID})
		}
	}
	return out
}

func writeWSFrame(encoder *json.Encoder, frameType string, payload any) error {
	frame := wsFrame{Type: frameType}
	if payload != nil {
		frame.Payload = mustJSON(payload)
	}
	return encoder.Encode(frame)
}

func wsErrorPayload(locale string, err error) wsErrorEnvelope {
	code := errors.CodeOf(err)
	reason := errorsi18n.GetCatalog(locale).Format(string(code), errors.MetadataOf(err))
	return wsErrorEnvelope{Error: responseError{Code: string(code), Reason: reason}}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
