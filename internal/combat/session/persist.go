package session

import (
	"encoding/json"
	"fmt"

	"github.com/ttrpg-tools/crossfire/internal/combat/action"
	"github.com/ttrpg-tools/crossfire/internal/combat/initiative"
	"github.com/ttrpg-tools/crossfire/internal/combat/participant"
	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
)

// stateDocument is the persisted shape of a state snapshot. It is a faithful
// transcription of State, unlike the transport Snapshot view which drops
// internals such as budget baselines.
type stateDocument struct {
	SessionID   string                `json:"session_id"`
	Name        string                `json:"name,omitempty"`
	Status      string                `json:"status,omitempty"`
	PlaneOrder  []string              `json:"plane_order,omitempty"`
	ActivePlane string                `json:"active_plane,omitempty"`
	Roster      *participant.Registry `json:"roster"`
	Track       *initiative.Track     `json:"track"`
	Ledger      *action.Ledger        `json:"ledger"`
}

// MarshalState serializes the state for snapshot storage. The output is
// deterministic for a given state and round-trips through UnmarshalState
// without loss.
func MarshalState(s State) ([]byte, error) {
	doc := stateDocument{
		SessionID: s.SessionID,
		Name:      s.Name,
		Status:    string(s.Status),
		Roster:    s.Roster,
		Track:     s.Track,
		Ledger:    s.Ledger,
	}
	for _, pl := range s.PlaneOrder {
		doc.PlaneOrder = append(doc.PlaneOrder, pl.String())
	}
	if s.ActivePlane != "" {
		doc.ActivePlane = s.ActivePlane.String()
	}
	if doc.Roster == nil {
		doc.Roster = participant.NewRegistry()
	}
	if doc.Track == nil {
		doc.Track = initiative.NewTrack()
	}
	if doc.Ledger == nil {
		doc.Ledger = action.NewLedger()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode state snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalState restores a state persisted by MarshalState.
func UnmarshalState(data []byte) (State, error) {
	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return State{}, fmt.Errorf("decode state snapshot: %w", err)
	}
	state := State{
		SessionID: doc.SessionID,
		Name:      doc.Name,
		Status:    Status(doc.Status),
		Roster:    doc.Roster,
		Track:     doc.Track,
		Ledger:    doc.Ledger,
	}
	switch state.Status {
	case "", StatusSetup, StatusActive, StatusEnded:
	default:
		return State{}, fmt.Errorf("decode state snapshot: unknown status %q", doc.Status)
	}
	for _, name := range doc.PlaneOrder {
		pl, err := plane.Parse(name)
		if err != nil {
			return State{}, fmt.Errorf("decode state snapshot: unknown plane %q in order", name)
		}
		state.PlaneOrder = append(state.PlaneOrder, pl)
	}
	if doc.ActivePlane != "" {
		pl, err := plane.Parse(doc.ActivePlane)
		if err != nil {
			return State{}, fmt.Errorf("decode state snapshot: unknown active plane %q", doc.ActivePlane)
		}
		state.ActivePlane = pl
	}
	if state.Roster == nil {
		state.Roster = participant.NewRegistry()
	}
	if state.Track == nil {
		state.Track = initiative.NewTrack()
	}
	if state.Ledger == nil {
		state.Ledger = action.NewLedger()
	}
	return state, nil
}
