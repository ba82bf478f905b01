package session

import (
	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
)

// ParticipantView is the transport-facing shape of one roster entry.
type ParticipantView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Kind          string          `json:"kind"`
	Score         int             `json:"score"`
	Dice          int             `json:"dice"`
	Presence      map[string]bool `json:"presence"`
	Conditions    []ConditionView `json:"conditions,omitempty"`
	Incapacitated bool            `json:"incapacitated,omitempty"`
}

// ConditionView is the transport-facing shape of one status condition.
type ConditionView struct {
	Name         string `json:"name"`
	ExpiresRound int    `json:"expires_round,omitempty"`
	Modifier     int    `json:"modifier,omitempty"`
}

// InitiativeView is the transport-facing shape of one track entry.
type InitiativeView struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Score         int    `json:"score"`
	Seed          int64  `json:"seed"`
	Acted         bool   `json:"acted"`
	Current       bool   `json:"current"`
}

// BudgetView is the transport-facing shape of one ledger entry.
type BudgetView struct {
	ParticipantID string `json:"participant_id"`
	Simple        int    `json:"simple"`
	Complex       int    `json:"complex"`
	Interrupt     int    `json:"interrupt"`
	Phase         string `json:"phase"`
	Reserved      string `json:"reserved,omitempty"`
}

// Snapshot is a full, self-contained view of session state.
type Snapshot struct {
	SessionID    string            `json:"session_id"`
	Name         string            `json:"name"`
	Status       string            `json:"status"`
	PlaneOrder   []string          `json:"plane_order"`
	Round        int               `json:"round"`
	ActivePlane  string            `json:"active_plane,omitempty"`
	CurrentActor string            `json:"current_actor,omitempty"`
	Participants []ParticipantView `json:"participants"`
	Initiative   []InitiativeView  `json:"initiative"`
	Budgets      []BudgetView      `json:"budgets"`
	Checksum     string            `json:"checksum,omitempty"`
}

// EventSummary is the journal-facing shape of one applied event.
type EventSummary struct {
	Seq        uint64 `json:"seq"`
	Type       string `json:"type"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
}

// StateDelta is the response of a successfully applied intent: the events it
// produced and the resulting state.
type StateDelta struct {
	LastSeq  uint64         `json:"last_seq"`
	Events   []EventSummary `json:"events"`
	Snapshot Snapshot       `json:"snapshot"`
}

// Snapshot builds the transport view of the state. The checksum field is
// filled by the caller; everything else is derived deterministically so the
// same state always serializes to the same snapshot.
func (s State) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:  s.SessionID,
		Name:       s.Name,
		Status:     string(s.Status),
		PlaneOrder: make([]string, 0, len(s.PlaneOrder)),
		Round:      s.Round(),
	}
	for _, pl := range s.PlaneOrder {
		snap.PlaneOrder = append(snap.PlaneOrder, pl.String())
	}
	if s.InCombat() {
		snap.ActivePlane = s.ActivePlane.String()
		if actor, ok := s.CurrentActor(); ok {
			snap.CurrentActor = actor
		}
	}

	if s.Roster != nil {
		for _, p := range s.Roster.List() {
			view := ParticipantView{
				ID:            p.ID,
				Name:          p.Name,
				Kind:          string(p.Kind),
				Score:         p.Score,
				Dice:          p.Dice,
				Presence:      make(map[string]bool, len(p.Presence)),
				Incapacitated: p.Incapacitated,
			}
			for pl, present := range p.Presence {
				view.Presence[pl.String()] = present
			}
			for _, c := range p.Conditions {
				view.Conditions = append(view.Conditions, ConditionView{
					Name:         c.Name,
					ExpiresRound: c.ExpiresRound,
					Modifier:     c.Modifier,
				})
			}
			snap.Participants = append(snap.Participants, view)
		}
	}

	if s.Track != nil {
		order := s.PlaneOrder
		if len(order) == 0 {
			order = plane.DefaultOrder()
		}
		for _, pl := range order {
			cursor := s.Track.Cursor(pl)
			for idx, entry := range s.Track.Entries(pl) {
				snap.Initiative = append(snap.Initiative, InitiativeView{
					ParticipantID: entry.ParticipantID,
					Plane:         pl.String(),
					Score:         entry.Score,
					Seed:          entry.Seed,
					Acted:         idx < cursor,
					Current:       idx == cursor,
				})
			}
		}
	}

	if s.Ledger != nil {
		for _, entry := range s.Ledger.List() {
			snap.Budgets = append(snap.Budgets, BudgetView{
				ParticipantID: entry.ParticipantID,
				Simple:        entry.Budget.Simple,
				Complex:       entry.Budget.Complex,
				Interrupt:     entry.Budget.Interrupt,
				Phase:         string(entry.Phase),
				Reserved:      string(entry.Reserved),
			})
		}
	}
	return snap
}

// Summaries converts committed events into their delta summaries.
func Summaries(events []event.Event) []EventSummary {
	out := make([]EventSummary, 0, len(events))
	for _, evt := range events {
		out = append(out, EventSummary{
			Seq:        evt.Seq,
			Type:       string(evt.Type),
			EntityType: evt.EntityType,
			EntityID:   evt.EntityID,
		})
	}
	return out
}
