package intent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Decode strictly unmarshals payload JSON into a typed payload struct.
// Unknown fields and trailing data are rejected so malformed intents fail
// at the boundary instead of inside the decider.
func Decode(raw []byte, v any) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("decode payload: trailing data")
	}
	return nil
}

// SessionStartPayload configures a new combat session.
type SessionStartPayload struct {
	Name       string   `json:"name"`
	PlaneOrder []string `json:"plane_order,omitempty"`
}

// SessionEndPayload closes a combat session.
type SessionEndPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ParticipantAddPayload enrolls a combatant.
// ParticipantID is assigned by the runtime when left empty. Score is the
// base initiative attribute added on top of rolled dice.
type ParticipantAddPayload struct {
	ParticipantID string          `json:"participant_id,omitempty"`
	Name          string          `json:"name"`
	Kind          string          `json:"kind"`
	Score         int             `json:"score,omitempty"`
	Dice          int             `json:"dice,omitempty"`
	Presence      map[string]bool `json:"presence,omitempty"`
}

// ParticipantUpdatePayload changes combatant fields. Nil fields are left
// untouched; set fields win over the stored value.
type ParticipantUpdatePayload struct {
	ParticipantID string  `json:"participant_id"`
	Name          *string `json:"name,omitempty"`
	Kind          *string `json:"kind,omitempty"`
	Score         *int    `json:"score,omitempty"`
	Dice          *int    `json:"dice,omitempty"`
	Incapacitated *bool   `json:"incapacitated,omitempty"`
}

// ParticipantRemovePayload drops a combatant from the roster.
type ParticipantRemovePayload struct {
	ParticipantID string `json:"participant_id"`
	Reason        string `json:"reason,omitempty"`
}

// PresenceSetPayload toggles a combatant's presence in one plane.
type PresenceSetPayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Present       bool   `json:"present"`
}

// ConditionApplyPayload attaches a status condition.
type ConditionApplyPayload struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	ExpiresRound  int    `json:"expires_round,omitempty"`
	Modifier      int    `json:"modifier,omitempty"`
}

// ConditionRemovePayload lifts a status condition by name.
type ConditionRemovePayload struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
}

// InitiativeRollPayload rolls initiative for one combatant in one plane.
// Score and Seed are assigned by the runtime before the decider runs so
// replay reproduces the same entry.
type InitiativeRollPayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Score         int    `json:"score,omitempty"`
	Seed          int64  `json:"seed,omitempty"`
}

// InitiativeDeclarePayload records a GM-supplied score for one plane.
// Seed is assigned by the runtime.
type InitiativeDeclarePayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Score         int    `json:"score"`
	Seed          int64  `json:"seed,omitempty"`
}

// CombatBeginPayload freezes setup and opens round 1.
type CombatBeginPayload struct{}

// ActionSpendPayload spends an action from the acting combatant's budget.
type ActionSpendPayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Kind          string `json:"kind"`
	Label         string `json:"label,omitempty"`
}

// ActionReservePayload holds an action for out-of-turn use this round.
type ActionReservePayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Kind          string `json:"kind"`
}

// ActionInterruptPayload exercises a held action out of turn.
type ActionInterruptPayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Label         string `json:"label,omitempty"`
}

// TurnEndPayload finishes the acting combatant's turn.
type TurnEndPayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
}

// TurnHoldPayload reserves the remainder of a turn and ends it. Kind picks
// which action to hold; when empty the best remaining action is held.
type TurnHoldPayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Kind          string `json:"kind,omitempty"`
}
