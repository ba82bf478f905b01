package event

// SessionStartedPayload captures the payload for session.started events.
type SessionStartedPayload struct {
	Name       string   `json:"name"`
	PlaneOrder []string `json:"plane_order"`
}

// SessionEndedPayload captures the payload for session.ended events.
type SessionEndedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ParticipantAddedPayload captures the payload for participant.added events.
type ParticipantAddedPayload struct {
	ParticipantID string          `json:"participant_id"`
	Name          string          `json:"name"`
	Kind          string          `json:"kind"`
	Score         int             `json:"score"`
	Dice          int             `json:"dice"`
	Presence      map[string]bool `json:"presence,omitempty"`
}

// ParticipantUpdatedPayload captures the payload for participant.updated events.
type ParticipantUpdatedPayload struct {
	ParticipantID string         `json:"participant_id"`
	Fields        map[string]any `json:"fields"`
}

// ParticipantRemovedPayload captures the payload for participant.removed events.
type ParticipantRemovedPayload struct {
	ParticipantID string `json:"participant_id"`
	Reason        string `json:"reason,omitempty"`
}

// PresenceChangedPayload captures the payload for presence.changed events.
type PresenceChangedPayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Present       bool   `json:"present"`
}

// ConditionAppliedPayload captures the payload for condition.applied events.
type ConditionAppliedPayload struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	ExpiresRound  int    `json:"expires_round,omitempty"`
	Modifier      int    `json:"modifier,omitempty"`
}

// ConditionRemovedPayload captures the payload for condition.removed events.
type ConditionRemovedPayload struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
}

// ConditionExpiredPayload captures the payload for condition.expired events.
type ConditionExpiredPayload struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	Round         int    `json:"round"`
}

// InitiativeRolledPayload captures the payload for initiative.rolled events.
// Method distinguishes engine-rolled scores from GM-declared ones.
type InitiativeRolledPayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Score         int    `json:"score"`
	Seed          int64  `json:"seed"`
	Method        string `json:"method"`
}

// Initiative methods.
const (
	// InitiativeMethodRolled marks a score produced by the engine's dice.
	InitiativeMethodRolled = "rolled"
	// InitiativeMethodDeclared marks a score supplied by the GM.
	InitiativeMethodDeclared = "declared"
)

// CombatBegunPayload captures the payload for combat.begun events.
type CombatBegunPayload struct {
	PlaneOrder  []string `json:"plane_order"`
	Round       int      `json:"round"`
	ActivePlane string   `json:"active_plane"`
}

// PlaneAdvancedPayload captures the payload for plane.advanced events.
type PlaneAdvancedPayload struct {
	FromPlane string `json:"from_plane"`
	ToPlane   string `json:"to_plane"`
	Round     int    `json:"round"`
}

// ForfeitureRecord notes a held action lost when a round closed.
type ForfeitureRecord struct {
	ParticipantID string `json:"participant_id"`
	Kind          string `json:"kind"`
}

// RoundAdvancedPayload captures the payload for round.advanced events.
type RoundAdvancedPayload struct {
	Round       int                `json:"round"`
	ActivePlane string             `json:"active_plane"`
	Forfeited   []ForfeitureRecord `json:"forfeited,omitempty"`
}

// ActionSpentPayload captures the payload for action.spent events.
type ActionSpentPayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Kind          string `json:"kind"`
	Label         string `json:"label,omitempty"`
}

// ActionReservedPayload captures the payload for action.reserved events.
type ActionReservedPayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Kind          string `json:"kind"`
}

// ActionInterruptedPayload captures the payload for action.interrupted events.
// InterruptedID names the participant whose turn was cut into, when any.
type ActionInterruptedPayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Kind          string `json:"kind"`
	Label         string `json:"label,omitempty"`
	InterruptedID string `json:"interrupted_id,omitempty"`
}

// TurnEndedPayload captures the payload for turn.ended events.
type TurnEndedPayload struct {
	ParticipantID string `json:"participant_id"`
	Plane         string `json:"plane"`
	Round         int    `json:"round"`
}
