// Package event defines the canonical event envelope and event-type registry
// used by the combat write path.
//
// Events are immutable facts emitted by accepted intents. The registry
// enforces actor metadata, entity addressing, and payload validity before
// persistence assigns sequence and integrity fields.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type identifies the kind of a combat event.
type Type string

// Session lifecycle events.
const (
	// TypeSessionStarted records the opening of a combat session.
	TypeSessionStarted Type = "session.started"
	// TypeSessionEnded records the closing of a combat session.
	TypeSessionEnded Type = "session.ended"
)

// Roster events.
const (
	// TypeParticipantAdded records a combatant joining the roster.
	TypeParticipantAdded Type = "participant.added"
	// TypeParticipantUpdated records updates to a combatant.
	TypeParticipantUpdated Type = "participant.updated"
	// TypeParticipantRemoved records a combatant leaving the roster.
	TypeParticipantRemoved Type = "participant.removed"
	// TypePresenceChanged records a plane presence change.
	TypePresenceChanged Type = "presence.changed"
	// TypeConditionApplied records a status condition taking hold.
	TypeConditionApplied Type = "condition.applied"
	// TypeConditionRemoved records a status condition lifted by hand.
	TypeConditionRemoved Type = "condition.removed"
	// TypeConditionExpired records a status condition aging out at round start.
	TypeConditionExpired Type = "condition.expired"
)

// Initiative events.
const (
	// TypeInitiativeRolled records an initiative score entering a plane track.
	TypeInitiativeRolled Type = "initiative.rolled"
	// TypeCombatBegun records the transition from setup to the first round.
	TypeCombatBegun Type = "combat.begun"
	// TypePlaneAdvanced records the active plane moving forward in order.
	TypePlaneAdvanced Type = "plane.advanced"
	// TypeRoundAdvanced records a new round opening after every plane ran dry.
	TypeRoundAdvanced Type = "round.advanced"
)

// Action events. Events represent facts that have occurred, not requests.
const (
	// TypeActionSpent records an action deducted from a budget.
	TypeActionSpent Type = "action.spent"
	// TypeActionReserved records an action held for out-of-turn use.
	TypeActionReserved Type = "action.reserved"
	// TypeActionInterrupted records a held action exercised out of turn.
	TypeActionInterrupted Type = "action.interrupted"
	// TypeTurnEnded records a participant finishing their turn.
	TypeTurnEnded Type = "turn.ended"
)

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type (e.g., "participant").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}

// ActorType identifies who or what triggered an event.
type ActorType string

const (
	// ActorTypeSystem indicates the event was triggered by the engine.
	ActorTypeSystem ActorType = "system"
	// ActorTypeParticipant indicates the event was triggered by a combatant.
	ActorTypeParticipant ActorType = "participant"
	// ActorTypeGM indicates the event was triggered by the game master.
	ActorTypeGM ActorType = "gm"
)

// IsValid reports whether the actor type is one of the known values.
func (a ActorType) IsValid() bool {
	switch a {
	case ActorTypeSystem, ActorTypeParticipant, ActorTypeGM:
		return true
	}
	return false
}

// Event represents an immutable entry in a combat session's journal.
type Event struct {
	// SessionID is the combat session this event belongs to.
	SessionID string
	// Seq is the event sequence number within the session (starts at 1).
	// Assigned by storage on append.
	Seq uint64
	// Hash is the content-addressed identity (SHA-256 truncated to 128-bit).
	// Assigned by storage on append.
	Hash string
	// PrevHash is the chain hash of the preceding event (empty for the first).
	// Assigned by storage on append.
	PrevHash string
	// ChainHash links this event to its predecessor.
	// Assigned by storage on append.
	ChainHash string
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Type identifies the kind of event.
	Type Type
	// Token correlates the event to the idempotency token of its intent.
	Token string
	// ActorType identifies who triggered the event.
	ActorType ActorType
	// ActorID is the participant ID when ActorType is participant or GM.
	ActorID string
	// EntityType is the type of entity affected (participant, plane, session).
	EntityType string
	// EntityID is the ID of the entity affected.
	EntityID string
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
	// StateChecksum is the checksum of the session state after this event
	// was applied. Assigned by the session fold before append.
	StateChecksum string
}

// hashEnvelope is the canonical field ordering for content hashing.
// Sequence and integrity fields are excluded so the hash can be computed
// before storage assigns them.
type hashEnvelope struct {
	SessionID     string          `json:"session_id"`
	Timestamp     string          `json:"timestamp"`
	Type          Type            `json:"type"`
	Token         string          `json:"token"`
	ActorType     ActorType       `json:"actor_type"`
	ActorID       string          `json:"actor_id"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Payload       json.RawMessage `json:"payload"`
	StateChecksum string          `json:"state_checksum"`
}

// EventHash computes the content hash for a single event.
//
// The envelope is marshaled with a fixed field order so equal events always
// produce equal hashes regardless of which layer computes them.
func EventHash(evt Event) (string, error) {
	payload := evt.PayloadJSON
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	envelope := hashEnvelope{
		SessionID:     evt.SessionID,
		Timestamp:     evt.Timestamp.UTC().Format(time.RFC3339Nano),
		Type:          evt.Type,
		Token:         evt.Token,
		ActorType:     evt.ActorType,
		ActorID:       evt.ActorID,
		EntityType:    evt.EntityType,
		EntityID:      evt.EntityID,
		Payload:       payload,
		StateChecksum: evt.StateChecksum,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal hash envelope: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16]), nil
}

// ChainHash computes the hash that links an event to its predecessor.
//
// The event's own content hash must already be assigned; the chain hash of
// event N becomes the PrevHash of event N+1.
func ChainHash(evt Event, prevHash string) (string, error) {
	if evt.Hash == "" {
		return "", fmt.Errorf("chain hash for %s: event hash not assigned", evt.Type)
	}
	raw := fmt.Sprintf("%s|%d|%s", prevHash, evt.Seq, evt.Hash)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16]), nil
}
