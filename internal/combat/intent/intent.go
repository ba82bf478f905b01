// Package intent defines the canonical intent envelope and contract used
// across the combat write path.
//
// Intents express what a client wants to happen. They are the stable boundary
// before the session decider so that combat rules are evaluated only against
// normalized, validated inputs.
package intent

import (
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/event"
)

// Kind identifies the intent type string.
type Kind string

// Session management intents.
const (
	// KindSessionStart opens a combat session and fixes its plane order.
	KindSessionStart Kind = "session.start"
	// KindSessionEnd closes a combat session.
	KindSessionEnd Kind = "session.end"
)

// Roster intents.
const (
	// KindParticipantAdd enrolls a combatant, mid-combat included.
	KindParticipantAdd Kind = "participant.add"
	// KindParticipantUpdate changes combatant fields last-write-wins.
	KindParticipantUpdate Kind = "participant.update"
	// KindParticipantRemove drops a combatant, purging entries and budgets.
	KindParticipantRemove Kind = "participant.remove"
	// KindPresenceSet toggles a combatant's presence in a plane.
	KindPresenceSet Kind = "presence.set"
	// KindConditionApply attaches a status condition.
	KindConditionApply Kind = "condition.apply"
	// KindConditionRemove lifts a status condition by name.
	KindConditionRemove Kind = "condition.remove"
)

// Initiative and combat-flow intents.
const (
	// KindInitiativeRoll rolls initiative for one combatant in one plane.
	KindInitiativeRoll Kind = "initiative.roll"
	// KindInitiativeDeclare records a GM-supplied score instead of rolling.
	KindInitiativeDeclare Kind = "initiative.declare"
	// KindCombatBegin freezes setup and opens round 1.
	KindCombatBegin Kind = "combat.begin"
	// KindActionSpend spends an action from the acting combatant's budget.
	KindActionSpend Kind = "action.spend"
	// KindActionReserve holds an action for out-of-turn use this round.
	KindActionReserve Kind = "action.reserve"
	// KindActionInterrupt exercises a held action out of turn.
	KindActionInterrupt Kind = "action.interrupt"
	// KindTurnEnd finishes the acting combatant's turn.
	KindTurnEnd Kind = "turn.end"
	// KindTurnHold reserves the remainder of a turn and ends it.
	KindTurnHold Kind = "turn.hold"
)

// IsValid reports whether the kind is usable.
func (k Kind) IsValid() bool {
	return string(k) != ""
}

// ActorType identifies who submitted an intent.
type ActorType string

const (
	// ActorTypeSystem indicates an engine-originated intent.
	ActorTypeSystem ActorType = "system"
	// ActorTypeParticipant indicates a combatant-originated intent.
	ActorTypeParticipant ActorType = "participant"
	// ActorTypeGM indicates a game-master-originated intent.
	ActorTypeGM ActorType = "gm"
)

// Intent captures the canonical intent envelope.
type Intent struct {
	// SessionID is the combat session the intent targets.
	SessionID string
	// Kind identifies the intent type.
	Kind Kind
	// ActorType identifies who submitted the intent.
	ActorType ActorType
	// ActorID is the participant ID when ActorType is participant or GM.
	ActorID string
	// Token is the client-chosen idempotency token. Resubmitting the same
	// token with the same payload returns the original result; a different
	// payload is a conflict.
	Token string
	// PayloadJSON holds intent-specific data as JSON.
	PayloadJSON []byte
}

// NewEvent builds an event.Event by copying the shared envelope fields from
// an intent. Callers supply the event-specific type, entity addressing,
// payload, and timestamp.
func NewEvent(it Intent, eventType event.Type, entityType, entityID string, payloadJSON []byte, now time.Time) event.Event {
	return event.Event{
		SessionID:   it.SessionID,
		Type:        eventType,
		Timestamp:   now,
		Token:       it.Token,
		ActorType:   event.ActorType(it.ActorType),
		ActorID:     it.ActorID,
		EntityType:  entityType,
		EntityID:    entityID,
		PayloadJSON: payloadJSON,
	}
}
