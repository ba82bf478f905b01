// Package participant owns the combat roster.
//
// Participants are referenced everywhere else by identifier only; the
// initiative track and action ledger never hold direct references. Removal
// is coordinated by the session, which purges dependent entries before the
// roster record goes away.
package participant

import (
	"strings"

	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
)

// Kind classifies a combatant.
type Kind string

const (
	// KindPlayer marks a player character.
	KindPlayer Kind = "player"
	// KindNPC marks a GM-controlled character.
	KindNPC Kind = "npc"
	// KindDrone marks a rigger-controlled drone.
	KindDrone Kind = "drone"
	// KindPersona marks a matrix persona.
	KindPersona Kind = "persona"
)

// Valid reports whether the kind is a known classification.
func (k Kind) Valid() bool {
	switch k {
	case KindPlayer, KindNPC, KindDrone, KindPersona:
		return true
	}
	return false
}

// ParseKind converts a wire value into a Kind.
// The bool reports whether the value was recognized.
func ParseKind(value string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(value)))
	return k, k.Valid()
}

// Condition is a named status effect applied to a participant.
type Condition struct {
	// Name identifies the effect ("wounded", "suppressed").
	Name string
	// ExpiresRound is the last round the condition is active; 0 means no expiry.
	ExpiresRound int
	// Modifier adjusts the action budget while the condition is active.
	Modifier int
}

// Participant is one combatant on the roster.
type Participant struct {
	// ID is the unique identifier assigned at add time.
	ID string
	// Name is the display name.
	Name string
	// Kind classifies the combatant.
	Kind Kind
	// Score is the current initiative score.
	Score int
	// Dice is the number of base initiative dice.
	Dice int
	// Presence flags the planes the participant can act in.
	Presence map[plane.Plane]bool
	// Conditions is the ordered set of active status effects.
	Conditions []Condition
	// Incapacitated blocks all intents from the participant.
	Incapacitated bool
}

// PresentIn reports whether the participant has presence in the plane.
func (p Participant) PresentIn(pl plane.Plane) bool {
	return p.Presence[pl]
}

// ConditionModifier sums the budget modifiers of all active conditions.
func (p Participant) ConditionModifier() int {
	total := 0
	for _, c := range p.Conditions {
		total += c.Modifier
	}
	return total
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (p Participant) Clone() Participant {
	out := p
	if p.Presence != nil {
		out.Presence = make(map[plane.Plane]bool, len(p.Presence))
		for pl, present := range p.Presence {
			out.Presence[pl] = present
		}
	}
	if p.Conditions != nil {
		out.Conditions = append([]Condition(nil), p.Conditions...)
	}
	return out
}

// Mutation carries last-writer-wins field updates for a participant.
// Nil fields leave the current value unchanged.
type Mutation struct {
	Name          *string
	Kind          *Kind
	Score         *int
	Dice          *int
	Incapacitated *bool
}
