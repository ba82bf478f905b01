package session

import (
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/action"
	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/intent"
	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
)

func decideInitiativeRoll(state State, it intent.Intent, stamp time.Time) intent.Decision {
	var payload intent.InitiativeRollPayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}
	pl, err := plane.Parse(payload.Plane)
	if err != nil {
		return intent.RejectError(err)
	}
	if dec, ok := checkCanAct(state, payload.ParticipantID, pl); !ok {
		return dec
	}

	normalized := event.InitiativeRolledPayload{
		ParticipantID: payload.ParticipantID,
		Plane:         pl.String(),
		Score:         payload.Score,
		Seed:          payload.Seed,
		Method:        event.InitiativeMethodRolled,
	}
	return intent.Accept(actorEvent(it, event.TypeInitiativeRolled, "participant", payload.ParticipantID, normalized, stamp))
}

func decideInitiativeDeclare(state State, it intent.Intent, stamp time.Time) intent.Decision {
	if state.InCombat() {
		return intent.Reject(intent.Rejection{
			Code:    errors.CodeCombatAlreadyBegun,
			Message: "scores are declared before combat begins",
		})
	}
	var payload intent.InitiativeDeclarePayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}
	pl, err := plane.Parse(payload.Plane)
	if err != nil {
		return intent.RejectError(err)
	}
	if dec, ok := checkCanAct(state, payload.ParticipantID, pl); !ok {
		return dec
	}

	normalized := event.InitiativeRolledPayload{
		ParticipantID: payload.ParticipantID,
		Plane:         pl.String(),
		Score:         payload.Score,
		Seed:          payload.Seed,
		Method:        event.InitiativeMethodDeclared,
	}
	return intent.Accept(actorEvent(it, event.TypeInitiativeRolled, "participant", payload.ParticipantID, normalized, stamp))
}

func decideCombatBegin(state State, it intent.Intent, stamp time.Time) intent.Decision {
	if state.InCombat() {
		return intent.Reject(intent.Rejection{
			Code:    errors.CodeCombatAlreadyBegun,
			Message: "combat has already begun",
		})
	}
	order := activeOrder(state)
	total := 0
	for _, pl := range order {
		total += state.Track.Len(pl)
	}
	if total == 0 {
		return intent.Reject(intent.Rejection{
			Code:    errors.CodeInitiativeNotRolled,
			Message: "no initiative has been rolled",
		})
	}

	active := order[0]
	for _, pl := range order {
		if state.Track.Len(pl) > 0 {
			active = pl
			break
		}
	}
	normalized := event.CombatBegunPayload{
		PlaneOrder:  planeNames(order),
		Round:       1,
		ActivePlane: active.String(),
	}
	return intent.Accept(actorEvent(it, event.TypeCombatBegun, "session", it.SessionID, normalized, stamp))
}

func decideActionSpend(state State, it intent.Intent, stamp time.Time) intent.Decision {
	var payload intent.ActionSpendPayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}
	pl, kind, dec, ok := checkAction(state, payload.ParticipantID, payload.Plane, payload.Kind)
	if !ok {
		return dec
	}
	// Metered turn actions belong to the active participant. Free actions
	// run anytime; interrupts are out-of-turn by nature.
	if kind == action.KindSimple || kind == action.KindComplex {
		if dec, ok := checkOnTurn(state, payload.ParticipantID, pl); !ok {
			return dec
		}
	}
	probe := state.Clone()
	if _, err := probe.Ledger.Spend(payload.ParticipantID, kind); err != nil {
		return intent.RejectError(err)
	}

	normalized := event.ActionSpentPayload{
		ParticipantID: payload.ParticipantID,
		Plane:         pl.String(),
		Kind:          kind.String(),
		Label:         payload.Label,
	}
	return intent.Accept(actorEvent(it, event.TypeActionSpent, "participant", payload.ParticipantID, normalized, stamp))
}

func decideActionReserve(state State, it intent.Intent, stamp time.Time) intent.Decision {
	var payload intent.ActionReservePayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}
	pl, kind, dec, ok := checkAction(state, payload.ParticipantID, payload.Plane, payload.Kind)
	if !ok {
		return dec
	}
	if dec, ok := checkOnTurn(state, payload.ParticipantID, pl); !ok {
		return dec
	}
	probe := state.Clone()
	if _, err := probe.Ledger.Reserve(payload.ParticipantID, kind); err != nil {
		return intent.RejectError(err)
	}

	normalized := event.ActionReservedPayload{
		ParticipantID: payload.ParticipantID,
		Plane:         pl.String(),
		Kind:          kind.String(),
	}
	return intent.Accept(actorEvent(it, event.TypeActionReserved, "participant", payload.ParticipantID, normalized, stamp))
}

func decideActionInterrupt(state State, it intent.Intent, stamp time.Time) intent.Decision {
	var payload intent.ActionInterruptPayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}
	pl, err := plane.Parse(payload.Plane)
	if err != nil {
		return intent.RejectError(err)
	}
	if !state.InCombat() {
		return rejectCombatNotBegun()
	}
	if dec, ok := checkCanAct(state, payload.ParticipantID, pl); !ok {
		return dec
	}
	probe := state.Clone()
	kind, err := probe.Ledger.ExerciseReserved(payload.ParticipantID)
	if err != nil {
		return intent.RejectError(err)
	}

	interrupted := ""
	if current, ok := state.Track.Current(state.ActivePlane); ok && current != payload.ParticipantID {
		interrupted = current
	}
	normalized := event.ActionInterruptedPayload{
		ParticipantID: payload.ParticipantID,
		Plane:         pl.String(),
		Kind:          kind.String(),
		Label:         payload.Label,
		InterruptedID: interrupted,
	}
	return intent.Accept(actorEvent(it, event.TypeActionInterrupted, "participant", payload.ParticipantID, normalized, stamp))
}

func decideTurnEnd(state State, it intent.Intent, stamp time.Time) intent.Decision {
	var payload intent.TurnEndPayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}
	pl, err := plane.Parse(payload.Plane)
	if err != nil {
		return intent.RejectError(err)
	}
	if !state.InCombat() {
		return rejectCombatNotBegun()
	}
	if dec, ok := checkOnTurn(state, payload.ParticipantID, pl); !ok {
		return dec
	}

	normalized := event.TurnEndedPayload{
		ParticipantID: payload.ParticipantID,
		Plane:         pl.String(),
		Round:         state.Round(),
	}
	events := []event.Event{actorEvent(it, event.TypeTurnEnded, "participant", payload.ParticipantID, normalized, stamp)}

	probe := state.Clone()
	probe.Track.Advance(probe.ActivePlane)
	events = append(events, cascadeEvents(probe, it, stamp)...)
	return intent.Accept(events...)
}

func decideTurnHold(state State, it intent.Intent, stamp time.Time) intent.Decision {
	var payload intent.TurnHoldPayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}
	pl, err := plane.Parse(payload.Plane)
	if err != nil {
		return intent.RejectError(err)
	}
	if !state.InCombat() {
		return rejectCombatNotBegun()
	}
	if dec, ok := checkOnTurn(state, payload.ParticipantID, pl); !ok {
		return dec
	}

	kind, err := holdKind(state, payload)
	if err != nil {
		return intent.RejectError(err)
	}
	probe := state.Clone()
	if _, err := probe.Ledger.Reserve(payload.ParticipantID, kind); err != nil {
		return intent.RejectError(err)
	}

	reserved := event.ActionReservedPayload{
		ParticipantID: payload.ParticipantID,
		Plane:         pl.String(),
		Kind:          kind.String(),
	}
	ended := event.TurnEndedPayload{
		ParticipantID: payload.ParticipantID,
		Plane:         pl.String(),
		Round:         state.Round(),
	}
	events := []event.Event{
		actorEvent(it, event.TypeActionReserved, "participant", payload.ParticipantID, reserved, stamp),
		actorEvent(it, event.TypeTurnEnded, "participant", payload.ParticipantID, ended, stamp),
	}
	probe.Track.Advance(probe.ActivePlane)
	events = append(events, cascadeEvents(probe, it, stamp)...)
	return intent.Accept(events...)
}

// holdKind resolves which action a turn.hold reserves. An explicit kind
// wins; otherwise the best remaining metered action is held.
func holdKind(state State, payload intent.TurnHoldPayload) (action.Kind, error) {
	if payload.Kind != "" {
		kind, ok := action.ParseKind(payload.Kind)
		if !ok {
			return "", errors.WithMetadata(errors.CodeActionInvalidKind, "action kind is not recognized", map[string]string{
				"Kind": payload.Kind,
			})
		}
		return kind, nil
	}
	budget, ok := state.Ledger.Budget(payload.ParticipantID)
	if !ok {
		return "", errors.WithMetadata(errors.CodeActionUnavailable, "no budget to hold from", map[string]string{
			"ID": payload.ParticipantID,
		})
	}
	switch {
	case budget.Complex > 0:
		return action.KindComplex, nil
	case budget.Simple > 0:
		return action.KindSimple, nil
	}
	return "", errors.WithMetadata(errors.CodeActionUnavailable, "no action left to hold", map[string]string{
		"ID": payload.ParticipantID,
	})
}

// cascadeEvents derives the turn-boundary transitions the engine owes after
// a mutation left the active plane without a current entry: a hop to the
// next occupied plane in configured order, or, once every plane is
// exhausted, condition expiries followed by a round advance.
//
// The probe is a scratch copy already carrying the triggering mutation; it
// is consulted and mutated freely, never returned.
func cascadeEvents(probe State, it intent.Intent, stamp time.Time) []event.Event {
	if _, ok := probe.Track.Current(probe.ActivePlane); ok {
		return nil
	}
	order := activeOrder(probe)
	idx := planeIndex(order, probe.ActivePlane)
	for i := 1; i < len(order); i++ {
		next := order[(idx+i)%len(order)]
		if _, ok := probe.Track.Current(next); !ok {
			continue
		}
		payload := event.PlaneAdvancedPayload{
			FromPlane: probe.ActivePlane.String(),
			ToPlane:   next.String(),
			Round:     probe.Track.Round(),
		}
		return []event.Event{engineEvent(it, event.TypePlaneAdvanced, "session", it.SessionID, payload, stamp)}
	}

	newRound := probe.Track.Round() + 1
	var events []event.Event
	for _, expired := range probe.Roster.ExpireConditions(newRound) {
		payload := event.ConditionExpiredPayload{
			ParticipantID: expired.ParticipantID,
			Name:          expired.Name,
			Round:         newRound,
		}
		events = append(events, engineEvent(it, event.TypeConditionExpired, "participant", expired.ParticipantID, payload, stamp))
	}

	var forfeited []event.ForfeitureRecord
	for _, f := range probe.Ledger.ForfeitAll() {
		forfeited = append(forfeited, event.ForfeitureRecord{
			ParticipantID: f.ParticipantID,
			Kind:          f.Kind.String(),
		})
	}
	active := order[0]
	for _, pl := range order {
		if probe.Track.Len(pl) > 0 {
			active = pl
			break
		}
	}
	payload := event.RoundAdvancedPayload{
		Round:       newRound,
		ActivePlane: active.String(),
		Forfeited:   forfeited,
	}
	events = append(events, engineEvent(it, event.TypeRoundAdvanced, "session", it.SessionID, payload, stamp))
	return events
}

// checkCanAct verifies the participant exists, is conscious, and is present
// in the plane. Returns ok=false with the rejection to surface.
func checkCanAct(state State, id string, pl plane.Plane) (intent.Decision, bool) {
	p, err := state.Roster.Get(id)
	if err != nil {
		return intent.RejectError(err), false
	}
	if p.Incapacitated {
		return intent.Reject(intent.Rejection{
			Code:     errors.CodeParticipantIncapacitated,
			Message:  "participant is incapacitated",
			Metadata: map[string]string{"ID": id},
		}), false
	}
	if !p.PresentIn(pl) {
		return intent.Reject(intent.Rejection{
			Code:     errors.CodeInvalidPlane,
			Message:  "participant is not present in plane",
			Metadata: map[string]string{"ID": id, "Plane": pl.String()},
		}), false
	}
	return intent.Decision{}, true
}

// checkAction runs the shared guards for action intents and parses the
// plane and kind.
func checkAction(state State, id, planeName, kindName string) (plane.Plane, action.Kind, intent.Decision, bool) {
	pl, err := plane.Parse(planeName)
	if err != nil {
		return "", "", intent.RejectError(err), false
	}
	kind, ok := action.ParseKind(kindName)
	if !ok {
		rejection := intent.Rejection{
			Code:     errors.CodeActionInvalidKind,
			Message:  "action kind is not recognized",
			Metadata: map[string]string{"Kind": kindName},
		}
		return "", "", intent.Reject(rejection), false
	}
	if !state.InCombat() {
		return "", "", rejectCombatNotBegun(), false
	}
	if dec, ok := checkCanAct(state, id, pl); !ok {
		return "", "", dec, false
	}
	return pl, kind, intent.Decision{}, true
}

// checkOnTurn verifies the participant holds the current turn in the active
// plane.
func checkOnTurn(state State, id string, pl plane.Plane) (intent.Decision, bool) {
	current, ok := state.Track.Current(state.ActivePlane)
	if !ok {
		return intent.Reject(intent.Rejection{
			Code:    errors.CodeOutOfTurn,
			Message: "no turn is active",
		}), false
	}
	if pl != state.ActivePlane {
		return intent.Reject(intent.Rejection{
			Code:     errors.CodeOutOfTurn,
			Message:  "plane is not active",
			Metadata: map[string]string{"Plane": pl.String(), "ActivePlane": state.ActivePlane.String()},
		}), false
	}
	if id != current {
		return intent.Reject(intent.Rejection{
			Code:     errors.CodeOutOfTurn,
			Message:  "participant does not hold the turn",
			Metadata: map[string]string{"ID": id, "Current": current},
		}), false
	}
	return intent.Decision{}, true
}

func rejectCombatNotBegun() intent.Decision {
	return intent.Reject(intent.Rejection{
		Code:    errors.CodeCombatNotBegun,
		Message: "combat has not begun",
	})
}

func activeOrder(state State) []plane.Plane {
	if len(state.PlaneOrder) > 0 {
		return state.PlaneOrder
	}
	return plane.DefaultOrder()
}

func planeIndex(order []plane.Plane, pl plane.Plane) int {
	for i, candidate := range order {
		if candidate == pl {
			return i
		}
	}
	return 0
}
