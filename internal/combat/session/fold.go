package session

import (
	"encoding/json"
	"fmt"

	"github.com/ttrpg-tools/crossfire/internal/combat/action"
	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/participant"
	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
)

// Fold applies one committed event to the state and returns the successor.
//
// Fold never mutates its input; live application and journal replay run the
// same function, so any stream the decider produced folds without error. A
// fold error means the stream is corrupt, not that the event was invalid.
func Fold(state State, evt event.Event) (State, error) {
	switch evt.Type {
	case event.TypeSessionStarted:
		return foldSessionStarted(state, evt)
	case event.TypeSessionEnded:
		return foldSessionEnded(state, evt)
	case event.TypeParticipantAdded:
		return foldParticipantAdded(state, evt)
	case event.TypeParticipantUpdated:
		return foldParticipantUpdated(state, evt)
	case event.TypeParticipantRemoved:
		return foldParticipantRemoved(state, evt)
	case event.TypePresenceChanged:
		return foldPresenceChanged(state, evt)
	case event.TypeConditionApplied:
		return foldConditionApplied(state, evt)
	case event.TypeConditionRemoved, event.TypeConditionExpired:
		return foldConditionDropped(state, evt)
	case event.TypeInitiativeRolled:
		return foldInitiativeRolled(state, evt)
	case event.TypeCombatBegun:
		return foldCombatBegun(state, evt)
	case event.TypePlaneAdvanced:
		return foldPlaneAdvanced(state, evt)
	case event.TypeRoundAdvanced:
		return foldRoundAdvanced(state, evt)
	case event.TypeActionSpent:
		return foldActionSpent(state, evt)
	case event.TypeActionReserved:
		return foldActionReserved(state, evt)
	case event.TypeActionInterrupted:
		return foldActionInterrupted(state, evt)
	case event.TypeTurnEnded:
		return foldTurnEnded(state, evt)
	}
	return state, fmt.Errorf("fold: unhandled event type %q", evt.Type)
}

func foldSessionStarted(state State, evt event.Event) (State, error) {
	var payload event.SessionStartedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	next := NewState()
	next.SessionID = evt.SessionID
	next.Name = payload.Name
	next.Status = StatusSetup
	if len(payload.PlaneOrder) > 0 {
		order, err := plane.ValidateOrder(payload.PlaneOrder)
		if err != nil {
			return state, fmt.Errorf("fold %s: %w", evt.Type, err)
		}
		next.PlaneOrder = order
	} else {
		next.PlaneOrder = plane.DefaultOrder()
	}
	return next, nil
}

func foldSessionEnded(state State, evt event.Event) (State, error) {
	next := state.Clone()
	next.Status = StatusEnded
	return next, nil
}

func foldParticipantAdded(state State, evt event.Event) (State, error) {
	var payload event.ParticipantAddedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	kind, ok := participant.ParseKind(payload.Kind)
	if !ok {
		return state, fmt.Errorf("fold %s: unknown participant kind %q", evt.Type, payload.Kind)
	}
	p := participant.Participant{
		ID:    payload.ParticipantID,
		Name:  payload.Name,
		Kind:  kind,
		Score: payload.Score,
		Dice:  payload.Dice,
	}
	if len(payload.Presence) > 0 {
		p.Presence = make(map[plane.Plane]bool, len(payload.Presence))
		for name, present := range payload.Presence {
			pl, err := plane.Parse(name)
			if err != nil {
				return state, fmt.Errorf("fold %s: %w", evt.Type, err)
			}
			p.Presence[pl] = present
		}
	}
	next := state.Clone()
	if _, err := next.Roster.Add(p); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	return next, nil
}

func foldParticipantUpdated(state State, evt event.Event) (State, error) {
	var payload event.ParticipantUpdatedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	mutation, err := mutationFromFields(payload.Fields)
	if err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	next := state.Clone()
	if err := next.Roster.Update(payload.ParticipantID, mutation); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	return next, nil
}

func foldParticipantRemoved(state State, evt event.Event) (State, error) {
	var payload event.ParticipantRemovedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	next := state.Clone()
	before, _ := next.Track.Current(next.ActivePlane)
	if err := next.Roster.Remove(payload.ParticipantID); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	next.Track.Purge(payload.ParticipantID)
	next.Ledger.Purge(payload.ParticipantID)
	refreshOnNewCurrent(&next, before)
	return next, nil
}

func foldPresenceChanged(state State, evt event.Event) (State, error) {
	var payload event.PresenceChangedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	pl, err := plane.Parse(payload.Plane)
	if err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	next := state.Clone()
	before, _ := next.Track.Current(next.ActivePlane)
	if err := next.Roster.SetPresence(payload.ParticipantID, pl, payload.Present); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	if !payload.Present {
		next.Track.Remove(payload.ParticipantID, pl)
		refreshOnNewCurrent(&next, before)
	}
	return next, nil
}

func foldConditionApplied(state State, evt event.Event) (State, error) {
	var payload event.ConditionAppliedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	next := state.Clone()
	condition := participant.Condition{
		Name:         payload.Name,
		ExpiresRound: payload.ExpiresRound,
		Modifier:     payload.Modifier,
	}
	if err := next.Roster.AddCondition(payload.ParticipantID, condition); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	return next, nil
}

func foldConditionDropped(state State, evt event.Event) (State, error) {
	var payload event.ConditionRemovedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	next := state.Clone()
	if err := next.Roster.RemoveCondition(payload.ParticipantID, payload.Name); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	return next, nil
}

func foldInitiativeRolled(state State, evt event.Event) (State, error) {
	var payload event.InitiativeRolledPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	pl, err := plane.Parse(payload.Plane)
	if err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	next := state.Clone()
	next.Track.Roll(payload.ParticipantID, pl, payload.Score, payload.Seed)
	// Reinforcements joining mid-combat get a budget immediately so they
	// can interrupt before their first turn comes around.
	if next.InCombat() {
		if _, ok := next.Ledger.Budget(payload.ParticipantID); !ok {
			refreshBudget(&next, payload.ParticipantID)
		}
	}
	return next, nil
}

func foldCombatBegun(state State, evt event.Event) (State, error) {
	var payload event.CombatBegunPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	active, err := plane.Parse(payload.ActivePlane)
	if err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	next := state.Clone()
	next.Status = StatusActive
	if len(payload.PlaneOrder) > 0 {
		order, err := plane.ValidateOrder(payload.PlaneOrder)
		if err != nil {
			return state, fmt.Errorf("fold %s: %w", evt.Type, err)
		}
		next.PlaneOrder = order
	}
	next.ActivePlane = active
	next.Track.NewRound()
	refreshAllBudgets(&next)
	return next, nil
}

func foldPlaneAdvanced(state State, evt event.Event) (State, error) {
	var payload event.PlaneAdvancedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	to, err := plane.Parse(payload.ToPlane)
	if err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	next := state.Clone()
	next.ActivePlane = to
	if current, ok := next.Track.Current(to); ok {
		refreshBudget(&next, current)
	}
	return next, nil
}

func foldRoundAdvanced(state State, evt event.Event) (State, error) {
	var payload event.RoundAdvancedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	active, err := plane.Parse(payload.ActivePlane)
	if err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	next := state.Clone()
	next.Track.NewRound()
	next.ActivePlane = active
	refreshAllBudgets(&next)
	return next, nil
}

func foldActionSpent(state State, evt event.Event) (State, error) {
	var payload event.ActionSpentPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	kind, ok := action.ParseKind(payload.Kind)
	if !ok {
		return state, fmt.Errorf("fold %s: unknown action kind %q", evt.Type, payload.Kind)
	}
	next := state.Clone()
	if _, err := next.Ledger.Spend(payload.ParticipantID, kind); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	return next, nil
}

func foldActionReserved(state State, evt event.Event) (State, error) {
	var payload event.ActionReservedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	kind, ok := action.ParseKind(payload.Kind)
	if !ok {
		return state, fmt.Errorf("fold %s: unknown action kind %q", evt.Type, payload.Kind)
	}
	next := state.Clone()
	if _, err := next.Ledger.Reserve(payload.ParticipantID, kind); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	return next, nil
}

func foldActionInterrupted(state State, evt event.Event) (State, error) {
	var payload event.ActionInterruptedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	next := state.Clone()
	if _, err := next.Ledger.ExerciseReserved(payload.ParticipantID); err != nil {
		return state, fmt.Errorf("fold %s: %w", evt.Type, err)
	}
	return next, nil
}

func foldTurnEnded(state State, evt event.Event) (State, error) {
	next := state.Clone()
	current, err := next.Track.Advance(next.ActivePlane)
	if err != nil {
		// Exhaustion is the signal a plane or round transition follows;
		// the companion event in the same decision carries it.
		return next, nil
	}
	refreshBudget(&next, current)
	return next, nil
}

// refreshBudget resets one participant's budget from base plus their
// current condition modifiers.
func refreshBudget(next *State, id string) {
	modifier := 0
	if p, err := next.Roster.Get(id); err == nil {
		modifier = p.ConditionModifier()
	}
	next.Ledger.Refresh(id, modifier)
}

// refreshAllBudgets hands every roster member a fresh round budget. Held
// actions do not survive this; forfeits were recorded by the decider.
func refreshAllBudgets(next *State) {
	for _, p := range next.Roster.List() {
		next.Ledger.Refresh(p.ID, p.ConditionModifier())
	}
}

// refreshOnNewCurrent starts the new current actor's turn when a roster
// mutation shifted the active plane's cursor onto someone else.
func refreshOnNewCurrent(next *State, before string) {
	if !next.InCombat() {
		return
	}
	after, ok := next.Track.Current(next.ActivePlane)
	if ok && after != before {
		refreshBudget(next, after)
	}
}

func mutationFromFields(fields map[string]any) (participant.Mutation, error) {
	var m participant.Mutation
	for name, value := range fields {
		switch name {
		case "name":
			s, ok := value.(string)
			if !ok {
				return m, fmt.Errorf("field name: expected string, got %T", value)
			}
			m.Name = &s
		case "kind":
			s, ok := value.(string)
			if !ok {
				return m, fmt.Errorf("field kind: expected string, got %T", value)
			}
			kind, ok := participant.ParseKind(s)
			if !ok {
				return m, fmt.Errorf("field kind: unknown value %q", s)
			}
			m.Kind = &kind
		case "score":
			n, err := fieldInt(value)
			if err != nil {
				return m, fmt.Errorf("field score: %w", err)
			}
			m.Score = &n
		case "dice":
			n, err := fieldInt(value)
			if err != nil {
				return m, fmt.Errorf("field dice: %w", err)
			}
			m.Dice = &n
		case "incapacitated":
			b, ok := value.(bool)
			if !ok {
				return m, fmt.Errorf("field incapacitated: expected bool, got %T", value)
			}
			m.Incapacitated = &b
		default:
			return m, fmt.Errorf("unknown field %q", name)
		}
	}
	return m, nil
}

func fieldInt(value any) (int, error) {
	switch v := value.(type) {
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, err
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("expected number, got %T", value)
}
