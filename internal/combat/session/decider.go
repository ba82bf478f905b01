package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ttrpg-tools/crossfire/internal/combat/event"
	"github.com/ttrpg-tools/crossfire/internal/combat/intent"
	"github.com/ttrpg-tools/crossfire/internal/combat/participant"
	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
)

// Decide returns the decision for an intent against current state.
//
// Decide is pure: it never mutates the state it is given and never touches a
// clock other than the one passed in. Every accepted intent maps to
// deterministic events so live application and replay observe identical
// transitions.
func Decide(state State, it intent.Intent, now func() time.Time) intent.Decision {
	if now == nil {
		now = time.Now
	}
	stamp := now().UTC()

	if it.Kind != intent.KindSessionStart {
		if !state.Started() {
			return intent.Reject(intent.Rejection{
				Code:    errors.CodeNotFound,
				Message: "session not started",
			})
		}
		if state.Status == StatusEnded {
			return intent.Reject(intent.Rejection{
				Code:    errors.CodeSessionEnded,
				Message: "session has ended",
			})
		}
	}

	switch it.Kind {
	case intent.KindSessionStart:
		return decideSessionStart(state, it, stamp)
	case intent.KindSessionEnd:
		return decideSessionEnd(state, it, stamp)
	case intent.KindParticipantAdd:
		return decideParticipantAdd(state, it, stamp)
	case intent.KindParticipantUpdate:
		return decideParticipantUpdate(state, it, stamp)
	case intent.KindParticipantRemove:
		return decideParticipantRemove(state, it, stamp)
	case intent.KindPresenceSet:
		return decidePresenceSet(state, it, stamp)
	case intent.KindConditionApply:
		return decideConditionApply(state, it, stamp)
	case intent.KindConditionRemove:
		return decideConditionRemove(state, it, stamp)
	case intent.KindInitiativeRoll:
		return decideInitiativeRoll(state, it, stamp)
	case intent.KindInitiativeDeclare:
		return decideInitiativeDeclare(state, it, stamp)
	case intent.KindCombatBegin:
		return decideCombatBegin(state, it, stamp)
	case intent.KindActionSpend:
		return decideActionSpend(state, it, stamp)
	case intent.KindActionReserve:
		return decideActionReserve(state, it, stamp)
	case intent.KindActionInterrupt:
		return decideActionInterrupt(state, it, stamp)
	case intent.KindTurnEnd:
		return decideTurnEnd(state, it, stamp)
	case intent.KindTurnHold:
		return decideTurnHold(state, it, stamp)
	}
	return intent.Reject(intent.Rejection{
		Code:     errors.CodeIntentInvalid,
		Message:  "intent kind is not supported",
		Metadata: map[string]string{"Kind": string(it.Kind)},
	})
}

// actorEvent builds an event attributed to the intent's submitter.
func actorEvent(it intent.Intent, typ event.Type, entityType, entityID string, payload any, stamp time.Time) event.Event {
	payloadJSON, _ := json.Marshal(payload)
	return intent.NewEvent(it, typ, entityType, entityID, payloadJSON, stamp)
}

// engineEvent builds an event attributed to the engine itself. Cascade
// transitions keep the triggering intent's token for correlation but are
// facts the engine derived, not something a client asked for.
func engineEvent(it intent.Intent, typ event.Type, entityType, entityID string, payload any, stamp time.Time) event.Event {
	evt := actorEvent(it, typ, entityType, entityID, payload, stamp)
	evt.ActorType = event.ActorTypeSystem
	evt.ActorID = ""
	return evt
}

func decideSessionStart(state State, it intent.Intent, stamp time.Time) intent.Decision {
	if state.Started() {
		return intent.Reject(intent.Rejection{
			Code:    errors.CodeAlreadyExists,
			Message: "session already started",
		})
	}
	var payload intent.SessionStartPayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}

	order := plane.DefaultOrder()
	if len(payload.PlaneOrder) > 0 {
		validated, err := plane.ValidateOrder(payload.PlaneOrder)
		if err != nil {
			return intent.RejectError(err)
		}
		order = validated
	}

	normalized := event.SessionStartedPayload{
		Name:       strings.TrimSpace(payload.Name),
		PlaneOrder: planeNames(order),
	}
	return intent.Accept(actorEvent(it, event.TypeSessionStarted, "session", it.SessionID, normalized, stamp))
}

func decideSessionEnd(state State, it intent.Intent, stamp time.Time) intent.Decision {
	var payload intent.SessionEndPayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}
	normalized := event.SessionEndedPayload{Reason: strings.TrimSpace(payload.Reason)}
	return intent.Accept(actorEvent(it, event.TypeSessionEnded, "session", it.SessionID, normalized, stamp))
}

func decideParticipantAdd(state State, it intent.Intent, stamp time.Time) intent.Decision {
	var payload intent.ParticipantAddPayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}
	if strings.TrimSpace(payload.ParticipantID) == "" {
		return intent.Reject(intent.Rejection{
			Code:    errors.CodeIntentInvalid,
			Message: "participant id was not assigned",
		})
	}
	if payload.Dice <= 0 {
		payload.Dice = 1
	}

	added, err := buildParticipant(payload)
	if err != nil {
		return intent.RejectError(err)
	}
	probe := state.Clone()
	if _, err := probe.Roster.Add(added); err != nil {
		return intent.RejectError(err)
	}

	normalized := event.ParticipantAddedPayload{
		ParticipantID: payload.ParticipantID,
		Name:          strings.TrimSpace(payload.Name),
		Kind:          payload.Kind,
		Score:         payload.Score,
		Dice:          payload.Dice,
		Presence:      payload.Presence,
	}
	return intent.Accept(actorEvent(it, event.TypeParticipantAdded, "participant", payload.ParticipantID, normalized, stamp))
}

func decideParticipantUpdate(state State, it intent.Intent, stamp time.Time) intent.Decision {
	var payload intent.ParticipantUpdatePayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}

	mutation, err := mutationOf(payload)
	if err != nil {
		return intent.RejectError(err)
	}
	probe := state.Clone()
	if err := probe.Roster.Update(payload.ParticipantID, mutation); err != nil {
		return intent.RejectError(err)
	}

	fields := make(map[string]any)
	if payload.Name != nil {
		fields["name"] = *payload.Name
	}
	if payload.Kind != nil {
		fields["kind"] = *payload.Kind
	}
	if payload.Score != nil {
		fields["score"] = *payload.Score
	}
	if payload.Dice != nil {
		fields["dice"] = *payload.Dice
	}
	if payload.Incapacitated != nil {
		fields["incapacitated"] = *payload.Incapacitated
	}
	if len(fields) == 0 {
		return intent.Reject(intent.Rejection{
			Code:    errors.CodeIntentInvalid,
			Message: "update carries no fields",
		})
	}

	normalized := event.ParticipantUpdatedPayload{
		ParticipantID: payload.ParticipantID,
		Fields:        fields,
	}
	return intent.Accept(actorEvent(it, event.TypeParticipantUpdated, "participant", payload.ParticipantID, normalized, stamp))
}

func decideParticipantRemove(state State, it intent.Intent, stamp time.Time) intent.Decision {
	var payload intent.ParticipantRemovePayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}
	if !state.Roster.Has(payload.ParticipantID) {
		return rejectUnknownParticipant(payload.ParticipantID)
	}

	normalized := event.ParticipantRemovedPayload{
		ParticipantID: payload.ParticipantID,
		Reason:        strings.TrimSpace(payload.Reason),
	}
	events := []event.Event{actorEvent(it, event.TypeParticipantRemoved, "participant", payload.ParticipantID, normalized, stamp)}

	if state.InCombat() {
		probe := state.Clone()
		if err := probe.Roster.Remove(payload.ParticipantID); err != nil {
			return intent.RejectError(err)
		}
		probe.Track.Purge(payload.ParticipantID)
		probe.Ledger.Purge(payload.ParticipantID)
		events = append(events, cascadeEvents(probe, it, stamp)...)
	}
	return intent.Accept(events...)
}

func decidePresenceSet(state State, it intent.Intent, stamp time.Time) intent.Decision {
	var payload intent.PresenceSetPayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}
	pl, err := plane.Parse(payload.Plane)
	if err != nil {
		return intent.RejectError(err)
	}
	if !state.Roster.Has(payload.ParticipantID) {
		return rejectUnknownParticipant(payload.ParticipantID)
	}

	normalized := event.PresenceChangedPayload{
		ParticipantID: payload.ParticipantID,
		Plane:         pl.String(),
		Present:       payload.Present,
	}
	events := []event.Event{actorEvent(it, event.TypePresenceChanged, "participant", payload.ParticipantID, normalized, stamp)}

	if state.InCombat() && !payload.Present {
		probe := state.Clone()
		probe.Track.Remove(payload.ParticipantID, pl)
		events = append(events, cascadeEvents(probe, it, stamp)...)
	}
	return intent.Accept(events...)
}

func decideConditionApply(state State, it intent.Intent, stamp time.Time) intent.Decision {
	var payload intent.ConditionApplyPayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}
	if !state.Roster.Has(payload.ParticipantID) {
		return rejectUnknownParticipant(payload.ParticipantID)
	}

	normalized := event.ConditionAppliedPayload{
		ParticipantID: payload.ParticipantID,
		Name:          strings.TrimSpace(payload.Name),
		ExpiresRound:  payload.ExpiresRound,
		Modifier:      payload.Modifier,
	}
	return intent.Accept(actorEvent(it, event.TypeConditionApplied, "participant", payload.ParticipantID, normalized, stamp))
}

func decideConditionRemove(state State, it intent.Intent, stamp time.Time) intent.Decision {
	var payload intent.ConditionRemovePayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return rejectInvalid(err)
	}
	p, err := state.Roster.Get(payload.ParticipantID)
	if err != nil {
		return intent.RejectError(err)
	}
	name := strings.TrimSpace(payload.Name)
	found := false
	for _, c := range p.Conditions {
		if c.Name == name {
			found = true
			break
		}
	}
	if !found {
		return intent.Reject(intent.Rejection{
			Code:     errors.CodeNotFound,
			Message:  "condition not found",
			Metadata: map[string]string{"ID": payload.ParticipantID, "Condition": name},
		})
	}

	normalized := event.ConditionRemovedPayload{
		ParticipantID: payload.ParticipantID,
		Name:          name,
	}
	return intent.Accept(actorEvent(it, event.TypeConditionRemoved, "participant", payload.ParticipantID, normalized, stamp))
}

func rejectInvalid(err error) intent.Decision {
	return intent.Reject(intent.Rejection{
		Code:    errors.CodeIntentInvalid,
		Message: err.Error(),
	})
}

func rejectUnknownParticipant(id string) intent.Decision {
	return intent.Reject(intent.Rejection{
		Code:     errors.CodeNotFound,
		Message:  "participant not found",
		Metadata: map[string]string{"ID": id},
	})
}

func planeNames(order []plane.Plane) []string {
	out := make([]string, 0, len(order))
	for _, pl := range order {
		out = append(out, pl.String())
	}
	return out
}

func buildParticipant(payload intent.ParticipantAddPayload) (participant.Participant, error) {
	kind, ok := participant.ParseKind(payload.Kind)
	if !ok {
		return participant.Participant{}, invalidParticipantKind(payload.Kind)
	}
	p := participant.Participant{
		ID:    payload.ParticipantID,
		Name:  strings.TrimSpace(payload.Name),
		Kind:  kind,
		Score: payload.Score,
		Dice:  payload.Dice,
	}
	if len(payload.Presence) > 0 {
		p.Presence = make(map[plane.Plane]bool, len(payload.Presence))
		for name, present := range payload.Presence {
			pl, err := plane.Parse(name)
			if err != nil {
				return participant.Participant{}, err
			}
			p.Presence[pl] = present
		}
	}
	return p, nil
}

func mutationOf(payload intent.ParticipantUpdatePayload) (participant.Mutation, error) {
	m := participant.Mutation{
		Name:          payload.Name,
		Score:         payload.Score,
		Dice:          payload.Dice,
		Incapacitated: payload.Incapacitated,
	}
	if payload.Kind != nil {
		kind, ok := participant.ParseKind(*payload.Kind)
		if !ok {
			return participant.Mutation{}, invalidParticipantKind(*payload.Kind)
		}
		m.Kind = &kind
	}
	return m, nil
}

func invalidParticipantKind(value string) error {
	return errors.WithMetadata(errors.CodeParticipantInvalidKind, "participant kind is not recognized", map[string]string{
		"Kind": value,
	})
}
