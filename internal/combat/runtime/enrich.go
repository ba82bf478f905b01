package runtime

import (
	"encoding/json"
	"math/rand"
	"strings"

	"github.com/ttrpg-tools/crossfire/internal/combat/intent"
	"github.com/ttrpg-tools/crossfire/internal/combat/session"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
)

const initiativeDieSides = 6

// enrich fills runtime-assigned payload fields before the decider runs.
// Everything random is drawn here and written into the intent, so the
// committed events replay without touching an entropy source again.
func (r *Runtime) enrich(state session.State, it intent.Intent) (intent.Intent, error) {
	switch it.Kind {
	case intent.KindParticipantAdd:
		return r.enrichParticipantAdd(it)
	case intent.KindInitiativeRoll:
		return r.enrichInitiativeRoll(state, it)
	case intent.KindInitiativeDeclare:
		return r.enrichInitiativeDeclare(it)
	default:
		return it, nil
	}
}

func (r *Runtime) enrichParticipantAdd(it intent.Intent) (intent.Intent, error) {
	var payload intent.ParticipantAddPayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return intent.Intent{}, errors.Wrap(errors.CodeIntentInvalid, "decode participant payload", err)
	}
	if strings.TrimSpace(payload.ParticipantID) != "" {
		return it, nil
	}
	assigned, err := r.newID()
	if err != nil {
		return intent.Intent{}, errors.Wrap(errors.CodeInternal, "assign participant id", err)
	}
	payload.ParticipantID = assigned
	return replacePayload(it, payload)
}

// enrichInitiativeRoll rolls the combatant's initiative dice. The score is
// always computed here; a client cannot claim an arbitrary rolled total, the
// GM path for that is initiative.declare. A client-supplied seed is honored
// so scripted encounters stay reproducible.
func (r *Runtime) enrichInitiativeRoll(state session.State, it intent.Intent) (intent.Intent, error) {
	var payload intent.InitiativeRollPayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return intent.Intent{}, errors.Wrap(errors.CodeIntentInvalid, "decode initiative payload", err)
	}
	combatant, err := state.Roster.Get(payload.ParticipantID)
	if err != nil {
		// Unknown participants fall through to the decider's rejection.
		return it, nil
	}
	if payload.Seed == 0 {
		seed, err := r.newSeed()
		if err != nil {
			return intent.Intent{}, errors.Wrap(errors.CodeInternal, "draw initiative seed", err)
		}
		payload.Seed = seed
	}
	payload.Score = combatant.Score + rollInitiativeDice(payload.Seed, combatant.Dice)
	return replacePayload(it, payload)
}

func (r *Runtime) enrichInitiativeDeclare(it intent.Intent) (intent.Intent, error) {
	var payload intent.InitiativeDeclarePayload
	if err := intent.Decode(it.PayloadJSON, &payload); err != nil {
		return intent.Intent{}, errors.Wrap(errors.CodeIntentInvalid, "decode initiative payload", err)
	}
	if payload.Seed != 0 {
		return it, nil
	}
	seed, err := r.newSeed()
	if err != nil {
		return intent.Intent{}, errors.Wrap(errors.CodeInternal, "draw initiative seed", err)
	}
	payload.Seed = seed
	return replacePayload(it, payload)
}

// rollInitiativeDice is deterministic with respect to seed. The seed doubles
// as the track tie-break, so one captured value fixes both the dice and the
// ordering of equal scores.
func rollInitiativeDice(seed int64, dice int) int {
	if dice <= 0 {
		return 0
	}
	rng := rand.New(rand.NewSource(seed))
	total := 0
	for i := 0; i < dice; i++ {
		total += rng.Intn(initiativeDieSides) + 1
	}
	return total
}

func replacePayload(it intent.Intent, payload any) (intent.Intent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return intent.Intent{}, errors.Wrap(errors.CodeInternal, "encode enriched payload", err)
	}
	it.PayloadJSON = raw
	return it, nil
}
