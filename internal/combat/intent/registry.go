package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ttrpg-tools/crossfire/internal/combat/action"
	"github.com/ttrpg-tools/crossfire/internal/combat/encoding"
	"github.com/ttrpg-tools/crossfire/internal/combat/participant"
	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
)

var (
	// ErrSessionIDRequired indicates a missing session id.
	ErrSessionIDRequired = errors.New("session id is required")
	// ErrKindRequired indicates a missing intent kind.
	ErrKindRequired = errors.New("intent kind is required")
	// ErrKindUnknown indicates an unregistered intent kind.
	ErrKindUnknown = errors.New("intent kind is not registered")
	// ErrActorTypeInvalid indicates an unknown actor type.
	ErrActorTypeInvalid = errors.New("actor type is invalid")
	// ErrActorIDRequired indicates a missing actor id for participant/gm.
	ErrActorIDRequired = errors.New("actor id is required for participant or gm")
	// ErrPayloadInvalid indicates malformed payload JSON.
	ErrPayloadInvalid = errors.New("payload json must be valid")
)

// PayloadValidator validates a payload JSON document.
type PayloadValidator func(json.RawMessage) error

// Definition registers metadata for an intent kind.
type Definition struct {
	Kind            Kind
	ValidatePayload PayloadValidator
}

// Registry stores intent definitions and validates intents.
type Registry struct {
	definitions map[Kind]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Kind]Definition)}
}

// Register adds a new intent kind definition to the registry.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("registry is required")
	}
	def.Kind = Kind(strings.TrimSpace(string(def.Kind)))
	if def.Kind == "" {
		return ErrKindRequired
	}
	if _, exists := r.definitions[def.Kind]; exists {
		return fmt.Errorf("intent kind already registered: %s", def.Kind)
	}
	r.definitions[def.Kind] = def
	return nil
}

// Known reports whether the kind has been registered.
func (r *Registry) Known(k Kind) bool {
	_, ok := r.definitions[k]
	return ok
}

// ValidateForDecision validates and normalizes an intent before decision
// handling. Payload JSON is canonicalized so idempotency fingerprints of
// equal payloads compare equal.
func (r *Registry) ValidateForDecision(it Intent) (Intent, error) {
	it.SessionID = strings.TrimSpace(it.SessionID)
	if it.SessionID == "" {
		return Intent{}, ErrSessionIDRequired
	}
	it.Kind = Kind(strings.TrimSpace(string(it.Kind)))
	if it.Kind == "" {
		return Intent{}, ErrKindRequired
	}
	def, ok := r.definitions[it.Kind]
	if !ok {
		return Intent{}, ErrKindUnknown
	}

	it.ActorType = ActorType(strings.TrimSpace(string(it.ActorType)))
	if it.ActorType == "" {
		it.ActorType = ActorTypeSystem
	}
	switch it.ActorType {
	case ActorTypeSystem, ActorTypeParticipant, ActorTypeGM:
		// allowed
	default:
		return Intent{}, ErrActorTypeInvalid
	}
	it.ActorID = strings.TrimSpace(it.ActorID)
	if (it.ActorType == ActorTypeParticipant || it.ActorType == ActorTypeGM) && it.ActorID == "" {
		return Intent{}, ErrActorIDRequired
	}

	if len(it.PayloadJSON) == 0 {
		it.PayloadJSON = []byte("{}")
	}
	if !json.Valid(it.PayloadJSON) {
		return Intent{}, ErrPayloadInvalid
	}
	canonical, err := encoding.CanonicalJSON(json.RawMessage(it.PayloadJSON))
	if err != nil {
		return Intent{}, fmt.Errorf("canonical payload json: %w", err)
	}
	it.PayloadJSON = canonical

	if def.ValidatePayload != nil {
		if err := def.ValidatePayload(json.RawMessage(it.PayloadJSON)); err != nil {
			return Intent{}, fmt.Errorf("payload invalid: %w", err)
		}
	}
	return it, nil
}

// Fingerprint returns the content hash of the normalized intent used for
// idempotency conflict detection. Two submissions of the same token must
// carry the same fingerprint or the later one is rejected.
func Fingerprint(it Intent) (string, error) {
	return encoding.ContentHash(map[string]any{
		"session_id": it.SessionID,
		"kind":       string(it.Kind),
		"actor_type": string(it.ActorType),
		"actor_id":   it.ActorID,
		"payload":    json.RawMessage(it.PayloadJSON),
	})
}

// DefaultRegistry returns a registry with every combat intent kind wired in.
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	definitions := []Definition{
		{Kind: KindSessionStart, ValidatePayload: validateSessionStart},
		{Kind: KindSessionEnd, ValidatePayload: validateSessionEnd},
		{Kind: KindParticipantAdd, ValidatePayload: validateParticipantAdd},
		{Kind: KindParticipantUpdate, ValidatePayload: validateParticipantUpdate},
		{Kind: KindParticipantRemove, ValidatePayload: validateParticipantRemove},
		{Kind: KindPresenceSet, ValidatePayload: validatePresenceSet},
		{Kind: KindConditionApply, ValidatePayload: validateConditionApply},
		{Kind: KindConditionRemove, ValidatePayload: validateConditionRemove},
		{Kind: KindInitiativeRoll, ValidatePayload: validateInitiativeRoll},
		{Kind: KindInitiativeDeclare, ValidatePayload: validateInitiativeDeclare},
		{Kind: KindCombatBegin, ValidatePayload: validateCombatBegin},
		{Kind: KindActionSpend, ValidatePayload: validateActionSpend},
		{Kind: KindActionReserve, ValidatePayload: validateActionReserve},
		{Kind: KindActionInterrupt, ValidatePayload: validateActionInterrupt},
		{Kind: KindTurnEnd, ValidatePayload: validateTurnEnd},
		{Kind: KindTurnHold, ValidatePayload: validateTurnHold},
	}
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			panic(err)
		}
	}
	return registry
}

func requireParticipantID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("participant_id is required")
	}
	return nil
}

func requirePlane(value string) error {
	if _, err := plane.Parse(value); err != nil {
		return fmt.Errorf("plane %q is invalid", value)
	}
	return nil
}

func validateSessionStart(raw json.RawMessage) error {
	var p SessionStartPayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	if len(p.PlaneOrder) > 0 {
		if _, err := plane.ValidateOrder(p.PlaneOrder); err != nil {
			return err
		}
	}
	return nil
}

func validateSessionEnd(raw json.RawMessage) error {
	var p SessionEndPayload
	return Decode(raw, &p)
}

func validateParticipantAdd(raw json.RawMessage) error {
	var p ParticipantAddPayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if _, ok := participant.ParseKind(p.Kind); !ok {
		return fmt.Errorf("kind %q is invalid", p.Kind)
	}
	if p.Score < 0 {
		return fmt.Errorf("score must not be negative")
	}
	if p.Dice < 0 {
		return fmt.Errorf("dice must not be negative")
	}
	for name := range p.Presence {
		if err := requirePlane(name); err != nil {
			return err
		}
	}
	return nil
}

func validateParticipantUpdate(raw json.RawMessage) error {
	var p ParticipantUpdatePayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	if err := requireParticipantID(p.ParticipantID); err != nil {
		return err
	}
	if p.Kind != nil {
		if _, ok := participant.ParseKind(*p.Kind); !ok {
			return fmt.Errorf("kind %q is invalid", *p.Kind)
		}
	}
	if p.Score != nil && *p.Score < 0 {
		return fmt.Errorf("score must not be negative")
	}
	if p.Dice != nil && *p.Dice < 0 {
		return fmt.Errorf("dice must not be negative")
	}
	return nil
}

func validateParticipantRemove(raw json.RawMessage) error {
	var p ParticipantRemovePayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	return requireParticipantID(p.ParticipantID)
}

func validatePresenceSet(raw json.RawMessage) error {
	var p PresenceSetPayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	if err := requireParticipantID(p.ParticipantID); err != nil {
		return err
	}
	return requirePlane(p.Plane)
}

func validateConditionApply(raw json.RawMessage) error {
	var p ConditionApplyPayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	if err := requireParticipantID(p.ParticipantID); err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("condition name is required")
	}
	if p.ExpiresRound < 0 {
		return fmt.Errorf("expires_round must not be negative")
	}
	return nil
}

func validateConditionRemove(raw json.RawMessage) error {
	var p ConditionRemovePayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	if err := requireParticipantID(p.ParticipantID); err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("condition name is required")
	}
	return nil
}

func validateInitiativeRoll(raw json.RawMessage) error {
	var p InitiativeRollPayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	if err := requireParticipantID(p.ParticipantID); err != nil {
		return err
	}
	return requirePlane(p.Plane)
}

func validateInitiativeDeclare(raw json.RawMessage) error {
	var p InitiativeDeclarePayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	if err := requireParticipantID(p.ParticipantID); err != nil {
		return err
	}
	if err := requirePlane(p.Plane); err != nil {
		return err
	}
	if p.Score < 0 {
		return fmt.Errorf("score must not be negative")
	}
	return nil
}

func validateCombatBegin(raw json.RawMessage) error {
	var p CombatBeginPayload
	return Decode(raw, &p)
}

func validateActionSpend(raw json.RawMessage) error {
	var p ActionSpendPayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	if err := requireParticipantID(p.ParticipantID); err != nil {
		return err
	}
	if err := requirePlane(p.Plane); err != nil {
		return err
	}
	if _, ok := action.ParseKind(p.Kind); !ok {
		return fmt.Errorf("action kind %q is invalid", p.Kind)
	}
	return nil
}

func validateActionReserve(raw json.RawMessage) error {
	var p ActionReservePayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	if err := requireParticipantID(p.ParticipantID); err != nil {
		return err
	}
	if err := requirePlane(p.Plane); err != nil {
		return err
	}
	kind, ok := action.ParseKind(p.Kind)
	if !ok || (kind != action.KindSimple && kind != action.KindComplex) {
		return fmt.Errorf("only simple or complex actions can be held, got %q", p.Kind)
	}
	return nil
}

func validateActionInterrupt(raw json.RawMessage) error {
	var p ActionInterruptPayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	if err := requireParticipantID(p.ParticipantID); err != nil {
		return err
	}
	return requirePlane(p.Plane)
}

func validateTurnEnd(raw json.RawMessage) error {
	var p TurnEndPayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	if err := requireParticipantID(p.ParticipantID); err != nil {
		return err
	}
	return requirePlane(p.Plane)
}

func validateTurnHold(raw json.RawMessage) error {
	var p TurnHoldPayload
	if err := Decode(raw, &p); err != nil {
		return err
	}
	if err := requireParticipantID(p.ParticipantID); err != nil {
		return err
	}
	if err := requirePlane(p.Plane); err != nil {
		return err
	}
	if p.Kind != "" {
		kind, ok := action.ParseKind(p.Kind)
		if !ok || (kind != action.KindSimple && kind != action.KindComplex) {
			return fmt.Errorf("only simple or complex actions can be held, got %q", p.Kind)
		}
	}
	return nil
}
