package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ttrpg-tools/crossfire/internal/combat/encoding"
)

// Registry validation errors.
var (
	// ErrTypeInvalid indicates a definition with an unusable type string.
	ErrTypeInvalid = errors.New("event type is invalid")
	// ErrTypeRegistered indicates a duplicate registration.
	ErrTypeRegistered = errors.New("event type already registered")
	// ErrTypeUnknown indicates an event whose type was never registered.
	ErrTypeUnknown = errors.New("event type unknown")
	// ErrSessionIDRequired indicates an event without a session.
	ErrSessionIDRequired = errors.New("event session id required")
	// ErrTimestampRequired indicates an event without a timestamp.
	ErrTimestampRequired = errors.New("event timestamp required")
	// ErrActorTypeInvalid indicates an unknown actor type.
	ErrActorTypeInvalid = errors.New("event actor type invalid")
	// ErrActorIDRequired indicates a participant or GM event without an actor.
	ErrActorIDRequired = errors.New("event actor id required")
	// ErrEntityTypeRequired indicates a targeted event without an entity type.
	ErrEntityTypeRequired = errors.New("event entity type required")
	// ErrEntityIDRequired indicates a targeted event without an entity id.
	ErrEntityIDRequired = errors.New("event entity id required")
	// ErrPayloadInvalid indicates a payload that is not a JSON object.
	ErrPayloadInvalid = errors.New("event payload invalid")
)

// AddressingPolicy controls whether an event type must name a target entity.
type AddressingPolicy string

const (
	// AddressingPolicyNone leaves entity addressing optional.
	AddressingPolicyNone AddressingPolicy = "none"
	// AddressingPolicyEntityTarget requires EntityType and EntityID.
	AddressingPolicyEntityTarget AddressingPolicy = "entity-target"
)

// Definition declares an event type the journal will accept.
type Definition struct {
	Type       Type
	Addressing AddressingPolicy
}

// Registry is the set of event types a session journal accepts.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// Register adds a definition. Registering the same type twice is an error.
func (r *Registry) Register(def Definition) error {
	if !def.Type.IsValid() {
		return fmt.Errorf("register %q: %w", def.Type, ErrTypeInvalid)
	}
	if _, exists := r.definitions[def.Type]; exists {
		return fmt.Errorf("register %q: %w", def.Type, ErrTypeRegistered)
	}
	if def.Addressing == "" {
		def.Addressing = AddressingPolicyNone
	}
	r.definitions[def.Type] = def
	return nil
}

// Known reports whether the type has been registered.
func (r *Registry) Known(t Type) bool {
	_, ok := r.definitions[t]
	return ok
}

// ListDefinitions returns all registered definitions in type order.
func (r *Registry) ListDefinitions() []Definition {
	out := make([]Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ValidateForAppend checks an event against its definition and returns a
// normalized copy with canonical payload JSON. Sequence and integrity fields
// are left for storage to assign.
func (r *Registry) ValidateForAppend(evt Event) (Event, error) {
	def, ok := r.definitions[evt.Type]
	if !ok {
		return Event{}, fmt.Errorf("append %q: %w", evt.Type, ErrTypeUnknown)
	}
	if evt.SessionID == "" {
		return Event{}, fmt.Errorf("append %q: %w", evt.Type, ErrSessionIDRequired)
	}
	if evt.Timestamp.IsZero() {
		return Event{}, fmt.Errorf("append %q: %w", evt.Type, ErrTimestampRequired)
	}
	if !evt.ActorType.IsValid() {
		return Event{}, fmt.Errorf("append %q: %w", evt.Type, ErrActorTypeInvalid)
	}
	if evt.ActorType != ActorTypeSystem && evt.ActorID == "" {
		return Event{}, fmt.Errorf("append %q: %w", evt.Type, ErrActorIDRequired)
	}
	if def.Addressing == AddressingPolicyEntityTarget {
		if evt.EntityType == "" {
			return Event{}, fmt.Errorf("append %q: %w", evt.Type, ErrEntityTypeRequired)
		}
		if evt.EntityID == "" {
			return Event{}, fmt.Errorf("append %q: %w", evt.Type, ErrEntityIDRequired)
		}
	}
	normalized, err := canonicalPayload(evt.PayloadJSON)
	if err != nil {
		return Event{}, fmt.Errorf("append %q: %w: %v", evt.Type, ErrPayloadInvalid, err)
	}
	evt.PayloadJSON = normalized
	evt.Timestamp = evt.Timestamp.UTC()
	return evt, nil
}

// canonicalPayload re-marshals payload JSON so equal payloads serialize to
// equal bytes (object keys sorted, whitespace stripped).
func canonicalPayload(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("not valid JSON")
	}
	return encoding.CanonicalJSON(json.RawMessage(raw))
}

// DefaultRegistry returns a registry with every combat event type wired in.
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	definitions := []Definition{
		{Type: TypeSessionStarted, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeSessionEnded, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeParticipantAdded, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeParticipantUpdated, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeParticipantRemoved, Addressing: AddressingPolicyEntityTarget},
		{Type: TypePresenceChanged, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeConditionApplied, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeConditionRemoved, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeConditionExpired, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeInitiativeRolled, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeCombatBegun, Addressing: AddressingPolicyEntityTarget},
		{Type: TypePlaneAdvanced, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeRoundAdvanced, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeActionSpent, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeActionReserved, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeActionInterrupted, Addressing: AddressingPolicyEntityTarget},
		{Type: TypeTurnEnded, Addressing: AddressingPolicyEntityTarget},
	}
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			panic(err)
		}
	}
	return registry
}
