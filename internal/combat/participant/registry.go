package participant

import (
	"sort"
	"strings"

	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
)

// Registry is the authoritative roster of combatants for one session.
//
// It is not safe for concurrent use; the session runtime confines it to a
// single goroutine.
type Registry struct {
	byID map[string]Participant
}

// NewRegistry returns an empty roster.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Participant)}
}

// Add inserts a participant and returns its identifier.
// The identifier must be assigned by the caller before insertion so that
// replayed additions land on the same ID.
func (r *Registry) Add(p Participant) (string, error) {
	if strings.TrimSpace(p.ID) == "" {
		return "", errors.New(errors.CodeIntentInvalid, "participant id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return "", errors.New(errors.CodeParticipantNameEmpty, "participant name is required")
	}
	if !p.Kind.Valid() {
		return "", errors.WithMetadata(errors.CodeParticipantInvalidKind, "participant kind is invalid", map[string]string{
			"Kind": string(p.Kind),
		})
	}
	if _, exists := r.byID[p.ID]; exists {
		return "", errors.WithMetadata(errors.CodeParticipantExists, "participant already exists", map[string]string{
			"ID": p.ID,
		})
	}
	if p.Presence == nil {
		p.Presence = map[plane.Plane]bool{plane.Physical: true}
	}
	r.byID[p.ID] = p.Clone()
	return p.ID, nil
}

// Remove deletes a participant from the roster.
// Callers must purge initiative entries and budgets first.
func (r *Registry) Remove(id string) error {
	if _, exists := r.byID[id]; !exists {
		return notFound(id)
	}
	delete(r.byID, id)
	return nil
}

// Update applies a last-writer-wins mutation to a participant.
func (r *Registry) Update(id string, m Mutation) error {
	p, exists := r.byID[id]
	if !exists {
		return notFound(id)
	}
	if m.Name != nil {
		if strings.TrimSpace(*m.Name) == "" {
			return errors.New(errors.CodeParticipantNameEmpty, "participant name is required")
		}
		p.Name = *m.Name
	}
	if m.Kind != nil {
		if !m.Kind.Valid() {
			return errors.WithMetadata(errors.CodeParticipantInvalidKind, "participant kind is invalid", map[string]string{
				"Kind": string(*m.Kind),
			})
		}
		p.Kind = *m.Kind
	}
	if m.Score != nil {
		p.Score = *m.Score
	}
	if m.Dice != nil {
		p.Dice = *m.Dice
	}
	if m.Incapacitated != nil {
		p.Incapacitated = *m.Incapacitated
	}
	r.byID[id] = p
	return nil
}

// Get returns a snapshot copy of a participant.
func (r *Registry) Get(id string) (Participant, error) {
	p, exists := r.byID[id]
	if !exists {
		return Participant{}, notFound(id)
	}
	return p.Clone(), nil
}

// Has reports whether the roster holds the identifier.
func (r *Registry) Has(id string) bool {
	_, exists := r.byID[id]
	return exists
}

// SetPresence toggles a participant's presence in a plane.
func (r *Registry) SetPresence(id string, pl plane.Plane, present bool) error {
	p, exists := r.byID[id]
	if !exists {
		return notFound(id)
	}
	if p.Presence == nil {
		p.Presence = make(map[plane.Plane]bool)
	} else {
		presence := make(map[plane.Plane]bool, len(p.Presence))
		for key, value := range p.Presence {
			presence[key] = value
		}
		p.Presence = presence
	}
	p.Presence[pl] = present
	r.byID[id] = p
	return nil
}

// AddCondition appends a status effect to a participant.
// Re-applying a condition by name replaces its expiry and modifier in place.
func (r *Registry) AddCondition(id string, c Condition) error {
	p, exists := r.byID[id]
	if !exists {
		return notFound(id)
	}
	conditions := append([]Condition(nil), p.Conditions...)
	replaced := false
	for i := range conditions {
		if conditions[i].Name == c.Name {
			conditions[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		conditions = append(conditions, c)
	}
	p.Conditions = conditions
	r.byID[id] = p
	return nil
}

// RemoveCondition removes a status effect by name. Unknown names are a no-op.
func (r *Registry) RemoveCondition(id string, name string) error {
	p, exists := r.byID[id]
	if !exists {
		return notFound(id)
	}
	conditions := make([]Condition, 0, len(p.Conditions))
	for _, c := range p.Conditions {
		if c.Name != name {
			conditions = append(conditions, c)
		}
	}
	p.Conditions = conditions
	r.byID[id] = p
	return nil
}

// ExpiredCondition names a condition dropped by round advancement.
type ExpiredCondition struct {
	ParticipantID string
	Name          string
}

// ExpireConditions removes conditions whose expiry round has passed and
// returns what was dropped, ordered by participant then condition position.
func (r *Registry) ExpireConditions(round int) []ExpiredCondition {
	var expired []ExpiredCondition
	for _, id := range r.ids() {
		p := r.byID[id]
		kept := make([]Condition, 0, len(p.Conditions))
		for _, c := range p.Conditions {
			if c.ExpiresRound > 0 && c.ExpiresRound < round {
				expired = append(expired, ExpiredCondition{ParticipantID: id, Name: c.Name})
				continue
			}
			kept = append(kept, c)
		}
		p.Conditions = kept
		r.byID[id] = p
	}
	return expired
}

// Len reports the roster size.
func (r *Registry) Len() int {
	return len(r.byID)
}

// List returns snapshot copies of all participants in stable ID order.
func (r *Registry) List() []Participant {
	out := make([]Participant, 0, len(r.byID))
	for _, id := range r.ids() {
		out = append(out, r.byID[id].Clone())
	}
	return out
}

// Clone returns a deep copy of the roster.
func (r *Registry) Clone() *Registry {
	out := NewRegistry()
	for id, p := range r.byID {
		out.byID[id] = p.Clone()
	}
	return out
}

func (r *Registry) ids() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func notFound(id string) error {
	return errors.WithMetadata(errors.CodeNotFound, "participant not found", map[string]string{
		"ID": id,
	})
}
