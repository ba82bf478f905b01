package participant

import (
	"encoding/json"
	"fmt"

	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
)

// rosterDocument is the persisted shape of the registry. Participants are
// stored in stable ID order so the same roster always serializes to the
// same bytes.
type rosterDocument struct {
	Participants []participantDocument `json:"participants"`
}

type participantDocument struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Kind          string              `json:"kind"`
	Score         int                 `json:"score"`
	Dice          int                 `json:"dice"`
	Presence      map[string]bool     `json:"presence,omitempty"`
	Conditions    []conditionDocument `json:"conditions,omitempty"`
	Incapacitated bool                `json:"incapacitated,omitempty"`
}

type conditionDocument struct {
	Name         string `json:"name"`
	ExpiresRound int    `json:"expires_round,omitempty"`
	Modifier     int    `json:"modifier,omitempty"`
}

// MarshalJSON serializes the roster for snapshot storage.
func (r *Registry) MarshalJSON() ([]byte, error) {
	doc := rosterDocument{Participants: make([]participantDocument, 0, len(r.byID))}
	for _, p := range r.List() {
		pd := participantDocument{
			ID:            p.ID,
			Name:          p.Name,
			Kind:          string(p.Kind),
			Score:         p.Score,
			Dice:          p.Dice,
			Incapacitated: p.Incapacitated,
		}
		if len(p.Presence) > 0 {
			pd.Presence = make(map[string]bool, len(p.Presence))
			for pl, present := range p.Presence {
				pd.Presence[pl.String()] = present
			}
		}
		for _, c := range p.Conditions {
			pd.Conditions = append(pd.Conditions, conditionDocument{
				Name:         c.Name,
				ExpiresRound: c.ExpiresRound,
				Modifier:     c.Modifier,
			})
		}
		doc.Participants = append(doc.Participants, pd)
	}
	return json.Marshal(doc)
}

// UnmarshalJSON restores a roster persisted by MarshalJSON. The document is
// transcribed as written; registry invariants were enforced when the state
// was live, so restore does not re-validate beyond structural checks.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var doc rosterDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode roster: %w", err)
	}
	byID := make(map[string]Participant, len(doc.Participants))
	for _, pd := range doc.Participants {
		if pd.ID == "" {
			return fmt.Errorf("decode roster: participant without id")
		}
		p := Participant{
			ID:            pd.ID,
			Name:          pd.Name,
			Kind:          Kind(pd.Kind),
			Score:         pd.Score,
			Dice:          pd.Dice,
			Incapacitated: pd.Incapacitated,
		}
		if len(pd.Presence) > 0 {
			p.Presence = make(map[plane.Plane]bool, len(pd.Presence))
			for name, present := range pd.Presence {
				pl, err := plane.Parse(name)
				if err != nil {
					return fmt.Errorf("decode roster: participant %s: unknown plane %q", pd.ID, name)
				}
				p.Presence[pl] = present
			}
		}
		for _, cd := range pd.Conditions {
			p.Conditions = append(p.Conditions, Condition{
				Name:         cd.Name,
				ExpiresRound: cd.ExpiresRound,
				Modifier:     cd.Modifier,
			})
		}
		byID[p.ID] = p
	}
	r.byID = byID
	return nil
}
