package initiative

import (
	"encoding/json"
	"fmt"

	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
)

// trackDocument is the persisted shape of the track. Planes are stored in
// canonical declaration order and entries in acting order, so the same track
// always serializes to the same bytes.
type trackDocument struct {
	Round  int             `json:"round"`
	Planes []planeDocument `json:"planes"`
}

type planeDocument struct {
	Plane   string          `json:"plane"`
	Cursor  int             `json:"cursor"`
	Entries []entryDocument `json:"entries"`
}

type entryDocument struct {
	ParticipantID string `json:"participant_id"`
	Score         int    `json:"score"`
	Seed          int64  `json:"seed"`
}

// MarshalJSON serializes the track for snapshot storage.
func (t *Track) MarshalJSON() ([]byte, error) {
	doc := trackDocument{Round: t.round, Planes: make([]planeDocument, 0, len(plane.All()))}
	for _, pl := range plane.All() {
		q := t.queues[pl]
		pd := planeDocument{Plane: pl.String(), Cursor: q.cursor, Entries: make([]entryDocument, 0, len(q.entries))}
		for _, e := range q.entries {
			pd.Entries = append(pd.Entries, entryDocument{
				ParticipantID: e.ParticipantID,
				Score:         e.Score,
				Seed:          e.Seed,
			})
		}
		doc.Planes = append(doc.Planes, pd)
	}
	return json.Marshal(doc)
}

// UnmarshalJSON restores a track persisted by MarshalJSON. Entries keep their
// stored order; out-of-range cursors clamp to the plane bounds so a damaged
// document cannot index past the queue.
func (t *Track) UnmarshalJSON(data []byte) error {
	var doc trackDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode track: %w", err)
	}
	restored := NewTrack()
	restored.round = doc.Round
	for _, pd := range doc.Planes {
		pl, err := plane.Parse(pd.Plane)
		if err != nil {
			return fmt.Errorf("decode track: unknown plane %q", pd.Plane)
		}
		q := restored.queues[pl]
		q.entries = make([]Entry, 0, len(pd.Entries))
		for _, ed := range pd.Entries {
			q.entries = append(q.entries, Entry{
				ParticipantID: ed.ParticipantID,
				Plane:         pl,
				Score:         ed.Score,
				Seed:          ed.Seed,
			})
		}
		q.cursor = pd.Cursor
		if q.cursor < 0 {
			q.cursor = 0
		}
		if q.cursor > len(q.entries) {
			q.cursor = len(q.entries)
		}
	}
	*t = *restored
	return nil
}
