// Package initiative keeps the per-plane turn order for a combat session.
//
// Each plane holds an independent queue ordered by initiative score; the
// session composes the queues in its configured plane order. Entries persist
// across rounds until re-rolled or purged; only the cursors reset.
package initiative

import (
	"errors"
	"sort"

	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
)

// ErrPlaneExhausted signals that a plane's cursor has walked past its last
// entry. It is a control signal consumed by round advancement, not a failure,
// and must never cross the transport boundary.
var ErrPlaneExhausted = errors.New("plane exhausted")

// Entry is one participant's rolled initiative in one plane.
type Entry struct {
	ParticipantID string
	Plane         plane.Plane
	Score         int
	Seed          int64
}

// before reports whether e acts ahead of other within a plane.
// Ordering is score descending, then seed ascending. Identical seeds fall
// back to the participant identifier so the order stays total.
func (e Entry) before(other Entry) bool {
	if e.Score != other.Score {
		return e.Score > other.Score
	}
	if e.Seed != other.Seed {
		return e.Seed < other.Seed
	}
	return e.ParticipantID < other.ParticipantID
}

// queue is the ordered entry list and acting cursor for one plane.
// entries[cursor] is the current actor; cursor == len(entries) means the
// plane is exhausted for this round.
type queue struct {
	entries []Entry
	cursor  int
}

func (q *queue) insert(e Entry) {
	idx := sort.Search(len(q.entries), func(i int) bool {
		return e.before(q.entries[i])
	})
	q.entries = append(q.entries, Entry{})
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = e
	if idx < q.cursor {
		q.cursor++
	}
}

func (q *queue) remove(participantID string) bool {
	for idx, e := range q.entries {
		if e.ParticipantID != participantID {
			continue
		}
		q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
		if idx < q.cursor {
			q.cursor--
		}
		return true
	}
	return false
}

// Track owns every plane's initiative queue and the round counter.
//
// It is not safe for concurrent use; the session runtime confines it to a
// single goroutine.
type Track struct {
	round  int
	queues map[plane.Plane]*queue
}

// NewTrack returns an empty track. The round counter starts at zero and
// first becomes 1 when NewRound opens combat.
func NewTrack() *Track {
	queues := make(map[plane.Plane]*queue, len(plane.All()))
	for _, pl := range plane.All() {
		queues[pl] = &queue{}
	}
	return &Track{queues: queues}
}

// Round returns the current round counter.
func (t *Track) Round() int {
	return t.round
}

// Roll inserts or replaces the participant's entry for the plane.
// A replacement re-sorts the entry under its new score and seed; entries
// sorted ahead of the plane cursor wait until the next round.
func (t *Track) Roll(participantID string, pl plane.Plane, score int, seed int64) {
	q := t.queues[pl]
	q.remove(participantID)
	q.insert(Entry{ParticipantID: participantID, Plane: pl, Score: score, Seed: seed})
}

// Current returns the acting participant for the plane.
// The bool is false when the plane is empty or exhausted.
func (t *Track) Current(pl plane.Plane) (string, bool) {
	entry, ok := t.CurrentEntry(pl)
	return entry.ParticipantID, ok
}

// CurrentEntry returns the acting entry for the plane.
func (t *Track) CurrentEntry(pl plane.Plane) (Entry, bool) {
	q := t.queues[pl]
	if q.cursor >= len(q.entries) {
		return Entry{}, false
	}
	return q.entries[q.cursor], true
}

// Advance moves the plane cursor to the next entry in order and returns the
// new acting participant. Walking past the last entry, or advancing an empty
// plane, reports ErrPlaneExhausted.
func (t *Track) Advance(pl plane.Plane) (string, error) {
	q := t.queues[pl]
	if q.cursor >= len(q.entries) {
		return "", ErrPlaneExhausted
	}
	q.cursor++
	if q.cursor >= len(q.entries) {
		return "", ErrPlaneExhausted
	}
	return q.entries[q.cursor].ParticipantID, nil
}

// Exhausted reports whether the plane has no entries left to act this round.
func (t *Track) Exhausted(pl plane.Plane) bool {
	q := t.queues[pl]
	return q.cursor >= len(q.entries)
}

// Len reports the number of entries rolled in the plane.
func (t *Track) Len(pl plane.Plane) int {
	return len(t.queues[pl].entries)
}

// NewRound resets every plane's cursor to its highest-ordered entry and
// increments the round counter.
func (t *Track) NewRound() int {
	t.round++
	for _, q := range t.queues {
		q.cursor = 0
	}
	return t.round
}

// Purge removes the participant's entries from every plane, keeping each
// cursor on the entry it pointed at.
func (t *Track) Purge(participantID string) {
	for _, q := range t.queues {
		q.remove(participantID)
	}
}

// Remove drops the participant's entry from a single plane, cursor-stable.
// It reports whether an entry was removed.
func (t *Track) Remove(participantID string, pl plane.Plane) bool {
	return t.queues[pl].remove(participantID)
}

// Entries returns snapshot copies of the plane's entries in acting order.
func (t *Track) Entries(pl plane.Plane) []Entry {
	q := t.queues[pl]
	return append([]Entry(nil), q.entries...)
}

// Cursor reports how many entries in the plane have finished acting.
func (t *Track) Cursor(pl plane.Plane) int {
	return t.queues[pl].cursor
}

// Clone returns a deep copy of the track.
func (t *Track) Clone() *Track {
	out := NewTrack()
	out.round = t.round
	for pl, q := range t.queues {
		out.queues[pl] = &queue{
			entries: append([]Entry(nil), q.entries...),
			cursor:  q.cursor,
		}
	}
	return out
}
