// Package session holds the combat session aggregate: the composed state of
// roster, initiative track, and action ledger, the pure decider that turns
// intents into events, and the fold that replays events back into state.
package session

import (
	"github.com/ttrpg-tools/crossfire/internal/combat/action"
	"github.com/ttrpg-tools/crossfire/internal/combat/initiative"
	"github.com/ttrpg-tools/crossfire/internal/combat/participant"
	"github.com/ttrpg-tools/crossfire/internal/combat/plane"
)

// Status is the lifecycle phase of a combat session.
type Status string

const (
	// StatusSetup means the session exists and the roster is being built.
	StatusSetup Status = "setup"
	// StatusActive means combat has begun and turns are being taken.
	StatusActive Status = "active"
	// StatusEnded means the session is closed to further intents.
	StatusEnded Status = "ended"
)

// State captures the replayed combat context the decider evaluates against.
//
// State is a value plus owned components; Fold never mutates its input, and
// Clone severs every shared reference so probes and snapshots stay isolated.
type State struct {
	// SessionID is the canonical identifier for this combat session.
	SessionID string
	// Name is a human-facing label for the encounter.
	Name string
	// Status tracks the lifecycle phase. The zero value means the session
	// has not been started.
	Status Status
	// PlaneOrder is the configured order planes are played within a round.
	PlaneOrder []plane.Plane
	// ActivePlane is the plane whose track currently owns the acting turn.
	ActivePlane plane.Plane
	// Roster is the authoritative participant registry.
	Roster *participant.Registry
	// Track owns per-plane initiative order and the round counter.
	Track *initiative.Track
	// Ledger tracks per-participant action budgets and held actions.
	Ledger *action.Ledger
}

// NewState returns an empty, not-yet-started session state.
func NewState() State {
	return State{
		Roster: participant.NewRegistry(),
		Track:  initiative.NewTrack(),
		Ledger: action.NewLedger(),
	}
}

// Started reports whether a start intent has been accepted.
func (s State) Started() bool {
	return s.Status != ""
}

// InCombat reports whether combat has begun and not yet ended.
func (s State) InCombat() bool {
	return s.Status == StatusActive
}

// Round returns the current round counter (zero before combat begins).
func (s State) Round() int {
	if s.Track == nil {
		return 0
	}
	return s.Track.Round()
}

// CurrentActor returns the acting participant of the active plane.
func (s State) CurrentActor() (string, bool) {
	if !s.InCombat() || s.Track == nil {
		return "", false
	}
	return s.Track.Current(s.ActivePlane)
}

// Clone returns a deep copy sharing nothing with the receiver.
func (s State) Clone() State {
	out := s
	out.PlaneOrder = append([]plane.Plane(nil), s.PlaneOrder...)
	if s.Roster != nil {
		out.Roster = s.Roster.Clone()
	}
	if s.Track != nil {
		out.Track = s.Track.Clone()
	}
	if s.Ledger != nil {
		out.Ledger = s.Ledger.Clone()
	}
	return out
}
