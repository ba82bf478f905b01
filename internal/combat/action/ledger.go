package action

import (
	"sort"

	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
)

// Ledger tracks every participant's remaining budget and held action for the
// current round.
//
// It is not safe for concurrent use; the session runtime confines it to a
// single goroutine.
type Ledger struct {
	byID map[string]*record
}

type record struct {
	budget   Budget
	baseline Budget
	reserved Kind
}

// Entry is a snapshot of one participant's ledger state.
type Entry struct {
	ParticipantID string
	Budget        Budget
	Baseline      Budget
	Reserved      Kind
	Phase         Phase
}

// Forfeiture records a held action lost at round end.
type Forfeiture struct {
	ParticipantID string
	Kind          Kind
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{byID: make(map[string]*record)}
}

// Refresh resets the participant's budget from the base allotment plus the
// condition modifier, forfeiting any outstanding reservation. The modifier
// adjusts the simple slot; a deficit spills into the complex slot and counts
// clamp at zero.
func (l *Ledger) Refresh(id string, modifier int) Budget {
	budget := BaseBudget()
	budget.Simple += modifier
	if budget.Simple < 0 {
		budget.Complex += budget.Simple
		budget.Simple = 0
	}
	if budget.Complex < 0 {
		budget.Complex = 0
	}
	l.byID[id] = &record{budget: budget, baseline: budget}
	return budget
}

// Spend deducts one action of the given kind from the participant's budget.
// A simple spend trades down into the complex slot once the simple slot is
// empty; a complex spend never trades up. Free actions always succeed.
func (l *Ledger) Spend(id string, kind Kind) (Budget, error) {
	if !kind.Valid() {
		return Budget{}, invalidKind(kind)
	}
	if kind == KindFree {
		rec, ok := l.byID[id]
		if !ok {
			return Budget{}, nil
		}
		return rec.budget, nil
	}
	rec, ok := l.byID[id]
	if !ok {
		return Budget{}, unavailable(id, kind)
	}
	switch kind {
	case KindSimple:
		if rec.budget.Simple > 0 {
			rec.budget.Simple--
			return rec.budget, nil
		}
		if rec.budget.Complex > 0 {
			rec.budget.Complex--
			return rec.budget, nil
		}
	case KindComplex:
		if rec.budget.Complex > 0 {
			rec.budget.Complex--
			return rec.budget, nil
		}
	case KindInterrupt:
		if rec.budget.Interrupt > 0 {
			rec.budget.Interrupt--
			return rec.budget, nil
		}
	}
	return Budget{}, unavailable(id, kind)
}

// CanSpend reports whether Spend would succeed, without mutating the ledger.
func (l *Ledger) CanSpend(id string, kind Kind) bool {
	if kind == KindFree {
		return true
	}
	rec, ok := l.byID[id]
	if !ok {
		return false
	}
	switch kind {
	case KindSimple:
		return rec.budget.Simple > 0 || rec.budget.Complex > 0
	case KindComplex:
		return rec.budget.Complex > 0
	case KindInterrupt:
		return rec.budget.Interrupt > 0
	}
	return false
}

// Reserve deducts a simple or complex action and marks it held for
// out-of-turn use later this round. A participant holds at most one action
// at a time.
func (l *Ledger) Reserve(id string, kind Kind) (Budget, error) {
	if kind != KindSimple && kind != KindComplex {
		return Budget{}, invalidKind(kind)
	}
	rec, ok := l.byID[id]
	if !ok {
		return Budget{}, unavailable(id, kind)
	}
	if rec.reserved != "" {
		return Budget{}, errors.WithMetadata(errors.CodeActionUnavailable, "a held action is already outstanding", map[string]string{
			"ID":   id,
			"Kind": string(rec.reserved),
		})
	}
	budget, err := l.Spend(id, kind)
	if err != nil {
		return Budget{}, err
	}
	rec.reserved = kind
	return budget, nil
}

// Reserved returns the kind currently held by the participant.
func (l *Ledger) Reserved(id string) (Kind, bool) {
	rec, ok := l.byID[id]
	if !ok || rec.reserved == "" {
		return "", false
	}
	return rec.reserved, true
}

// ExerciseReserved consumes the participant's held action. It succeeds
// exactly once per reservation; the budget was deducted at reserve time.
func (l *Ledger) ExerciseReserved(id string) (Kind, error) {
	rec, ok := l.byID[id]
	if !ok || rec.reserved == "" {
		return "", errors.WithMetadata(errors.CodeActionNotReserved, "no held action to exercise", map[string]string{
			"ID": id,
		})
	}
	kind := rec.reserved
	rec.reserved = ""
	return kind, nil
}

// ForfeitAll clears every outstanding reservation without refund and reports
// what was lost, in participant order.
func (l *Ledger) ForfeitAll() []Forfeiture {
	var out []Forfeiture
	for _, id := range l.ids() {
		rec := l.byID[id]
		if rec.reserved == "" {
			continue
		}
		out = append(out, Forfeiture{ParticipantID: id, Kind: rec.reserved})
		rec.reserved = ""
	}
	return out
}

// ResetAll forfeits outstanding reservations and restores every budget to
// the base allotment. Turn-start refreshes reapply condition modifiers.
func (l *Ledger) ResetAll() []Forfeiture {
	forfeited := l.ForfeitAll()
	for _, rec := range l.byID {
		rec.budget = BaseBudget()
		rec.baseline = rec.budget
	}
	return forfeited
}

// Budget returns the participant's remaining allotment.
func (l *Ledger) Budget(id string) (Budget, bool) {
	rec, ok := l.byID[id]
	if !ok {
		return Budget{}, false
	}
	return rec.budget, true
}

// PhaseOf derives the participant's spending phase for the round.
func (l *Ledger) PhaseOf(id string) (Phase, bool) {
	rec, ok := l.byID[id]
	if !ok {
		return "", false
	}
	return rec.budget.Phase(rec.baseline), true
}

// Purge drops the participant's ledger state entirely.
func (l *Ledger) Purge(id string) {
	delete(l.byID, id)
}

// List returns snapshot entries in participant order.
func (l *Ledger) List() []Entry {
	out := make([]Entry, 0, len(l.byID))
	for _, id := range l.ids() {
		rec := l.byID[id]
		out = append(out, Entry{
			ParticipantID: id,
			Budget:        rec.budget,
			Baseline:      rec.baseline,
			Reserved:      rec.reserved,
			Phase:         rec.budget.Phase(rec.baseline),
		})
	}
	return out
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	out := NewLedger()
	for id, rec := range l.byID {
		clone := *rec
		out.byID[id] = &clone
	}
	return out
}

func (l *Ledger) ids() []string {
	ids := make([]string, 0, len(l.byID))
	for id := range l.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func unavailable(id string, kind Kind) error {
	return errors.WithMetadata(errors.CodeActionUnavailable, "action budget exhausted", map[string]string{
		"ID":   id,
		"Kind": string(kind),
	})
}

func invalidKind(kind Kind) error {
	return errors.WithMetadata(errors.CodeActionInvalidKind, "action kind is invalid", map[string]string{
		"Kind": string(kind),
	})
}
