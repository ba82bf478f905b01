// Package action tracks per-participant action economy within a round.
package action

// Kind is an action currency a participant spends on their turn.
type Kind string

const (
	// KindFree actions are unmetered and never deplete a budget.
	KindFree Kind = "free"
	// KindSimple actions cost one simple slot, trading down from the
	// complex slot once the simple slot is gone.
	KindSimple Kind = "simple"
	// KindComplex actions cost the complex slot.
	KindComplex Kind = "complex"
	// KindInterrupt actions cost the out-of-turn interrupt opportunity.
	KindInterrupt Kind = "interrupt"
)

// Valid reports whether the kind is a known action currency.
func (k Kind) Valid() bool {
	switch k {
	case KindFree, KindSimple, KindComplex, KindInterrupt:
		return true
	}
	return false
}

// ParseKind normalizes a wire value into a Kind.
func ParseKind(value string) (Kind, bool) {
	k := Kind(value)
	return k, k.Valid()
}

// String returns the wire form of the kind.
func (k Kind) String() string {
	return string(k)
}

// Phase is the spending state of a participant's budget within a round.
type Phase string

const (
	// PhaseUnspent means no metered action has been taken since refresh.
	PhaseUnspent Phase = "unspent"
	// PhasePartiallySpent means some turn budget remains.
	PhasePartiallySpent Phase = "partially_spent"
	// PhaseFullySpent means the simple and complex slots are both gone.
	PhaseFullySpent Phase = "fully_spent"
)

// Budget is the remaining allotment for one participant in one round.
// Counts never go below zero. Free actions are not counted.
type Budget struct {
	Simple    int
	Complex   int
	Interrupt int
}

// BaseBudget is the allotment granted at refresh before condition modifiers:
// one complex, one simple, one interrupt opportunity.
func BaseBudget() Budget {
	return Budget{Simple: 1, Complex: 1, Interrupt: 1}
}

// Phase derives the spending state from the remaining turn slots.
// The interrupt opportunity is out-of-turn currency and does not hold a
// participant at PartiallySpent on its own.
func (b Budget) Phase(baseline Budget) Phase {
	if b.Simple == 0 && b.Complex == 0 {
		return PhaseFullySpent
	}
	if b.Simple == baseline.Simple && b.Complex == baseline.Complex && b.Interrupt == baseline.Interrupt {
		return PhaseUnspent
	}
	return PhasePartiallySpent
}
