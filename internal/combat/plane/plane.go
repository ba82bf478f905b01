// Package plane defines the combat planes participants act in.
//
// The ruleset allows concurrent activity in the physical world, the astral
// plane, and the matrix. Each plane keeps its own initiative order; the
// session resolves them one at a time in a configured order.
package plane

import (
	"strings"

	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
)

// Plane identifies one of the combat contexts.
type Plane string

const (
	// Physical is the meatspace plane.
	Physical Plane = "physical"
	// Astral is the plane projected mages act in.
	Astral Plane = "astral"
	// Matrix is the virtual plane deckers and personas act in.
	Matrix Plane = "matrix"
)

// All returns every plane in canonical declaration order.
func All() []Plane {
	return []Plane{Physical, Astral, Matrix}
}

// Valid reports whether the plane is one of the known contexts.
func (p Plane) Valid() bool {
	switch p {
	case Physical, Astral, Matrix:
		return true
	}
	return false
}

// String returns the wire form of the plane.
func (p Plane) String() string {
	return string(p)
}

// Parse converts a wire value into a Plane.
func Parse(value string) (Plane, error) {
	p := Plane(strings.ToLower(strings.TrimSpace(value)))
	if !p.Valid() {
		return "", errors.WithMetadata(errors.CodeIntentInvalid, "unknown plane", map[string]string{
			"Plane": value,
		})
	}
	return p, nil
}

// DefaultOrder returns the default plane resolution order.
func DefaultOrder() []Plane {
	return []Plane{Physical, Astral, Matrix}
}

// ParseOrder parses a comma-separated plane list into a resolution order.
// The order must name each plane exactly once.
func ParseOrder(value string) ([]Plane, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return DefaultOrder(), nil
	}
	parts := strings.Split(trimmed, ",")
	return ValidateOrder(parts)
}

// ValidateOrder checks that the given names form a full permutation of the
// known planes and returns them typed.
func ValidateOrder(names []string) ([]Plane, error) {
	if len(names) != len(All()) {
		return nil, errors.New(errors.CodePlaneOrderInvalid, "plane order must list each plane exactly once")
	}
	seen := make(map[Plane]bool, len(names))
	order := make([]Plane, 0, len(names))
	for _, name := range names {
		p := Plane(strings.ToLower(strings.TrimSpace(name)))
		if !p.Valid() || seen[p] {
			return nil, errors.WithMetadata(errors.CodePlaneOrderInvalid, "plane order must list each plane exactly once", map[string]string{
				"Plane": name,
			})
		}
		seen[p] = true
		order = append(order, p)
	}
	return order, nil
}

// OrderString renders a resolution order in the wire form ParseOrder accepts.
func OrderString(order []Plane) string {
	names := make([]string, len(order))
	for i, p := range order {
		names[i] = string(p)
	}
	return strings.Join(names, ",")
}
