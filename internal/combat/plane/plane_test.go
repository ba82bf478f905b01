package plane

import (
	"testing"

	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		value string
		want  Plane
		ok    bool
	}{
		{"physical", Physical, true},
		{"ASTRAL", Astral, true},
		{" matrix ", Matrix, true},
		{"ethereal", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, err := Parse(tc.value)
		if tc.ok {
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.value, err)
			}
			if got != tc.want {
				t.Fatalf("Parse(%q) = %q, want %q", tc.value, got, tc.want)
			}
			continue
		}
		if err == nil {
			t.Fatalf("Parse(%q): expected error", tc.value)
		}
		if errors.CodeOf(err) != errors.CodeIntentInvalid {
			t.Fatalf("Parse(%q) code = %q, want %q", tc.value, errors.CodeOf(err), errors.CodeIntentInvalid)
		}
	}
}

func TestParseOrder(t *testing.T) {
	order, err := ParseOrder("matrix, physical, astral")
	if err != nil {
		t.Fatalf("parse order: %v", err)
	}
	want := []Plane{Matrix, Physical, Astral}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestParseOrderEmptyUsesDefault(t *testing.T) {
	order, err := ParseOrder("")
	if err != nil {
		t.Fatalf("parse order: %v", err)
	}
	want := DefaultOrder()
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestParseOrderRejectsPartialAndDuplicates(t *testing.T) {
	for _, value := range []string{"physical,astral", "physical,physical,astral", "physical,astral,matrix,matrix", "physical,astral,limbo"} {
		if _, err := ParseOrder(value); errors.CodeOf(err) != errors.CodePlaneOrderInvalid {
			t.Fatalf("ParseOrder(%q): expected PLANE_ORDER_INVALID, got %v", value, err)
		}
	}
}

func TestOrderStringRoundTrips(t *testing.T) {
	order := []Plane{Astral, Matrix, Physical}
	parsed, err := ParseOrder(OrderString(order))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	for i := range order {
		if parsed[i] != order[i] {
			t.Fatalf("round trip order[%d] = %q, want %q", i, parsed[i], order[i])
		}
	}
}
