package random

import "testing"

func TestNewTieBreakIsNonNegative(t *testing.T) {
	for i := 0; i < 64; i++ {
		seed, err := NewTieBreak()
		if err != nil {
			t.Fatalf("new tie break: %v", err)
		}
		if seed < 0 {
			t.Fatalf("expected non-negative seed, got %d", seed)
		}
	}
}
