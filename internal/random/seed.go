// Package random provides cryptographic seed generation helpers.
//
// It uses crypto/rand to generate high-entropy seeds suitable for
// initializing pseudo-random number generators in deterministic systems.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
)

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}

	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// NewTieBreak generates a non-negative seed for initiative tie-breaking.
// Captured once at roll time and stored with the roll, it keeps equal
// initiative scores in a stable order across replays.
func NewTieBreak() (int64, error) {
	seed, err := NewSeed()
	if err != nil {
		return 0, err
	}
	if seed < 0 {
		seed = -(seed + 1)
	}
	return seed, nil
}
