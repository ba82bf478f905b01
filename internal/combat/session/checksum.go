package session

import (
	"fmt"

	"github.com/ttrpg-tools/crossfire/internal/combat/encoding"
)

// Checksum computes the content hash of the state's snapshot view.
//
// Every committed event carries the checksum of the state it produced;
// replay recomputes it per event and refuses to proceed on a mismatch.
func Checksum(s State) (string, error) {
	snap := s.Snapshot()
	snap.Checksum = ""
	sum, err := encoding.ContentHash(snap)
	if err != nil {
		return "", fmt.Errorf("state checksum: %w", err)
	}
	return sum, nil
}
