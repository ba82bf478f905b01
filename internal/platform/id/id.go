// Package id generates compact unique identifiers.
//
// Identifiers are UUIDv4 bytes encoded as unpadded lowercase base32,
// producing 26-character strings that are URL-safe and case-insensitive.
package id

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a new 26-character identifier.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}
