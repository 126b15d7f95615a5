// Package idgen mints the random identifiers stamped on action records,
// block entries, alerts, and HTTP requests.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"io"
)

const randomBytes = 12

// WithPrefix returns prefix followed by 24 hex characters of randomness,
// e.g. WithPrefix("act_") -> "act_3f9c...". crypto/rand failure is not
// recoverable at this layer and panics.
func WithPrefix(prefix string) string {
	var b [randomBytes]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		panic("idgen: " + err.Error())
	}
	return prefix + hex.EncodeToString(b[:])
}
