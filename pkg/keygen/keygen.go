// Package keygen produces the short random identifiers used as obfuscation keys.
package keygen

import (
	"crypto/rand"
	"math/big"
)

const (
	// DefaultLength is the length of every key embedded into an agent build.
	DefaultLength = 30

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var alphabetSize = big.NewInt(int64(len(alphabet)))

// Generator returns a fresh key of the given length on every call.
type Generator func(length int) string

// Generate returns a key of length characters drawn uniformly from A-Z and 0-9.
func Generate(length int) string {
	if length <= 0 {
		return ""
	}

	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			// crypto/rand.Reader does not fail on supported platforms
			panic("keygen: failed to read random bytes: " + err.Error())
		}
		b[i] = alphabet[n.Int64()]
	}

	return string(b)
}
