// Package secrets holds the key material used to encrypt index blocks
// (spec §4.9).
package secrets

import (
	"crypto/rand"
	"fmt"
)

// KeySize is the XSalsa20 key width.
const KeySize = 32

// Secrets carries the per-tree key material. IndexKey encrypts index
// blocks (spec §4.5); ValueKey is reserved for a future value-layer
// cipher and is not applied by the core today.
type Secrets struct {
	IndexKey [KeySize]byte
	ValueKey [KeySize]byte
}

// New generates fresh random key material via a CSPRNG, as required by
// the nonce/key policy in spec §4.9.
func New() (Secrets, error) {
	var s Secrets
	if _, err := rand.Read(s.IndexKey[:]); err != nil {
		return Secrets{}, fmt.Errorf("secrets: generate index key: %w", err)
	}
	if _, err := rand.Read(s.ValueKey[:]); err != nil {
		return Secrets{}, fmt.Errorf("secrets: generate value key: %w", err)
	}
	return s, nil
}

// Deterministic builds Secrets from caller-supplied key bytes, for
// reproducible tests. Reusing an IndexKey across logically distinct
// trees is a caller error (spec §4.9): nonce reuse under a shared key is
// only safe because nonces are random per block within one tree.
func Deterministic(indexKey, valueKey [KeySize]byte) Secrets {
	return Secrets{IndexKey: indexKey, ValueKey: valueKey}
}
