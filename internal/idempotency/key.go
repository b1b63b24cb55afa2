// Package idempotency derives stable execution keys and guards
// operations against double execution.
package idempotency

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Key derives the idempotency key for input within scope. The input is
// hashed with SHA-256 and the digest is name-hashed into a version 5
// UUID under a scope namespace itself derived from the DNS namespace.
// The same scope and input always yield the same key, on any host.
func Key(scope string, input []byte) uuid.UUID {
	ns := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(scope))
	digest := sha256.Sum256(input)
	return uuid.NewSHA1(ns, digest[:])
}

// Deterministic CBOR so equal values always serialize to equal bytes.
var keyEncMode, _ = cbor.CoreDetEncOptions().EncMode()

// KeyFor derives the key for any serializable value.
func KeyFor(scope string, v any) (uuid.UUID, error) {
	data, err := keyEncMode.Marshal(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("serializing key input: %w", err)
	}
	return Key(scope, data), nil
}
