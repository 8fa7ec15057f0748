package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainSubscription = "subdispatch/subscription/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SubscriptionHash computes the content-addressed identity of a
// (query, variables) pair. Identical query text and equal variable values
// always yield the same hash regardless of map iteration order.
//
// Nil and empty variables hash identically. Strings in the query and the
// variables are taken byte for byte: whitespace or Unicode normalization
// differences produce different hashes, because the engine executes the
// bytes it was given.
func SubscriptionHash(query string, variables map[string]any) (string, error) {
	if variables == nil {
		variables = map[string]any{}
	}
	obj := map[string]any{
		"query":     query,
		"variables": variables,
	}

	canonical, err := marshalExact(obj)
	if err != nil {
		return "", fmt.Errorf("SubscriptionHash: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainSubscription, canonical), nil
}

// MustSubscriptionHash is like SubscriptionHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSubscriptionHash(query string, variables map[string]any) string {
	hash, err := SubscriptionHash(query, variables)
	if err != nil {
		panic(err)
	}
	return hash
}
