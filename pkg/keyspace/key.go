// Package keyspace derives the Redis keys used by the rate limiting
// strategies. Identifiers are never stored in plaintext: every key embeds a
// truncated SHA-256 digest of the client identifier, which bounds key size
// and keeps raw addresses out of the store.
package keyspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Kind identifies a window counting algorithm. The kind tag is part of the
// storage key layout, so distinct strategies never share counter state.
type Kind string

const (
	// Fixed counts against epoch-aligned windows that reset at boundaries.
	Fixed Kind = "fixed"

	// SlidingLog stores one timestamp per accepted request.
	SlidingLog Kind = "sliding"

	// Moving weights two adjacent fixed buckets for a smoothed estimate.
	Moving Kind = "moving"
)

// Valid reports whether k is a known strategy kind.
func (k Kind) Valid() bool {
	switch k {
	case Fixed, SlidingLog, Moving:
		return true
	}
	return false
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	return k, k.Valid()
}

// hashLen is the number of hex characters kept from the identifier digest.
const hashLen = 16

// HashIdentifier returns the truncated hex digest used in place of the raw
// client identifier. Deterministic, so every process derives the same keys.
func HashIdentifier(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// CounterKey returns the key holding the window state for one
// (identifier, rule) pair.
//
// Format: rl:<kind>:<hash>:<limit>:<window>
//
// Limit and window are part of the key so rules that differ only in their
// numeric policy never collide.
func CounterKey(identifier string, kind Kind, limit, window uint) string {
	return fmt.Sprintf("rl:%s:%s:%d:%d", kind, HashIdentifier(identifier), limit, window)
}

// BanKey returns the key whose presence marks an active ban. With siteWide
// bans a single key covers the identifier across all rules; otherwise the
// ban is scoped to one rule's counter key.
func BanKey(identifier string, kind Kind, limit, window uint, siteWide bool) string {
	if siteWide {
		return fmt.Sprintf("ban:%s", HashIdentifier(identifier))
	}
	return CounterKey(identifier, kind, limit, window) + ":ban"
}

// MetaKey returns the key of the offense/ban bookkeeping hash attached to a
// counter key. The hash carries the offense count ("off") and the
// consecutive ban count ("bc").
func MetaKey(counterKey string) string {
	return counterKey + ":meta"
}
