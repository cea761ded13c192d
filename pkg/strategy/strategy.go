// Package strategy implements the windowed rate counting algorithms and the
// offense/ban state machine layered on top of them. Each Hit executes as a
// single server-side Lua script against Redis, so the read-decide-write
// sequence is atomic with respect to every other worker touching the same
// key; a client-side read-then-write here would be a correctness bug, not a
// style choice.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mongosh2006/easylimiter/pkg/keyspace"
)

// Common errors returned by strategies.
var (
	// ErrStoreUnavailable is returned when the Redis round-trip itself
	// fails. Callers must treat it as distinct from a deny so they can
	// choose a fail-open or fail-closed policy.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")

	// ErrUnknownKind is returned by New for an unrecognized strategy kind.
	// This is a configuration error and surfaces at setup, never per hit.
	ErrUnknownKind = errors.New("unknown strategy kind")
)

// Result is the outcome of one atomic hit operation.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Remaining is the number of requests left in the current window.
	// Zero when the request was denied.
	Remaining uint

	// ResetAt is the absolute Unix timestamp when the window rolls over,
	// in the store's clock.
	ResetAt int64

	// BanTTL is the remaining ban duration in seconds. Positive whenever a
	// ban is live, whether it was just applied or already in effect.
	BanTTL int64

	// ServerNow is the store's clock reading used for every decision
	// inside this hit. Retry-after values must be computed against it, not
	// against any caller's local clock.
	ServerNow int64
}

// BanPolicy configures the offense tracking and ban escalation shared by
// all strategies.
type BanPolicy struct {
	// Threshold is the number of offenses that triggers a ban.
	Threshold uint

	// InitialBan is the first ban duration in seconds. Consecutive bans
	// double it, up to MaxBan.
	InitialBan uint

	// MaxBan caps the escalated ban duration in seconds.
	MaxBan uint

	// DecayWindow is the inactivity period in seconds after which the
	// consecutive-ban escalation state decays.
	DecayWindow uint

	// SiteWide scopes bans to the identifier across all rules instead of
	// per rule.
	SiteWide bool
}

// DefaultBanPolicy returns the default ban policy: ban after 8 offenses,
// 5 minute initial ban doubling up to a day, escalation decaying after an
// hour without offenses, site-wide.
func DefaultBanPolicy() BanPolicy {
	return BanPolicy{
		Threshold:   8,
		InitialBan:  300,
		MaxBan:      86400,
		DecayWindow: 3600,
		SiteWide:    true,
	}
}

// Strategy is one windowed counting algorithm with fused ban bookkeeping.
// Implementations are safe for concurrent use from any number of workers;
// all mutable state lives in Redis.
type Strategy interface {
	// Hit atomically records one request attempt for the identifier under
	// the given limit and window (seconds) and returns the verdict.
	// Returns an error wrapping ErrStoreUnavailable if the store cannot be
	// reached; a store failure is never reported as a deny.
	Hit(ctx context.Context, identifier string, limit, window uint) (Result, error)

	// Kind returns the strategy's kind tag.
	Kind() keyspace.Kind
}

// New returns the strategy implementing the given kind.
func New(kind keyspace.Kind, rdb *redis.Client, policy BanPolicy) (Strategy, error) {
	switch kind {
	case keyspace.Fixed:
		return NewFixedWindow(rdb, policy), nil
	case keyspace.SlidingLog:
		return NewSlidingLog(rdb, policy), nil
	case keyspace.Moving:
		return NewMovingWindow(rdb, policy), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
