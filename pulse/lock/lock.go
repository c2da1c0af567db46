// Package lock provides the shared, lease-based mutual exclusion that keeps a
// trigger from firing on more than one node per tick.
//
// Every backend implements the same compare-and-set contract: a lock name
// has at most one holder, a holder keeps it until it releases or its lease
// runs out, and an expired lease can be taken by anyone. Backend failures are
// marked errors.ErrLockStoreUnavailable.
package lock

import (
	"context"
	"time"
)

// AcquireResult is the outcome of TryAcquire
type AcquireResult int

const (
	AlreadyHeld AcquireResult = iota
	Acquired
)

func (r AcquireResult) String() string {
	if r == Acquired {
		return "acquired"
	}
	return "already_held"
}

// ReleaseResult is the outcome of Release
type ReleaseResult int

const (
	NotHeld ReleaseResult = iota
	Released
)

func (r ReleaseResult) String() string {
	if r == Released {
		return "released"
	}
	return "not_held"
}

// Record is the current owner of a lock name
type Record struct {
	Name       string    `json:"name" yaml:"name"`
	HolderID   string    `json:"holder_id" yaml:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at" yaml:"acquired_at"`
	LeaseUntil time.Time `json:"lease_until" yaml:"lease_until"`
}

// Expired reports whether the lease ran out before now
func (r Record) Expired(now time.Time) bool {
	return r.LeaseUntil.Before(now)
}

// Store is a shared lock table keyed by name
type Store interface {
	// TryAcquire takes name for holderID when no unexpired lease exists.
	// A live lease returns AlreadyHeld even when holderID already owns it.
	TryAcquire(ctx context.Context, name, holderID string, lease time.Duration) (AcquireResult, error)

	// Release frees name if holderID owns it; releasing a lock held by
	// someone else (or by nobody) returns NotHeld and no error.
	Release(ctx context.Context, name, holderID string) (ReleaseResult, error)

	// IsExpired is true when no lock exists or its lease has run out
	IsExpired(ctx context.Context, name string) (bool, error)

	// Holder returns the current record for name, or nil when unlocked
	Holder(ctx context.Context, name string) (*Record, error)

	// List returns every lock record, expired ones included
	List(ctx context.Context) ([]Record, error)
}

// Clock returns the current time; tests substitute a fixed clock
type Clock func() time.Time
