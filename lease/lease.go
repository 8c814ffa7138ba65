package lease

import (
	"context"
	"time"
)

// Lease is the persisted mutual-exclusion record. A lease is held by
// OwnerID until ExpiresAt; after that any process may take it over.
type Lease struct {
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Held reports whether the lease is still valid at now.
func (l *Lease) Held(now time.Time) bool {
	return l != nil && l.OwnerID != "" && l.ExpiresAt.After(now)
}

// Store defines the persistence contract for leases.
type Store interface {
	// AcquireLease takes or renews the named lease for owner. It succeeds
	// when the lease is unheld, expired at now, or already owned by owner,
	// and then stamps expires_at = now + ttl. It returns false, nil when
	// another owner holds a valid lease.
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error)

	// ReleaseLease expires the named lease, but only if owner still holds
	// it. Releasing a lease held by someone else is a no-op.
	ReleaseLease(ctx context.Context, name, owner string, now time.Time) error

	// GetLease returns the current lease record, or nil when none exists.
	GetLease(ctx context.Context, name string) (*Lease, error)
}

// ReleasedAt is the expiry a released lease is stamped with: an instant
// safely in the past relative to now, so the next acquire always wins.
func ReleasedAt(now time.Time) time.Time {
	return now.Add(-time.Second)
}
