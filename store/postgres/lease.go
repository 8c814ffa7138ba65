package postgres

import (
	"context"
	"time"

	"github.com/xraph/docket/lease"
)

// AcquireLease takes or renews the named lease with a single upsert. The
// conflict branch only fires when owner already holds the lease or it has
// expired, so a live lease held by someone else affects no row.
func (s *Store) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO docket_leases (name, owner_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET owner_id = EXCLUDED.owner_id, expires_at = EXCLUDED.expires_at
		WHERE docket_leases.owner_id = EXCLUDED.owner_id
		   OR docket_leases.expires_at <= $4`,
		name, owner, now.Add(ttl), now,
	)
	if err != nil {
		return false, wrap("acquire lease", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLease expires the lease if owner still holds it.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE docket_leases SET expires_at = $3 WHERE name = $1 AND owner_id = $2`,
		name, owner, lease.ReleasedAt(now),
	)
	if err != nil {
		return wrap("release lease", err)
	}
	return nil
}

// GetLease returns the lease record or nil.
func (s *Store) GetLease(ctx context.Context, name string) (*lease.Lease, error) {
	l := &lease.Lease{}
	err := s.pool.QueryRow(ctx,
		`SELECT name, owner_id, expires_at FROM docket_leases WHERE name = $1`, name,
	).Scan(&l.Name, &l.OwnerID, &l.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrap("get lease", err)
	}
	l.ExpiresAt = l.ExpiresAt.UTC()
	return l, nil
}
