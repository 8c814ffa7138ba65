package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/docket/lease"
)

// AcquireLease takes or renews the named lease. The filter only matches a
// lease owner already holds or one that has expired; when another owner
// holds it the upsert collides with the existing _id and the acquire
// reports false.
func (s *Store) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	_, err := s.leases().UpdateOne(ctx,
		bson.M{
			"_id": name,
			"$or": bson.A{
				bson.M{"owner_id": owner},
				bson.M{"expires_at": bson.M{"$lte": now}},
			},
		},
		bson.M{"$set": bson.M{
			"owner_id":   owner,
			"expires_at": now.Add(ttl),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, wrap("acquire lease", err)
	}
	return true, nil
}

// ReleaseLease expires the lease if owner still holds it.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string, now time.Time) error {
	_, err := s.leases().UpdateOne(ctx,
		bson.M{"_id": name, "owner_id": owner},
		bson.M{"$set": bson.M{"expires_at": lease.ReleasedAt(now)}},
	)
	if err != nil {
		return wrap("release lease", err)
	}
	return nil
}

// GetLease returns the lease record or nil.
func (s *Store) GetLease(ctx context.Context, name string) (*lease.Lease, error) {
	var m leaseModel
	if err := s.leases().FindOne(ctx, bson.M{"_id": name}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, wrap("get lease", err)
	}
	return fromLeaseModel(&m), nil
}
