package mongo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/docket/job"
)

// gateID is the document every idle-gated claim writes inside its
// transaction. Two concurrent claims conflict on it, so one retries and
// then sees the other's PROCESSING job.
const gateID = "claim"

// codeIllegalOperation is returned by standalone servers for transactions.
const codeIllegalOperation = 20

// ClaimNext promotes the oldest claimable job to PROCESSING with a single
// sorted FindOneAndUpdate. With RequireIdle on a replica set the idle check
// and the claim run in one transaction serialized on the claim gate. On a
// standalone server the idle check is a separate read and callers must
// serialize claims with the control lease.
func (s *Store) ClaimNext(ctx context.Context, opts job.ClaimOpts) (*job.Job, error) {
	now := opts.Now
	if now.IsZero() {
		now = s.now()
	}
	if !opts.RequireIdle {
		return s.claim(ctx, opts.Owner, now)
	}
	if !s.standalone.Load() {
		j, err := s.claimInTransaction(ctx, opts.Owner, now)
		if !transactionsUnsupported(err) {
			return j, err
		}
		s.standalone.Store(true)
		s.logger.Warn("mongo deployment has no transactions; idle-gated claims rely on the control lease")
	}

	busy, err := s.busy(ctx)
	if err != nil || busy {
		return nil, err
	}
	return s.claim(ctx, opts.Owner, now)
}

func (s *Store) claimInTransaction(ctx context.Context, owner string, now time.Time) (*job.Job, error) {
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return nil, wrap("claim session", err)
	}
	defer sess.EndSession(ctx)

	res, err := sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		if _, err := s.gate().UpdateOne(ctx,
			bson.M{"_id": gateID},
			bson.M{"$inc": bson.M{"seq": 1}, "$set": bson.M{"owner_id": owner, "at": now}},
		); err != nil {
			return nil, err
		}
		busy, err := s.busy(ctx)
		if err != nil || busy {
			return nil, err
		}
		return s.claim(ctx, owner, now)
	})
	if err != nil {
		if transactionsUnsupported(err) {
			return nil, err
		}
		return nil, wrap("claim transaction", err)
	}
	j, _ := res.(*job.Job)
	return j, nil
}

// busy reports whether any job already holds PROCESSING.
func (s *Store) busy(ctx context.Context) (bool, error) {
	n, err := s.jobs().CountDocuments(ctx,
		bson.M{"status": statusIn(job.StatusProcessing)},
		options.Count().SetLimit(1))
	if err != nil {
		return false, wrap("claim idle check", err)
	}
	return n > 0, nil
}

func (s *Store) claim(ctx context.Context, owner string, now time.Time) (*job.Job, error) {
	fopts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(fifoSort)

	var m jobModel
	err := s.jobs().FindOneAndUpdate(ctx, claimableFilter(), patchUpdate(job.ClaimPatch(owner, now), now), fopts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, wrap("claim next", err)
	}
	j, err := fromJobModel(&m)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("job claimed", slog.String("job_id", j.ID.String()), slog.String("owner_id", owner))
	return j, nil
}

// transactionsUnsupported reports whether err comes from a server that
// cannot run multi-document transactions.
func transactionsUnsupported(err error) bool {
	var ce mongod.CommandError
	return errors.As(err, &ce) && ce.Code == codeIllegalOperation
}
