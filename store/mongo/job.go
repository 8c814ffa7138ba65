package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// InsertJob persists a new job.
func (s *Store) InsertJob(ctx context.Context, j *job.Job) error {
	var err error
	if s.mdb != nil {
		_, err = s.mdb.NewInsert(toJobModel(j)).Exec(ctx)
	} else {
		_, err = s.jobs().InsertOne(ctx, toJobModel(j))
	}
	if err != nil {
		if isDuplicateKey(err) {
			return duplicateError(err)
		}
		return wrap("insert job", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, docket.ErrJobNotFound
		}
		return nil, wrap("get job", err)
	}
	return fromJobModel(&m)
}

// FindByDedupeKey returns the live job holding key.
func (s *Store) FindByDedupeKey(ctx context.Context, key string) (*job.Job, error) {
	if key == "" {
		return nil, docket.ErrJobNotFound
	}
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{
		"dedupe_key": key,
		"is_deleted": deletedIs(false),
	}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, docket.ErrJobNotFound
		}
		return nil, wrap("find by dedupe key", err)
	}
	return fromJobModel(&m)
}

// UpdateJob applies patch when the job satisfies cond. The filter and the
// write are one FindOneAndUpdate, so no other writer can slip in between.
func (s *Store) UpdateJob(ctx context.Context, jobID id.JobID, cond job.Condition, patch job.Patch) (*job.Job, error) {
	filter := conditionFilter(bson.M{"_id": jobID.String()}, cond)
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m jobModel
	err := s.jobs().FindOneAndUpdate(ctx, filter, patchUpdate(patch, s.now()), opts).Decode(&m)
	switch {
	case err == nil:
		return fromJobModel(&m)
	case isDuplicateKey(err):
		// Restoring a job re-entered a key another live job holds.
		return nil, docket.ErrDedupeKeyInUse
	case isNoDocuments(err):
		return nil, s.missOrConflict(ctx, jobID)
	default:
		return nil, wrap("update job", err)
	}
}

// ListJobs returns jobs matching opts in FIFO order.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	findOpts := options.Find().SetSort(fifoSort)
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.jobs().Find(ctx, listFilter(opts.Statuses, opts.Deleted, opts.DeletedOrStamped), findOpts)
	if err != nil {
		return nil, wrap("list jobs", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, wrap("list jobs decode", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	n, err := s.jobs().CountDocuments(ctx, listFilter(opts.Statuses, opts.Deleted, false))
	if err != nil {
		return 0, wrap("count jobs", err)
	}
	return n, nil
}

// SetQueuePositions writes every position in one unordered bulk write.
// Each entry is filtered on the job still being ranked.
func (s *Store) SetQueuePositions(ctx context.Context, positions []job.Position) (int64, error) {
	if len(positions) == 0 {
		return 0, nil
	}
	models := make([]mongod.WriteModel, 0, len(positions))
	for _, p := range positions {
		filter := conditionFilter(bson.M{"_id": p.JobID.String()}, job.ClaimCondition())
		models = append(models, mongod.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": bson.M{"queue_position": p.Position}}))
	}

	res, err := s.jobs().BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, wrap("set queue positions", err)
	}
	return res.MatchedCount, nil
}

// ClearStaleQueuePositions unsets queue_position on unranked jobs.
func (s *Store) ClearStaleQueuePositions(ctx context.Context) (int64, error) {
	filter := bson.M{
		"queue_position": bson.M{"$ne": nil},
		"$or": bson.A{
			bson.M{"status": bson.M{"$nin": job.StatusAliases(job.StatusPending)}},
			bson.M{"is_deleted": true},
		},
	}
	res, err := s.jobs().UpdateMany(ctx, filter, bson.M{"$unset": bson.M{"queue_position": ""}})
	if err != nil {
		return 0, wrap("clear stale queue positions", err)
	}
	return res.ModifiedCount, nil
}

// DeleteJob permanently removes the job when it satisfies cond.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID, cond job.Condition) (bool, error) {
	res, err := s.jobs().DeleteOne(ctx, conditionFilter(bson.M{"_id": jobID.String()}, cond))
	if err != nil {
		return false, wrap("delete job", err)
	}
	if res.DeletedCount > 0 {
		return true, nil
	}
	err = s.missOrConflict(ctx, jobID)
	if errors.Is(err, docket.ErrJobNotFound) {
		return false, nil
	}
	return false, err
}

// missOrConflict tells apart a conditional write that found no record from
// one whose condition failed.
func (s *Store) missOrConflict(ctx context.Context, jobID id.JobID) error {
	n, err := s.jobs().CountDocuments(ctx, bson.M{"_id": jobID.String()}, options.Count().SetLimit(1))
	if err != nil {
		return wrap("check job", err)
	}
	if n == 0 {
		return docket.ErrJobNotFound
	}
	return docket.ErrConflict
}
