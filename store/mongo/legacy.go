package mongo

import (
	"context"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/docket/job"
)

// legacyVerification maps stored verification spellings to canonical ones.
var legacyVerification = map[job.VerificationStatus]bson.A{
	job.VerificationNotStarted: {nil, "", "none", "NOT_STARTED"},
	job.VerificationProcessing: {"running", "PROCESSING", "RUNNING"},
	job.VerificationCompleted:  {"complete", "success", "COMPLETED", "COMPLETE", "SUCCESS"},
	job.VerificationFailed:     {"error", "FAILED", "ERROR"},
}

// NormalizeLegacy rewrites records written before the canonical schema:
// historical status spellings, missing soft-delete flags and missing or
// misspelled verification states. It returns the number of updates
// applied; a record fixed on several fields counts once per field.
func (s *Store) NormalizeLegacy(ctx context.Context) (int64, error) {
	var total int64
	update := func(what string, filter, set bson.M) error {
		res, err := s.jobs().UpdateMany(ctx, filter, bson.M{"$set": set})
		if err != nil {
			return wrap("normalize "+what, err)
		}
		if res.ModifiedCount > 0 {
			s.logger.Info("normalized legacy records",
				slog.String("field", what),
				slog.Int64("count", res.ModifiedCount),
			)
		}
		total += res.ModifiedCount
		return nil
	}

	for _, st := range job.Statuses {
		legacy := job.LegacyAliases(st)
		if len(legacy) == 0 {
			continue
		}
		if err := update("status",
			bson.M{"status": bson.M{"$in": legacy}},
			bson.M{"status": string(st)},
		); err != nil {
			return total, err
		}
	}

	if err := update("is_deleted",
		bson.M{"is_deleted": bson.M{"$exists": false}},
		bson.M{"is_deleted": false},
	); err != nil {
		return total, err
	}

	for st, legacy := range legacyVerification {
		if err := update("verification_status",
			bson.M{"verification_status": bson.M{"$in": legacy}},
			bson.M{"verification_status": string(st)},
		); err != nil {
			return total, err
		}
	}
	return total, nil
}
