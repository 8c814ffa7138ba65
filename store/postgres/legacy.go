package postgres

import (
	"context"
	"log/slog"

	"github.com/xraph/docket/job"
)

// NormalizeLegacy rewrites historical status and verification spellings
// to their canonical form. It returns the number of rows updated.
func (s *Store) NormalizeLegacy(ctx context.Context) (int64, error) {
	var total int64
	for _, st := range job.Statuses {
		legacy := job.LegacyAliases(st)
		if len(legacy) == 0 {
			continue
		}
		tag, err := s.pool.Exec(ctx,
			`UPDATE docket_jobs SET status = $1 WHERE status = ANY($2)`,
			string(st), legacy,
		)
		if err != nil {
			return total, wrap("normalize status", err)
		}
		if n := tag.RowsAffected(); n > 0 {
			s.logger.Info("normalized legacy records",
				slog.String("status", string(st)),
				slog.Int64("count", n),
			)
			total += n
		}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE docket_jobs SET verification_status = CASE lower(verification_status)
			WHEN 'running' THEN 'processing'
			WHEN 'complete' THEN 'completed'
			WHEN 'success' THEN 'completed'
			WHEN 'error' THEN 'failed'
			WHEN 'none' THEN 'not_started'
			WHEN '' THEN 'not_started'
			ELSE lower(verification_status)
		END
		WHERE verification_status NOT IN ('not_started', 'processing', 'completed', 'failed')`)
	if err != nil {
		return total, wrap("normalize verification", err)
	}
	total += tag.RowsAffected()
	return total, nil
}
