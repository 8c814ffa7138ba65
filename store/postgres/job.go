package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// InsertJob persists a new job.
func (s *Store) InsertJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO docket_jobs (
			id, status, queue_position, dedupe_key, artifact_ref, metadata,
			created_at, queued_at, processing_started_at, completed_at, updated_at,
			retry_count, error_message, owner_id, output,
			is_deleted, deleted_at, deleted_by,
			verification_status, verification_started_at, verification_completed_at,
			verification_error, verification_result
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18,
			$19, $20, $21,
			$22, $23
		)`,
		j.ID.String(), string(j.Status), j.QueuePosition, nullString(j.DedupeKey), j.ArtifactRef, metadata(j.Metadata),
		j.CreatedAt, j.QueuedAt, j.ProcessingStartedAt, j.CompletedAt, j.UpdatedAt,
		j.RetryCount, j.ErrorMessage, j.OwnerID, nullJSON(j.Output),
		j.IsDeleted, j.DeletedAt, j.DeletedBy,
		string(j.VerificationStatus), j.VerificationStartedAt, j.VerificationCompletedAt,
		j.VerificationError, nullJSON(j.VerificationResult),
	)
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
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM docket_jobs WHERE id = $1`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, docket.ErrJobNotFound
		}
		return nil, wrap("get job", err)
	}
	return j, nil
}

// FindByDedupeKey returns the live job holding key.
func (s *Store) FindByDedupeKey(ctx context.Context, key string) (*job.Job, error) {
	if key == "" {
		return nil, docket.ErrJobNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM docket_jobs WHERE dedupe_key = $1 AND NOT is_deleted`, key)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, docket.ErrJobNotFound
		}
		return nil, wrap("find by dedupe key", err)
	}
	return j, nil
}

// UpdateJob applies patch when the job satisfies cond, in one UPDATE.
func (s *Store) UpdateJob(ctx context.Context, jobID id.JobID, cond job.Condition, patch job.Patch) (*job.Job, error) {
	var q query
	set := q.set(patch, s.now())
	preds := append([]string{"id = " + q.arg(jobID.String())}, q.where(cond)...)

	row := s.pool.QueryRow(ctx,
		`UPDATE docket_jobs SET `+set+` `+whereClause(preds)+` RETURNING `+jobColumns,
		q.args...)
	j, err := scanJob(row)
	switch {
	case err == nil:
		return j, nil
	case isDuplicateKey(err):
		// Restoring a job re-entered a key another live job holds.
		return nil, docket.ErrDedupeKeyInUse
	case isNoRows(err):
		return nil, s.missOrConflict(ctx, jobID)
	default:
		return nil, wrap("update job", err)
	}
}

// ClaimNext promotes the oldest claimable job to PROCESSING. With
// RequireIdle the idle check and the claim run in one transaction holding
// an advisory lock, so concurrent claimers serialize and the second sees
// the first's PROCESSING job.
func (s *Store) ClaimNext(ctx context.Context, opts job.ClaimOpts) (*job.Job, error) {
	now := opts.Now
	if now.IsZero() {
		now = s.now()
	}

	var claimed *job.Job
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if opts.RequireIdle {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, claimLockKey); err != nil {
				return err
			}
			var busy bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM docket_jobs WHERE status = ANY($1))`,
				statusAliases(job.StatusProcessing),
			).Scan(&busy); err != nil {
				return err
			}
			if busy {
				return nil
			}
		}

		var q query
		set := q.set(job.ClaimPatch(opts.Owner, now), now)
		row := tx.QueryRow(ctx, `
			UPDATE docket_jobs SET `+set+`
			WHERE id = (
				SELECT id FROM docket_jobs
				WHERE status = ANY(`+q.arg(statusAliases(job.StatusPending))+`)
				  AND NOT is_deleted
				  AND artifact_ref <> ''
				`+fifoOrder+`
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+jobColumns,
			q.args...)
		j, err := scanJob(row)
		if err != nil {
			if isNoRows(err) {
				return nil
			}
			return err
		}
		claimed = j
		return nil
	})
	if err != nil {
		return nil, wrap("claim next", err)
	}
	return claimed, nil
}

// ListJobs returns jobs matching opts in FIFO order.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var q query
	sql := `SELECT ` + jobColumns + ` FROM docket_jobs ` +
		whereClause(q.list(opts.Statuses, opts.Deleted, opts.DeletedOrStamped)) + ` ` + fifoOrder
	if opts.Limit > 0 {
		sql += ` LIMIT ` + q.arg(opts.Limit)
	}
	if opts.Offset > 0 {
		sql += ` OFFSET ` + q.arg(opts.Offset)
	}

	rows, err := s.pool.Query(ctx, sql, q.args...)
	if err != nil {
		return nil, wrap("list jobs", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var q query
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM docket_jobs `+whereClause(q.list(opts.Statuses, opts.Deleted, false)),
		q.args...,
	).Scan(&n)
	if err != nil {
		return 0, wrap("count jobs", err)
	}
	return n, nil
}

// SetQueuePositions writes every position in one UPDATE over unnested
// arrays. Only jobs that are still ranked are written.
func (s *Store) SetQueuePositions(ctx context.Context, positions []job.Position) (int64, error) {
	if len(positions) == 0 {
		return 0, nil
	}
	ids := make([]string, len(positions))
	pos := make([]int32, len(positions))
	for i, p := range positions {
		ids[i] = p.JobID.String()
		pos[i] = int32(p.Position) //nolint:gosec // queue positions are small
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE docket_jobs AS j
		SET queue_position = p.pos
		FROM unnest($1::text[], $2::int[]) AS p(id, pos)
		WHERE j.id = p.id
		  AND j.status = ANY($3)
		  AND NOT j.is_deleted`,
		ids, pos, statusAliases(job.StatusPending),
	)
	if err != nil {
		return 0, wrap("set queue positions", err)
	}
	return tag.RowsAffected(), nil
}

// ClearStaleQueuePositions unsets queue_position on unranked jobs.
func (s *Store) ClearStaleQueuePositions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE docket_jobs SET queue_position = NULL
		WHERE queue_position IS NOT NULL
		  AND (status <> ALL($1) OR is_deleted)`,
		statusAliases(job.StatusPending),
	)
	if err != nil {
		return 0, wrap("clear stale queue positions", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteJob permanently removes the job when it satisfies cond.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID, cond job.Condition) (bool, error) {
	var q query
	preds := append([]string{"id = " + q.arg(jobID.String())}, q.where(cond)...)
	tag, err := s.pool.Exec(ctx, `DELETE FROM docket_jobs `+whereClause(preds), q.args...)
	if err != nil {
		return false, wrap("delete job", err)
	}
	if tag.RowsAffected() > 0 {
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
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM docket_jobs WHERE id = $1)`, jobID.String(),
	).Scan(&exists)
	if err != nil {
		return wrap("check job", err)
	}
	if !exists {
		return docket.ErrJobNotFound
	}
	return docket.ErrConflict
}

// ── scanning ─────────────────────────────────────────────────────

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j            job.Job
		idStr        string
		statusStr    string
		dedupeKey    *string
		verification string
		output       []byte
		verifyResult []byte
	)
	err := row.Scan(
		&idStr, &statusStr, &j.QueuePosition, &dedupeKey, &j.ArtifactRef, &j.Metadata,
		&j.CreatedAt, &j.QueuedAt, &j.ProcessingStartedAt, &j.CompletedAt, &j.UpdatedAt,
		&j.RetryCount, &j.ErrorMessage, &j.OwnerID, &output,
		&j.IsDeleted, &j.DeletedAt, &j.DeletedBy,
		&verification, &j.VerificationStartedAt, &j.VerificationCompletedAt,
		&j.VerificationError, &verifyResult,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobRef(idStr)
	if err != nil {
		return nil, fmt.Errorf("docket/postgres: parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID
	if j.Status, err = job.ParseStatus(statusStr); err != nil {
		return nil, fmt.Errorf("docket/postgres: job %s: %w", idStr, err)
	}
	if j.VerificationStatus, err = job.ParseVerificationStatus(verification); err != nil {
		return nil, fmt.Errorf("docket/postgres: job %s: %w", idStr, err)
	}
	if dedupeKey != nil {
		j.DedupeKey = *dedupeKey
	}
	if len(output) > 0 {
		j.Output = output
	}
	if len(verifyResult) > 0 {
		j.VerificationResult = verifyResult
	}
	if len(j.Metadata) == 0 {
		j.Metadata = nil
	}

	j.CreatedAt = j.CreatedAt.UTC()
	j.QueuedAt = j.QueuedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	j.ProcessingStartedAt = utc(j.ProcessingStartedAt)
	j.CompletedAt = utc(j.CompletedAt)
	j.DeletedAt = utc(j.DeletedAt)
	j.VerificationStartedAt = utc(j.VerificationStartedAt)
	j.VerificationCompletedAt = utc(j.VerificationCompletedAt)
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("docket/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate job rows", err)
	}
	return jobs, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// nullString stores "" as NULL so keyless jobs stay out of the dedupe
// index.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON stores an empty document as NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func metadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
