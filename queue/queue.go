package queue

import (
	"context"
	"fmt"

	"github.com/xraph/docket/job"
)

// Ranker is the slice of job.Store the ranking pass needs.
type Ranker interface {
	ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error)
	SetQueuePositions(ctx context.Context, positions []job.Position) (int64, error)
	ClearStaleQueuePositions(ctx context.Context) (int64, error)
}

// Result summarizes one ranking pass.
type Result struct {
	// Ranked is the number of pending, live jobs that received a position.
	Ranked int
	// Written is the number of position writes the store accepted. It can
	// be lower than Ranked when jobs left PENDING during the pass.
	Written int64
	// Cleared is the number of stale positions removed.
	Cleared int64
}

// Rank assigns dense positions 1..N to the ranked jobs in FIFO order.
// Jobs that are not pending or are soft-deleted are skipped. jobs is
// sorted in place.
func Rank(jobs []*job.Job) []job.Position {
	job.SortFIFO(jobs)
	out := make([]job.Position, 0, len(jobs))
	for _, j := range jobs {
		if !j.Ranked() {
			continue
		}
		out = append(out, job.Position{JobID: j.ID, Position: len(out) + 1})
	}
	return out
}

// Reposition recomputes queue_position for the whole queue: every
// pending, non-deleted job gets its dense FIFO rank and every other job
// loses its position. Each write is conditional on the job still being
// ranked, so the pass is safe to run concurrently with claims.
func Reposition(ctx context.Context, s Ranker) (Result, error) {
	pending, err := s.ListJobs(ctx, job.ListOpts{
		Statuses: []job.Status{job.StatusPending},
		Deleted:  job.Ptr(false),
	})
	if err != nil {
		return Result{}, fmt.Errorf("queue: list pending: %w", err)
	}

	positions := Rank(pending)
	res := Result{Ranked: len(positions)}
	if len(positions) > 0 {
		res.Written, err = s.SetQueuePositions(ctx, positions)
		if err != nil {
			return res, fmt.Errorf("queue: set positions: %w", err)
		}
	}

	res.Cleared, err = s.ClearStaleQueuePositions(ctx)
	if err != nil {
		return res, fmt.Errorf("queue: clear stale positions: %w", err)
	}
	return res, nil
}
