// Package queue maintains the FIFO ranking of pending jobs.
//
// Every pending, non-deleted job carries a queue_position; together they
// form the dense sequence 1..N ordered by (created_at, queued_at, job_id).
// Every other job carries none. [Reposition] restores that invariant in
// one pass and is called after every admission, claim and reconciliation.
//
//	res, err := queue.Reposition(ctx, store)
//	if err != nil {
//	    return err
//	}
//	logger.Debug("queue ranked", slog.Int("ranked", res.Ranked))
//
// Positions are advisory: claim order is computed from the timestamps,
// never from queue_position, so a pass that races with a claim can at
// worst leave a position briefly stale until the next pass.
package queue
