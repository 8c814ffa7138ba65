// Package reconcile repairs the job queue after crashes and manual edits.
//
// A [Reconciler] pass, run at startup and then on an interval, does three
// idempotent things while holding the control lease:
//
//  1. Fails every PROCESSING job whose processing_started_at is older
//     than the stale threshold (or missing). The write is pinned to the
//     exact start instant it observed, so a job that was re-claimed in
//     the meantime is left alone.
//  2. When more than one job is PROCESSING, returns all but the oldest
//     to PENDING. They keep their created_at and so their place in line.
//  3. Recomputes queue positions.
//
// Per-job failures are logged and counted; the pass carries on. When the
// lease is held elsewhere the pass is skipped and reported as such.
package reconcile
