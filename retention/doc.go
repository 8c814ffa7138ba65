// Package retention purges soft-deleted jobs once their retention window
// has passed.
//
// A [Sweeper] runs on a cron schedule and on demand through Trigger. Each
// sweep scans jobs that are soft-deleted or carry a deleted_at stamp and
// permanently removes those deleted at or before now minus the retention
// window, together with their artifacts. The delete is conditional on the
// job still being soft-deleted, so a job restored mid-sweep survives.
// Deletions are paced by a token-bucket limiter so a large backlog does
// not saturate the store.
package retention
