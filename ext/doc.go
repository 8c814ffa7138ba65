// Package ext defines the extension system for docket.
//
// Extensions are notified of job lifecycle events and can react to them:
// recording metrics, writing audit logs, forwarding notifications. Each
// lifecycle hook is a separate interface so extensions opt in only to the
// events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobSubmitted]: a submission was admitted (new or duplicate)
//   - [JobClaimed]: a job was promoted to PROCESSING
//   - [JobCompleted]: extraction finished successfully
//   - [JobFailed]: extraction failed
//   - [JobRecovered]: reconciliation failed a stale PROCESSING job
//   - [JobDemoted]: reconciliation returned an extra PROCESSING job to PENDING
//   - [JobSoftDeleted], [JobRestored], [JobPurged]: deletion lifecycle
//   - [VerificationCompleted], [VerificationFailed]: verification outcome
//
// # Other Hooks
//
//   - [Shutdown]: the coordinator is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never returned to the caller.
package ext
