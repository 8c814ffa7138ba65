// Package audithook is a docket extension that turns lifecycle events
// into an audit trail.
//
// Every lifecycle hook emits a structured audit event through the
// [Recorder] interface: info severity for normal operations, warning for
// demotions and deletions, critical for failures. Deletions record the
// acting user, which is what compliance reviews of medical documents ask
// for first.
//
// # Default recorder
//
// [LogRecorder] writes each event as one structured log line:
//
//	audithook.New(audithook.NewLogRecorder(logger))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobSoftDeleted,
//	        audithook.ActionJobPurged,
//	    ),
//	)
package audithook
