// Package engine wires the docket subsystems together and provides the
// coordinator operations: admission, status reads, claim, lifecycle
// transitions, soft delete and restore.
//
// The engine package sits above every subsystem package. The root docket
// package owns configuration, the store handle and runner supervision;
// job, lease, queue, reconcile, retention and worker each know nothing of
// one another. Build plugs them together.
//
// # Building an Engine
//
//	d, err := docket.New(
//	    docket.WithStore(memory.New()),
//	    docket.WithStaleAfter(30*time.Minute),
//	)
//
//	eng, err := engine.Build(d,
//	    engine.WithProcessor(extractor),
//	    engine.WithVerifier(checker),
//	    engine.WithArtifacts(dir),
//	    engine.WithExtension(audithook.New(audithook.NewLogRecorder(logger))),
//	)
//
// # Submitting Work
//
//	rec, err := eng.Submit(ctx, engine.Submission{
//	    Payload:  pdf,
//	    Filename: "bill.pdf",
//	    Metadata: map[string]string{"hospital": "St. Mary"},
//	})
//	if rec.Duplicate {
//	    // The same document is already known; rec.JobID points at it.
//	}
//
// # Running
//
// Start launches the claim runner (when a processor is configured), the
// reconciler and the retention sweeper; Stop shuts them down in reverse
// order and closes the store.
//
// # Options
//
//   - [WithProcessor], [WithVerifier]: the external extraction and verification steps
//   - [WithArtifacts]: where submitted payloads are stored
//   - [WithNotifier], [WithSignal]: wake-up delivery for the claim loop
//   - [WithOutputSchema]: warn when extraction output does not match a JSON schema
//   - [WithExtension], [WithMiddleware]: lifecycle hooks and execution middleware
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
//   - [WithClock], [WithOwnerID], [WithBackoff]: determinism and tuning
package engine
