// Package middleware provides composable middleware around job processing
// steps.
//
// A [Middleware] is a function that wraps the call into an external
// collaborator (the extractor or the verifier). Middleware are composed
// into a chain using [Chain] and applied to every step. They are applied
// right-to-left: the first middleware in the slice is the outermost
// wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// The step being wrapped is carried on the context; see [WithStep].
//
// # Built-in Middleware
//
//   - [Logging]: logs job ID, step, duration and outcome
//   - [Recover]: catches panics and converts them to errors
//   - [Timeout]: cancels the step context after a configured duration
//   - [Tracing]: wraps the step in an OpenTelemetry span
//   - [Metrics]: records per-step duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
