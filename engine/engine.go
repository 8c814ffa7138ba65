package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/docket"
	"github.com/xraph/docket/artifact"
	"github.com/xraph/docket/backoff"
	"github.com/xraph/docket/ext"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/lease"
	mw "github.com/xraph/docket/middleware"
	"github.com/xraph/docket/notify"
	"github.com/xraph/docket/observability"
	"github.com/xraph/docket/reconcile"
	"github.com/xraph/docket/retention"
	"github.com/xraph/docket/store"
	"github.com/xraph/docket/worker"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Ensure Engine satisfies the worker's view of the coordinator.
var _ worker.Coordinator = (*Engine)(nil)

// Engine is the document-ingestion coordinator. Use Build() to create one
// from a Docket.
type Engine struct {
	d          *docket.Docket
	store      store.Store
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time
	ownerID    string

	claimLease *lease.Manager
	artifacts  artifact.Store
	signal     *notify.Signal
	notifier   notify.Notifier
	schema     *jsonschema.Schema

	processor worker.Processor
	verifier  worker.Verifier
	bo        backoff.Strategy
	mws       []mw.Middleware

	runner     *worker.Runner
	reconciler *reconcile.Reconciler
	sweeper    *retention.Sweeper

	// Build-time inputs.
	rawSchema      json.RawMessage
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the execution chain, inside the
// default recover, tracing, metrics, logging and timeout layers.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithProcessor sets the extraction step. Without one the engine admits
// and manages jobs but runs no claim loop.
func WithProcessor(p worker.Processor) Option {
	return func(eng *Engine) { eng.processor = p }
}

// WithVerifier sets the verification step run after a successful
// extraction.
func WithVerifier(v worker.Verifier) Option {
	return func(eng *Engine) { eng.verifier = v }
}

// WithArtifacts sets where submitted payloads are stored and from where
// permanent deletion removes them.
func WithArtifacts(a artifact.Store) Option {
	return func(eng *Engine) { eng.artifacts = a }
}

// WithSignal sets the local wake-up signal the claim loop listens on.
// Pass the same Signal to a cross-process bridge before handing the bridge
// to WithNotifier.
func WithSignal(s *notify.Signal) Option {
	return func(eng *Engine) { eng.signal = s }
}

// WithNotifier sets what admission notifies when new work is queued.
// Defaults to the local signal. A notifier that also implements
// docket.Runner is started and stopped with the engine.
func WithNotifier(n notify.Notifier) Option {
	return func(eng *Engine) { eng.notifier = n }
}

// WithOutputSchema sets a JSON schema that extraction output is checked
// against on completion. Mismatches are logged and never block the
// transition.
func WithOutputSchema(schema json.RawMessage) Option {
	return func(eng *Engine) { eng.rawSchema = schema }
}

// WithClock overrides the time source for every transition, the lease,
// the reconciler and the sweeper.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) { eng.now = now }
}

// WithOwnerID sets the identity this process claims jobs and leases as.
// Defaults to a fresh worker ID.
func WithOwnerID(owner string) Option {
	return func(eng *Engine) { eng.ownerID = owner }
}

// WithBackoff sets the strategy background loops use during store
// outages. If not set, backoff.DefaultStrategy() is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build creates an Engine from an existing Docket.
// The Docket's store must implement store.Store.
func Build(d *docket.Docket, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	if d.Store() == nil {
		return nil, docket.ErrNoStore
	}

	// Type-assert the store to get the full composite interface.
	s, ok := d.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("docket: store does not implement store.Store")
	}

	eng := &Engine{
		d:          d,
		store:      s,
		extensions: ext.NewRegistry(logger),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}
	if eng.ownerID == "" {
		eng.ownerID = id.NewWorkerID().String()
	}
	if eng.signal == nil {
		eng.signal = notify.NewSignal()
	}
	if eng.notifier == nil {
		eng.notifier = eng.signal
	}
	if len(eng.rawSchema) > 0 {
		sch, err := compileSchema(eng.rawSchema)
		if err != nil {
			return nil, err
		}
		eng.schema = sch
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/docket"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/docket"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/xraph/docket/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	config := d.Config()

	// Claim and reconcile share the control lease under distinct owners,
	// so they also exclude each other inside one process.
	eng.claimLease = lease.NewManager(s, config.LeaseName,
		lease.WithTTL(config.LeaseTTL),
		lease.WithOwner(eng.ownerID),
		lease.WithClock(eng.now),
		lease.WithLogger(logger),
	)
	reconcileLease := lease.NewManager(s, config.LeaseName,
		lease.WithTTL(config.LeaseTTL),
		lease.WithOwner(eng.ownerID+":reconcile"),
		lease.WithClock(eng.now),
		lease.WithLogger(logger),
	)

	eng.reconciler = reconcile.New(s, reconcileLease,
		reconcile.WithStaleAfter(config.StaleAfter),
		reconcile.WithInterval(config.ReconcileInterval),
		reconcile.WithClock(eng.now),
		reconcile.WithLogger(logger),
		reconcile.WithBackoff(eng.bo),
		reconcile.WithEmitter(eng.extensions),
	)

	sweepOpts := []retention.Option{
		retention.WithRetention(config.RetentionWindow()),
		retention.WithSchedule(config.RetentionSchedule),
		retention.WithRate(config.PurgeRate),
		retention.WithEmitter(eng.extensions),
		retention.WithClock(eng.now),
		retention.WithLogger(logger),
		retention.WithBackoff(eng.bo),
	}
	if eng.artifacts != nil {
		sweepOpts = append(sweepOpts, retention.WithArtifacts(eng.artifacts))
	}
	eng.sweeper = retention.New(s, sweepOpts...)

	if eng.processor != nil {
		// Default middleware stack: recover → tracing → metrics → logging → timeout.
		defaultMws := []mw.Middleware{
			mw.Recover(logger),
			tracingMw,
			metricsMw,
			mw.Logging(logger),
			mw.Timeout(logger, config.ProcessTimeout),
		}
		allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
		allMws = append(allMws, defaultMws...)
		allMws = append(allMws, eng.mws...)

		executor := worker.NewExecutor(eng, eng.processor, eng.verifier, logger, allMws...)
		eng.runner = worker.NewRunner(eng, executor,
			worker.WithPollInterval(config.PollInterval),
			worker.WithWake(eng.signal.C()),
			worker.WithBackoff(eng.bo),
			worker.WithLogger(logger),
		)
	}

	// Wire back into the Docket. The bridge starts first so no wake-up is
	// missed; the reconciler runs its startup pass before the first claim.
	if r, ok := eng.notifier.(docket.Runner); ok {
		d.AddRunner(r)
	}
	d.AddRunner(eng.reconciler)
	if eng.runner != nil {
		d.AddRunner(eng.runner)
	}
	d.AddRunner(eng.sweeper)
	d.SetExtensions(eng.extensions)

	return eng, nil
}

// Start launches the background runners.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.d.Start(ctx)
}

// Stop gracefully shuts down the runners and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.d.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Docket returns the underlying Docket.
func (eng *Engine) Docket() *docket.Docket { return eng.d }

// Store returns the engine's store.
func (eng *Engine) Store() store.Store { return eng.store }

// OwnerID returns the identity this engine claims jobs as.
func (eng *Engine) OwnerID() string { return eng.ownerID }

// Reconciler returns the reconciler, for on-demand passes.
func (eng *Engine) Reconciler() *reconcile.Reconciler { return eng.reconciler }

// Sweeper returns the retention sweeper, for on-demand sweeps.
func (eng *Engine) Sweeper() *retention.Sweeper { return eng.sweeper }

// Runner returns the claim runner, or nil when no processor is configured.
func (eng *Engine) Runner() *worker.Runner { return eng.runner }

// wake notifies the claim loop. Failures only delay work by one poll
// interval, so they are logged.
func (eng *Engine) wake(ctx context.Context) {
	if err := eng.notifier.Notify(ctx); err != nil {
		eng.logger.Warn("wake-up notification failed", slog.String("error", err.Error()))
	}
}
