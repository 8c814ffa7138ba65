package docket

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Option configures a Docket.
type Option func(*Docket) error

// Storer is the minimal store interface held by the Docket.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used by the engine, reconciler and sweeper, which
// sit above this package.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Runner is a supervised background loop (claim runner, reconciler,
// retention sweeper). Start returns immediately; Stop blocks until the
// loop exits or ctx is done.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Docket is the composition root for a coordinator process. It owns the
// store handle and the background runners, and is the only place where
// they are started and stopped.
//
// Create one with New() and functional options, then hand it to
// engine.Build to obtain the coordinator operations.
type Docket struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	runners    []Runner

	started []Runner
}

// New creates a new Docket with the given options.
func New(opts ...Option) (*Docket, error) {
	d := &Docket{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if err := d.config.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Logger returns the docket's logger.
func (d *Docket) Logger() *slog.Logger { return d.logger }

// Store returns the docket's store.
func (d *Docket) Store() Storer { return d.store }

// Config returns a copy of the docket's configuration.
func (d *Docket) Config() Config { return d.config }

// AddRunner registers a background loop to be supervised by Start/Stop.
// Runners start in registration order and stop in reverse order.
func (d *Docket) AddRunner(r Runner) { d.runners = append(d.runners, r) }

// SetExtensions sets the extension emitter (called by the engine package).
func (d *Docket) SetExtensions(e extensionEmitter) { d.extensions = e }

// Start launches every registered runner. If one fails to start, the
// runners already started are stopped again before the error is returned.
func (d *Docket) Start(ctx context.Context) error {
	if d.store == nil {
		return ErrNoStore
	}
	for _, r := range d.runners {
		if err := r.Start(ctx); err != nil {
			_ = d.stopStarted(ctx)
			return err
		}
		d.started = append(d.started, r)
	}
	return nil
}

// Stop gracefully shuts down the runners, notifies extensions, and
// closes the store. The shutdown is bounded by Config.ShutdownTimeout
// unless ctx already carries an earlier deadline.
func (d *Docket) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && d.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ShutdownTimeout)
		defer cancel()
	}

	err := d.stopStarted(ctx)
	if d.extensions != nil {
		d.extensions.EmitShutdown(ctx)
	}
	if d.store != nil {
		err = errors.Join(err, d.store.Close())
	}
	return err
}

func (d *Docket) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(d.started) - 1; i >= 0; i-- {
		if err := d.started[i].Stop(ctx); err != nil {
			d.logger.Error("runner stop error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	d.started = nil
	return errors.Join(errs...)
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(d *Docket) error {
		d.config = cfg
		return nil
	}
}

// WithLeaseTTL sets how long the control lease stays valid once acquired.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(d *Docket) error {
		d.config.LeaseTTL = ttl
		return nil
	}
}

// WithStaleAfter sets the PROCESSING age after which reconciliation
// recovers a job as stale.
func WithStaleAfter(threshold time.Duration) Option {
	return func(d *Docket) error {
		d.config.StaleAfter = threshold
		return nil
	}
}

// WithPollInterval sets the idle sleep of the claim loop.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Docket) error {
		d.config.PollInterval = interval
		return nil
	}
}

// WithRetentionDays sets how long soft-deleted jobs are retained.
func WithRetentionDays(days int) Option {
	return func(d *Docket) error {
		d.config.RetentionDays = days
		return nil
	}
}

// WithLogger sets the structured logger for the docket.
func WithLogger(l *slog.Logger) Option {
	return func(d *Docket) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the docket.
// The store must implement Storer at minimum; engine.Build additionally
// requires it to be a store.Store.
func WithStore(s Storer) Option {
	return func(d *Docket) error {
		d.store = s
		return nil
	}
}
