package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/docket/id"
)

// DefaultTTL is the lease lifetime used when none is configured.
const DefaultTTL = 30 * time.Second

// Manager acquires and releases one named lease on behalf of one owner.
// It is safe for concurrent use; the store arbitrates between callers.
type Manager struct {
	store  Store
	name   string
	owner  string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets how long an acquired lease stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithOwner sets the owner identity. Defaults to a fresh worker ID.
func WithOwner(owner string) Option {
	return func(m *Manager) {
		if owner != "" {
			m.owner = owner
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a Manager for the lease called name.
func NewManager(store Store, name string, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		name:   name,
		owner:  id.NewWorkerID().String(),
		ttl:    DefaultTTL,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the lease name.
func (m *Manager) Name() string { return m.name }

// Owner returns the identity this manager acquires the lease as.
func (m *Manager) Owner() string { return m.owner }

// Acquire tries to take the lease. It returns false, nil when another
// owner holds it.
func (m *Manager) Acquire(ctx context.Context) (bool, error) {
	ok, err := m.store.AcquireLease(ctx, m.name, m.owner, m.ttl, m.now())
	if err != nil {
		return false, fmt.Errorf("lease: acquire %q: %w", m.name, err)
	}
	return ok, nil
}

// Release gives the lease up if this manager still owns it.
func (m *Manager) Release(ctx context.Context) error {
	if err := m.store.ReleaseLease(ctx, m.name, m.owner, m.now()); err != nil {
		return fmt.Errorf("lease: release %q: %w", m.name, err)
	}
	return nil
}

// Held reports whether this manager currently owns a valid lease.
func (m *Manager) Held(ctx context.Context) (bool, error) {
	l, err := m.store.GetLease(ctx, m.name)
	if err != nil {
		return false, fmt.Errorf("lease: get %q: %w", m.name, err)
	}
	return l.Held(m.now()) && l.OwnerID == m.owner, nil
}

// Do runs fn while holding the lease. When the lease is held elsewhere fn
// is not called and Do returns false, nil. The lease is always released
// after fn returns, even when fn fails or panics.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context) error) (ran bool, err error) {
	ok, err := m.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	defer func() {
		// Release on a fresh context so a cancelled caller still frees
		// the lease instead of waiting out the TTL.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := m.Release(relCtx); relErr != nil {
			// The lease expires on its own; fn's outcome stands.
			m.logger.Warn("lease release failed",
				slog.String("lease", m.name),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	return true, fn(ctx)
}
