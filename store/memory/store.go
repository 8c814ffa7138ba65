// Package memory provides a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
//
// Every conditional operation runs under one mutex, which gives the same
// atomicity the database backends get from single-document updates and
// transactions.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/lease"
	"github.com/xraph/docket/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is an in-memory job and lease store.
type Store struct {
	mu sync.Mutex

	jobs   map[string]*job.Job
	leases map[string]*lease.Lease
	closed bool

	now func() time.Time
}

// Option configures a memory Store.
type Option func(*Store)

// WithClock overrides the time source used when a Patch carries no Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:   make(map[string]*job.Job),
		leases: make(map[string]*lease.Lease),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate, Ping, Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return m.check() }

// Ping succeeds until the store is closed.
func (m *Store) Ping(_ context.Context) error { return m.check() }

// Close marks the store closed. Every later call fails with
// docket.ErrStoreUnavailable, which lets tests exercise outage handling.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Reopen clears the closed flag. The data is kept.
func (m *Store) Reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
}

func (m *Store) check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkLocked()
}

func (m *Store) checkLocked() error {
	if m.closed {
		return docket.ErrStoreUnavailable
	}
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// InsertJob persists a new job.
func (m *Store) InsertJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return docket.ErrJobAlreadyExists
	}
	if !j.IsDeleted && m.liveDedupeHolder(j.DedupeKey, key) != nil {
		return docket.ErrDedupeKeyInUse
	}
	m.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, docket.ErrJobNotFound
	}
	return j.Clone(), nil
}

// FindByDedupeKey returns the live job holding key.
func (m *Store) FindByDedupeKey(_ context.Context, key string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}

	if j := m.liveDedupeHolder(key, ""); j != nil {
		return j.Clone(), nil
	}
	return nil, docket.ErrJobNotFound
}

// UpdateJob applies patch when the job satisfies cond.
func (m *Store) UpdateJob(_ context.Context, jobID id.JobID, cond job.Condition, patch job.Patch) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}

	key := jobID.String()
	cur, ok := m.jobs[key]
	if !ok {
		return nil, docket.ErrJobNotFound
	}
	if !cond.Matches(cur) {
		return nil, docket.ErrConflict
	}

	if patch.Now.IsZero() {
		patch.Now = m.now()
	}
	next := cur.Clone()
	patch.Apply(next)

	// Restoring a job re-enters it into the partial unique dedupe index.
	if cur.IsDeleted && !next.IsDeleted && m.liveDedupeHolder(next.DedupeKey, key) != nil {
		return nil, docket.ErrDedupeKeyInUse
	}

	m.jobs[key] = next
	return next.Clone(), nil
}

// ClaimNext promotes the oldest claimable job to PROCESSING.
func (m *Store) ClaimNext(_ context.Context, opts job.ClaimOpts) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}

	if opts.RequireIdle {
		for _, j := range m.jobs {
			if j.Status == job.StatusProcessing {
				return nil, nil
			}
		}
	}

	var next *job.Job
	for _, j := range m.jobs {
		if !j.Claimable() {
			continue
		}
		if next == nil || job.Less(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	now := opts.Now
	if now.IsZero() {
		now = m.now()
	}
	job.ClaimPatch(opts.Owner, now).Apply(next)
	return next.Clone(), nil
}

// ListJobs returns jobs matching opts in FIFO order.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}

	var out []*job.Job
	for _, j := range m.jobs {
		if !matchList(j, opts.Statuses, opts.Deleted, opts.DeletedOrStamped) {
			continue
		}
		out = append(out, j.Clone())
	}
	job.SortFIFO(out)
	return applyPagination(out, opts.Offset, opts.Limit), nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return 0, err
	}

	var n int64
	for _, j := range m.jobs {
		if matchList(j, opts.Statuses, opts.Deleted, false) {
			n++
		}
	}
	return n, nil
}

// SetQueuePositions writes positions onto jobs that are still ranked.
func (m *Store) SetQueuePositions(_ context.Context, positions []job.Position) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return 0, err
	}

	var n int64
	for _, p := range positions {
		j, ok := m.jobs[p.JobID.String()]
		if !ok || !j.Ranked() {
			continue
		}
		if j.QueuePosition != nil && *j.QueuePosition == p.Position {
			n++
			continue
		}
		pos := p.Position
		j.QueuePosition = &pos
		n++
	}
	return n, nil
}

// ClearStaleQueuePositions unsets queue_position on unranked jobs.
func (m *Store) ClearStaleQueuePositions(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return 0, err
	}

	var n int64
	for _, j := range m.jobs {
		if j.QueuePosition != nil && !j.Ranked() {
			j.QueuePosition = nil
			n++
		}
	}
	return n, nil
}

// DeleteJob permanently removes the job when it satisfies cond.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID, cond job.Condition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return false, err
	}

	key := jobID.String()
	j, ok := m.jobs[key]
	if !ok {
		return false, nil
	}
	if !cond.Matches(j) {
		return false, docket.ErrConflict
	}
	delete(m.jobs, key)
	return true, nil
}

// liveDedupeHolder returns the non-deleted job holding key, ignoring the
// job stored under skip. Must be called with m.mu held.
func (m *Store) liveDedupeHolder(key, skip string) *job.Job {
	if key == "" {
		return nil
	}
	for k, j := range m.jobs {
		if k == skip || j.IsDeleted {
			continue
		}
		if j.DedupeKey == key {
			return j
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Lease Store
// ──────────────────────────────────────────────────

// AcquireLease takes or renews the named lease.
func (m *Store) AcquireLease(_ context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return false, err
	}

	if l, ok := m.leases[name]; ok && l.OwnerID != owner && l.ExpiresAt.After(now) {
		return false, nil
	}
	m.leases[name] = &lease.Lease{Name: name, OwnerID: owner, ExpiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseLease expires the lease if owner still holds it.
func (m *Store) ReleaseLease(_ context.Context, name, owner string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return err
	}

	if l, ok := m.leases[name]; ok && l.OwnerID == owner {
		l.ExpiresAt = lease.ReleasedAt(now)
	}
	return nil
}

// GetLease returns the lease record or nil.
func (m *Store) GetLease(_ context.Context, name string) (*lease.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(); err != nil {
		return nil, err
	}

	l, ok := m.leases[name]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func matchList(j *job.Job, statuses []job.Status, deleted *bool, deletedOrStamped bool) bool {
	if len(statuses) > 0 {
		found := false
		for _, s := range statuses {
			if j.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if deletedOrStamped {
		return j.IsDeleted || j.DeletedAt != nil
	}
	if deleted != nil && j.IsDeleted != *deleted {
		return false
	}
	return true
}

func applyPagination(jobs []*job.Job, offset, limit int) []*job.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return nil
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
