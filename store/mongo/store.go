package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/docket"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/store"
)

// Collection name constants.
const (
	colJobs   = "docket_jobs"
	colLeases = "docket_leases"
	colGate   = "docket_claim_gate"
)

// idxDedupe is the partial unique index over live dedupe keys. Duplicate
// key errors naming it map to docket.ErrDedupeKeyInUse.
const idxDedupe = "dedupe_key_live"

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ store.Store          = (*Store)(nil)
	_ job.LegacyNormalizer = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store. Built with New it
// runs on a grove handle: inserts go through the grove query builder and
// the conditional updates through the driver collections it unwraps to.
type Store struct {
	gdb    *grove.DB
	mdb    *mongodriver.MongoDB
	db     *mongod.Database
	owned  bool
	logger *slog.Logger
	now    func() time.Time

	// standalone is set once the server rejected a transaction.
	standalone atomic.Bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source used when a Patch carries no Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new MongoDB store on a grove database. The caller owns
// the db lifecycle; Close does not close it.
func New(db *grove.DB, opts ...Option) *Store {
	mdb := mongodriver.Unwrap(db)
	s := newStore(mdb.Collection(colJobs).Database(), opts...)
	s.gdb = db
	s.mdb = mdb
	return s
}

// NewFromDatabase creates a store on a plain driver database handle. The
// caller owns the client; Close does not disconnect it.
func NewFromDatabase(db *mongod.Database, opts ...Option) *Store {
	return newStore(db, opts...)
}

func newStore(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to uri and returns a store over database. The store owns
// the client and Close disconnects it.
func Open(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("docket/mongo: connect: %w", err)
	}
	s := newStore(client.Database(database), opts...)
	s.owned = true
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// DB returns the underlying *mongo.Database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Grove returns the grove handle the store was built on, or nil.
func (s *Store) Grove() *grove.DB {
	return s.gdb
}

// Migrate creates indexes for the docket collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return wrap("migrate "+col+" indexes", err)
		}
	}

	// The gate document must exist before any claim transaction: an upsert
	// inside two racing transactions would fail on the _id index instead
	// of conflicting.
	_, err := s.gate().UpdateOne(ctx,
		bson.M{"_id": gateID},
		bson.M{"$setOnInsert": bson.M{"seq": int64(0)}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return wrap("migrate claim gate", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	var err error
	if s.gdb != nil {
		err = s.gdb.Ping(ctx)
	} else {
		err = s.db.Client().Ping(ctx, nil)
	}
	if err != nil {
		return fmt.Errorf("docket/mongo: ping: %w: %w", docket.ErrStoreUnavailable, err)
	}
	return nil
}

// Close disconnects the client when the store opened it, and is a no-op
// otherwise.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.db.Client().Disconnect(ctx)
}

func (s *Store) jobs() *mongod.Collection   { return s.db.Collection(colJobs) }
func (s *Store) leases() *mongod.Collection { return s.db.Collection(colLeases) }
func (s *Store) gate() *mongod.Collection   { return s.db.Collection(colGate) }

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return mongod.IsDuplicateKeyError(err) ||
		strings.Contains(err.Error(), "E11000")
}

// duplicateError maps a duplicate key violation to the sentinel for the
// index it hit.
func duplicateError(err error) error {
	if strings.Contains(err.Error(), idxDedupe) {
		return docket.ErrDedupeKeyInUse
	}
	return docket.ErrJobAlreadyExists
}

// isUnavailable reports whether err means the server could not be
// reached, as opposed to the operation being rejected.
func isUnavailable(err error) bool {
	return mongod.IsNetworkError(err) ||
		mongod.IsTimeout(err) ||
		errors.Is(err, mongod.ErrClientDisconnected)
}

// wrap prefixes err with the operation and marks outages with
// docket.ErrStoreUnavailable so background loops back off.
func wrap(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("docket/mongo: %s: %w: %w", op, docket.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("docket/mongo: %s: %w", op, err)
}

// migrationIndexes returns the index definitions for the docket collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			// One live job per dedupe key. Soft-deleted jobs and jobs
			// with a missing, null or empty key are outside the index.
			{
				Keys: bson.D{{Key: "dedupe_key", Value: 1}},
				Options: options.Index().
					SetName(idxDedupe).
					SetUnique(true).
					SetPartialFilterExpression(bson.D{
						{Key: "is_deleted", Value: false},
						{Key: "dedupe_key", Value: bson.D{{Key: "$gt", Value: ""}}},
					}),
			},
			// Claim and ranking order.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "created_at", Value: 1},
				{Key: "queued_at", Value: 1},
				{Key: "_id", Value: 1},
			}},
			// Retention scan.
			{Keys: bson.D{
				{Key: "is_deleted", Value: 1},
				{Key: "deleted_at", Value: 1},
			}},
		},
	}
}
