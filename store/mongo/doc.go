// Package mongo implements store.Store on the official MongoDB Go driver.
// It is the backend for deployments whose document records already live
// in MongoDB, including records written before the canonical schema.
//
// New builds the store on a *grove.DB, the handle a grove application
// already holds. The caller owns its lifecycle and Close leaves it open:
//
//	import (
//	    "github.com/xraph/grove"
//	    mongostore "github.com/xraph/docket/store/mongo"
//	)
//
//	db, _ := grove.Open(ctx, "mongo", dsn)
//	s := mongostore.New(db)
//	s.Migrate(ctx)
//
// NewFromDatabase takes a plain driver *mongo.Database instead. Open
// connects its own client from a URI, and Close disconnects it.
//
// Jobs live in the docket_jobs collection and the control lease in
// docket_leases. Migrate creates a partial unique index on dedupe_key that
// only covers live jobs, so soft-deleted records never block a fresh
// submission of the same document.
//
// Filters match every historical status spelling, so a database can be
// served before NormalizeLegacy has rewritten it.
package mongo
