// Package docket coordinates the lifecycle of document-ingestion jobs on
// top of a shared document store. It provides idempotent admission, a
// strictly FIFO single-worker claim protocol guarded by a store-held
// lease, a status state machine with a verification sub-stage, soft
// delete with retention purge, and a reconciliation pass that repairs
// the queue after crashes.
//
// docket is a library first. Construct a store, build an engine, and
// plug in the extraction and verification collaborators as ordinary Go
// values.
//
// # Quick Start
//
//	s := memory.New()
//	d, err := docket.New(docket.WithStore(s))
//	eng, err := engine.Build(d)
//	receipt, err := eng.Submit(ctx, engine.Submission{
//	    ArtifactRef: "/var/spool/docket/bill.pdf",
//	    Metadata:    map[string]string{"hospital": "St. Mary"},
//	})
//
// # Architecture
//
// Each subsystem (job, lease) defines its own store interface. A single
// backend (memory, mongo, postgres) implements all of them. Every job
// mutation is a single conditional update evaluated by the store; the
// process holds no lock on job state.
//
// Job IDs are TypeIDs with the "job" prefix. Legacy UUID and 32-character
// hex identifiers are still accepted when parsing.
package docket
