package docket

import "errors"

var (
	// Store errors.
	ErrNoStore          = errors.New("docket: no store configured")
	ErrStoreUnavailable = errors.New("docket: store unavailable")

	// Not found errors.
	ErrJobNotFound = errors.New("docket: job not found")

	// Conflict errors.
	ErrConflict         = errors.New("docket: conditional update matched no record")
	ErrJobAlreadyExists = errors.New("docket: job already exists")
	ErrDedupeKeyInUse   = errors.New("docket: dedupe key held by another live job")

	// State errors.
	ErrInvalidTransition = errors.New("docket: invalid state transition")
	ErrStaleWork         = errors.New("docket: stale processing job")

	// Admission errors.
	ErrInvalidSubmission = errors.New("docket: invalid submission")

	// Lease errors.
	ErrLeaseNotHeld = errors.New("docket: lease not held")
)
