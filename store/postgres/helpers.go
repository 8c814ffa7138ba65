package postgres

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/docket"
)

// Constraint names that map to distinct sentinels.
const (
	constraintPrimary = "docket_jobs_pkey"
	constraintDedupe  = "docket_jobs_dedupe_live"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// duplicateError maps a unique violation to the sentinel for the
// constraint it hit.
func duplicateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == constraintPrimary {
		return docket.ErrJobAlreadyExists
	}
	if errors.As(err, &pgErr) && pgErr.ConstraintName == constraintDedupe {
		return docket.ErrDedupeKeyInUse
	}
	return docket.ErrJobAlreadyExists
}

// isUnavailable reports whether err means the server could not be
// reached, as opposed to the statement being rejected.
func isUnavailable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception, 57P0x is operator shutdown.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P")
	}
	return strings.Contains(err.Error(), "closed pool")
}

// wrap prefixes err with the operation and marks outages with
// docket.ErrStoreUnavailable so background loops back off.
func wrap(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("docket/postgres: %s: %w: %w", op, docket.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("docket/postgres: %s: %w", op, err)
}
