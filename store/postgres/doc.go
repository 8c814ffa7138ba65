// Package postgres implements store.Store using pgx/v5 with raw SQL.
// Features: advisory-lock serialized claims with SKIP LOCKED selection,
// upsert-based leases, a partial unique index for live dedupe keys, and
// embedded goose migrations.
package postgres
