// Package lease provides the named, expiring mutual-exclusion record that
// serializes queue control across coordinator processes.
//
// A [Lease] is a (name, owner, expires_at) record kept in the shared
// store. [Store.AcquireLease] is a single conditional upsert: it succeeds
// when the lease is free, expired, or already held by the caller, and
// stamps a fresh expiry. [Store.ReleaseLease] expires the record only if
// the caller still owns it.
//
// [Manager] binds a lease name to one owner identity and offers
// Acquire/Release plus [Manager.Do], which runs a function under the lease
// and always releases afterwards.
//
// The lease narrows contention; it is not what keeps the queue correct.
// Claim re-checks that no job is PROCESSING before promoting another, so
// a lease that expires mid-operation cannot produce two active jobs.
package lease
