package job

import (
	"fmt"
	"sort"
	"strings"
)

// Status is the primary lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is queued and waiting to be claimed.
	StatusPending Status = "PENDING"
	// StatusProcessing means the single ingestion worker holds the job.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted means extraction finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed means extraction failed. Terminal unless resubmitted.
	StatusFailed Status = "FAILED"
)

// Statuses lists every canonical status.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// statusAliases maps every historical spelling (lowercased) to its
// canonical status. Older records were written with lowercase values and
// a separate "uploaded" state that behaves like PENDING.
var statusAliases = map[string]Status{
	"pending":    StatusPending,
	"uploaded":   StatusPending,
	"queued":     StatusPending,
	"processing": StatusProcessing,
	"running":    StatusProcessing,
	"completed":  StatusCompleted,
	"complete":   StatusCompleted,
	"success":    StatusCompleted,
	"verified":   StatusCompleted,
	"failed":     StatusFailed,
	"error":      StatusFailed,
}

// ParseStatus normalizes a raw stored status into the closed enumeration.
// Matching is case-insensitive and tolerant of surrounding whitespace.
func ParseStatus(raw string) (Status, error) {
	s, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("job: unknown status %q", raw)
	}
	return s, nil
}

// StatusAliases returns every raw spelling that normalizes to s, in both
// lower and upper case, for use in store filters that must also match
// records not yet migrated.
func StatusAliases(s Status) []string {
	out := make([]string, 0, 8)
	for raw, canon := range statusAliases {
		if canon != s {
			continue
		}
		out = append(out, raw, strings.ToUpper(raw))
	}
	sort.Strings(out)
	return out
}

// LegacyAliases returns the raw spellings of s that are not its canonical
// form. NormalizeLegacy implementations rewrite these.
func LegacyAliases(s Status) []string {
	all := StatusAliases(s)
	out := all[:0]
	for _, raw := range all {
		if raw != string(s) {
			out = append(out, raw)
		}
	}
	return out
}

// transitions is the primary state machine. Soft delete and verification
// are orthogonal and not listed here.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusPending},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusPending},
	StatusFailed:     {StatusPending, StatusProcessing},
	StatusCompleted:  nil,
}

// CanTransition reports whether from → to is a legal primary transition.
// PROCESSING → PENDING exists only for reconciliation demotion, and
// FAILED → PENDING only for stale requeue or external resubmission.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Sources returns the statuses from which to is reachable.
func Sources(to Status) []Status {
	var out []Status
	for _, from := range Statuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// VerificationStatus tracks the asynchronous verification sub-stage that
// runs after a job is COMPLETED.
type VerificationStatus string

const (
	VerificationNotStarted VerificationStatus = "not_started"
	VerificationProcessing VerificationStatus = "processing"
	VerificationCompleted  VerificationStatus = "completed"
	VerificationFailed     VerificationStatus = "failed"
)

// ParseVerificationStatus normalizes a raw stored verification status.
// An empty value is treated as not_started.
func ParseVerificationStatus(raw string) (VerificationStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "not_started", "none":
		return VerificationNotStarted, nil
	case "processing", "running":
		return VerificationProcessing, nil
	case "completed", "complete", "success":
		return VerificationCompleted, nil
	case "failed", "error":
		return VerificationFailed, nil
	}
	return "", fmt.Errorf("job: unknown verification status %q", raw)
}
