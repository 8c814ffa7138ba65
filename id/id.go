// Package id defines TypeID-based identity types for docket entities.
//
// New jobs get a TypeID in the format "job_<suffix>": K-sortable
// (UUIDv7-based), globally unique and URL-safe. Records written before
// TypeIDs were adopted are keyed by a canonical UUID or a bare 32-character
// hex string; ParseJobRef accepts those as legacy job IDs so they remain
// addressable.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for docket entity types.
const (
	PrefixJob    Prefix = "job"
	PrefixWorker Prefix = "wkr"
)

// ID is the primary identifier type for docket entities.
// It wraps a TypeID, or holds a normalized legacy job key.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner  typeid.TypeID
	legacy string
	valid  bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "job_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Legacy job keys
// ──────────────────────────────────────────────────

// ParseLegacy accepts a canonical UUID or a 32-character hex string and
// returns it as a legacy job ID. UUIDs are normalized to their lowercase
// hyphenated form; hex keys are lowercased.
func ParseLegacy(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if isHex32(s) {
		return ID{legacy: strings.ToLower(s), valid: true}, nil
	}
	if len(s) == 36 {
		u, err := uuid.Parse(s)
		if err == nil {
			return ID{legacy: u.String(), valid: true}, nil
		}
	}
	return Nil, fmt.Errorf("id: parse legacy %q: not a uuid or 32-char hex key", s)
}

// ParseJobRef parses any accepted job identifier: a "job_" TypeID, a
// canonical UUID, or a legacy 32-character hex key.
func ParseJobRef(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, string(PrefixJob)+"_") {
		return ParseWithPrefix(s, PrefixJob)
	}
	legacy, err := ParseLegacy(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse job ref %q: not a job typeid, uuid, or legacy hex key", s)
	}
	return legacy, nil
}

func isHex32(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ──────────────────────────────────────────────────
// Type aliases
// ──────────────────────────────────────────────────

// JobID is a type-safe identifier for jobs (prefix: "job", or legacy).
type JobID = ID

// WorkerID is a type-safe identifier for claim workers and lease owners
// (prefix: "wkr").
type WorkerID = ID

// NewJobID generates a new unique job ID.
func NewJobID() ID { return New(PrefixJob) }

// NewWorkerID generates a new unique worker ID.
func NewWorkerID() ID { return New(PrefixWorker) }

// ParseJobID parses a string and validates the "job" prefix. Use
// ParseJobRef to also accept legacy keys.
func ParseJobID(s string) (ID, error) { return ParseWithPrefix(s, PrefixJob) }

// ParseWorkerID parses a string and validates the "wkr" prefix.
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix),
// or the normalized legacy key. Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	if i.legacy != "" {
		return i.legacy
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID. Legacy keys only ever
// identified jobs, so they report PrefixJob.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	if i.legacy != "" {
		return PrefixJob
	}

	return Prefix(i.inner.Prefix())
}

// IsLegacy reports whether this ID is a pre-TypeID job key.
func (i ID) IsLegacy() bool { return i.legacy != "" }

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Both TypeIDs and
// legacy keys are accepted.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	s := string(data)
	if !strings.Contains(s, "_") {
		if legacy, err := ParseLegacy(s); err == nil {
			*i = legacy
			return nil
		}
	}

	parsed, err := Parse(s)
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
