package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/docket/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"JobID", id.NewJobID, id.ParseJobID},
		{"WorkerID", id.NewWorkerID, id.ParseWorkerID},
		{"JobRef", id.NewJobID, id.ParseJobRef},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	if _, err := id.ParseJobID(id.NewWorkerID().String()); err == nil {
		t.Error("ParseJobID accepted a worker id")
	}
	if _, err := id.ParseWorkerID(id.NewJobID().String()); err == nil {
		t.Error("ParseWorkerID accepted a job id")
	}
	if _, err := id.ParseJobRef(id.NewWorkerID().String()); err == nil {
		t.Error("ParseJobRef accepted a worker id")
	}
}

func TestParseJobRef_Legacy(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"hex lower", "a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1", "a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1"},
		{"hex upper", "B2B2B2B2B2B2B2B2B2B2B2B2B2B2B2B2", "b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2"},
		{"uuid", "3F2504E0-4F89-11D3-9A0C-0305E82C3301", "3f2504e0-4f89-11d3-9a0c-0305e82c3301"},
		{"padded", "  c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3 ", "c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := id.ParseJobRef(tt.input)
			if err != nil {
				t.Fatalf("ParseJobRef(%q): %v", tt.input, err)
			}
			if got.String() != tt.want {
				t.Errorf("String() = %q, want %q", got.String(), tt.want)
			}
			if !got.IsLegacy() {
				t.Error("expected legacy id")
			}
			if got.Prefix() != id.PrefixJob {
				t.Errorf("Prefix() = %q, want %q", got.Prefix(), id.PrefixJob)
			}
		})
	}
}

func TestParseJobRef_Rejects(t *testing.T) {
	for _, in := range []string{"", "xyz", "a1a1", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", "job_"} {
		if _, err := id.ParseJobRef(in); err == nil {
			t.Errorf("ParseJobRef(%q) expected error", in)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := id.Parse("")
	if err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	for _, original := range []id.ID{
		id.NewJobID(),
		mustLegacy(t, "d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4"),
	} {
		data, err := original.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText failed: %v", err)
		}

		var restored id.ID
		if unmarshalErr := restored.UnmarshalText(data); unmarshalErr != nil {
			t.Fatalf("UnmarshalText failed: %v", unmarshalErr)
		}
		if restored.String() != original.String() {
			t.Errorf("mismatch: %q != %q", restored.String(), original.String())
		}
	}

	var nilID id.ID
	data, err := nilID.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText(nil) failed: %v", err)
	}
	var restored id.ID
	if err := restored.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !restored.IsNil() {
		t.Error("expected nil after round-trip of nil ID")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewJobID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}

	var scanned2 id.ID
	if err := scanned2.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if !scanned2.IsNil() {
		t.Error("expected nil after scan of nil")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewJobID()
	b := id.NewJobID()
	if a.String() == b.String() {
		t.Errorf("two consecutive NewJobID() calls returned the same ID: %q", a.String())
	}
}

func mustLegacy(t *testing.T, s string) id.ID {
	t.Helper()
	i, err := id.ParseLegacy(s)
	if err != nil {
		t.Fatalf("ParseLegacy(%q): %v", s, err)
	}
	return i
}
