package dedupe_test

import (
	"testing"

	"github.com/xraph/docket/dedupe"
)

func TestKey_Token(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"plain", "upload-42", "upload-42"},
		{"trimmed", "  upload-42\n", "upload-42"},
		{"uuid canonicalized", "6BA7B810-9DAD-11D1-80B4-00C04FD430C8", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"urn uuid", "urn:uuid:6ba7b810-9dad-11d1-80b4-00c04fd430c8", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
	}
	for _, tt := range tests {
		got := dedupe.Key(dedupe.Input{Token: tt.token, Payload: []byte("ignored")})
		if got != tt.want {
			t.Errorf("%s: Key = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestKey_Fingerprint(t *testing.T) {
	t.Parallel()

	in := dedupe.Input{
		Filename: "Scan-001.PDF",
		Payload:  []byte("%PDF-1.7 ..."),
		Metadata: map[string]string{"hospital": "St Mary", "employee_id": "e-9"},
	}
	key := dedupe.Key(in)
	if len(key) != 64 {
		t.Fatalf("Key length = %d, want 64 hex chars", len(key))
	}

	same := []dedupe.Input{
		{Filename: " scan-001.pdf ", Payload: in.Payload, Metadata: map[string]string{"hospital": "st mary ", "employee_id": "e-9"}},
		{Token: "   ", Filename: "SCAN-001.pdf", Payload: in.Payload, Metadata: map[string]string{"employee_id": "e-9", "hospital": "ST MARY"}},
	}
	for i, s := range same {
		if got := dedupe.Key(s); got != key {
			t.Errorf("variant %d: key differs", i)
		}
	}

	different := []dedupe.Input{
		{Filename: in.Filename, Payload: []byte("%PDF-1.7 other"), Metadata: in.Metadata},
		{Filename: "scan-002.pdf", Payload: in.Payload, Metadata: in.Metadata},
		{Filename: in.Filename, Payload: in.Payload, Metadata: map[string]string{"hospital": "General", "employee_id": "e-9"}},
		{Filename: in.Filename, Payload: in.Payload, Metadata: map[string]string{"hospital": "St Mary", "employee_id": "e-10"}},
		{Filename: in.Filename, Payload: in.Payload, Metadata: map[string]string{"hospital": "St Mary"}},
	}
	for i, d := range different {
		if got := dedupe.Key(d); got == key {
			t.Errorf("variant %d: expected a different key", i)
		}
	}
}

func TestKey_ArtifactRefWithoutPayload(t *testing.T) {
	t.Parallel()

	meta := map[string]string{"hospital": "St Mary"}
	a := dedupe.Key(dedupe.Input{ArtifactRef: "/spool/a.pdf", Metadata: meta})
	b := dedupe.Key(dedupe.Input{ArtifactRef: "/spool/b.pdf", Metadata: meta})
	if a == b {
		t.Fatal("distinct artifact references share a key")
	}
	if again := dedupe.Key(dedupe.Input{ArtifactRef: " /spool/a.pdf ", Metadata: meta}); again != a {
		t.Errorf("same reference with surrounding space: key differs")
	}

	withPayload := dedupe.Key(dedupe.Input{ArtifactRef: "/spool/a.pdf", Payload: []byte("%PDF"), Metadata: meta})
	otherRef := dedupe.Key(dedupe.Input{ArtifactRef: "/spool/b.pdf", Payload: []byte("%PDF"), Metadata: meta})
	if withPayload != otherRef {
		t.Errorf("payload present: the reference should not affect the key")
	}
}
