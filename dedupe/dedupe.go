// Package dedupe derives the admission key that makes job submission
// idempotent. Two submissions with the same key resolve to the same job
// record for as long as that record is live.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Metadata keys that take part in the content fingerprint ahead of the
// remaining metadata.
const (
	MetaHospital = "hospital"
	MetaFilename = "filename"
)

// Input is what a key is derived from.
type Input struct {
	// Token is a caller-supplied idempotency token. When non-blank it is
	// the key, and nothing else is hashed.
	Token string
	// Filename is the uploaded file name.
	Filename string
	// Payload is the raw document bytes.
	Payload []byte
	// ArtifactRef locates a document stored elsewhere. It stands in for
	// the bytes when Payload is empty.
	ArtifactRef string
	// Metadata is the caller metadata. The hospital entry is hashed first;
	// the rest follows as sorted key=value lines.
	Metadata map[string]string
}

// Key returns the dedupe key for in. Explicit tokens are trimmed and,
// when they parse as a UUID, canonicalized to lowercase hyphenated form.
// Otherwise the key is the hex SHA-256 of
// lower(hospital) "::" lower(filename) "::" payload, followed by the
// remaining metadata. A submission without a payload hashes its trimmed
// artifact reference in place of the bytes, so two references never share
// a key by metadata alone.
func Key(in Input) string {
	if tok := strings.TrimSpace(in.Token); tok != "" {
		if u, err := uuid.Parse(tok); err == nil {
			return u.String()
		}
		return tok
	}

	h := sha256.New()
	h.Write([]byte(normalize(in.Metadata[MetaHospital])))
	h.Write([]byte("::"))
	h.Write([]byte(normalize(in.Filename)))
	h.Write([]byte("::"))
	if len(in.Payload) > 0 {
		h.Write(in.Payload)
	} else {
		h.Write([]byte("ref:" + strings.TrimSpace(in.ArtifactRef)))
	}

	keys := make([]string, 0, len(in.Metadata))
	for k := range in.Metadata {
		if k == MetaHospital || k == MetaFilename {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte("\n" + k + "=" + in.Metadata[k]))
	}

	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
