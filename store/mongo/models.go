package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
	"github.com/xraph/docket/lease"
)

// ── Job model ─────────────────────────────────────────────────────

// jobModel is the stored document. Status and verification status are
// kept as raw strings so legacy spellings decode; JSON payloads are kept
// as strings so they round-trip byte for byte.
type jobModel struct {
	grove.BaseModel `grove:"table:docket_jobs" bson:"-"`

	ID            string            `grove:"id,pk" bson:"_id"`
	Status        string            `grove:"status" bson:"status"`
	QueuePosition *int              `grove:"queue_position" bson:"queue_position,omitempty"`
	DedupeKey     string            `grove:"dedupe_key" bson:"dedupe_key,omitempty"`
	ArtifactRef   string            `grove:"artifact_ref" bson:"artifact_ref,omitempty"`
	Metadata      map[string]string `grove:"metadata" bson:"metadata,omitempty"`

	CreatedAt           time.Time  `grove:"created_at" bson:"created_at"`
	QueuedAt            time.Time  `grove:"queued_at" bson:"queued_at"`
	ProcessingStartedAt *time.Time `grove:"processing_started_at" bson:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `grove:"completed_at" bson:"completed_at,omitempty"`
	UpdatedAt           time.Time  `grove:"updated_at" bson:"updated_at"`

	RetryCount   int    `grove:"retry_count" bson:"retry_count"`
	ErrorMessage string `grove:"error_message" bson:"error_message,omitempty"`
	OwnerID      string `grove:"owner_id" bson:"owner_id,omitempty"`
	Output       string `grove:"output" bson:"output,omitempty"`

	IsDeleted bool       `grove:"is_deleted" bson:"is_deleted"`
	DeletedAt *time.Time `grove:"deleted_at" bson:"deleted_at,omitempty"`
	DeletedBy string     `grove:"deleted_by" bson:"deleted_by,omitempty"`

	VerificationStatus      string     `grove:"verification_status" bson:"verification_status"`
	VerificationStartedAt   *time.Time `grove:"verification_started_at" bson:"verification_started_at,omitempty"`
	VerificationCompletedAt *time.Time `grove:"verification_completed_at" bson:"verification_completed_at,omitempty"`
	VerificationError       string     `grove:"verification_error" bson:"verification_error,omitempty"`
	VerificationResult      string     `grove:"verification_result" bson:"verification_result,omitempty"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:                      j.ID.String(),
		Status:                  string(j.Status),
		QueuePosition:           j.QueuePosition,
		DedupeKey:               j.DedupeKey,
		ArtifactRef:             j.ArtifactRef,
		Metadata:                j.Metadata,
		CreatedAt:               j.CreatedAt,
		QueuedAt:                j.QueuedAt,
		ProcessingStartedAt:     j.ProcessingStartedAt,
		CompletedAt:             j.CompletedAt,
		UpdatedAt:               j.UpdatedAt,
		RetryCount:              j.RetryCount,
		ErrorMessage:            j.ErrorMessage,
		OwnerID:                 j.OwnerID,
		Output:                  string(j.Output),
		IsDeleted:               j.IsDeleted,
		DeletedAt:               j.DeletedAt,
		DeletedBy:               j.DeletedBy,
		VerificationStatus:      string(j.VerificationStatus),
		VerificationStartedAt:   j.VerificationStartedAt,
		VerificationCompletedAt: j.VerificationCompletedAt,
		VerificationError:       j.VerificationError,
		VerificationResult:      string(j.VerificationResult),
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobRef(m.ID)
	if err != nil {
		return nil, fmt.Errorf("docket/mongo: parse job id %q: %w", m.ID, err)
	}
	status, err := job.ParseStatus(m.Status)
	if err != nil {
		return nil, fmt.Errorf("docket/mongo: job %s: %w", m.ID, err)
	}
	verification, err := job.ParseVerificationStatus(m.VerificationStatus)
	if err != nil {
		return nil, fmt.Errorf("docket/mongo: job %s: %w", m.ID, err)
	}

	return &job.Job{
		ID:                      parsedID,
		Status:                  status,
		QueuePosition:           m.QueuePosition,
		DedupeKey:               m.DedupeKey,
		ArtifactRef:             m.ArtifactRef,
		Metadata:                m.Metadata,
		CreatedAt:               m.CreatedAt.UTC(),
		QueuedAt:                m.QueuedAt.UTC(),
		ProcessingStartedAt:     utc(m.ProcessingStartedAt),
		CompletedAt:             utc(m.CompletedAt),
		UpdatedAt:               m.UpdatedAt.UTC(),
		RetryCount:              m.RetryCount,
		ErrorMessage:            m.ErrorMessage,
		OwnerID:                 m.OwnerID,
		Output:                  rawJSON(m.Output),
		IsDeleted:               m.IsDeleted,
		DeletedAt:               utc(m.DeletedAt),
		DeletedBy:               m.DeletedBy,
		VerificationStatus:      verification,
		VerificationStartedAt:   utc(m.VerificationStartedAt),
		VerificationCompletedAt: utc(m.VerificationCompletedAt),
		VerificationError:       m.VerificationError,
		VerificationResult:      rawJSON(m.VerificationResult),
	}, nil
}

// ── Lease model ───────────────────────────────────────────────────

type leaseModel struct {
	Name      string    `bson:"_id"`
	OwnerID   string    `bson:"owner_id"`
	ExpiresAt time.Time `bson:"expires_at"`
}

func fromLeaseModel(m *leaseModel) *lease.Lease {
	return &lease.Lease{
		Name:      m.Name,
		OwnerID:   m.OwnerID,
		ExpiresAt: m.ExpiresAt.UTC(),
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
