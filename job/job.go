package job

import (
	"encoding/json"
	"time"

	"github.com/xraph/docket/id"
)

// Job is one submitted document tracked through the lifecycle state
// machine. It is the unit of work claimed by the single ingestion worker.
type Job struct {
	ID            id.JobID          `json:"job_id"`
	Status        Status            `json:"status"`
	QueuePosition *int              `json:"queue_position,omitempty"`
	DedupeKey     string            `json:"dedupe_key,omitempty"`
	ArtifactRef   string            `json:"artifact_ref,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	CreatedAt           time.Time  `json:"created_at"`
	QueuedAt            time.Time  `json:"queued_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`

	RetryCount   int             `json:"retry_count"`
	ErrorMessage string          `json:"error_message,omitempty"`
	OwnerID      string          `json:"owner_id,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`

	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`

	VerificationStatus      VerificationStatus `json:"verification_status"`
	VerificationStartedAt   *time.Time         `json:"verification_started_at,omitempty"`
	VerificationCompletedAt *time.Time         `json:"verification_completed_at,omitempty"`
	VerificationError       string             `json:"verification_error,omitempty"`
	VerificationResult      json.RawMessage    `json:"verification_result,omitempty"`
}

// Clone returns a deep copy of j. Stores hand out clones so callers can
// mutate results without racing with the stored record.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.QueuePosition = cloneInt(j.QueuePosition)
	cp.ProcessingStartedAt = cloneTime(j.ProcessingStartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.DeletedAt = cloneTime(j.DeletedAt)
	cp.VerificationStartedAt = cloneTime(j.VerificationStartedAt)
	cp.VerificationCompletedAt = cloneTime(j.VerificationCompletedAt)
	if j.Metadata != nil {
		cp.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	if j.Output != nil {
		cp.Output = append(json.RawMessage(nil), j.Output...)
	}
	if j.VerificationResult != nil {
		cp.VerificationResult = append(json.RawMessage(nil), j.VerificationResult...)
	}
	return &cp
}

// Claimable reports whether j may be promoted to PROCESSING by a claim:
// pending, not soft-deleted, and carrying an artifact reference.
func (j *Job) Claimable() bool {
	return j.Status == StatusPending && !j.IsDeleted && j.ArtifactRef != ""
}

// Ranked reports whether j belongs to the FIFO ranking, i.e. whether it
// must carry a queue position.
func (j *Job) Ranked() bool {
	return j.Status == StatusPending && !j.IsDeleted
}

// ProcessingDuration returns how long the job spent in PROCESSING, or
// zero when it has not finished.
func (j *Job) ProcessingDuration() time.Duration {
	if j.ProcessingStartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.ProcessingStartedAt)
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
