package job

import (
	"encoding/json"
	"time"
)

// Condition is the predicate a record must satisfy for a conditional
// update or delete to apply. Zero-valued fields do not constrain.
type Condition struct {
	// Statuses requires the current status to be one of these.
	Statuses []Status
	// Deleted requires the soft-delete flag to equal *Deleted.
	Deleted *bool
	// DeletedOrStamped requires the record to be soft-deleted or to carry
	// a deleted_at stamp. Legacy records marked deleted only by the stamp
	// match. It overrides Deleted.
	DeletedOrStamped bool
	// VerificationIn requires the verification status to be one of these.
	VerificationIn []VerificationStatus
	// PinProcessingStart requires processing_started_at to equal
	// ProcessingStartedAt exactly (both nil counts as equal). Reconciliation
	// uses it so a recovery never clobbers a job that was re-claimed in
	// between.
	PinProcessingStart  bool
	ProcessingStartedAt *time.Time
}

// Matches reports whether j satisfies c.
func (c Condition) Matches(j *Job) bool {
	if len(c.Statuses) > 0 && !containsStatus(c.Statuses, j.Status) {
		return false
	}
	switch {
	case c.DeletedOrStamped:
		if !j.IsDeleted && j.DeletedAt == nil {
			return false
		}
	case c.Deleted != nil:
		if j.IsDeleted != *c.Deleted {
			return false
		}
	}
	if len(c.VerificationIn) > 0 && !containsVerification(c.VerificationIn, j.VerificationStatus) {
		return false
	}
	if c.PinProcessingStart && !sameInstant(c.ProcessingStartedAt, j.ProcessingStartedAt) {
		return false
	}
	return true
}

// Patch lists the fields a conditional update writes. Nil pointers and
// false flags leave the stored value untouched. Stores always stamp
// updated_at with Now.
type Patch struct {
	Now time.Time

	Status             *Status
	ClearQueuePosition bool
	ArtifactRef        *string
	ErrorMessage       *string
	OwnerID            *string
	// Metadata merges these keys into the stored metadata, overwriting
	// existing values. Other keys are kept.
	Metadata map[string]string

	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	// ClearProcessing unsets processing_started_at, completed_at and
	// owner_id. Applied before the setters above.
	ClearProcessing bool
	IncRetryCount   bool
	Output          json.RawMessage

	IsDeleted *bool
	DeletedAt *time.Time
	DeletedBy *string
	// ClearDeleted unsets deleted_at and deleted_by.
	ClearDeleted bool

	VerificationStatus      *VerificationStatus
	VerificationStartedAt   *time.Time
	VerificationCompletedAt *time.Time
	VerificationError       *string
	VerificationResult      json.RawMessage
	// ResetVerification unsets the verification completion stamp, error
	// and result. Applied before the setters above.
	ResetVerification bool
}

// Apply writes p onto j in place. The memory store uses it directly;
// the database stores translate the same fields into their update
// statements and must stay equivalent to it.
func (p Patch) Apply(j *Job) {
	if p.ClearProcessing {
		j.ProcessingStartedAt = nil
		j.CompletedAt = nil
		j.OwnerID = ""
	}
	if p.ResetVerification {
		j.VerificationCompletedAt = nil
		j.VerificationError = ""
		j.VerificationResult = nil
	}
	if p.ClearDeleted {
		j.DeletedAt = nil
		j.DeletedBy = ""
	}
	if p.ClearQueuePosition {
		j.QueuePosition = nil
	}

	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.ArtifactRef != nil {
		j.ArtifactRef = *p.ArtifactRef
	}
	if p.ErrorMessage != nil {
		j.ErrorMessage = *p.ErrorMessage
	}
	if p.OwnerID != nil {
		j.OwnerID = *p.OwnerID
	}
	if len(p.Metadata) > 0 && j.Metadata == nil {
		j.Metadata = make(map[string]string, len(p.Metadata))
	}
	for k, v := range p.Metadata {
		j.Metadata[k] = v
	}
	if p.ProcessingStartedAt != nil {
		j.ProcessingStartedAt = cloneTime(p.ProcessingStartedAt)
	}
	if p.CompletedAt != nil {
		j.CompletedAt = cloneTime(p.CompletedAt)
	}
	if p.IncRetryCount {
		j.RetryCount++
	}
	if p.Output != nil {
		j.Output = append(json.RawMessage(nil), p.Output...)
	}
	if p.IsDeleted != nil {
		j.IsDeleted = *p.IsDeleted
	}
	if p.DeletedAt != nil {
		j.DeletedAt = cloneTime(p.DeletedAt)
	}
	if p.DeletedBy != nil {
		j.DeletedBy = *p.DeletedBy
	}
	if p.VerificationStatus != nil {
		j.VerificationStatus = *p.VerificationStatus
	}
	if p.VerificationStartedAt != nil {
		j.VerificationStartedAt = cloneTime(p.VerificationStartedAt)
	}
	if p.VerificationCompletedAt != nil {
		j.VerificationCompletedAt = cloneTime(p.VerificationCompletedAt)
	}
	if p.VerificationError != nil {
		j.VerificationError = *p.VerificationError
	}
	if p.VerificationResult != nil {
		j.VerificationResult = append(json.RawMessage(nil), p.VerificationResult...)
	}
	if !p.Now.IsZero() {
		j.UpdatedAt = p.Now
	}
}

// Ptr returns a pointer to v. It keeps Patch and Condition literals short.
func Ptr[T any](v T) *T { return &v }

func containsStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsVerification(set []VerificationStatus, s VerificationStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// ClaimPatch is the write a claim applies: PROCESSING, stamped with the
// claim instant and owner, queue position and previous error cleared.
func ClaimPatch(owner string, now time.Time) Patch {
	return Patch{
		Now:                 now,
		ClearProcessing:     true,
		Status:              Ptr(StatusProcessing),
		ClearQueuePosition:  true,
		ErrorMessage:        Ptr(""),
		ProcessingStartedAt: Ptr(now),
		OwnerID:             Ptr(owner),
	}
}

// ClaimCondition is the predicate a claimable record satisfies, apart
// from the non-empty artifact reference every backend checks itself.
func ClaimCondition() Condition {
	return Condition{Statuses: []Status{StatusPending}, Deleted: Ptr(false)}
}
