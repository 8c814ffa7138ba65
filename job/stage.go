package job

import "strings"

// Stage is the fine-grained progress label reported to pollers. It folds
// the primary status, the verification sub-state and the details flag
// into one value.
type Stage string

const (
	StageQueued       Stage = "QUEUED"
	StageExtracting   Stage = "EXTRACTING"
	StageVerifying    Stage = "VERIFYING"
	StageFormatResult Stage = "FORMAT_RESULT"
	StageDone         Stage = "DONE"
	StageFailed       Stage = "FAILED"
)

// MetaDetailsReady is the metadata key a result formatter sets once the
// human-readable details of a completed job are available.
const MetaDetailsReady = "details_ready"

// DetailsReady reports whether the details_ready metadata flag is set.
// The flag is stored as a string, so "0", "false", "no" and "" all read
// as false.
func (j *Job) DetailsReady() bool {
	v, ok := j.Metadata[MetaDetailsReady]
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}

// Stage derives the progress label of j.
func (j *Job) Stage() Stage {
	switch j.Status {
	case StatusPending:
		return StageQueued
	case StatusProcessing:
		return StageExtracting
	case StatusFailed:
		return StageFailed
	}
	switch j.VerificationStatus {
	case VerificationProcessing:
		return StageVerifying
	case VerificationCompleted:
		if _, flagged := j.Metadata[MetaDetailsReady]; flagged && !j.DetailsReady() {
			return StageFormatResult
		}
	}
	return StageDone
}

// ReportedStatus is the status shown to pollers: a completed job that is
// still verifying or formatting its result reads as PROCESSING so a
// client keeps polling.
func (j *Job) ReportedStatus() Status {
	switch j.Stage() {
	case StageVerifying, StageFormatResult:
		return StatusProcessing
	}
	return j.Status
}
