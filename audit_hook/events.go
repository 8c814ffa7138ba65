package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobSubmitted          = "job.submitted"
	ActionJobClaimed            = "job.claimed"
	ActionJobCompleted          = "job.completed"
	ActionJobFailed             = "job.failed"
	ActionJobRecovered          = "job.recovered"
	ActionJobDemoted            = "job.demoted"
	ActionJobSoftDeleted        = "job.soft_deleted"
	ActionJobRestored           = "job.restored"
	ActionJobPurged             = "job.purged"
	ActionVerificationCompleted = "verification.completed"
	ActionVerificationFailed    = "verification.failed"
)

// Audit event categories group related actions.
const (
	CategoryJob          = "docket.job"
	CategoryVerification = "docket.verification"
)

// ResourceJob is the Resource field of every audit event.
const ResourceJob = "job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobSubmitted,
		ActionJobClaimed,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRecovered,
		ActionJobDemoted,
		ActionJobSoftDeleted,
		ActionJobRestored,
		ActionJobPurged,
		ActionVerificationCompleted,
		ActionVerificationFailed,
	}
}
