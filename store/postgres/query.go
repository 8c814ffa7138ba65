package postgres

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/docket/job"
)

// jobColumns is the select list scanJob expects.
const jobColumns = `id, status, queue_position, dedupe_key, artifact_ref, metadata,
	created_at, queued_at, processing_started_at, completed_at, updated_at,
	retry_count, error_message, owner_id, output,
	is_deleted, deleted_at, deleted_by,
	verification_status, verification_started_at, verification_completed_at,
	verification_error, verification_result`

// fifoOrder is the claim and ranking order.
const fifoOrder = `ORDER BY created_at, queued_at, id`

// query accumulates positional arguments for a dynamically built
// statement.
type query struct {
	args []any
}

// arg appends v and returns its placeholder.
func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// statusAliases returns every stored spelling of the given statuses.
func statusAliases(statuses ...job.Status) []string {
	out := make([]string, 0, len(statuses)*8)
	for _, s := range statuses {
		out = append(out, job.StatusAliases(s)...)
	}
	return out
}

// verificationAliases returns the stored spellings of the given
// verification statuses. An empty value counts as not_started.
func verificationAliases(statuses ...job.VerificationStatus) []string {
	out := make([]string, 0, len(statuses)+2)
	for _, s := range statuses {
		out = append(out, string(s))
		if s == job.VerificationNotStarted {
			out = append(out, "", "none")
		}
	}
	return out
}

// where translates cond into AND-ed predicates.
func (q *query) where(cond job.Condition) []string {
	var preds []string
	if len(cond.Statuses) > 0 {
		preds = append(preds, "status = ANY("+q.arg(statusAliases(cond.Statuses...))+")")
	}
	switch {
	case cond.DeletedOrStamped:
		preds = append(preds, "(is_deleted OR deleted_at IS NOT NULL)")
	case cond.Deleted != nil:
		preds = append(preds, "is_deleted = "+q.arg(*cond.Deleted))
	}
	if len(cond.VerificationIn) > 0 {
		preds = append(preds, "verification_status = ANY("+q.arg(verificationAliases(cond.VerificationIn...))+")")
	}
	if cond.PinProcessingStart {
		if cond.ProcessingStartedAt == nil {
			preds = append(preds, "processing_started_at IS NULL")
		} else {
			preds = append(preds, "processing_started_at = "+q.arg(*cond.ProcessingStartedAt))
		}
	}
	return preds
}

// list translates list and count options into predicates.
func (q *query) list(statuses []job.Status, deleted *bool, deletedOrStamped bool) []string {
	var preds []string
	if len(statuses) > 0 {
		preds = append(preds, "status = ANY("+q.arg(statusAliases(statuses...))+")")
	}
	switch {
	case deletedOrStamped:
		preds = append(preds, "(is_deleted OR deleted_at IS NOT NULL)")
	case deleted != nil:
		preds = append(preds, "is_deleted = "+q.arg(*deleted))
	}
	return preds
}

// whereClause joins predicates into a WHERE clause, or returns "".
func whereClause(preds []string) string {
	if len(preds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(preds, " AND ")
}

// assignments is an ordered column → expression list where a later set
// replaces an earlier clear of the same column.
type assignments struct {
	cols  []string
	exprs map[string]string
}

func (a *assignments) put(col, expr string) {
	if a.exprs == nil {
		a.exprs = make(map[string]string)
	}
	if _, ok := a.exprs[col]; !ok {
		a.cols = append(a.cols, col)
	}
	a.exprs[col] = expr
}

func (a *assignments) String() string {
	parts := make([]string, 0, len(a.cols))
	for _, c := range a.cols {
		parts = append(parts, c+" = "+a.exprs[c])
	}
	return strings.Join(parts, ", ")
}

// set translates p into a SET list equivalent to job.Patch.Apply.
func (q *query) set(p job.Patch, now time.Time) string {
	if !p.Now.IsZero() {
		now = p.Now
	}
	var a assignments

	if p.ClearProcessing {
		a.put("processing_started_at", "NULL")
		a.put("completed_at", "NULL")
		a.put("owner_id", "''")
	}
	if p.ResetVerification {
		a.put("verification_completed_at", "NULL")
		a.put("verification_error", "''")
		a.put("verification_result", "NULL")
	}
	if p.ClearDeleted {
		a.put("deleted_at", "NULL")
		a.put("deleted_by", "''")
	}
	if p.ClearQueuePosition {
		a.put("queue_position", "NULL")
	}

	if p.Status != nil {
		a.put("status", q.arg(string(*p.Status)))
	}
	if p.ArtifactRef != nil {
		a.put("artifact_ref", q.arg(*p.ArtifactRef))
	}
	if p.ErrorMessage != nil {
		a.put("error_message", q.arg(*p.ErrorMessage))
	}
	if p.OwnerID != nil {
		a.put("owner_id", q.arg(*p.OwnerID))
	}
	if len(p.Metadata) > 0 {
		merge, _ := json.Marshal(p.Metadata)
		a.put("metadata", "COALESCE(metadata, '{}'::jsonb) || "+q.arg(string(merge))+"::jsonb")
	}
	if p.ProcessingStartedAt != nil {
		a.put("processing_started_at", q.arg(*p.ProcessingStartedAt))
	}
	if p.CompletedAt != nil {
		a.put("completed_at", q.arg(*p.CompletedAt))
	}
	if p.IncRetryCount {
		a.put("retry_count", "retry_count + 1")
	}
	if p.Output != nil {
		a.put("output", q.arg(string(p.Output)))
	}
	if p.IsDeleted != nil {
		a.put("is_deleted", q.arg(*p.IsDeleted))
	}
	if p.DeletedAt != nil {
		a.put("deleted_at", q.arg(*p.DeletedAt))
	}
	if p.DeletedBy != nil {
		a.put("deleted_by", q.arg(*p.DeletedBy))
	}
	if p.VerificationStatus != nil {
		a.put("verification_status", q.arg(string(*p.VerificationStatus)))
	}
	if p.VerificationStartedAt != nil {
		a.put("verification_started_at", q.arg(*p.VerificationStartedAt))
	}
	if p.VerificationCompletedAt != nil {
		a.put("verification_completed_at", q.arg(*p.VerificationCompletedAt))
	}
	if p.VerificationError != nil {
		a.put("verification_error", q.arg(*p.VerificationError))
	}
	if p.VerificationResult != nil {
		a.put("verification_result", q.arg(string(p.VerificationResult)))
	}
	a.put("updated_at", q.arg(now))

	return a.String()
}
