package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/docket/job"
)

// statusIn matches any stored spelling of the given statuses.
func statusIn(statuses ...job.Status) bson.M {
	raw := make([]string, 0, len(statuses)*8)
	for _, s := range statuses {
		raw = append(raw, job.StatusAliases(s)...)
	}
	return bson.M{"$in": raw}
}

// verificationIn matches the given verification statuses. Records written
// before verification existed carry no field at all and count as
// not_started.
func verificationIn(statuses ...job.VerificationStatus) bson.M {
	raw := make(bson.A, 0, len(statuses)+3)
	for _, s := range statuses {
		raw = append(raw, string(s))
		if s == job.VerificationNotStarted {
			raw = append(raw, nil, "", "none")
		}
	}
	return bson.M{"$in": raw}
}

// deletedIs matches the soft-delete flag. Legacy records without the
// field are live.
func deletedIs(deleted bool) any {
	if deleted {
		return true
	}
	return bson.M{"$ne": true}
}

// conditionFilter translates cond into a filter on top of base.
func conditionFilter(base bson.M, cond job.Condition) bson.M {
	f := bson.M{}
	for k, v := range base {
		f[k] = v
	}
	if len(cond.Statuses) > 0 {
		f["status"] = statusIn(cond.Statuses...)
	}
	switch {
	case cond.DeletedOrStamped:
		f["$or"] = deletedOrStamped()
	case cond.Deleted != nil:
		f["is_deleted"] = deletedIs(*cond.Deleted)
	}
	if len(cond.VerificationIn) > 0 {
		f["verification_status"] = verificationIn(cond.VerificationIn...)
	}
	if cond.PinProcessingStart {
		if cond.ProcessingStartedAt == nil {
			f["processing_started_at"] = nil
		} else {
			f["processing_started_at"] = *cond.ProcessingStartedAt
		}
	}
	return f
}

// claimableFilter matches jobs a claim may promote.
func claimableFilter() bson.M {
	f := conditionFilter(bson.M{}, job.ClaimCondition())
	f["artifact_ref"] = bson.M{"$nin": bson.A{nil, ""}}
	return f
}

// listFilter translates list and count options.
func listFilter(statuses []job.Status, deleted *bool, orStamped bool) bson.M {
	f := bson.M{}
	if len(statuses) > 0 {
		f["status"] = statusIn(statuses...)
	}
	switch {
	case orStamped:
		f["$or"] = deletedOrStamped()
	case deleted != nil:
		f["is_deleted"] = deletedIs(*deleted)
	}
	return f
}

// deletedOrStamped matches records that are soft-deleted or carry a
// deleted_at stamp.
func deletedOrStamped() bson.A {
	return bson.A{
		bson.M{"is_deleted": true},
		bson.M{"deleted_at": bson.M{"$ne": nil}},
	}
}

// fifoSort is the claim and ranking order.
var fifoSort = bson.D{
	{Key: "created_at", Value: 1},
	{Key: "queued_at", Value: 1},
	{Key: "_id", Value: 1},
}

// patchUpdate translates p into an update document equivalent to
// job.Patch.Apply. A field both cleared and set is only set, since MongoDB
// rejects $set and $unset on the same path.
func patchUpdate(p job.Patch, now time.Time) bson.M {
	if !p.Now.IsZero() {
		now = p.Now
	}
	set := bson.M{"updated_at": now}
	unset := bson.M{}

	drop := func(fields ...string) {
		for _, f := range fields {
			unset[f] = ""
		}
	}
	if p.ClearProcessing {
		drop("processing_started_at", "completed_at", "owner_id")
	}
	if p.ResetVerification {
		drop("verification_completed_at", "verification_error", "verification_result")
	}
	if p.ClearDeleted {
		drop("deleted_at", "deleted_by")
	}
	if p.ClearQueuePosition {
		drop("queue_position")
	}

	if p.Status != nil {
		set["status"] = string(*p.Status)
	}
	if p.ArtifactRef != nil {
		set["artifact_ref"] = *p.ArtifactRef
	}
	if p.ErrorMessage != nil {
		setOrUnset(set, unset, "error_message", *p.ErrorMessage)
	}
	if p.OwnerID != nil {
		setOrUnset(set, unset, "owner_id", *p.OwnerID)
	}
	for k, v := range p.Metadata {
		set["metadata."+k] = v
	}
	if p.ProcessingStartedAt != nil {
		set["processing_started_at"] = *p.ProcessingStartedAt
	}
	if p.CompletedAt != nil {
		set["completed_at"] = *p.CompletedAt
	}
	if p.Output != nil {
		set["output"] = string(p.Output)
	}
	if p.IsDeleted != nil {
		set["is_deleted"] = *p.IsDeleted
	}
	if p.DeletedAt != nil {
		set["deleted_at"] = *p.DeletedAt
	}
	if p.DeletedBy != nil {
		setOrUnset(set, unset, "deleted_by", *p.DeletedBy)
	}
	if p.VerificationStatus != nil {
		set["verification_status"] = string(*p.VerificationStatus)
	}
	if p.VerificationStartedAt != nil {
		set["verification_started_at"] = *p.VerificationStartedAt
	}
	if p.VerificationCompletedAt != nil {
		set["verification_completed_at"] = *p.VerificationCompletedAt
	}
	if p.VerificationError != nil {
		setOrUnset(set, unset, "verification_error", *p.VerificationError)
	}
	if p.VerificationResult != nil {
		set["verification_result"] = string(p.VerificationResult)
	}

	for k := range set {
		delete(unset, k)
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if p.IncRetryCount {
		update["$inc"] = bson.M{"retry_count": 1}
	}
	return update
}

// setOrUnset mirrors the omitempty model tags: an empty string is stored
// as an absent field.
func setOrUnset(set, unset bson.M, field, v string) {
	if v == "" {
		unset[field] = ""
		delete(set, field)
		return
	}
	set[field] = v
}
