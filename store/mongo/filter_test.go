package mongo

import (
	"errors"
	"slices"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/docket"
	"github.com/xraph/docket/job"
)

var t0 = time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)

func TestConditionFilter(t *testing.T) {
	t.Parallel()

	start := t0.Add(-time.Hour)
	tests := []struct {
		name  string
		cond  job.Condition
		check func(t *testing.T, f bson.M)
	}{
		{
			name: "empty condition keeps only the id",
			cond: job.Condition{},
			check: func(t *testing.T, f bson.M) {
				if len(f) != 1 || f["_id"] != "job_x" {
					t.Fatalf("filter = %v", f)
				}
			},
		},
		{
			name: "statuses match legacy spellings",
			cond: job.Condition{Statuses: []job.Status{job.StatusPending}},
			check: func(t *testing.T, f bson.M) {
				in := f["status"].(bson.M)["$in"].([]string)
				for _, want := range []string{"PENDING", "pending", "uploaded"} {
					if !slices.Contains(in, want) {
						t.Errorf("status $in %v lacks %q", in, want)
					}
				}
				if slices.Contains(in, "PROCESSING") {
					t.Errorf("status $in %v includes PROCESSING", in)
				}
			},
		},
		{
			name: "live treats a missing flag as not deleted",
			cond: job.Condition{Deleted: job.Ptr(false)},
			check: func(t *testing.T, f bson.M) {
				ne, ok := f["is_deleted"].(bson.M)
				if !ok || ne["$ne"] != true {
					t.Fatalf("is_deleted = %v", f["is_deleted"])
				}
			},
		},
		{
			name: "deleted matches the flag exactly",
			cond: job.Condition{Deleted: job.Ptr(true)},
			check: func(t *testing.T, f bson.M) {
				if f["is_deleted"] != true {
					t.Fatalf("is_deleted = %v", f["is_deleted"])
				}
			},
		},
		{
			name: "deleted or stamped",
			cond: job.Condition{DeletedOrStamped: true, Deleted: job.Ptr(false)},
			check: func(t *testing.T, f bson.M) {
				if _, ok := f["is_deleted"]; ok {
					t.Fatalf("is_deleted should be overridden, filter = %v", f)
				}
				or, ok := f["$or"].(bson.A)
				if !ok || len(or) != 2 {
					t.Fatalf("$or = %v", f["$or"])
				}
			},
		},
		{
			name: "not_started matches a missing verification field",
			cond: job.Condition{VerificationIn: []job.VerificationStatus{job.VerificationNotStarted}},
			check: func(t *testing.T, f bson.M) {
				in := f["verification_status"].(bson.M)["$in"].(bson.A)
				if !slices.Contains(in, any(nil)) || !slices.Contains(in, any("not_started")) {
					t.Fatalf("verification $in = %v", in)
				}
			},
		},
		{
			name: "pinned start",
			cond: job.Condition{PinProcessingStart: true, ProcessingStartedAt: &start},
			check: func(t *testing.T, f bson.M) {
				if got, ok := f["processing_started_at"].(time.Time); !ok || !got.Equal(start) {
					t.Fatalf("processing_started_at = %v", f["processing_started_at"])
				}
			},
		},
		{
			name: "pinned nil start",
			cond: job.Condition{PinProcessingStart: true},
			check: func(t *testing.T, f bson.M) {
				v, ok := f["processing_started_at"]
				if !ok || v != nil {
					t.Fatalf("processing_started_at = %v (present %v)", v, ok)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, conditionFilter(bson.M{"_id": "job_x"}, tt.cond))
		})
	}
}

func TestClaimableFilter(t *testing.T) {
	t.Parallel()

	f := claimableFilter()
	nin := f["artifact_ref"].(bson.M)["$nin"].(bson.A)
	if !slices.Contains(nin, any(nil)) || !slices.Contains(nin, any("")) {
		t.Fatalf("artifact_ref $nin = %v", nin)
	}
	if _, ok := f["status"]; !ok {
		t.Fatal("claimable filter has no status constraint")
	}
}

func TestListFilter(t *testing.T) {
	t.Parallel()

	f := listFilter(nil, job.Ptr(false), true)
	if _, ok := f["is_deleted"]; ok {
		t.Fatalf("DeletedOrStamped must override Deleted: %v", f)
	}
	if or, ok := f["$or"].(bson.A); !ok || len(or) != 2 {
		t.Fatalf("$or = %v", f["$or"])
	}

	if f := listFilter(nil, nil, false); len(f) != 0 {
		t.Fatalf("empty options filter = %v", f)
	}
}

// ──────────────────────────────────────────────────
// Patch translation
// ──────────────────────────────────────────────────

func TestPatchUpdate_Claim(t *testing.T) {
	t.Parallel()

	u := patchUpdate(job.ClaimPatch("wkr_1", t0), time.Time{})
	set := u["$set"].(bson.M)
	unset, _ := u["$unset"].(bson.M)

	if set["status"] != "PROCESSING" || set["owner_id"] != "wkr_1" {
		t.Fatalf("$set = %v", set)
	}
	if got := set["processing_started_at"].(time.Time); !got.Equal(t0) {
		t.Fatalf("processing_started_at = %v", got)
	}
	if !set["updated_at"].(time.Time).Equal(t0) {
		t.Fatalf("updated_at = %v", set["updated_at"])
	}
	// Cleared and then set fields must not appear in both operators.
	for k := range set {
		if _, dup := unset[k]; dup {
			t.Errorf("%q in both $set and $unset", k)
		}
	}
	for _, k := range []string{"completed_at", "queue_position", "error_message"} {
		if _, ok := unset[k]; !ok {
			t.Errorf("$unset lacks %q: %v", k, unset)
		}
	}
}

func TestPatchUpdate_Fields(t *testing.T) {
	t.Parallel()

	fallback := t0.Add(time.Minute)
	tests := []struct {
		name  string
		patch job.Patch
		check func(t *testing.T, u bson.M)
	}{
		{
			name:  "zero Now falls back to the store clock",
			patch: job.Patch{Status: job.Ptr(job.StatusFailed)},
			check: func(t *testing.T, u bson.M) {
				if !u["$set"].(bson.M)["updated_at"].(time.Time).Equal(fallback) {
					t.Fatalf("updated_at = %v", u["$set"])
				}
			},
		},
		{
			name:  "metadata keys are set by path",
			patch: job.Patch{Now: t0, Metadata: map[string]string{job.MetaDetailsReady: "true"}},
			check: func(t *testing.T, u bson.M) {
				set := u["$set"].(bson.M)
				if set["metadata.details_ready"] != "true" {
					t.Fatalf("$set = %v", set)
				}
				if _, whole := set["metadata"]; whole {
					t.Fatalf("$set replaces the whole metadata map: %v", set)
				}
			},
		},
		{
			name:  "retry count increments",
			patch: job.Patch{Now: t0, IncRetryCount: true},
			check: func(t *testing.T, u bson.M) {
				if u["$inc"].(bson.M)["retry_count"] != 1 {
					t.Fatalf("$inc = %v", u["$inc"])
				}
			},
		},
		{
			name:  "empty error message unsets the field",
			patch: job.Patch{Now: t0, ErrorMessage: job.Ptr("")},
			check: func(t *testing.T, u bson.M) {
				if _, ok := u["$unset"].(bson.M)["error_message"]; !ok {
					t.Fatalf("update = %v", u)
				}
			},
		},
		{
			name: "restore clears deletion stamps",
			patch: job.Patch{
				Now:          t0,
				IsDeleted:    job.Ptr(false),
				ClearDeleted: true,
			},
			check: func(t *testing.T, u bson.M) {
				unset := u["$unset"].(bson.M)
				if _, ok := unset["deleted_at"]; !ok {
					t.Fatalf("$unset = %v", unset)
				}
				if u["$set"].(bson.M)["is_deleted"] != false {
					t.Fatalf("$set = %v", u["$set"])
				}
			},
		},
		{
			name:  "output is stored as text",
			patch: job.Patch{Now: t0, Output: []byte(`{"pages":3}`)},
			check: func(t *testing.T, u bson.M) {
				if u["$set"].(bson.M)["output"] != `{"pages":3}` {
					t.Fatalf("$set = %v", u["$set"])
				}
			},
		},
		{
			name:  "no clears means no $unset",
			patch: job.Patch{Now: t0, Status: job.Ptr(job.StatusCompleted)},
			check: func(t *testing.T, u bson.M) {
				if _, ok := u["$unset"]; ok {
					t.Fatalf("update = %v", u)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, patchUpdate(tt.patch, fallback))
		})
	}
}

func TestDuplicateError(t *testing.T) {
	t.Parallel()

	dedupe := errString(`E11000 duplicate key error collection: docket.docket_jobs index: dedupe_key_live dup key: { dedupe_key: "k" }`)
	primary := errString(`E11000 duplicate key error collection: docket.docket_jobs index: _id_ dup key: { _id: "job_x" }`)

	if !isDuplicateKey(dedupe) || !isDuplicateKey(primary) {
		t.Fatal("isDuplicateKey missed an E11000 error")
	}
	if got := duplicateError(dedupe); !errors.Is(got, docket.ErrDedupeKeyInUse) {
		t.Errorf("duplicateError(dedupe) = %v", got)
	}
	if got := duplicateError(primary); !errors.Is(got, docket.ErrJobAlreadyExists) {
		t.Errorf("duplicateError(_id) = %v", got)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
