package engine

import (
	"context"
	"fmt"

	"github.com/xraph/docket"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// StatusView is what a poller sees: the job record plus the derived
// progress fields.
type StatusView struct {
	*job.Job

	Stage job.Stage `json:"stage"`
	// ReportedStatus reads PROCESSING while a completed job is still
	// verifying or formatting, so clients keep polling. Job.Status stays
	// truthful.
	ReportedStatus job.Status `json:"reported_status"`
	DetailsReady   bool       `json:"details_ready"`
}

// GetStatus returns the status view of a job. Soft-deleted jobs report
// docket.ErrJobNotFound.
func (eng *Engine) GetStatus(ctx context.Context, jobID id.JobID) (*StatusView, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("docket: status %s: %w", jobID, err)
	}
	if j.IsDeleted {
		return nil, fmt.Errorf("docket: status %s: %w", jobID, docket.ErrJobNotFound)
	}
	return &StatusView{
		Job:            j,
		Stage:          j.Stage(),
		ReportedStatus: j.ReportedStatus(),
		DetailsReady:   j.DetailsReady(),
	}, nil
}

// Job returns the raw job record, soft-deleted or not.
func (eng *Engine) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// List returns jobs matching opts in FIFO order.
func (eng *Engine) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := eng.store.ListJobs(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("docket: list: %w", err)
	}
	return jobs, nil
}
