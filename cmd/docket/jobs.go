package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xraph/docket/engine"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

// receiptView is the printed form of an engine.Receipt.
type receiptView struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position,omitempty"`
	Duplicate     bool   `json:"duplicate"`
}

func newSubmitCommand(flags *globalFlags) *cobra.Command {
	var (
		file     string
		ref      string
		hospital string
		employee string
		token    string
		meta     map[string]string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a document for extraction",
		Long: `Submit a document by uploading a local file (--file, needs artifacts.dir)
or by naming an artifact that is already stored (--ref). Resubmitting the
same content returns the existing job instead of creating another.`,
		Example: `  docket submit --file scan.pdf --hospital st-mary --employee E042
  docket submit --ref s3://bucket/scan.pdf --token upload-7f3a`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" && ref == "" {
				return fmt.Errorf("one of --file or --ref is required")
			}
			a, err := loadApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			sub := engine.Submission{
				ArtifactRef:      ref,
				IdempotencyToken: token,
				Metadata:         make(map[string]string, len(meta)+2),
			}
			for k, v := range meta {
				sub.Metadata[k] = v
			}
			if hospital != "" {
				sub.Metadata["hospital"] = hospital
			}
			if employee != "" {
				sub.Metadata["employee_id"] = employee
			}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				sub.Payload = data
				sub.Filename = filepath.Base(file)
			}

			return a.withEngine(cmd.Context(), func(eng *engine.Engine) error {
				r, err := eng.Submit(cmd.Context(), sub)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), receiptView{
					JobID:         r.JobID.String(),
					Status:        string(r.Status),
					QueuePosition: r.QueuePosition,
					Duplicate:     r.Duplicate,
				})
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Local document to upload")
	cmd.Flags().StringVar(&ref, "ref", "", "Reference of an already stored document")
	cmd.Flags().StringVar(&hospital, "hospital", "", "Hospital the document belongs to")
	cmd.Flags().StringVar(&employee, "employee", "", "Employee ID the document belongs to")
	cmd.Flags().StringVar(&token, "token", "", "Idempotency token used as the dedupe key")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "Extra metadata as key=value pairs")
	return cmd
}

func newStatusCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: jobCommand(flags, func(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, jobID id.JobID) error {
			view, err := eng.GetStatus(ctx, jobID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		}),
	}
}

func newListCommand(flags *globalFlags) *cobra.Command {
	var (
		statuses []string
		deleted  string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in queue order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := job.ListOpts{Limit: limit, Offset: offset}
			for _, raw := range statuses {
				st, err := job.ParseStatus(raw)
				if err != nil {
					return err
				}
				opts.Statuses = append(opts.Statuses, st)
			}
			switch deleted {
			case "", "any":
			case "true", "false":
				v := deleted == "true"
				opts.Deleted = &v
			default:
				return fmt.Errorf("--deleted must be true, false or any")
			}

			a, err := loadApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), func(eng *engine.Engine) error {
				jobs, err := eng.List(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if jobs == nil {
					jobs = []*job.Job{}
				}
				return printJSON(cmd.OutOrStdout(), jobs)
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only jobs in these statuses")
	cmd.Flags().StringVar(&deleted, "deleted", "false", "Soft-delete filter: true|false|any")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of jobs to skip")
	return cmd
}

func newDeleteCommand(flags *globalFlags) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Soft-delete a job",
		Long: `Soft-delete a job. It disappears from the queue and from status queries,
and is purged once the retention window has passed unless restored.`,
		Args: cobra.ExactArgs(1),
		RunE: jobCommand(flags, func(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, jobID id.JobID) error {
			j, err := eng.SoftDelete(ctx, jobID, actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), j)
		}),
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "Who is deleting the job")
	return cmd
}

func newRestoreCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <job-id>",
		Short: "Restore a soft-deleted job",
		Args:  cobra.ExactArgs(1),
		RunE: jobCommand(flags, func(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, jobID id.JobID) error {
			j, err := eng.Restore(ctx, jobID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), j)
		}),
	}
}

func newPurgeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <job-id>",
		Short: "Permanently delete a soft-deleted job and its artifact",
		Args:  cobra.ExactArgs(1),
		RunE: jobCommand(flags, func(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, jobID id.JobID) error {
			if err := eng.PermanentDelete(ctx, jobID); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", jobID)
			return err
		}),
	}
}

// jobCommand adapts fn into a RunE that parses the job ID argument and
// runs fn against a short-lived engine.
func jobCommand(
	flags *globalFlags,
	fn func(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, jobID id.JobID) error,
) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		jobID, err := id.ParseJobRef(args[0])
		if err != nil {
			return err
		}
		a, err := loadApp(flags, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		return a.withEngine(cmd.Context(), func(eng *engine.Engine) error {
			return fn(cmd.Context(), cmd, eng, jobID)
		})
	}
}
