package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xraph/docket/engine"
	"github.com/xraph/docket/job"
)

func newMigrateCommand(flags *globalFlags) *cobra.Command {
	var legacy bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store schema",
		Long: `Create or update tables, collections and indexes. With --legacy, records
written before the canonical schema are rewritten as well: historical
status spellings, missing soft-delete flags and verification states.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return a.withEngine(ctx, func(eng *engine.Engine) error {
				s := eng.Store()
				if err := s.Migrate(ctx); err != nil {
					return err
				}
				a.logger.Info("schema up to date", slog.String("store", a.cfg.Store.Driver))
				if !legacy {
					return nil
				}

				n, ok := s.(job.LegacyNormalizer)
				if !ok {
					return fmt.Errorf("store %q has no legacy records to normalize", a.cfg.Store.Driver)
				}
				count, err := n.NormalizeLegacy(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "normalized %d legacy fields\n", count)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&legacy, "legacy", false, "Also normalize legacy records")
	return cmd
}

func newReconcileCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass",
		Long: `Recover stale PROCESSING jobs, demote extra PROCESSING jobs so at most one
remains, and recompute queue positions. The pass is skipped when another
process holds the control lease.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), func(eng *engine.Engine) error {
				report, err := eng.Reconciler().Run(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"recovered": report.Recovered,
					"demoted":   report.Demoted,
					"ranked":    report.Ranked,
					"errors":    report.Errors,
					"skipped":   report.Skipped,
				})
			})
		},
	}
}

func newSweepCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge soft-deleted jobs past the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), func(eng *engine.Engine) error {
				stats, err := eng.Sweeper().Sweep(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{
					"scanned":  stats.Scanned,
					"eligible": stats.Eligible,
					"deleted":  stats.Deleted,
					"failed":   stats.Failed,
				})
			})
		},
	}
}
