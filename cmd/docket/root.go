package main

import (
	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags every subcommand shares.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// newRootCommand constructs the root command and registers every
// subcommand.
func newRootCommand() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "docket",
		Short: "Document-ingestion job coordinator",
		Long: `docket admits submitted documents as jobs, hands them one at a time to
the extraction worker, and tracks them through verification, soft delete
and retention.

Job Lifecycle:
  PENDING → [claim] → PROCESSING → COMPLETED → verification
                          ↓
                        FAILED → (resubmit) → PENDING

Configuration is read from --config (YAML) and DOCKET_* environment
variables. The memory store only lives as long as one process, so the
one-shot commands need a mongo or postgres store.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: text|json (overrides config)")

	root.AddCommand(
		newServeCommand(&flags),
		newMigrateCommand(&flags),
		newReconcileCommand(&flags),
		newSweepCommand(&flags),
		newSubmitCommand(&flags),
		newStatusCommand(&flags),
		newListCommand(&flags),
		newDeleteCommand(&flags),
		newRestoreCommand(&flags),
		newPurgeCommand(&flags),
	)
	return root
}
