package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/docket/engine"
	"github.com/xraph/docket/worker"
)

// Processor kinds accepted by --processor.
const (
	processorNoop    = "noop"
	processorCommand = "command"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var (
		processor   string
		commandPath string
		commandArgs []string
		noMigrate   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator until interrupted",
		Long: `Run the claim loop, the reconciler and the retention sweeper.

With --processor=command every claimed job runs the given executable with
the artifact reference as its last argument; the executable must print
the extraction result as JSON on stdout.`,
		Example: `  docket serve --config docket.yaml
  docket serve --processor command --command ./extract --arg --fast`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			var opts []engine.Option
			switch processor {
			case processorNoop:
				opts = append(opts, engine.WithProcessor(worker.Noop{}), engine.WithVerifier(worker.Noop{}))
			case processorCommand:
				if commandPath == "" {
					return fmt.Errorf("--command is required with --processor=%s", processorCommand)
				}
				opts = append(opts, engine.WithProcessor(worker.Command{Path: commandPath, Args: commandArgs}))
			default:
				return fmt.Errorf("unknown processor %q", processor)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := a.buildEngine(ctx, opts...)
			if err != nil {
				return err
			}
			if !noMigrate {
				if err := eng.Store().Migrate(ctx); err != nil {
					_ = a.shutdown(context.WithoutCancel(ctx), eng)
					return err
				}
			}
			return a.serve(ctx, eng)
		},
	}

	cmd.Flags().StringVar(&processor, "processor", processorNoop, "Extraction processor: noop|command")
	cmd.Flags().StringVar(&commandPath, "command", "", "Executable run by the command processor")
	cmd.Flags().StringArrayVar(&commandArgs, "arg", nil, "Argument passed to the command before the artifact reference (repeatable)")
	cmd.Flags().BoolVar(&noMigrate, "no-migrate", false, "Skip schema migration at startup")
	return cmd
}

// serve starts eng and blocks until ctx is cancelled, then shuts down
// within the configured timeout. A store health probe runs alongside.
func (a *app) serve(ctx context.Context, eng *engine.Engine) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := eng.Start(gctx); err != nil {
			_ = a.shutdown(context.WithoutCancel(gctx), eng)
			return fmt.Errorf("start: %w", err)
		}
		a.logger.Info("docket serving",
			slog.String("owner_id", eng.OwnerID()),
			slog.String("store", a.cfg.Store.Driver),
		)

		<-gctx.Done()
		a.logger.Info("shutting down")

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.ShutdownTimeout)
		defer cancel()
		return a.shutdown(stopCtx, eng)
	})

	g.Go(func() error {
		probeStore(gctx, eng, a.cfg.Queue.ReconcileInterval, a.logger)
		return nil
	})

	return g.Wait()
}

// probeStore pings the store every interval and logs transitions between
// reachable and unreachable.
func probeStore(ctx context.Context, eng *engine.Engine, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := eng.Store().Ping(ctx)
		switch {
		case err != nil && healthy && ctx.Err() == nil:
			logger.Warn("store unreachable", slog.String("error", err.Error()))
			healthy = false
		case err == nil && !healthy:
			logger.Info("store reachable again")
			healthy = true
		}
	}
}
