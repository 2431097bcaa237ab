package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nimburion/nimqueue/pkg/observability/metrics"
	"github.com/nimburion/nimqueue/pkg/scheduler"
	"github.com/nimburion/nimqueue/pkg/server"
)

func (r *runner) newWorkerCommand() *cobra.Command {
	var (
		interval     time.Duration
		noManagement bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Drain every registered job queue until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if cmd.Flags().Changed("interval") {
				s.cfg.Scheduler.IntervalOverride = interval
			}
			runtime, err := s.app.Scheduler()
			if err != nil {
				return fmt.Errorf("create scheduler runtime: %w", err)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(runCtx, s, runtime, s.cfg.Management.Enabled && !noManagement)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval for every queue (overrides scheduler.interval_override)")
	cmd.Flags().BoolVar(&noManagement, "no-management", false, "do not serve the management endpoints")
	return cmd
}

// runWorker runs the scheduler and, optionally, the management server until
// ctx is done or one of them fails.
func runWorker(ctx context.Context, s *session, runtime *scheduler.Runtime, management bool) error {
	g, gctx := errgroup.WithContext(ctx)

	if management {
		mgmt, err := server.NewManagementServer(
			s.cfg.Management,
			s.log.With("component", "management"),
			s.app.Health,
			metrics.NewRegistry(),
			s.app.Manager,
		)
		if err != nil {
			return fmt.Errorf("create management server: %w", err)
		}
		s.app.Resources.RegisterHealthChecks(s.app.Health)
		g.Go(func() error { return mgmt.Start(gctx) })
	}
	g.Go(func() error { return runtime.Start(gctx) })

	s.log.Info("worker started", "bindings", len(runtime.Bindings()), "management", management)
	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Info("worker stopped")
	return nil
}
