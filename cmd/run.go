// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pacer/internal/metrics"
	"github.com/xkilldash9x/pacer/internal/observability"
	"github.com/xkilldash9x/pacer/internal/service"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(a *app) *cobra.Command {
	var metricsAddr string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the adapt and partition maintenance loops until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := a.cfg.Scheduler().MetricsAddr
			if cmd.Flags().Changed("metrics-addr") {
				addr = metricsAddr
			}
			return a.withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				return runService(ctx, c, addr, observability.GetLogger())
			})
		},
	}

	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics and /healthz; empty disables")
	return runCmd
}

// runService runs the scheduler and, when addr is set, the metrics server.
// It returns nil once ctx is cancelled and both have stopped.
func runService(ctx context.Context, c *service.Components, addr string, logger *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.Scheduler.Run(ctx)
	})

	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metrics.NewRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Metrics server listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	logger.Info("Pacer stopped")
	return err
}
