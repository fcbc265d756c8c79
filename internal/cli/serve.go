package cli

import (
	"github.com/spf13/cobra"

	"github.com/eunmann/shab-cache/internal/refresh"
	"github.com/eunmann/shab-cache/internal/scheduler"
	"github.com/eunmann/shab-cache/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	var noSchedule bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dataset over HTTP and refresh it on a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if addr != "" {
				cfg.Serve.Addr = addr
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cache := server.NewDatasetCache(cfg.Layout().AggregatePath())
			pipeline := refresh.New(cfg, refresh.OnComplete(func(refresh.Outcome) {
				cache.Invalidate()
			}))

			if cfg.Serve.Schedule != "" && !noSchedule {
				sched, err := scheduler.New(cfg.Serve.Schedule, pipeline)
				if err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
			}

			return server.New(cfg, pipeline, cache).ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "disable the scheduled refresh")
	return cmd
}
