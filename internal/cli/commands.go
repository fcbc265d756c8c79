package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eunmann/shab-cache/internal/refresh"
	"github.com/eunmann/shab-cache/pkg/daily"
	"github.com/eunmann/shab-cache/pkg/export"
	"github.com/eunmann/shab-cache/pkg/logging"
	"github.com/eunmann/shab-cache/pkg/publication"
	"github.com/eunmann/shab-cache/pkg/reconcile"
	"github.com/eunmann/shab-cache/pkg/registry"
	"github.com/eunmann/shab-cache/pkg/store"
)

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reconcile the rolling window, export dashboard data and write the status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			out, err := refresh.New(a.cfg).Run(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "refreshed %s to %s: %s records, %d days fetched, %d failed, took %s\n",
				publication.FormatDay(out.Start), publication.FormatDay(out.End),
				humanize.Comma(int64(out.Records)),
				out.Reconcile.Fetched, len(out.Reconcile.Failed),
				out.Elapsed.Round(time.Millisecond))
			if out.MirrorErr != nil {
				fmt.Fprintf(w, "warning: mirror failed: %v\n", out.MirrorErr)
			}
			return nil
		},
	}
}

func newReconcileCmd(a *app) *cobra.Command {
	var fromStr, toStr string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Bring the aggregate up to date for a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := publication.ParseDay(fromStr)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			to, err := publication.ParseDay(toStr)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg := a.cfg
			rec := reconcile.New(cfg.Layout(), a.fetcher(),
				reconcile.WithRecoveryPolicy(cfg.RecoveryPolicy()),
				reconcile.WithLockTimeout(cfg.LockTimeout),
			)
			res, err := rec.ReconcileLocked(ctx, from, to, logging.LogReporter{Log: logging.WithPhase("reconcile"), Every: 10})
			if err != nil {
				return err
			}
			sum := res.Summary
			fmt.Fprintf(cmd.OutOrStdout(), "%s records between %s and %s (%d days fetched, %d failed, %d cached)\n",
				humanize.Comma(int64(len(res.Records))), fromStr, toStr,
				sum.Fetched, len(sum.Failed), sum.CachedDays)
			return nil
		},
	}
	cmd.Flags().StringVar(&fromStr, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&toStr, "to", "", "last day, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newFetchDayCmd(a *app) *cobra.Command {
	var dateStr string
	cmd := &cobra.Command{
		Use:   "fetch-day",
		Short: "Fetch one day into its snapshot, or read the existing snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			day, err := publication.ParseDay(dateStr)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			var res daily.Result
			err = store.WithLock(ctx, a.cfg.Layout().LockPath(), a.cfg.LockTimeout, func(ctx context.Context) error {
				var err error
				res, err = a.fetcher().Fetch(ctx, day)
				return err
			})
			if err != nil {
				return err
			}

			source := "fetched"
			if res.FromCache {
				source = "cached"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s records (%s, %d pages, stop: %s)\n",
				dateStr, humanize.Comma(int64(len(res.Records))), source, res.Pages, res.Stop)
			return nil
		},
	}
	cmd.Flags().StringVar(&dateStr, "date", "", "day to fetch, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export dashboard data from the current aggregate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			records, _, err := store.ReadWithRecovery(cfg.Layout().AggregatePath(), cfg.RecoveryPolicy())
			if err != nil {
				return fmt.Errorf("read aggregate: %w", err)
			}
			res, err := export.Write(cfg.ExportDir, records)
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "aggregate is empty, nothing exported")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s rows over %d months to %s\n",
				humanize.Comma(int64(res.Rows)), res.Months, cfg.ExportDir)
			return nil
		},
	}
}

func (a *app) fetcher() *daily.Fetcher {
	cfg := a.cfg
	client := registry.NewClient(cfg.RegistryConfig(), logging.WithPhase("registry"))
	return daily.New(cfg.Layout(), client,
		daily.WithMaxPages(cfg.API.MaxPages),
		daily.WithRecoveryPolicy(cfg.RecoveryPolicy()),
	)
}
