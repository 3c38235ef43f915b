package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pixelquota/internal/config"
	domquota "github.com/kailas-cloud/pixelquota/internal/domain/quota"
	domusage "github.com/kailas-cloud/pixelquota/internal/domain/usage"
	usagerepo "github.com/kailas-cloud/pixelquota/internal/repository/usage"
	quotauc "github.com/kailas-cloud/pixelquota/internal/usecase/quota"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
)

func newUsageCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect the persisted usage database",
	}
	cmd.AddCommand(newUsageListCmd(opts), newUsageShowCmd(opts))
	return cmd
}

func newUsageListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every usage record",
		Example: `  pixelquota usage list
  pixelquota usage list --env prod --no-color`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUsage(cmd.Context(), opts, func(ctx context.Context, cfg config.Config, st *usagerepo.Store, svc *quotauc.Service) error {
				records, err := st.List(ctx)
				if err != nil {
					return err
				}
				printRecords(cmd.OutOrStdout(), records, svc)
				return nil
			})
		},
	}
}

func newUsageShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <email>",
		Short: "Show today's quota of one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUsage(cmd.Context(), opts, func(ctx context.Context, cfg config.Config, _ *usagerepo.Store, svc *quotauc.Service) error {
				report, err := svc.Report(ctx, args[0])
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), report, time.Now())
				return nil
			})
		},
	}
}

// withUsage opens storage and the usage store, runs fn and closes both.
func withUsage(
	ctx context.Context,
	opts *rootOptions,
	fn func(ctx context.Context, cfg config.Config, st *usagerepo.Store, svc *quotauc.Service) error,
) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := usagerepo.Open(ctx, store, cfg.Storage.Key, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("close usage store", zap.Error(err))
		}
	}()

	svc := quotauc.New(st, quotauc.Config{
		DailyLimit:      cfg.Quota.DailyLimit,
		UnlimitedEmails: cfg.Quota.UnlimitedEmails,
		Location:        cfg.Quota.Location(),
	}, logger)
	return fn(ctx, cfg, st, svc)
}

func printRecords(out io.Writer, records []domusage.Record, svc *quotauc.Service) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	headerColor.Fprintf(w, "--- Usage records (%d, day %s) ---\n", len(records), svc.Today())
	labelColor.Fprintln(w, "EMAIL\tLAST GENERATION\tCOUNT\tREMAINING TODAY")
	today := svc.Today()
	for _, rec := range records {
		last := rec.LastGenerationDate
		if !rec.HasGenerated() {
			last = "-"
		}
		q := domquota.FromUsage(svc.Limit(), rec.LastGenerationDate, today, rec.ImagesGeneratedToday)
		if svc.IsUnlimited(rec.Email) {
			q = domquota.Unlimited(svc.Limit())
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", rec.Email, last, rec.ImagesGeneratedToday, quotaColor(q).Sprint(q.String()))
	}
}

func printReport(out io.Writer, r domusage.Report, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	q := r.Quota()
	headerColor.Fprintf(w, "--- Quota of %s ---\n", r.Email())
	fmt.Fprintf(w, "%s\t%s\n", labelColor.Sprint("Day:"), r.Day())
	fmt.Fprintf(w, "%s\t%s\n", labelColor.Sprint("Remaining:"), quotaColor(q).Sprint(q.String()))
	fmt.Fprintf(w, "%s\t%d\n", labelColor.Sprint("Daily limit:"), q.Limit())
	fmt.Fprintf(w, "%s\t%s (in %s)\n", labelColor.Sprint("Resets at:"),
		r.ResetsAt().Format(time.RFC3339), r.ResetsAt().Sub(now).Truncate(time.Minute))
}

func quotaColor(q domquota.Quota) *color.Color {
	switch {
	case q.IsUnlimited():
		return goodColor
	case q.IsExhausted():
		return badColor
	case q.Remaining() < q.Limit():
		return warnColor
	default:
		return goodColor
	}
}
