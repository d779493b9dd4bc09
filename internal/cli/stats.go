package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vietddude/failover/internal/control"
	"github.com/vietddude/failover/internal/core/config"
	"github.com/vietddude/failover/internal/core/domain"
)

var statsPeriod string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recovery statistics for a trailing period",
	Run:   runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsPeriod, "period", "24h", "statistics period: 24h, 7d or 30d")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Storage.Backend == config.BackendMemory {
		slog.Warn("Memory storage holds no history across processes")
	}

	ctx := context.Background()
	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize failover service", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Stop(ctx)
	}()

	stats, err := app.Engine().GetRecoveryStatistics(ctx, statsPeriod)
	if err != nil {
		slog.Error("Failed to load recovery statistics", "error", err)
		os.Exit(1)
	}
	renderStats(os.Stdout, stats)
}

func rateColor(rate float64) *color.Color {
	switch {
	case rate >= 0.9:
		return color.New(color.FgGreen)
	case rate >= 0.7:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func renderStats(out io.Writer, stats *domain.RecoveryStatistics) {
	bold := color.New(color.Bold)

	_, _ = bold.Fprintf(out, "Recovery statistics (%s)\n", stats.Period)
	_, _ = fmt.Fprintf(out, "Total recoveries:    %d\n", stats.TotalRecoveries)
	_, _ = fmt.Fprintf(out, "Successful:          %d\n", stats.SuccessfulRecoveries)
	_, _ = fmt.Fprintf(out, "Success rate:        %s\n", rateColor(stats.SuccessRate).Sprintf("%.1f%%", stats.SuccessRate*100))
	_, _ = fmt.Fprintf(out, "Avg recovery time:   %.0fms\n", stats.AverageRecoveryTimeMs)
	_, _ = fmt.Fprintf(out, "Provider switches:   %d\n\n", stats.ProviderSwitches)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "ACTION\tCOUNT")
	actions := make([]string, 0, len(stats.ActionDistribution))
	for a := range stats.ActionDistribution {
		actions = append(actions, string(a))
	}
	slices.Sort(actions)
	for _, a := range actions {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", a, stats.ActionDistribution[domain.FallbackAction(a)])
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "CATEGORY\tCOUNT")
	cats := make([]string, 0, len(stats.CategoryDistribution))
	for c := range stats.CategoryDistribution {
		cats = append(cats, string(c))
	}
	slices.Sort(cats)
	for _, c := range cats {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", c, stats.CategoryDistribution[domain.ErrorCategory(c)])
	}
	_ = w.Flush()
}
