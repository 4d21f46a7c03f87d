package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudtrim/cloudtrim/module/abandoned"
	"github.com/cloudtrim/cloudtrim/storage"
	"github.com/cloudtrim/cloudtrim/trends"
)

var (
	trendsModule       string
	trendsSubscription string
	trendsMonths       int
	trendsOutput       string
)

// trendsCmd represents the trends command
var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Show month-over-month waste movement",
	Long: `Report how persisted findings moved across calendar months.

Buckets the local finding history by month and compares the two most
recent months: finding counts, estimated monthly cost, and whether the
waste picture is improving, worsening, or stable.`,
	Example: `  cloudtrim trends                      # Last 3 months
  cloudtrim trends --months 6           # Longer window
  cloudtrim trends --subscription sub-a # One subscription only
  cloudtrim trends -o json              # Machine-readable report`,
	RunE: runTrends,
}

func init() {
	rootCmd.AddCommand(trendsCmd)

	trendsCmd.Flags().StringVarP(&trendsModule, "module", "m", abandoned.ModuleID, "Module to report on")
	trendsCmd.Flags().StringVar(&trendsSubscription, "subscription", "", "Limit the report to one subscription")
	trendsCmd.Flags().IntVar(&trendsMonths, "months", 3, "Calendar months to include (1-24)")
	trendsCmd.Flags().StringVarP(&trendsOutput, "output", "o", "table", "Output format: table, json")
}

func runTrends(cmd *cobra.Command, args []string) error {
	if trendsOutput != "table" && trendsOutput != "json" {
		return fmt.Errorf("invalid output format: %s (must be table or json)", trendsOutput)
	}
	if trendsMonths < 1 {
		trendsMonths = 1
	}
	if trendsMonths > 24 {
		trendsMonths = 24
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Storage.Path); err != nil {
		return fmt.Errorf("no finding history at %s (run a scan first)", cfg.Storage.Path)
	}

	store, err := storage.NewBoltStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	now := time.Now().UTC()
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	records, err := store.QueryFindings(storage.FindingQuery{
		ModuleID:       trendsModule,
		SubscriptionID: trendsSubscription,
		Since:          firstOfMonth.AddDate(0, -(trendsMonths - 1), 0),
	})
	if err != nil {
		return fmt.Errorf("failed to query findings: %w", err)
	}

	report := trends.BuildReport(trendsModule, trendsSubscription, trendsMonths, now, records)

	if trendsOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("Waste Trends: %s (last %d months)\n\n", report.ModuleID, report.PeriodMonths)
	fmt.Printf("%s\n\n", report.Summary.Message)

	if len(report.Trends) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MONTH\tFINDINGS\tMONTHLY COST\tSUBSCRIPTIONS")
	_, _ = fmt.Fprintln(w, "-----\t--------\t------------\t-------------")
	for _, m := range report.Trends {
		_, _ = fmt.Fprintf(w, "%s\t%d\t$%.2f\t%d\n",
			m.Month, m.TotalFindings, m.TotalCost, m.SubscriptionsAffected)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if report.Summary.HasComparison {
		fmt.Printf("\nChange vs %s: findings %+d, cost $%+.2f (trend: %s)\n",
			report.Summary.PreviousMonth, report.Summary.FindingsChange,
			report.Summary.CostChange, report.Summary.Trend)
	}
	return nil
}
