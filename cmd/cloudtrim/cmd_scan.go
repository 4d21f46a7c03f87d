package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cloudtrim/cloudtrim/journal"
	"github.com/cloudtrim/cloudtrim/module/abandoned"
	"github.com/cloudtrim/cloudtrim/storage"
	"github.com/cloudtrim/cloudtrim/types"
)

var (
	scanSubscriptions []string
	scanGroups        []string
	scanOutput        string
	scanDryRun        bool
	scanMinConfidence int
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one detection pass and print the findings",
	Long: `Scan subscriptions or management groups for abandoned resources.

Runs the abandoned-resources module once against the given targets and
prints the findings. Unless --dry-run is set, findings are saved to the
local store so they show up in trends and history.`,
	Example: `  cloudtrim scan -s 11111111-2222-3333-4444-555555555555
  cloudtrim scan -g mg-production                  # Scan a management group tree
  cloudtrim scan -s sub-a -s sub-b -o json         # Machine-readable output
  cloudtrim scan -s sub-a --min-confidence 75      # High-confidence findings only
  cloudtrim scan -s sub-a --dry-run                # Don't persist results`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringSliceVarP(&scanSubscriptions, "subscriptions", "s", nil, "Subscription IDs to scan")
	scanCmd.Flags().StringSliceVarP(&scanGroups, "groups", "g", nil, "Management group IDs to scan")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "table", "Output format: table, json")
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "Skip persisting findings")
	scanCmd.Flags().IntVar(&scanMinConfidence, "min-confidence", 0, "Drop findings scored below this (0-100)")
}

func runScan(cmd *cobra.Command, args []string) error {
	if len(scanSubscriptions) == 0 && len(scanGroups) == 0 {
		return fmt.Errorf("at least one --subscriptions or --groups target is required")
	}
	if scanOutput != "table" && scanOutput != "json" {
		return fmt.Errorf("invalid output format: %s (must be table or json)", scanOutput)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cliLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry, err := buildRegistry(cfg, logger, nil)
	if err != nil {
		return err
	}
	mod, ok := registry.Get(abandoned.ModuleID)
	if !ok {
		return fmt.Errorf("module %q is not installed", abandoned.ModuleID)
	}

	input := types.ModuleInput{
		ExecutionID:        uuid.NewString(),
		SubscriptionIDs:    scanSubscriptions,
		ManagementGroupIDs: scanGroups,
		DryRun:             scanDryRun,
	}
	if scanMinConfidence > 0 {
		input.Configuration = map[string]any{"minConfidenceScore": scanMinConfidence}
	}

	output := mod.Detect(ctx, input)

	if !scanDryRun {
		if err := persistScan(cfg.Storage.Path, cfg.Journal.Dir, output); err != nil {
			fmt.Printf("Warning: failed to persist findings: %v\n", err)
		}
	}

	if scanOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(output)
	}
	return printScanTable(output)
}

// persistScan saves the run's findings and journals the outcome so
// one-shot scans show up in trends and history
func persistScan(storageDir, journalDir string, output types.ModuleOutput) error {
	if err := os.MkdirAll(storageDir, 0750); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	store, err := storage.NewBoltStore(storageDir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	executionDate := time.Now().UTC()
	records := make([]types.FindingRecord, 0, len(output.Findings))
	for _, f := range output.Findings {
		records = append(records, types.NewFindingRecord(output.ModuleID, executionDate, f))
	}
	if len(records) > 0 {
		if _, err := store.SaveFindings(records); err != nil {
			return err
		}
	}

	jnl, err := journal.Open(journalDir)
	if err != nil {
		return err
	}
	defer func() { _ = jnl.Close() }()

	payload := struct {
		Findings int    `json:"findings"`
		Status   string `json:"status"`
	}{len(output.Findings), string(output.Status)}
	entryType := journal.EntryCompleted
	if output.Status == types.StatusFailed {
		entryType = journal.EntryFailed
	}
	return jnl.Append(entryType, output.ExecutionID, output.ModuleID, payload)
}

// printScanTable displays results in a table
func printScanTable(output types.ModuleOutput) error {
	fmt.Printf("Scan Summary:\n")
	fmt.Printf("   Status: %s\n", output.Status)
	fmt.Printf("   Subscriptions scanned: %d\n", output.SubscriptionsScanned)
	fmt.Printf("   Findings: %d\n", output.Summary.TotalFindings)
	fmt.Printf("   Estimated monthly waste: $%.2f\n", output.Summary.TotalMonthlyCost)
	if len(output.Errors) > 0 {
		fmt.Printf("   Errors:\n")
		for _, e := range output.Errors {
			fmt.Printf("     - %s\n", e)
		}
	}
	fmt.Printf("\n")

	if len(output.Findings) == 0 {
		fmt.Println("No abandoned resources found!")
		return nil
	}

	// Costliest first
	findings := make([]types.Finding, len(output.Findings))
	copy(findings, output.Findings)
	sort.Slice(findings, func(i, j int) bool {
		return findings[i].EstimatedMonthlyCost > findings[j].EstimatedMonthlyCost
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RESOURCE\tTYPE\tSEVERITY\tCONFIDENCE\tMONTHLY COST\tRECOMMENDATION")
	_, _ = fmt.Fprintln(w, "--------\t----\t--------\t----------\t------------\t--------------")

	for _, f := range findings {
		recommendation, _ := f.Metadata["recommendation"].(string)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s (%d)\t$%.2f\t%s\n",
			truncate(resourceName(f.ResourceID), 30),
			shortResourceType(f.ResourceType),
			f.Severity,
			f.ConfidenceLevel,
			f.ConfidenceScore,
			f.EstimatedMonthlyCost,
			truncate(recommendation, 40),
		)
	}
	return w.Flush()
}

// resourceName extracts the trailing segment of an ARM resource ID
func resourceName(resourceID string) string {
	if idx := strings.LastIndex(resourceID, "/"); idx >= 0 {
		return resourceID[idx+1:]
	}
	return resourceID
}

// shortResourceType drops the provider namespace prefix
func shortResourceType(resourceType string) string {
	if idx := strings.LastIndex(resourceType, "/"); idx >= 0 {
		return resourceType[idx+1:]
	}
	return resourceType
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
