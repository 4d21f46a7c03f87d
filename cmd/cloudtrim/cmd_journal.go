package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudtrim/cloudtrim/journal"
)

var (
	journalSince  time.Duration
	journalModule string
	journalOutput string
)

// journalCmd groups the execution journal subcommands
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the execution journal",
	Long: `Inspect the append-only execution journal.

Every module run writes started/completed/failed entries. The journal
is the audit trail for what ran, when, and how it ended.`,
}

var journalReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Print journal entries in order",
	Example: `  cloudtrim journal replay
  cloudtrim journal replay --since 24h
  cloudtrim journal replay --module abandoned-resources -o json`,
	RunE: runJournalReplay,
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the journal directory",
	RunE:  runJournalStats,
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalReplayCmd)
	journalCmd.AddCommand(journalStatsCmd)

	journalReplayCmd.Flags().DurationVar(&journalSince, "since", 0, "Only entries newer than this age (e.g. 24h, 0 for all)")
	journalReplayCmd.Flags().StringVarP(&journalModule, "module", "m", "", "Only entries for this module")
	journalReplayCmd.Flags().StringVarP(&journalOutput, "output", "o", "table", "Output format: table, json")
}

func runJournalReplay(cmd *cobra.Command, args []string) error {
	if journalOutput != "table" && journalOutput != "json" {
		return fmt.Errorf("invalid output format: %s (must be table or json)", journalOutput)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	since := time.Time{}
	if journalSince > 0 {
		since = time.Now().Add(-journalSince)
	}

	var entries []*journal.Entry
	err = journal.Replay(cfg.Journal.Dir, since, func(entry *journal.Entry) error {
		if journalModule != "" && entry.ModuleID != journalModule {
			return nil
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replay journal: %w", err)
	}

	if journalOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No journal entries found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEQ\tTIME\tTYPE\tMODULE\tEXECUTION\tERROR")
	_, _ = fmt.Fprintln(w, "---\t----\t----\t------\t---------\t-----")
	for _, entry := range entries {
		errText := "-"
		if entry.Error != "" {
			errText = truncate(entry.Error, 40)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			entry.Sequence,
			entry.Timestamp.Local().Format("2006-01-02 15:04:05"),
			entry.Type,
			entry.ModuleID,
			truncate(entry.ExecutionID, 12),
			errText)
	}
	return w.Flush()
}

func runJournalStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	stats := journal.DirStats(cfg.Journal.Dir, journal.DefaultConfig())
	if stats.TotalFiles == 0 {
		fmt.Printf("No journal files in %s\n", cfg.Journal.Dir)
		return nil
	}

	fmt.Printf("Journal: %s\n\n", cfg.Journal.Dir)
	fmt.Printf("  Files:      %d (%.1f KB)\n", stats.TotalFiles, float64(stats.TotalSizeBytes)/1024)
	fmt.Printf("  Entries:    %d (sequence %d-%d)\n", stats.EntryCount, stats.FirstSequence, stats.LastSequence)
	fmt.Printf("  Oldest:     %s\n", stats.OldestFile.Local().Format(time.RFC3339))
	fmt.Printf("  Newest:     %s\n", stats.NewestFile.Local().Format(time.RFC3339))
	return nil
}
