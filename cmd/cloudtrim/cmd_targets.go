package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudtrim/cloudtrim/storage"
	"github.com/cloudtrim/cloudtrim/types"
)

var (
	targetsIncludeDisabled bool
	targetsType            string

	targetsAddID     string
	targetsAddType   string
	targetsAddNotify []string
	targetsAddOff    bool
)

// targetsCmd groups the target registry subcommands
var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage the scan target registry",
	Long: `Manage the subscriptions and management groups the daemon scans.

Targets are stored locally. Disabled targets stay in the registry but
are skipped by scheduled scans.`,
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered scan targets",
	Example: `  cloudtrim targets list
  cloudtrim targets list --include-disabled
  cloudtrim targets list --type group`,
	RunE: runTargetsList,
}

var targetsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register or update a scan target",
	Example: `  cloudtrim targets add --id 00000000-0000-0000-0000-000000000001
  cloudtrim targets add --id mg-platform --type group
  cloudtrim targets add --id sub-dev --disabled --notify ops@example.com`,
	RunE: runTargetsAdd,
}

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.AddCommand(targetsListCmd)
	targetsCmd.AddCommand(targetsAddCmd)

	targetsListCmd.Flags().BoolVar(&targetsIncludeDisabled, "include-disabled", false, "Include disabled targets")
	targetsListCmd.Flags().StringVar(&targetsType, "type", "", "Filter by target type: account, group")

	targetsAddCmd.Flags().StringVar(&targetsAddID, "id", "", "Subscription or management group ID (required)")
	targetsAddCmd.Flags().StringVar(&targetsAddType, "type", string(types.TargetAccount), "Target type: account, group")
	targetsAddCmd.Flags().StringSliceVar(&targetsAddNotify, "notify", nil, "Email addresses to notify about findings")
	targetsAddCmd.Flags().BoolVar(&targetsAddOff, "disabled", false, "Register the target without enabling scans")
	_ = targetsAddCmd.MarkFlagRequired("id")
}

func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Storage.Path, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

func runTargetsList(cmd *cobra.Command, args []string) error {
	targetType := types.TargetType(targetsType)
	if targetType != "" && targetType != types.TargetAccount && targetType != types.TargetGroup {
		return fmt.Errorf("invalid target type: %s (must be account or group)", targetsType)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	targets, err := store.ListTargets(targetsIncludeDisabled, targetType)
	if err != nil {
		return fmt.Errorf("failed to list targets: %w", err)
	}

	if len(targets) == 0 {
		fmt.Println("No targets registered. Add one with: cloudtrim targets add --id <subscription-id>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TARGET\tTYPE\tENABLED\tNOTIFY")
	_, _ = fmt.Fprintln(w, "------\t----\t-------\t------")
	for _, t := range targets {
		notify := "-"
		if len(t.NotifyEmails) > 0 {
			notify = t.NotifyEmails[0]
			if len(t.NotifyEmails) > 1 {
				notify = fmt.Sprintf("%s (+%d)", notify, len(t.NotifyEmails)-1)
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", t.TargetID, t.TargetType, t.Enabled, notify)
	}
	return w.Flush()
}

func runTargetsAdd(cmd *cobra.Command, args []string) error {
	target := types.DetectionTarget{
		TargetID:     targetsAddID,
		TargetType:   types.TargetType(targetsAddType),
		Enabled:      !targetsAddOff,
		NotifyEmails: targetsAddNotify,
	}
	if err := target.Validate(); err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveTarget(target); err != nil {
		return fmt.Errorf("failed to save target: %w", err)
	}

	state := "enabled"
	if !target.Enabled {
		state = "disabled"
	}
	fmt.Printf("Registered %s %s (%s)\n", target.TargetType, target.TargetID, state)
	return nil
}
