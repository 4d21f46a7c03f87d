package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cloudtrim/cloudtrim/config"
	"github.com/cloudtrim/cloudtrim/telemetry"
)

var (
	version = "0.1.0"

	cfgPath string
	debug   bool

	rootCmd = &cobra.Command{
		Use:   "cloudtrim",
		Short: "Azure waste detection engine",
		Long: `Cloudtrim - Azure Waste Detection Engine

Cloudtrim scans Azure subscriptions and management groups for
abandoned, cost-incurring resources: unattached managed disks,
unassociated public IPs and NAT gateways, empty load balancers and
SQL elastic pools, idle VNet gateways, unused DDoS plans, and
disconnected private endpoints.

Every finding carries a confidence score, a severity, and a monthly
cost estimate. Finding history persists locally so month-over-month
trends show whether the waste picture is improving.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to YAML config file (defaults apply when omitted)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.SetVersionTemplate(`Cloudtrim {{.Version}} - Azure Waste Detection Engine
`)
}

// loadConfig reads the config file, or returns defaults when no file
// was given
func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		return config.Default(), nil
	}
	return config.Load(cfgPath)
}

// newLogger builds the service logger from config and the --debug flag
func newLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && cfg.Log.Level != "" {
		level = parsed
	}
	if debug {
		level = zerolog.DebugLevel
	}

	logger := telemetry.NewLogger(cfg.Telemetry.ServiceName)
	if cfg.Log.Format == "console" {
		logger = telemetry.NewLoggerTo(zerolog.ConsoleWriter{Out: os.Stderr}, cfg.Telemetry.ServiceName)
	}
	return logger.Level(level)
}

// cliLogger keeps stdout clean for command output: console logs go to
// stderr, warnings only unless --debug
func cliLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.WarnLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return telemetry.NewLoggerTo(zerolog.ConsoleWriter{Out: os.Stderr}, cfg.Telemetry.ServiceName).Level(level)
}
