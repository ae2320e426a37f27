package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = ""

var (
	flagAPI  string
	flagJSON bool
)

// cfg holds the merged configuration: defaults < config file < MEDIAQ_API < flags.
var cfg *cliConfig

var client *apiClient

var rootCmd = &cobra.Command{
	Use:               "mediaq",
	Short:             "Queue media downloads on a mediaqd server",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAPI, "api", "", "API base URL (env MEDIAQ_API)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print raw JSON")

	rootCmd.AddCommand(addCmd, statusCmd, cancelCmd, removeCmd, logsCmd, watchCmd)
	rootCmd.AddCommand(batchCmd, batchStatusCmd, fetchCmd)
	rootCmd.AddCommand(qualitiesCmd, playlistCmd, versionCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = loadCLIConfig()
	if err != nil {
		return err
	}
	if v := os.Getenv("MEDIAQ_API"); v != "" {
		cfg.API = v
	}
	if flagAPI != "" {
		cfg.API = flagAPI
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	client = newAPIClient(cfg.API, cfg.Timeout)
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func versionString() string {
	if version == "" {
		return "mediaq (dev)"
	}
	return "mediaq " + version
}
