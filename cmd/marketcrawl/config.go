package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"marketcrawl/pkg/auth"
	"marketcrawl/pkg/config"
	"marketcrawl/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage marketcrawl configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (MARKETCRAWL_*, also read from .env)
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	Long: `Write every option with its default value to '.marketcrawl.yaml' in the
current directory, or to the path given with --config.`,
	Run: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging every source. The API token is masked.`,
	Run:   runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the effective configuration.

This command checks:
  - YAML syntax
  - Value ranges
  - Output and ledger paths
  - Lookup settings (reported as warnings)`,
	Run: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	configPath := configFile
	if configPath == "" {
		configPath = ".marketcrawl.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		os.Exit(1)
	}

	if err := config.DefaultConfig().Save(configPath); err != nil {
		ui.PrintError("Failed to create configuration file", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Set browser.user_data_dir to your browser profile")
	fmt.Println("2. Run 'marketcrawl login' once and sign in")
	fmt.Println("3. Run 'marketcrawl scrape <targets-file>'")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(nil)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	display := *cfg
	if display.Lookup.APIToken != "" {
		display.Lookup.APIToken = auth.MaskToken(display.Lookup.APIToken)
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		ui.PrintError("Failed to format configuration", err.Error())
		os.Exit(1)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(nil)
	if err != nil {
		ui.PrintError("Configuration validation failed", err.Error())
		os.Exit(1)
	}

	var problems, warnings []string

	for _, path := range []string{cfg.Output.File, cfg.Output.LedgerFile, cfg.Lookup.LedgerFile, cfg.Lookup.ErrorLog} {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create directory for %s: %v", path, err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}
	if _, err := os.Stat(cfg.Browser.UserDataDir); err != nil && cfg.Browser.RemoteURL == "" {
		warnings = append(warnings, "browser profile directory does not exist yet: "+cfg.Browser.UserDataDir)
	}
	if err := cfg.ValidateLookup(); err != nil {
		warnings = append(warnings, "lookup: "+err.Error())
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		os.Exit(1)
	}
	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Output: %s\n", cfg.Output.File)
	fmt.Printf("  Ledger: %s\n", cfg.Output.LedgerFile)
	fmt.Printf("  Rate limit: capacity %.0f, %.2f tokens/s\n", cfg.RateLimit.Capacity, cfg.RateLimit.RecoveryRate)
	fmt.Printf("  Partition step: %g\n", cfg.Strategy.Step)
	fmt.Printf("  Lookup workers: %d\n", cfg.Lookup.Concurrency)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
}
