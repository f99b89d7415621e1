package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"marketcrawl/pkg/browser"
	"marketcrawl/pkg/ui"
)

var loginWait time.Duration

// loginCmd opens the persistent profile so the operator can sign in by hand
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Open the browser profile to sign in to the marketplace",
	Long: `Open a visible browser window on the persistent profile at the marketplace
root. Sign in there; the session is kept in the profile directory and reused
by 'marketcrawl scrape'. The window closes after --wait or on Ctrl+C.`,
	Args: cobra.NoArgs,
	Run:  runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().DurationVar(&loginWait, "wait", 2*time.Minute, "how long to keep the window open")
	loginCmd.Flags().StringVar(&userDataDir, "user-data-dir", "", "persistent browser profile directory")
}

func runLogin(cmd *cobra.Command, args []string) {
	flags := make(map[string]interface{})
	if userDataDir != "" {
		flags["user-data-dir"] = userDataDir
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}
	log, err := setupLogger(cfg)
	if err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	ui.PrintInfo("Profile", cfg.Browser.UserDataDir)
	ui.PrintInfo("Window open for", loginWait.String())

	factory := browser.NewRodFactory(cfg.Browser, log)
	if err := factory.OpenForLogin(ctx, loginWait); err != nil {
		ui.PrintError("Login window failed", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess("Profile saved")
}
