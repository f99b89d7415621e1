package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"marketcrawl/pkg/browser"
	"marketcrawl/pkg/config"
	errs "marketcrawl/pkg/errors"
	"marketcrawl/pkg/ledger"
	"marketcrawl/pkg/logger"
	"marketcrawl/pkg/models"
	"marketcrawl/pkg/orchestrator"
	"marketcrawl/pkg/ratelimit"
	"marketcrawl/pkg/recovery"
	"marketcrawl/pkg/retry"
	"marketcrawl/pkg/storage"
	"marketcrawl/pkg/strategy"
	"marketcrawl/pkg/ui"
)

var (
	// Scrape command flags
	outputFile    string
	ledgerFile    string
	userDataDir   string
	headless      bool
	capacity      float64
	recoveryRate  float64
	step          float64
	dropOut       float64
	maxPasses     int
	notifications bool
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape <targets-file>",
	Short: "Crawl every listing of the targets in a file",
	Long: `Crawl the marketplace listing of every target in the targets file.

Each line of the file is "<id><TAB><min>-<max>" or "<id><TAB><min><TAB><max>".
Records are appended to the output file as JSON lines, and every finished
work unit is written to the ledger. Run the same command again after an
interruption and only the missing units are fetched.

The browser profile must already be signed in to the marketplace. Use
'marketcrawl login' once to do that.`,
	Example: `  # Crawl with default settings
  marketcrawl scrape targets.tsv

  # Headless run with a custom output file and ledger
  marketcrawl scrape targets.tsv --headless --output data.jsonl --ledger data.log

  # Slower pacing, stop after 10 passes
  marketcrawl scrape targets.tsv --recovery-rate 0.2 --max-passes 10`,
	Args: cobra.ExactArgs(1),
	Run:  runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "JSON lines output file")
	scrapeCmd.Flags().StringVar(&ledgerFile, "ledger", "", "work ledger file")
	scrapeCmd.Flags().StringVar(&userDataDir, "user-data-dir", "", "persistent browser profile directory")
	scrapeCmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window")
	scrapeCmd.Flags().Float64Var(&capacity, "capacity", 0, "token bucket capacity")
	scrapeCmd.Flags().Float64Var(&recoveryRate, "recovery-rate", 0, "tokens recovered per second")
	scrapeCmd.Flags().Float64Var(&step, "step", 0, "width of one partition unit")
	scrapeCmd.Flags().Float64Var(&dropOut, "drop-out", 0, "skip partition units starting at or above this value")
	scrapeCmd.Flags().IntVar(&maxPasses, "max-passes", 0, "stop after this many passes (0 means no limit)")
	scrapeCmd.Flags().BoolVar(&notifications, "notifications", true, "enable notifications")
}

func scrapeFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	if outputFile != "" {
		flags["output"] = outputFile
	}
	if ledgerFile != "" {
		flags["ledger"] = ledgerFile
	}
	if userDataDir != "" {
		flags["user-data-dir"] = userDataDir
	}
	if cmd.Flags().Changed("headless") {
		flags["headless"] = headless
	}
	if capacity > 0 {
		flags["capacity"] = capacity
	}
	if recoveryRate > 0 {
		flags["recovery-rate"] = recoveryRate
	}
	if step > 0 {
		flags["step"] = step
	}
	if dropOut > 0 {
		flags["drop-out"] = dropOut
	}
	if cmd.Flags().Changed("max-passes") {
		flags["max-passes"] = maxPasses
	}
	if !notifications {
		flags["notifications-enabled"] = false
	}
	return flags
}

func runScrape(cmd *cobra.Command, args []string) {
	targets, err := models.ReadTargetsFile(args[0])
	if err != nil {
		ui.PrintError("Failed to read targets", err.Error())
		os.Exit(1)
	}
	if len(targets) == 0 {
		ui.PrintWarning("No targets in file", args[0])
		return
	}

	cfg, err := loadConfig(scrapeFlags(cmd))
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	log, err := setupLogger(cfg)
	if err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		os.Exit(1)
	}
	log.WithField("version", version).Info("marketcrawl starting")

	ctx, stop := signalContext()
	defer stop()

	ui.PrintInfo("Targets", fmt.Sprintf("%d from %s", len(targets), args[0]))
	ui.PrintInfo("Output", cfg.Output.File)
	ui.PrintInfo("Ledger", cfg.Output.LedgerFile)

	notifier := ui.NewNotifier(cfg.Notifications)
	summary, err := scrape(ctx, cfg, targets, log)
	if err != nil {
		log.WithError(err).Error("Crawl failed")
		ui.PrintError("CRAWL FAILED", err.Error())

		switch {
		case errs.Is(err, errs.ErrorTypeSessionInvalid):
			notifier.SendError("marketcrawl", "Session rejected, run 'marketcrawl login'")
		case errs.Is(err, errs.ErrorTypeRetryBudgetExhausted):
			notifier.SendError("marketcrawl", "Session reset budget exhausted")
		case errors.Is(err, orchestrator.ErrPassBudgetExhausted):
			ui.PrintInfo("Resume", "run the same command again to continue")
		}
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"passes":     summary.Passes,
		"recoveries": summary.Recoveries,
		"records":    summary.RecordsWritten,
		"units":      summary.UnitsCompleted,
	}).Info("Crawl completed")
	notifier.SendSuccess("marketcrawl", fmt.Sprintf("Crawl finished: %d records", summary.RecordsWritten))
}

// scrape wires the orchestrator to its concrete collaborators and runs it
func scrape(ctx context.Context, cfg *config.Config, targets []models.Target, log logger.Logger) (orchestrator.Summary, error) {
	led, err := ledger.Open(cfg.Output.LedgerFile, log)
	if err != nil {
		return orchestrator.Summary{}, err
	}
	defer led.Close()

	sink, err := storage.OpenSink(cfg.Output.File)
	if err != nil {
		return orchestrator.Summary{}, err
	}
	defer sink.Close()

	limiter := ratelimit.NewTokenBucket(cfg.RateLimit.Capacity, cfg.RateLimit.RecoveryRate,
		ratelimit.WithPollInterval(cfg.RateLimit.PollInterval))

	policy := recovery.NewPolicy(recovery.Config{
		MaxAttempts: cfg.Recovery.MaxResetAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    cfg.Recovery.ResetBackoff,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			JitterFactor: 0.1,
		},
		SettleDelay: cfg.Recovery.SettleDelay,
	}, led, log)

	progress := ui.NewProgressDisplay(len(targets), verbose)

	orch, err := orchestrator.New(orchestrator.Deps{
		Factory: browser.NewRodFactory(cfg.Browser, log),
		Limiter: limiter,
		Ledger:  led,
		Policy:  policy,
		Sink:    sink,
		Selector: &strategy.Selector{
			PageSize:         cfg.Strategy.PageSize,
			TrivialThreshold: cfg.Strategy.TrivialThreshold,
			PageCost:         cfg.Strategy.PageCost,
			UnitCost:         cfg.Strategy.UnitCost,
		},
		Partitioner: &strategy.Partitioner{
			Step:    cfg.Strategy.Step,
			DropOut: cfg.Strategy.DropOut,
		},
		Reporter: progress,
		Logger:   log,
	}, orchestrator.Config{
		FreezeDuration: cfg.RateLimit.FreezeDuration,
		RecoveryDelay:  cfg.Recovery.RetryDelay,
		ResetOnStart:   cfg.Recovery.ResetOnStart,
		MaxPasses:      cfg.Recovery.MaxPasses,
	})
	if err != nil {
		return orchestrator.Summary{}, err
	}

	summary, err := orch.Run(ctx, targets)
	if err == nil {
		progress.Complete(summary.Passes, summary.Recoveries, summary.RecordsWritten)
	}
	return summary, err
}
