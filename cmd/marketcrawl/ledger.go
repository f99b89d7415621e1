package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"marketcrawl/pkg/ledger"
	"marketcrawl/pkg/models"
	"marketcrawl/pkg/strategy"
	"marketcrawl/pkg/ui"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the work ledger",
}

var ledgerStatusCmd = &cobra.Command{
	Use:   "status <targets-file>",
	Short: "Show how much of each target is already fetched",
	Long: `Replay the work ledger and print, for every target in the file, whether it
was fully paginated or how many of its partition units are still missing.
Nothing is fetched and the ledger is not modified.`,
	Args: cobra.ExactArgs(1),
	Run:  runLedgerStatus,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerStatusCmd)
	ledgerStatusCmd.Flags().StringVar(&ledgerFile, "ledger", "", "work ledger file")
}

func runLedgerStatus(cmd *cobra.Command, args []string) {
	targets, err := models.ReadTargetsFile(args[0])
	if err != nil {
		ui.PrintError("Failed to read targets", err.Error())
		os.Exit(1)
	}

	flags := make(map[string]interface{})
	if ledgerFile != "" {
		flags["ledger"] = ledgerFile
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	completed, skipped, err := replayLedger(cfg.Output.LedgerFile)
	if err != nil {
		ui.PrintError("Failed to replay ledger", err.Error())
		os.Exit(1)
	}

	partitioner := &strategy.Partitioner{Step: cfg.Strategy.Step, DropOut: cfg.Strategy.DropOut}

	done := 0
	for _, target := range targets {
		if completed.FullyPaginated(target.ID) {
			done++
			fmt.Printf("%s\tdone (paginated)\n", target.ID)
			continue
		}

		units := partitioner.Units(target)
		missing := 0
		for _, unit := range units {
			if !completed.Contains(unit) {
				missing++
			}
		}
		switch {
		case len(units) == 0:
			fmt.Printf("%s\tpending (paginate)\n", target.ID)
		case missing == 0:
			done++
			fmt.Printf("%s\tdone (%d units)\n", target.ID, len(units))
		default:
			fmt.Printf("%s\t%d/%d units missing\n", target.ID, missing, len(units))
		}
	}

	ui.PrintInfo("Complete", fmt.Sprintf("%d/%d targets", done, len(targets)))
	if skipped > 0 {
		ui.PrintWarning("Unparseable ledger lines", skipped)
	}
}

func replayLedger(path string) (*ledger.Completed, int, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return ledger.Replay(strings.NewReader(""))
	}
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()
	return ledger.Replay(file)
}
