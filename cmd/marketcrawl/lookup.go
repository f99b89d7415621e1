package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"marketcrawl/internal/lookup"
	"marketcrawl/pkg/auth"
	"marketcrawl/pkg/config"
	"marketcrawl/pkg/ledger"
	"marketcrawl/pkg/logger"
	"marketcrawl/pkg/marketapi"
	"marketcrawl/pkg/ratelimit"
	"marketcrawl/pkg/storage"
	"marketcrawl/pkg/ui"
)

var (
	lookupConcurrency int
	lookupToken       string
)

// lookupCmd groups the metadata API commands
var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Query the item metadata API",
	Long: `Query the item metadata API with a pool of workers sharing one rate limit.

Completed keys are written to the lookup ledger, so a rerun only fetches
what is missing. Undecodable answers are written to the error log.`,
}

var lookupGoodsCmd = &cobra.Command{
	Use:   "goods [ids-file]",
	Short: "Fetch the metadata document of every item id",
	Long: `Fetch the metadata document of every item id and append it to a dated
JSON lines file in the goods directory.

Ids are read one per line from ids-file. Without a file, the ids are
collected from the documents written by 'lookup ids'.`,
	Example: `  marketcrawl lookup goods ids.txt
  marketcrawl lookup goods --concurrency 3`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLookupGoods,
}

var lookupIDsCmd = &cobra.Command{
	Use:   "ids <names-file>",
	Short: "Search item ids for every name in a file",
	Long: `Search the item ids matching every name in names-file (one per line) and
save the matches of each name as one JSON document in the ids directory.`,
	Example: `  marketcrawl lookup ids names.txt`,
	Args:    cobra.ExactArgs(1),
	Run:     runLookupIDs,
}

func init() {
	rootCmd.AddCommand(lookupCmd)
	lookupCmd.AddCommand(lookupGoodsCmd)
	lookupCmd.AddCommand(lookupIDsCmd)

	lookupCmd.PersistentFlags().IntVar(&lookupConcurrency, "concurrency", 0, "number of concurrent workers")
	lookupCmd.PersistentFlags().StringVar(&lookupToken, "api-token", "", "API token (overrides the stored token)")
}

// lookupEnv holds what both lookup commands share
type lookupEnv struct {
	cfg      *config.Config
	log      logger.Logger
	client   *marketapi.Client
	limiter  *ratelimit.TokenBucket
	ledger   *ledger.Ledger
	errorLog logger.Logger
	closers  []func() error
}

func (e *lookupEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}

func newLookupEnv() (*lookupEnv, error) {
	flags := make(map[string]interface{})
	if lookupConcurrency > 0 {
		flags["concurrency"] = lookupConcurrency
	}
	if lookupToken != "" {
		flags["api-token"] = lookupToken
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := setupLogger(cfg)
	if err != nil {
		return nil, err
	}

	if manager, err := auth.NewManager(); err == nil {
		if token, err := manager.ResolveToken(cfg.Lookup.APIToken, cfg.Lookup.Account); err == nil {
			cfg.Lookup.APIToken = token
		}
	} else {
		log.WithError(err).Warn("Credential manager unavailable")
	}
	if err := cfg.ValidateLookup(); err != nil {
		return nil, err
	}

	env := &lookupEnv{cfg: cfg, log: log}

	env.limiter = ratelimit.NewTokenBucket(cfg.Lookup.Capacity, cfg.Lookup.RecoveryRate)
	env.client = marketapi.NewClient(cfg.Lookup.BaseURL, cfg.Lookup.APIToken, log,
		marketapi.WithLimiter(env.limiter),
		marketapi.WithTimeout(cfg.Lookup.Timeout),
	)

	env.ledger, err = ledger.Open(cfg.Lookup.LedgerFile, log)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, env.ledger.Close)

	errFile, err := os.OpenFile(cfg.Lookup.ErrorLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}
	env.closers = append(env.closers, errFile.Close)
	env.errorLog, err = logger.NewWithWriter(&config.LoggingConfig{Level: "warn"}, errFile)
	if err != nil {
		env.Close()
		return nil, err
	}

	return env, nil
}

func (e *lookupEnv) run(ctx context.Context, processor lookup.Processor, keys []string, label string) (lookup.Stats, error) {
	poolCfg := lookup.DefaultConfig()
	poolCfg.Workers = e.cfg.Lookup.Concurrency
	poolCfg.MaxRetries = e.cfg.Lookup.MaxRetries
	poolCfg.FreezeDuration = e.cfg.Lookup.FreezeDuration

	pool := lookup.NewWorkerPool(ctx, poolCfg, processor, e.ledger, e.limiter, e.errorLog, e.log)
	tracker := ui.NewStatusTracker(label, len(keys))

	stats, err := pool.Run(keys, func(r lookup.Result) {
		tracker.Observe(r.Success, r.Skipped)
	})
	fmt.Fprintln(os.Stderr)

	e.log.WithFields(map[string]interface{}{
		"kind":      processor.Kind(),
		"submitted": stats.Submitted,
		"succeeded": stats.Succeeded,
		"skipped":   stats.Skipped,
		"failed":    stats.Failed,
		"records":   stats.Records,
	}).Info("Lookup finished")
	return stats, err
}

func runLookupGoods(cmd *cobra.Command, args []string) {
	env, err := newLookupEnv()
	if err != nil {
		ui.PrintError("Lookup setup failed", err.Error())
		os.Exit(1)
	}
	defer env.Close()

	var ids []string
	if len(args) == 1 {
		ids, err = readLines(args[0])
	} else {
		ids, err = collectSearchedIDs(env.cfg.Lookup.IDsDir)
	}
	if err != nil {
		ui.PrintError("Failed to read ids", err.Error())
		os.Exit(1)
	}
	if len(ids) == 0 {
		ui.PrintWarning("No ids to fetch")
		return
	}

	outPath := filepath.Join(env.cfg.Lookup.GoodsDir, "goods_"+time.Now().Format("2006-01-02")+".jsonl")
	sink, err := storage.OpenSink(outPath)
	if err != nil {
		ui.PrintError("Failed to open output", err.Error())
		os.Exit(1)
	}
	defer sink.Close()

	ui.PrintInfo("Ids", fmt.Sprintf("%d", len(ids)))
	ui.PrintInfo("Output", sink.Path())

	ctx, stop := signalContext()
	defer stop()

	stats, err := env.run(ctx, &lookup.GoodsProcessor{Client: env.client, Output: sink}, ids, "goods")
	if err != nil {
		ui.PrintError("Lookup interrupted", err.Error())
		os.Exit(1)
	}
	reportStats(stats, env.cfg.Lookup.ErrorLog)
}

func runLookupIDs(cmd *cobra.Command, args []string) {
	env, err := newLookupEnv()
	if err != nil {
		ui.PrintError("Lookup setup failed", err.Error())
		os.Exit(1)
	}
	defer env.Close()

	names, err := readLines(args[0])
	if err != nil {
		ui.PrintError("Failed to read names", err.Error())
		os.Exit(1)
	}

	store, err := storage.NewManager(env.cfg.Lookup.IDsDir)
	if err != nil {
		ui.PrintError("Failed to open ids directory", err.Error())
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	processor := &lookup.SearchProcessor{
		Client:   env.client,
		Store:    store,
		PageSize: env.cfg.Lookup.PageSize,
	}
	stats, err := env.run(ctx, processor, names, "ids")
	if err != nil {
		ui.PrintError("Lookup interrupted", err.Error())
		os.Exit(1)
	}
	reportStats(stats, env.cfg.Lookup.ErrorLog)
}

func reportStats(stats lookup.Stats, errorLog string) {
	ui.PrintSuccess(fmt.Sprintf("%d fetched, %d already done, %d records", stats.Succeeded, stats.Skipped, stats.Records))
	if stats.Failed > 0 {
		ui.PrintWarning(fmt.Sprintf("%d failed, rerun to retry", stats.Failed), "see "+errorLog)
	}
}

// collectSearchedIDs gathers the ids from every document in dir
func collectSearchedIDs(dir string) ([]string, error) {
	store, err := storage.NewManager(dir)
	if err != nil {
		return nil, err
	}

	var docs [][]json.RawMessage
	for _, name := range store.Names() {
		var items []json.RawMessage
		if err := store.LoadJSON(name, &items); err != nil {
			return nil, err
		}
		docs = append(docs, items)
	}
	return lookup.CollectIDs(docs), nil
}

// readLines returns the non-empty trimmed lines of a file
func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
