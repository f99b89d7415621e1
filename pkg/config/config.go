package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the marketplace crawler
type Config struct {
	// Browser session settings
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// Admission control for the browsing session
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Pagination vs partition settings
	Strategy StrategyConfig `yaml:"strategy" json:"strategy"`

	// Session recovery settings
	Recovery RecoveryConfig `yaml:"recovery" json:"recovery"`

	// Output and ledger files
	Output OutputConfig `yaml:"output" json:"output"`

	// Metadata API lookups
	Lookup LookupConfig `yaml:"lookup" json:"lookup"`

	// Notification preferences
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// BrowserConfig holds browser automation settings
type BrowserConfig struct {
	UserDataDir       string         `yaml:"user_data_dir" json:"user_data_dir"`
	BinPath           string         `yaml:"bin_path" json:"bin_path"`
	RemoteURL         string         `yaml:"remote_url" json:"remote_url"`
	Headless          bool           `yaml:"headless" json:"headless"`
	RootURL           string         `yaml:"root_url" json:"root_url"`
	ListingURL        string         `yaml:"listing_url" json:"listing_url"`
	ResponseMatch     string         `yaml:"response_match" json:"response_match"`
	FingerprintKey    string         `yaml:"fingerprint_key" json:"fingerprint_key"`
	LoginIndicator    string         `yaml:"login_indicator" json:"login_indicator"`
	NavigationTimeout time.Duration  `yaml:"navigation_timeout" json:"navigation_timeout"`
	Viewport          ViewportConfig `yaml:"viewport" json:"viewport"`
	Selectors         SelectorConfig `yaml:"selectors" json:"selectors"`
}

// ViewportConfig bounds the window sizes cycled across sessions
type ViewportConfig struct {
	MinWidth  int `yaml:"min_width" json:"min_width"`
	MaxWidth  int `yaml:"max_width" json:"max_width"`
	MinHeight int `yaml:"min_height" json:"min_height"`
	MaxHeight int `yaml:"max_height" json:"max_height"`
}

// SelectorConfig overrides the browser adapter's built-in selectors. Empty values keep the defaults.
type SelectorConfig struct {
	PartitionToggle   string `yaml:"partition_toggle" json:"partition_toggle"`
	CustomOptionText  string `yaml:"custom_option_text" json:"custom_option_text"`
	MinInput          string `yaml:"min_input" json:"min_input"`
	MaxInput          string `yaml:"max_input" json:"max_input"`
	ConfirmButton     string `yaml:"confirm_button" json:"confirm_button"`
	ConfirmText       string `yaml:"confirm_text" json:"confirm_text"`
	NextPage          string `yaml:"next_page" json:"next_page"`
	NextDisabledClass string `yaml:"next_disabled_class" json:"next_disabled_class"`
}

// RateLimitConfig holds token bucket settings
type RateLimitConfig struct {
	Capacity       float64       `yaml:"capacity" json:"capacity"`
	RecoveryRate   float64       `yaml:"recovery_rate" json:"recovery_rate"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`
	FreezeDuration time.Duration `yaml:"freeze_duration" json:"freeze_duration"`
}

// StrategyConfig holds the cost model and partition layout
type StrategyConfig struct {
	PageSize         int     `yaml:"page_size" json:"page_size"`
	TrivialThreshold int     `yaml:"trivial_threshold" json:"trivial_threshold"`
	PageCost         float64 `yaml:"page_cost" json:"page_cost"`
	UnitCost         float64 `yaml:"unit_cost" json:"unit_cost"`
	Step             float64 `yaml:"step" json:"step"`
	DropOut          float64 `yaml:"drop_out" json:"drop_out"`
}

// RecoveryConfig holds session recovery settings
type RecoveryConfig struct {
	MaxResetAttempts int           `yaml:"max_reset_attempts" json:"max_reset_attempts"`
	ResetBackoff     time.Duration `yaml:"reset_backoff" json:"reset_backoff"`
	RetryDelay       time.Duration `yaml:"retry_delay" json:"retry_delay"`
	SettleDelay      time.Duration `yaml:"settle_delay" json:"settle_delay"`
	ResetOnStart     bool          `yaml:"reset_on_start" json:"reset_on_start"`
	MaxPasses        int           `yaml:"max_passes" json:"max_passes"`
}

// OutputConfig holds output file locations
type OutputConfig struct {
	File       string `yaml:"file" json:"file"`
	LedgerFile string `yaml:"ledger_file" json:"ledger_file"`
}

// LookupConfig holds metadata API settings
type LookupConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	APIToken       string        `yaml:"api_token" json:"api_token"`
	Account        string        `yaml:"account" json:"account"`
	Concurrency    int           `yaml:"concurrency" json:"concurrency"`
	Capacity       float64       `yaml:"capacity" json:"capacity"`
	RecoveryRate   float64       `yaml:"recovery_rate" json:"recovery_rate"`
	FreezeDuration time.Duration `yaml:"freeze_duration" json:"freeze_duration"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	PageSize       int           `yaml:"page_size" json:"page_size"`
	GoodsDir       string        `yaml:"goods_dir" json:"goods_dir"`
	IDsDir         string        `yaml:"ids_dir" json:"ids_dir"`
	LedgerFile     string        `yaml:"ledger_file" json:"ledger_file"`
	ErrorLog       string        `yaml:"error_log" json:"error_log"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	OnComplete       bool   `yaml:"on_complete" json:"on_complete"`
	OnError          bool   `yaml:"on_error" json:"on_error"`
	OnThrottle       bool   `yaml:"on_throttle" json:"on_throttle"`
	NotificationType string `yaml:"notification_type" json:"notification_type"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		Browser: BrowserConfig{
			UserDataDir:       filepath.Join(home, "chrome"),
			Headless:          false,
			RootURL:           "https://www.youpin898.com/market/",
			ListingURL:        "https://www.youpin898.com/market/goods-list?listType=10&templateId={id}",
			ResponseMatch:     "queryOnSaleCommodityList",
			FingerprintKey:    "WEB_UK",
			LoginIndicator:    "SMS Login",
			NavigationTimeout: 30 * time.Second,
			Viewport: ViewportConfig{
				MinWidth:  1901,
				MaxWidth:  1919,
				MinHeight: 1051,
				MaxHeight: 1079,
			},
		},
		RateLimit: RateLimitConfig{
			Capacity:       1,
			RecoveryRate:   0.4,
			PollInterval:   500 * time.Millisecond,
			FreezeDuration: 5 * time.Second,
		},
		Strategy: StrategyConfig{
			PageSize:         10,
			TrivialThreshold: 10,
			PageCost:         1,
			UnitCost:         1,
			Step:             0.01,
			DropOut:          1.0,
		},
		Recovery: RecoveryConfig{
			MaxResetAttempts: 5,
			ResetBackoff:     time.Second,
			RetryDelay:       3 * time.Second,
			SettleDelay:      5 * time.Second,
			ResetOnStart:     true,
			MaxPasses:        0, // 0 means no limit
		},
		Output: OutputConfig{
			File:       "scraped_data.jsonl",
			LedgerFile: "scrape.log",
		},
		Lookup: LookupConfig{
			BaseURL:        "https://api.csqaq.com",
			Concurrency:    5,
			Capacity:       1,
			RecoveryRate:   1,
			FreezeDuration: 5 * time.Second,
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			PageSize:       500,
			GoodsDir:       "WeaponsINFO",
			IDsDir:         "WeaponsID",
			LedgerFile:     "lookup.log",
			ErrorLog:       "error.log",
		},
		Notifications: NotificationConfig{
			Enabled:          true,
			OnComplete:       true,
			OnError:          true,
			OnThrottle:       false,
			NotificationType: "terminal",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	// Browser profile, with the legacy variable names as fallback
	if dir := firstEnv("MARKETCRAWL_USER_DATA_DIR", "CS2_USER_DATA_DIR"); dir != "" {
		c.Browser.UserDataDir = dir
	}
	if bin := os.Getenv("MARKETCRAWL_BROWSER_BIN"); bin != "" {
		c.Browser.BinPath = bin
	}
	if remote := os.Getenv("MARKETCRAWL_BROWSER_URL"); remote != "" {
		c.Browser.RemoteURL = remote
	}
	if headless := os.Getenv("MARKETCRAWL_HEADLESS"); headless != "" {
		c.Browser.Headless = strings.ToLower(headless) == "true"
	}

	// Rate limiting
	if capacity := os.Getenv("MARKETCRAWL_RATE_CAPACITY"); capacity != "" {
		val, err := strconv.ParseFloat(capacity, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MARKETCRAWL_RATE_CAPACITY: %w", err))
		} else if val > 0 {
			c.RateLimit.Capacity = val
		}
	}
	if rate := os.Getenv("MARKETCRAWL_RECOVERY_RATE"); rate != "" {
		val, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MARKETCRAWL_RECOVERY_RATE: %w", err))
		} else if val > 0 {
			c.RateLimit.RecoveryRate = val
		}
	}

	// Output files
	if output := firstEnv("MARKETCRAWL_OUTPUT_FILE", "CS2_OUTPUT_FILE"); output != "" {
		c.Output.File = output
	}
	if ledger := os.Getenv("MARKETCRAWL_LEDGER_FILE"); ledger != "" {
		c.Output.LedgerFile = ledger
	}

	// Metadata API
	if token := firstEnv("MARKETCRAWL_API_TOKEN", "cs_api_token"); token != "" {
		c.Lookup.APIToken = token
	}
	if concurrency := os.Getenv("MARKETCRAWL_LOOKUP_CONCURRENCY"); concurrency != "" {
		val, err := strconv.Atoi(concurrency)
		if err != nil {
			errs = append(errs, fmt.Errorf("MARKETCRAWL_LOOKUP_CONCURRENCY: %w", err))
		} else if val > 0 {
			c.Lookup.Concurrency = val
		}
	}

	// Notifications
	if notifEnabled := os.Getenv("MARKETCRAWL_NOTIFICATIONS_ENABLED"); notifEnabled != "" {
		c.Notifications.Enabled = strings.ToLower(notifEnabled) == "true"
	}

	// Logging level
	if logLevel := os.Getenv("MARKETCRAWL_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return errors.Join(errs...)
}

// firstEnv returns the first non-empty environment variable among keys
func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")

	// Check in order of precedence
	locations := []string{
		".marketcrawl.yaml",
		".marketcrawl.yml",
		filepath.Join(home, ".config", "marketcrawl", "config.yaml"),
		filepath.Join(home, ".config", "marketcrawl", "config.yml"),
		filepath.Join(home, ".marketcrawl.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Browser
	if c.Browser.ListingURL == "" || !strings.Contains(c.Browser.ListingURL, "{id}") {
		errs = append(errs, errors.New("browser listing URL must contain the {id} placeholder"))
	}
	if c.Browser.ResponseMatch == "" {
		errs = append(errs, errors.New("browser response match is required"))
	}
	if c.Browser.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("navigation timeout must be positive"))
	}
	if c.Browser.Viewport.MinWidth > c.Browser.Viewport.MaxWidth ||
		c.Browser.Viewport.MinHeight > c.Browser.Viewport.MaxHeight {
		errs = append(errs, errors.New("viewport minimum exceeds maximum"))
	}

	// Rate limiting
	if c.RateLimit.Capacity < 1 {
		errs = append(errs, errors.New("rate limit capacity must be at least 1"))
	}
	if c.RateLimit.RecoveryRate <= 0 {
		errs = append(errs, errors.New("rate limit recovery rate must be positive"))
	}
	if c.RateLimit.FreezeDuration < 0 {
		errs = append(errs, errors.New("freeze duration cannot be negative"))
	}

	// Strategy
	if c.Strategy.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if c.Strategy.TrivialThreshold < 0 {
		errs = append(errs, errors.New("trivial threshold cannot be negative"))
	}
	if c.Strategy.Step <= 0 {
		errs = append(errs, errors.New("partition step must be positive"))
	}
	if c.Strategy.PageCost <= 0 || c.Strategy.UnitCost <= 0 {
		errs = append(errs, errors.New("strategy costs must be positive"))
	}

	// Recovery
	if c.Recovery.MaxResetAttempts <= 0 {
		errs = append(errs, errors.New("max reset attempts must be positive"))
	}
	if c.Recovery.MaxPasses < 0 {
		errs = append(errs, errors.New("max passes cannot be negative"))
	}

	// Output
	if c.Output.File == "" {
		errs = append(errs, errors.New("output file is required"))
	}
	if c.Output.LedgerFile == "" {
		errs = append(errs, errors.New("ledger file is required"))
	}

	// Lookup
	if c.Lookup.Concurrency <= 0 {
		errs = append(errs, errors.New("lookup concurrency must be positive"))
	}
	if c.Lookup.Concurrency > 20 {
		errs = append(errs, errors.New("lookup concurrency should not exceed 20"))
	}

	// Validate logging
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	// Validate notification type
	validNotifTypes := map[string]bool{
		"terminal": true, "desktop": true, "none": true,
	}
	if !validNotifTypes[strings.ToLower(c.Notifications.NotificationType)] {
		errs = append(errs, errors.New("invalid notification type"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidateLookup checks the settings needed by the metadata API commands
func (c *Config) ValidateLookup() error {
	if c.Lookup.BaseURL == "" {
		return errors.New("lookup base URL is required")
	}
	if c.Lookup.APIToken == "" {
		return errors.New("API token is required (use 'marketcrawl auth set' or MARKETCRAWL_API_TOKEN)")
	}
	if c.Lookup.Capacity < 1 || c.Lookup.RecoveryRate <= 0 {
		return errors.New("lookup rate limit must have capacity >= 1 and a positive recovery rate")
	}
	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if output, ok := flags["output"].(string); ok && output != "" {
		c.Output.File = output
	}
	if ledger, ok := flags["ledger"].(string); ok && ledger != "" {
		c.Output.LedgerFile = ledger
	}
	if dir, ok := flags["user-data-dir"].(string); ok && dir != "" {
		c.Browser.UserDataDir = dir
	}
	if headless, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = headless
	}
	if capacity, ok := flags["capacity"].(float64); ok && capacity > 0 {
		c.RateLimit.Capacity = capacity
	}
	if rate, ok := flags["recovery-rate"].(float64); ok && rate > 0 {
		c.RateLimit.RecoveryRate = rate
	}
	if step, ok := flags["step"].(float64); ok && step > 0 {
		c.Strategy.Step = step
	}
	if dropOut, ok := flags["drop-out"].(float64); ok && dropOut > 0 {
		c.Strategy.DropOut = dropOut
	}
	if passes, ok := flags["max-passes"].(int); ok && passes >= 0 {
		c.Recovery.MaxPasses = passes
	}
	if concurrency, ok := flags["concurrency"].(int); ok && concurrency > 0 {
		c.Lookup.Concurrency = concurrency
	}
	if token, ok := flags["api-token"].(string); ok && token != "" {
		c.Lookup.APIToken = token
	}
	if enabled, ok := flags["notifications-enabled"].(bool); ok {
		c.Notifications.Enabled = enabled
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".marketcrawl.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
