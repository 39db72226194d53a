// Package config provides configuration management for the wheel assistant.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/stamford_wheeler/internal/ranking"
)

const (
	// defaultRunInterval is used when schedule.run_interval is unset
	defaultRunInterval = 15 * time.Minute
	// defaultMaxAllocationPct caps per-symbol exposure when puts.max_allocation_pct is unset
	defaultMaxAllocationPct = 20.0
	// defaultMinScore is the put screening floor when puts.min_score is unset
	defaultMinScore = 50.0
	// defaultAssignmentLookbackDays bounds the transaction window scanned for assignments
	defaultAssignmentLookbackDays = 7
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Watchlist   WatchlistConfig   `yaml:"watchlist"`
	Ranking     ranking.Config    `yaml:"ranking"`
	Puts        PutsConfig        `yaml:"puts"`
	Assignments AssignmentsConfig `yaml:"assignments"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Storage     StorageConfig     `yaml:"storage"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // sim | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings. Secrets should be supplied via
// ${VAR} references expanded from the environment.
type BrokerConfig struct {
	AppKey        string `yaml:"app_key"`
	AppSecret     string `yaml:"app_secret"`
	RefreshToken  string `yaml:"refresh_token"`
	AccountHash   string `yaml:"account_hash"`
	BaseURL       string `yaml:"base_url"`
	MarketDataURL string `yaml:"market_data_url"`
	AuthURL       string `yaml:"auth_url"`
	Timeout       string `yaml:"timeout"`
}

// ScheduleConfig defines when orchestrated runs happen.
type ScheduleConfig struct {
	RunInterval    string `yaml:"run_interval"`
	Timezone       string `yaml:"timezone"`      // e.g., "America/New_York"
	TradingStart   string `yaml:"trading_start"` // "HH:MM"
	TradingEnd     string `yaml:"trading_end"`   // "HH:MM"
	AfterHoursRuns bool   `yaml:"after_hours_runs"`
}

// WatchlistConfig lists the symbols scanned each run.
type WatchlistConfig struct {
	Symbols []string `yaml:"symbols"`
}

// PutsConfig tunes the cash-secured put screen.
type PutsConfig struct {
	MaxAllocationPct float64 `yaml:"max_allocation_pct"`
	MinScore         float64 `yaml:"min_score"`
}

// AssignmentsConfig tunes the assignment detector.
type AssignmentsConfig struct {
	LookbackDays int `yaml:"lookback_days"`
}

// MonitorConfig defines the alert monitor and its HTTP surface.
type MonitorConfig struct {
	Enabled       bool    `yaml:"enabled"`
	ListenAddr    string  `yaml:"listen_addr"`
	Interval      string  `yaml:"interval"`
	PriceMovePct  float64 `yaml:"price_move_pct"`
	VolumeSpike   float64 `yaml:"volume_spike"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
}

// StorageConfig defines where run outputs and the assignment ledger live.
type StorageConfig struct {
	DataDir       string `yaml:"data_dir"`
	AssignmentsDB string `yaml:"assignments_db"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent,
// and fills in defaults for optional sections.
func (c *Config) Validate() error {
	// Environment validation
	if c.Environment.Mode != "sim" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'sim' or 'live'")
	}

	// Broker credentials are only required against the real API
	if c.Environment.Mode == "live" {
		if c.Broker.AppKey == "" {
			return fmt.Errorf("broker.app_key is required in live mode")
		}
		if c.Broker.AppSecret == "" {
			return fmt.Errorf("broker.app_secret is required in live mode")
		}
		if c.Broker.AccountHash == "" {
			return fmt.Errorf("broker.account_hash is required in live mode")
		}
	}
	if c.Broker.Timeout != "" {
		if _, err := time.ParseDuration(c.Broker.Timeout); err != nil {
			return fmt.Errorf("broker.timeout invalid: %w", err)
		}
	}

	// Watchlist validation
	if len(c.Watchlist.Symbols) == 0 {
		return fmt.Errorf("watchlist.symbols must list at least one symbol")
	}
	seen := make(map[string]bool, len(c.Watchlist.Symbols))
	for i, sym := range c.Watchlist.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			return fmt.Errorf("watchlist.symbols[%d] is empty", i)
		}
		if seen[sym] {
			return fmt.Errorf("watchlist.symbols contains duplicate %q", sym)
		}
		seen[sym] = true
		c.Watchlist.Symbols[i] = sym
	}

	c.normalizeScreens()

	// Ranking validation
	if c.Ranking.MinScore < 0 || c.Ranking.MinScore > 100 {
		return fmt.Errorf("ranking.min_score must be between 0 and 100")
	}
	if c.Ranking.MaxPerSide < 0 {
		return fmt.Errorf("ranking.max_per_side must be >= 0")
	}

	// Put screen validation
	if c.Puts.MaxAllocationPct <= 0 || c.Puts.MaxAllocationPct > 100 {
		return fmt.Errorf("puts.max_allocation_pct must be in (0,100]")
	}
	if c.Puts.MinScore < 0 || c.Puts.MinScore > 100 {
		return fmt.Errorf("puts.min_score must be between 0 and 100")
	}

	if c.Assignments.LookbackDays <= 0 {
		return fmt.Errorf("assignments.lookback_days must be > 0")
	}

	// Monitor validation
	if c.Monitor.Enabled {
		if c.Monitor.ListenAddr == "" {
			return fmt.Errorf("monitor.listen_addr is required when monitor is enabled")
		}
		if _, err := time.ParseDuration(c.Monitor.Interval); err != nil {
			return fmt.Errorf("monitor.interval invalid: %w", err)
		}
		if c.Monitor.RSIOversold >= c.Monitor.RSIOverbought {
			return fmt.Errorf("monitor.rsi_oversold (%.1f) must be < monitor.rsi_overbought (%.1f)",
				c.Monitor.RSIOversold, c.Monitor.RSIOverbought)
		}
	}

	// Schedule validation
	if c.Schedule.RunInterval != "" {
		if _, err := time.ParseDuration(c.Schedule.RunInterval); err != nil {
			return fmt.Errorf("schedule.run_interval invalid: %w", err)
		}
	}
	if c.Schedule.TradingStart != "" || c.Schedule.TradingEnd != "" {
		loc := c.location()
		s, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
		e, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
		if err1 != nil || err2 != nil || (s.Hour() > e.Hour() || (s.Hour() == e.Hour() && s.Minute() >= e.Minute())) {
			return fmt.Errorf("schedule trading window invalid (start/end parse/order)")
		}
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}

	return nil
}

// IsSimulated returns true when runs use the simulated broker.
func (c *Config) IsSimulated() bool {
	return c.Environment.Mode == "sim"
}

// RunInterval returns the configured interval between orchestrated runs.
func (c *Config) RunInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.RunInterval)
	if err != nil || d <= 0 {
		return defaultRunInterval
	}
	return d
}

// BrokerTimeout returns the configured HTTP timeout, zero when unset.
func (c *Config) BrokerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Broker.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// MonitorInterval returns the configured alert scan interval.
func (c *Config) MonitorInterval() time.Duration {
	d, err := time.ParseDuration(c.Monitor.Interval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// AssignmentLookback returns the transaction window scanned for assignments.
func (c *Config) AssignmentLookback() time.Duration {
	return time.Duration(c.Assignments.LookbackDays) * 24 * time.Hour
}

// IsWithinTradingHours checks if the given time falls within configured
// trading hours. An unset window means runs are always allowed.
func (c *Config) IsWithinTradingHours(now time.Time) bool {
	if c.Schedule.AfterHoursRuns {
		return true
	}
	if c.Schedule.TradingStart == "" || c.Schedule.TradingEnd == "" {
		return true
	}
	loc := c.location()
	today := now.In(loc)

	// Only allow Monday–Friday runs
	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	startClock, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	endClock, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if err1 != nil || err2 != nil {
		// Safe defaults if misconfigured
		startClock = time.Date(0, 1, 1, 9, 30, 0, 0, loc)
		endClock = time.Date(0, 1, 1, 16, 0, 0, 0, loc)
	}
	start := time.Date(today.Year(), today.Month(), today.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)

	// Inclusive start, exclusive end
	return !today.Before(start) && today.Before(end)
}

func (c *Config) location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Fallback for minimal containers
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// normalizeScreens fills defaults for the ranking and put screen sections so
// a config can omit them entirely.
func (c *Config) normalizeScreens() {
	def := ranking.DefaultConfig()
	if c.Ranking.PutWeights == (ranking.PutWeights{}) {
		c.Ranking.PutWeights = def.PutWeights
	}
	if c.Ranking.CallWeights == (ranking.CallWeights{}) {
		c.Ranking.CallWeights = def.CallWeights
	}
	if c.Ranking.MinScore == 0 {
		c.Ranking.MinScore = def.MinScore
	}
	if c.Ranking.MaxPerSide == 0 {
		c.Ranking.MaxPerSide = def.MaxPerSide
	}
	if c.Puts.MaxAllocationPct == 0 {
		c.Puts.MaxAllocationPct = defaultMaxAllocationPct
	}
	if c.Puts.MinScore == 0 {
		c.Puts.MinScore = defaultMinScore
	}
	if c.Assignments.LookbackDays == 0 {
		c.Assignments.LookbackDays = defaultAssignmentLookbackDays
	}
	if c.Monitor.Enabled {
		if c.Monitor.PriceMovePct == 0 {
			c.Monitor.PriceMovePct = 3.0
		}
		if c.Monitor.VolumeSpike == 0 {
			c.Monitor.VolumeSpike = 2.0
		}
		if c.Monitor.RSIOversold == 0 {
			c.Monitor.RSIOversold = 30
		}
		if c.Monitor.RSIOverbought == 0 {
			c.Monitor.RSIOverbought = 70
		}
	}
	if c.Storage.AssignmentsDB == "" && c.Storage.DataDir != "" {
		c.Storage.AssignmentsDB = c.Storage.DataDir + "/assignments.db"
	}
}
