package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"pyramid-trading-bot/internal/auth"
	"pyramid-trading-bot/internal/circuit"
	"pyramid-trading-bot/internal/database"
	"pyramid-trading-bot/internal/logging"
	"pyramid-trading-bot/internal/pyramid"
	"pyramid-trading-bot/internal/swingstore"
)

type Config struct {
	LoggingConfig        LoggingConfig        `json:"logging"`
	PyramidConfig        PyramidConfig        `json:"pyramid"`
	MarketConfig         MarketConfig         `json:"market"`
	BacktestConfig       BacktestConfig       `json:"backtest"`
	LiveConfig           LiveConfig           `json:"live"`
	CircuitBreakerConfig CircuitBreakerConfig `json:"circuit_breaker"`
	ServerConfig         ServerConfig         `json:"server"`
	AuthConfig           AuthConfig           `json:"auth"`
	RedisConfig          RedisConfig          `json:"redis"`
	DatabaseConfig       DatabaseConfig       `json:"database"`
	ClickHouseConfig     ClickHouseConfig     `json:"clickhouse"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// PyramidConfig mirrors pyramid.Config
type PyramidConfig struct {
	Leverage                 float64   `json:"leverage"`
	BaseRiskPercent          float64   `json:"base_risk_percent"`
	MaxPyramidLevels         int       `json:"max_pyramid_levels"`
	ConfluenceThresholds     []int     `json:"confluence_thresholds"`
	SizeMultipliers          []float64 `json:"size_multipliers"`
	InitialStopPercent       float64   `json:"initial_stop_percent"`
	TrailingStopPercent      float64   `json:"trailing_stop_percent"`
	TakeProfitPercent        float64   `json:"take_profit_percent"`
	MinConfluenceToEnter     int       `json:"min_confluence_to_enter"`
	MinConfluenceToAdd       int       `json:"min_confluence_to_add"`
	FundingRateThreshold     float64   `json:"funding_rate_threshold"`
	LiquidationBufferPercent float64   `json:"liquidation_buffer_percent"`
}

// MarketConfig holds exchange cost parameters
type MarketConfig struct {
	MaintenanceMarginRate float64 `json:"maintenance_margin_rate"`
	FeeRate               float64 `json:"fee_rate"`
	FundingRateAvg        float64 `json:"funding_rate_avg"`
	FundingIntervalHours  float64 `json:"funding_interval_hours"`
}

// BacktestConfig holds defaults for backtest runs
type BacktestConfig struct {
	StartingCapital float64 `json:"starting_capital"`
	Symbol          string  `json:"symbol"`
	Source          string  `json:"source"`      // "file" or "clickhouse"
	EventsFile      string  `json:"events_file"` // used when source is "file"
	SaveRuns        bool    `json:"save_runs"`
}

// LiveConfig holds live engine configuration
type LiveConfig struct {
	Enabled         bool     `json:"enabled"`
	EngineID        string   `json:"engine_id"`
	Symbols         []string `json:"symbols"`
	StartingCapital float64  `json:"starting_capital"`
	DryRun          bool     `json:"dry_run"`
	MailboxSize     int      `json:"mailbox_size"`
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxLossPerHour       float64 `json:"max_loss_per_hour"`      // Max loss % per hour
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"` // Max losing trades in a row
	CooldownMinutes      int     `json:"cooldown_minutes"`       // Cooldown after trip
	MaxEntriesPerMinute  int     `json:"max_entries_per_minute"` // Rate limit
	MaxDailyLoss         float64 `json:"max_daily_loss"`         // Max daily loss %
	MaxDailyEntries      int     `json:"max_daily_entries"`      // Max entries per day
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`    // Seconds
	WriteTimeout    int    `json:"write_timeout"`   // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// AuthConfig holds operator authentication configuration
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	// Operators is "name:role:bcrypt-hash" entries, comma separated
	Operators string `json:"operators"`
}

// RedisConfig holds Redis configuration for live position snapshots
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
}

// ClickHouseConfig holds the swing event store configuration
type ClickHouseConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	Table    string `json:"table"`
}

// Default returns a configuration with every default filled in
func Default() *Config {
	return &Config{
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		PyramidConfig: DefaultPyramidConfig(),
		MarketConfig:  DefaultMarketConfig(),
		BacktestConfig: BacktestConfig{
			StartingCapital: 10000,
			Symbol:          "BTCUSDT",
			Source:          "file",
			EventsFile:      "swing_events.json",
		},
		LiveConfig: LiveConfig{
			EngineID:        "default",
			Symbols:         []string{"BTCUSDT"},
			StartingCapital: 10000,
			DryRun:          true,
			MailboxSize:     64,
		},
		CircuitBreakerConfig: CircuitBreakerConfig{
			Enabled:              true,
			MaxLossPerHour:       3.0,
			MaxConsecutiveLosses: 5,
			CooldownMinutes:      30,
			MaxEntriesPerMinute:  10,
			MaxDailyLoss:         5.0,
			MaxDailyEntries:      100,
		},
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		AuthConfig: AuthConfig{
			AccessTokenDuration: 24 * time.Hour,
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "pyramid",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		ClickHouseConfig: ClickHouseConfig{
			Addr:     "localhost:9000",
			Database: "default",
			Username: "default",
			Table:    "swing_events",
		},
	}
}

// DefaultPyramidConfig returns the default position sizing and stop rules
func DefaultPyramidConfig() PyramidConfig {
	return PyramidConfig{
		Leverage:                 10,
		BaseRiskPercent:          0.3,
		MaxPyramidLevels:         4,
		ConfluenceThresholds:     []int{15, 20, 25, 30},
		SizeMultipliers:          []float64{1.0, 0.75, 0.5, 0.35},
		InitialStopPercent:       2.0,
		TrailingStopPercent:      1.5,
		TakeProfitPercent:        6.0,
		MinConfluenceToEnter:     15,
		MinConfluenceToAdd:       20,
		FundingRateThreshold:     0.0005,
		LiquidationBufferPercent: 3.0,
	}
}

// DefaultMarketConfig returns typical perpetual futures costs
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		MaintenanceMarginRate: 0.005,
		FeeRate:               0.0004,
		FundingRateAvg:        0.0001,
		FundingIntervalHours:  8,
	}
}

// Load builds the configuration from defaults, then config.json (or
// CONFIG_FILE), then environment variables. A .env file is loaded first if
// present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	path := getEnvOrDefault("CONFIG_FILE", "config.json")
	if err := loadFromFile(path, cfg); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// Pyramid config
	p := &cfg.PyramidConfig
	p.Leverage = getEnvFloatOrDefault("PYRAMID_LEVERAGE", p.Leverage)
	p.BaseRiskPercent = getEnvFloatOrDefault("PYRAMID_BASE_RISK_PERCENT", p.BaseRiskPercent)
	p.MaxPyramidLevels = getEnvIntOrDefault("PYRAMID_MAX_LEVELS", p.MaxPyramidLevels)
	p.ConfluenceThresholds = getEnvIntsOrDefault("PYRAMID_CONFLUENCE_THRESHOLDS", p.ConfluenceThresholds)
	p.SizeMultipliers = getEnvFloatsOrDefault("PYRAMID_SIZE_MULTIPLIERS", p.SizeMultipliers)
	p.InitialStopPercent = getEnvFloatOrDefault("PYRAMID_INITIAL_STOP_PERCENT", p.InitialStopPercent)
	p.TrailingStopPercent = getEnvFloatOrDefault("PYRAMID_TRAILING_STOP_PERCENT", p.TrailingStopPercent)
	p.TakeProfitPercent = getEnvFloatOrDefault("PYRAMID_TAKE_PROFIT_PERCENT", p.TakeProfitPercent)
	p.MinConfluenceToEnter = getEnvIntOrDefault("PYRAMID_MIN_CONFLUENCE_ENTER", p.MinConfluenceToEnter)
	p.MinConfluenceToAdd = getEnvIntOrDefault("PYRAMID_MIN_CONFLUENCE_ADD", p.MinConfluenceToAdd)
	p.FundingRateThreshold = getEnvFloatOrDefault("PYRAMID_FUNDING_RATE_THRESHOLD", p.FundingRateThreshold)
	p.LiquidationBufferPercent = getEnvFloatOrDefault("PYRAMID_LIQUIDATION_BUFFER_PERCENT", p.LiquidationBufferPercent)

	// Market config
	m := &cfg.MarketConfig
	m.MaintenanceMarginRate = getEnvFloatOrDefault("MARKET_MAINTENANCE_MARGIN_RATE", m.MaintenanceMarginRate)
	m.FeeRate = getEnvFloatOrDefault("MARKET_FEE_RATE", m.FeeRate)
	m.FundingRateAvg = getEnvFloatOrDefault("MARKET_FUNDING_RATE_AVG", m.FundingRateAvg)
	m.FundingIntervalHours = getEnvFloatOrDefault("MARKET_FUNDING_INTERVAL_HOURS", m.FundingIntervalHours)

	// Backtest config
	cfg.BacktestConfig.StartingCapital = getEnvFloatOrDefault("BACKTEST_STARTING_CAPITAL", cfg.BacktestConfig.StartingCapital)
	cfg.BacktestConfig.Symbol = getEnvOrDefault("BACKTEST_SYMBOL", cfg.BacktestConfig.Symbol)
	cfg.BacktestConfig.Source = getEnvOrDefault("BACKTEST_SOURCE", cfg.BacktestConfig.Source)
	cfg.BacktestConfig.EventsFile = getEnvOrDefault("BACKTEST_EVENTS_FILE", cfg.BacktestConfig.EventsFile)
	cfg.BacktestConfig.SaveRuns = getEnvBoolOrDefault("BACKTEST_SAVE_RUNS", cfg.BacktestConfig.SaveRuns)

	// Live config
	cfg.LiveConfig.Enabled = getEnvBoolOrDefault("LIVE_ENABLED", cfg.LiveConfig.Enabled)
	cfg.LiveConfig.EngineID = getEnvOrDefault("LIVE_ENGINE_ID", cfg.LiveConfig.EngineID)
	cfg.LiveConfig.Symbols = getEnvListOrDefault("LIVE_SYMBOLS", cfg.LiveConfig.Symbols)
	cfg.LiveConfig.StartingCapital = getEnvFloatOrDefault("LIVE_STARTING_CAPITAL", cfg.LiveConfig.StartingCapital)
	cfg.LiveConfig.DryRun = getEnvBoolOrDefault("LIVE_DRY_RUN", cfg.LiveConfig.DryRun)
	cfg.LiveConfig.MailboxSize = getEnvIntOrDefault("LIVE_MAILBOX_SIZE", cfg.LiveConfig.MailboxSize)

	// Circuit breaker config
	cb := &cfg.CircuitBreakerConfig
	cb.Enabled = getEnvBoolOrDefault("CIRCUIT_BREAKER_ENABLED", cb.Enabled)
	cb.MaxLossPerHour = getEnvFloatOrDefault("CIRCUIT_MAX_LOSS_PER_HOUR", cb.MaxLossPerHour)
	cb.MaxConsecutiveLosses = getEnvIntOrDefault("CIRCUIT_MAX_CONSECUTIVE_LOSSES", cb.MaxConsecutiveLosses)
	cb.CooldownMinutes = getEnvIntOrDefault("CIRCUIT_COOLDOWN_MINUTES", cb.CooldownMinutes)
	cb.MaxDailyLoss = getEnvFloatOrDefault("CIRCUIT_MAX_DAILY_LOSS", cb.MaxDailyLoss)

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", cfg.ServerConfig.ReadTimeout)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", cfg.ServerConfig.WriteTimeout)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", cfg.ServerConfig.ShutdownTimeout)

	// Auth config
	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)
	cfg.AuthConfig.Operators = getEnvOrDefault("AUTH_OPERATORS", cfg.AuthConfig.Operators)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", cfg.RedisConfig.PoolSize)

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Name = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Name)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)
	cfg.DatabaseConfig.MaxConns = getEnvIntOrDefault("DB_MAX_CONNS", cfg.DatabaseConfig.MaxConns)

	// ClickHouse config
	cfg.ClickHouseConfig.Enabled = getEnvBoolOrDefault("CLICKHOUSE_ENABLED", cfg.ClickHouseConfig.Enabled)
	cfg.ClickHouseConfig.Addr = getEnvOrDefault("CLICKHOUSE_ADDR", cfg.ClickHouseConfig.Addr)
	cfg.ClickHouseConfig.Database = getEnvOrDefault("CLICKHOUSE_DATABASE", cfg.ClickHouseConfig.Database)
	cfg.ClickHouseConfig.Username = getEnvOrDefault("CLICKHOUSE_USERNAME", cfg.ClickHouseConfig.Username)
	cfg.ClickHouseConfig.Password = getEnvOrDefault("CLICKHOUSE_PASSWORD", cfg.ClickHouseConfig.Password)
	cfg.ClickHouseConfig.Table = getEnvOrDefault("CLICKHOUSE_TABLE", cfg.ClickHouseConfig.Table)
}

// Pyramid converts the pyramid section into the engine's config
func (c *Config) Pyramid() pyramid.Config {
	p := c.PyramidConfig
	return pyramid.Config{
		Leverage:                 p.Leverage,
		BaseRiskPercent:          p.BaseRiskPercent,
		MaxPyramidLevels:         p.MaxPyramidLevels,
		ConfluenceThresholds:     append([]int(nil), p.ConfluenceThresholds...),
		SizeMultipliers:          append([]float64(nil), p.SizeMultipliers...),
		InitialStopPercent:       p.InitialStopPercent,
		TrailingStopPercent:      p.TrailingStopPercent,
		TakeProfitPercent:        p.TakeProfitPercent,
		MinConfluenceToEnter:     p.MinConfluenceToEnter,
		MinConfluenceToAdd:       p.MinConfluenceToAdd,
		FundingRateThreshold:     p.FundingRateThreshold,
		LiquidationBufferPercent: p.LiquidationBufferPercent,
	}
}

// MarketParams converts the market section
func (c *Config) MarketParams() pyramid.MarketParams {
	return pyramid.MarketParams{
		MaintenanceMarginRate: c.MarketConfig.MaintenanceMarginRate,
		FeeRate:               c.MarketConfig.FeeRate,
		FundingRateAvg:        c.MarketConfig.FundingRateAvg,
		FundingIntervalHours:  c.MarketConfig.FundingIntervalHours,
	}
}

// Logging builds the logger config for a component
func (c *Config) Logging(component string) *logging.Config {
	return &logging.Config{
		Level:       c.LoggingConfig.Level,
		Output:      c.LoggingConfig.Output,
		JSONFormat:  c.LoggingConfig.JSONFormat,
		IncludeFile: c.LoggingConfig.IncludeFile,
		Component:   component,
	}
}

// Database converts the database section for database.NewDB
func (c *Config) Database() database.Config {
	d := c.DatabaseConfig
	return database.Config{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Database: d.Name,
		SSLMode:  d.SSLMode,
		MaxConns: int32(d.MaxConns),
	}
}

// ClickHouse converts the clickhouse section
func (c *Config) ClickHouse() swingstore.ClickHouseConfig {
	ch := c.ClickHouseConfig
	return swingstore.ClickHouseConfig{
		Addr:     ch.Addr,
		Database: ch.Database,
		Username: ch.Username,
		Password: ch.Password,
		Table:    ch.Table,
	}
}

// CircuitBreaker converts the circuit_breaker section
func (c *Config) CircuitBreaker() *circuit.Config {
	cb := c.CircuitBreakerConfig
	return &circuit.Config{
		Enabled:              cb.Enabled,
		MaxLossPerHour:       cb.MaxLossPerHour,
		MaxConsecutiveLosses: cb.MaxConsecutiveLosses,
		CooldownMinutes:      cb.CooldownMinutes,
		MaxEntriesPerMinute:  cb.MaxEntriesPerMinute,
		MaxDailyLoss:         cb.MaxDailyLoss,
		MaxDailyEntries:      cb.MaxDailyEntries,
	}
}

// Validate checks the engine sections. Infrastructure sections are checked
// by the components that use them.
func (c *Config) Validate() error {
	pc := c.Pyramid()
	if err := pc.Validate(); err != nil {
		return err
	}
	if err := c.MarketParams().Validate(pc.Leverage); err != nil {
		return err
	}
	if c.AuthConfig.Enabled && len(c.AuthConfig.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters when auth is enabled")
	}
	if _, err := c.Accounts(); err != nil {
		return fmt.Errorf("auth.operators: %w", err)
	}
	return nil
}

func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(file, cfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvIntsOrDefault parses a comma separated list; any bad element keeps
// the default
func getEnvIntsOrDefault(key string, defaultValue []int) []int {
	parts := getEnvListOrDefault(key, nil)
	if parts == nil {
		return defaultValue
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return defaultValue
		}
		out = append(out, v)
	}
	return out
}

func getEnvFloatsOrDefault(key string, defaultValue []float64) []float64 {
	parts := getEnvListOrDefault(key, nil)
	if parts == nil {
		return defaultValue
	}
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, v)
	}
	return out
}

// GenerateSampleConfig writes the defaults as a starting config file
func GenerateSampleConfig(filename string) error {
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// Accounts parses the operator password accounts
func (c *Config) Accounts() (auth.Accounts, error) {
	return auth.ParseAccounts(c.AuthConfig.Operators)
}
