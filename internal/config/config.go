package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Exchange ExchangeConfig     `mapstructure:"exchange"`
	Monitor  MonitorConfig      `mapstructure:"monitor"`
	Profiles map[string]Profile `mapstructure:"profiles"`
	Telegram TelegramConfig     `mapstructure:"telegram"`
	Storage  StorageConfig      `mapstructure:"storage"`
	Logging  LoggingConfig      `mapstructure:"logging"`
}

// ExchangeConfig holds futures exchange API configuration
type ExchangeConfig struct {
	APIKey               string   `mapstructure:"api_key"`
	APISecret            string   `mapstructure:"api_secret"`
	Symbols              []string `mapstructure:"symbols"`
	UseLiquidationStream bool     `mapstructure:"use_liquidation_stream"`
}

// MonitorConfig holds monitoring behavior configuration
type MonitorConfig struct {
	Profile   string `mapstructure:"profile"`
	BTCSymbol string `mapstructure:"btc_symbol"`
}

// Profile is one named tuning profile. The pipeline reads these keys and
// never hardcodes profile names.
type Profile struct {
	CandleLimit       int           `mapstructure:"candle_limit"`
	OrderBookDepth    int           `mapstructure:"order_book_depth"`
	TradeLimit        int           `mapstructure:"trade_limit"`
	MaxAlertsPerCycle int           `mapstructure:"max_alerts_per_cycle"`
	UpdateInterval    time.Duration `mapstructure:"update_interval"`

	EnableLiquidation    bool `mapstructure:"enable_liquidation"`
	EnableMultiTimeframe bool `mapstructure:"enable_multi_timeframe"`
	EnableStatistics     bool `mapstructure:"enable_statistics"`
	EnableFunding        bool `mapstructure:"enable_funding"`
	EnableOrderBook      bool `mapstructure:"enable_order_book"`

	VolumeSpikeThreshold float64 `mapstructure:"volume_spike_threshold"`
	RSIOverbought        float64 `mapstructure:"rsi_overbought"`
	RSIOversold          float64 `mapstructure:"rsi_oversold"`
	PriceChangeThreshold float64 `mapstructure:"price_change_threshold"`
	ConfidenceThreshold  float64 `mapstructure:"confidence_threshold"`
	FundingRateThreshold float64 `mapstructure:"funding_rate_threshold"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath    string        `mapstructure:"db_path"`
	CSVPath   string        `mapstructure:"csv_path"`
	Retention time.Duration `mapstructure:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("FUTURES_SENTINEL")
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Exchange defaults
	v.SetDefault("exchange.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("exchange.use_liquidation_stream", true)

	// Monitor defaults
	v.SetDefault("monitor.profile", "balanced")
	v.SetDefault("monitor.btc_symbol", "BTCUSDT")

	// Tuning profiles
	setProfileDefaults(v, "fast", Profile{
		CandleLimit: 60, OrderBookDepth: 10, TradeLimit: 50,
		MaxAlertsPerCycle: 3, UpdateInterval: 30 * time.Second,
		EnableFunding: true, EnableOrderBook: true,
		VolumeSpikeThreshold: 3, RSIOverbought: 70, RSIOversold: 30,
		PriceChangeThreshold: 2, ConfidenceThreshold: 0.7, FundingRateThreshold: 0.001,
	})
	setProfileDefaults(v, "balanced", Profile{
		CandleLimit: 120, OrderBookDepth: 20, TradeLimit: 100,
		MaxAlertsPerCycle: 5, UpdateInterval: time.Minute,
		EnableLiquidation: true, EnableMultiTimeframe: true, EnableStatistics: true,
		EnableFunding: true, EnableOrderBook: true,
		VolumeSpikeThreshold: 3, RSIOverbought: 70, RSIOversold: 30,
		PriceChangeThreshold: 2, ConfidenceThreshold: 0.7, FundingRateThreshold: 0.001,
	})
	setProfileDefaults(v, "thorough", Profile{
		CandleLimit: 240, OrderBookDepth: 50, TradeLimit: 200,
		MaxAlertsPerCycle: 8, UpdateInterval: 2 * time.Minute,
		EnableLiquidation: true, EnableMultiTimeframe: true, EnableStatistics: true,
		EnableFunding: true, EnableOrderBook: true,
		VolumeSpikeThreshold: 2.5, RSIOverbought: 75, RSIOversold: 25,
		PriceChangeThreshold: 1.5, ConfidenceThreshold: 0.65, FundingRateThreshold: 0.0008,
	})
	// Conservative profile for the first hours after deployment, before the
	// statistical baselines are warm.
	setProfileDefaults(v, "startup", Profile{
		CandleLimit: 120, OrderBookDepth: 20, TradeLimit: 100,
		MaxAlertsPerCycle: 2, UpdateInterval: time.Minute,
		EnableLiquidation: true, EnableMultiTimeframe: true,
		EnableFunding: true, EnableOrderBook: true,
		VolumeSpikeThreshold: 4, RSIOverbought: 80, RSIOversold: 20,
		PriceChangeThreshold: 3, ConfidenceThreshold: 0.8, FundingRateThreshold: 0.0015,
	})

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/sentinel.db")
	v.SetDefault("storage.csv_path", "./data/alerts.csv")
	v.SetDefault("storage.retention", "168h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func setProfileDefaults(v *viper.Viper, name string, p Profile) {
	prefix := "profiles." + name + "."
	v.SetDefault(prefix+"candle_limit", p.CandleLimit)
	v.SetDefault(prefix+"order_book_depth", p.OrderBookDepth)
	v.SetDefault(prefix+"trade_limit", p.TradeLimit)
	v.SetDefault(prefix+"max_alerts_per_cycle", p.MaxAlertsPerCycle)
	v.SetDefault(prefix+"update_interval", p.UpdateInterval)
	v.SetDefault(prefix+"enable_liquidation", p.EnableLiquidation)
	v.SetDefault(prefix+"enable_multi_timeframe", p.EnableMultiTimeframe)
	v.SetDefault(prefix+"enable_statistics", p.EnableStatistics)
	v.SetDefault(prefix+"enable_funding", p.EnableFunding)
	v.SetDefault(prefix+"enable_order_book", p.EnableOrderBook)
	v.SetDefault(prefix+"volume_spike_threshold", p.VolumeSpikeThreshold)
	v.SetDefault(prefix+"rsi_overbought", p.RSIOverbought)
	v.SetDefault(prefix+"rsi_oversold", p.RSIOversold)
	v.SetDefault(prefix+"price_change_threshold", p.PriceChangeThreshold)
	v.SetDefault(prefix+"confidence_threshold", p.ConfidenceThreshold)
	v.SetDefault(prefix+"funding_rate_threshold", p.FundingRateThreshold)
}

// ActiveProfile resolves the tuning profile, preferring the override name
// (usually from the -profile flag) over the configured one.
func (c *Config) ActiveProfile(override string) (Profile, error) {
	name := c.Monitor.Profile
	if override != "" {
		name = override
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
	return p, nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Exchange config
	if len(c.Exchange.Symbols) == 0 {
		return fmt.Errorf("exchange.symbols must contain at least one symbol")
	}

	// Validate Monitor config
	if _, ok := c.Profiles[c.Monitor.Profile]; !ok {
		return fmt.Errorf("monitor.profile %q is not a defined profile", c.Monitor.Profile)
	}
	if c.Monitor.BTCSymbol == "" {
		return fmt.Errorf("monitor.btc_symbol is required")
	}

	// Validate each profile
	for name, p := range c.Profiles {
		if err := p.validate(); err != nil {
			return fmt.Errorf("profiles.%s: %w", name, err)
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.Retention < time.Hour {
		return fmt.Errorf("storage.retention must be at least 1 hour")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func (p Profile) validate() error {
	// RSI(14) over 1m closes plus the 60m change window need this much history.
	if p.CandleLimit < 60 {
		return fmt.Errorf("candle_limit must be at least 60")
	}
	if p.OrderBookDepth < 5 || p.OrderBookDepth > 1000 {
		return fmt.Errorf("order_book_depth must be between 5 and 1000")
	}
	if p.TradeLimit < 10 {
		return fmt.Errorf("trade_limit must be at least 10")
	}
	if p.MaxAlertsPerCycle < 1 {
		return fmt.Errorf("max_alerts_per_cycle must be at least 1")
	}
	if p.UpdateInterval < 10*time.Second {
		return fmt.Errorf("update_interval must be at least 10 seconds")
	}
	if p.VolumeSpikeThreshold <= 1 {
		return fmt.Errorf("volume_spike_threshold must be greater than 1")
	}
	if p.RSIOversold <= 0 || p.RSIOverbought >= 100 || p.RSIOversold >= p.RSIOverbought {
		return fmt.Errorf("rsi bands must satisfy 0 < oversold < overbought < 100")
	}
	if p.PriceChangeThreshold <= 0 {
		return fmt.Errorf("price_change_threshold must be positive")
	}
	if p.ConfidenceThreshold <= 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within (0, 1]")
	}
	if p.FundingRateThreshold <= 0 {
		return fmt.Errorf("funding_rate_threshold must be positive")
	}
	return nil
}
