// Package config loads and validates engine configuration from YAML or JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration
type Config struct {
	Account   AccountConfig   `json:"account" yaml:"account"`
	Risk      RiskConfig      `json:"risk" yaml:"risk"`
	Fees      FeesConfig      `json:"fees" yaml:"fees"`
	Trailing  TrailingConfig  `json:"trailing" yaml:"trailing"`
	Emergency EmergencyConfig `json:"emergency" yaml:"emergency"`
	Orders    OrdersConfig    `json:"orders" yaml:"orders"`
	Exchange  ExchangeConfig  `json:"exchange" yaml:"exchange"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// AccountConfig contains account initialization parameters
type AccountConfig struct {
	Balance      float64 `json:"balance" yaml:"balance"`
	Leverage     int     `json:"leverage" yaml:"leverage"`
	SafetyBuffer float64 `json:"safety_buffer" yaml:"safety_buffer"`
}

// RiskConfig contains position sizing and exposure limits
type RiskConfig struct {
	RiskPerTrade      float64 `json:"risk_per_trade" yaml:"risk_per_trade"`
	MaxMarginFraction float64 `json:"max_margin_fraction" yaml:"max_margin_fraction"`
	MaxDrawdown       float64 `json:"max_drawdown" yaml:"max_drawdown"`
	MaxVolatility     float64 `json:"max_volatility" yaml:"max_volatility"`
}

// FeesConfig contains fee and slippage rates
type FeesConfig struct {
	MakerFee    float64 `json:"maker_fee" yaml:"maker_fee"`
	TakerFee    float64 `json:"taker_fee" yaml:"taker_fee"`
	MaxSlippage float64 `json:"max_slippage" yaml:"max_slippage"`
}

// TrailingConfig contains trailing stop parameters
type TrailingConfig struct {
	InitialStopPercent float64 `json:"initial_stop_percent" yaml:"initial_stop_percent"`
	ATRMultiplier      float64 `json:"atr_multiplier" yaml:"atr_multiplier"`
}

// EmergencyConfig contains hard limits for forced exits
type EmergencyConfig struct {
	MaxDrawdownFraction  float64 `json:"max_drawdown_fraction" yaml:"max_drawdown_fraction"`
	MaxPositionDuration  string  `json:"max_position_duration" yaml:"max_position_duration"`
	ExtremeVolatility    float64 `json:"extreme_volatility" yaml:"extreme_volatility"`
	LiquidationProximity float64 `json:"liquidation_proximity" yaml:"liquidation_proximity"`
}

// ParseMaxDuration converts the duration string to time.Duration
func (e EmergencyConfig) ParseMaxDuration() (time.Duration, error) {
	if e.MaxPositionDuration == "" {
		return 24 * time.Hour, nil
	}
	return time.ParseDuration(e.MaxPositionDuration)
}

// OrdersConfig contains execution queue parameters
type OrdersConfig struct {
	Capacity    int    `json:"capacity" yaml:"capacity"`
	StaleAfter  string `json:"stale_after" yaml:"stale_after"`
	MaxAttempts int    `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay   string `json:"base_delay" yaml:"base_delay"`
	MaxDelay    string `json:"max_delay" yaml:"max_delay"`
}

// ExchangeConfig contains venue credentials and settings
type ExchangeConfig struct {
	APIKey         string `json:"api_key" yaml:"api_key"`
	SecretKey      string `json:"secret_key" yaml:"secret_key"`
	Testnet        bool   `json:"testnet" yaml:"testnet"`
	HealthTimeout  string `json:"health_timeout" yaml:"health_timeout"`
	QtyPrecision   int    `json:"qty_precision" yaml:"qty_precision"`
	PricePrecision int    `json:"price_precision" yaml:"price_precision"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "csv" or "sqlite"
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level   string `json:"level" yaml:"level"`
	Console bool   `json:"console" yaml:"console"`
}

// LoadFromFile loads configuration from a file (JSON or YAML based on content)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be positive")
	}
	if c.Account.Leverage < 1 || c.Account.Leverage > 125 {
		return fmt.Errorf("account.leverage must be between 1 and 125")
	}
	if c.Account.SafetyBuffer < 0 || c.Account.SafetyBuffer >= 1 {
		return fmt.Errorf("account.safety_buffer must be in [0, 1)")
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade > 1 {
		return fmt.Errorf("risk.risk_per_trade must be between 0 and 1")
	}
	if c.Risk.MaxMarginFraction <= 0 || c.Risk.MaxMarginFraction > 1 {
		return fmt.Errorf("risk.max_margin_fraction must be between 0 and 1")
	}
	if c.Fees.MakerFee < 0 || c.Fees.TakerFee < 0 {
		return fmt.Errorf("fee rates must be non-negative")
	}
	if c.Fees.MaxSlippage < 0 || c.Fees.MaxSlippage >= 1 {
		return fmt.Errorf("fees.max_slippage must be in [0, 1)")
	}
	if c.Trailing.InitialStopPercent <= 0 || c.Trailing.InitialStopPercent >= 1 {
		return fmt.Errorf("trailing.initial_stop_percent must be in (0, 1)")
	}
	if c.Trailing.ATRMultiplier <= 0 {
		return fmt.Errorf("trailing.atr_multiplier must be positive")
	}
	if c.Emergency.LiquidationProximity <= 0 || c.Emergency.LiquidationProximity >= 1 {
		return fmt.Errorf("emergency.liquidation_proximity must be in (0, 1)")
	}
	if _, err := c.Emergency.ParseMaxDuration(); err != nil {
		return fmt.Errorf("emergency.max_position_duration: %w", err)
	}
	if c.Orders.Capacity <= 0 {
		return fmt.Errorf("orders.capacity must be positive")
	}
	for _, d := range []struct{ name, v string }{
		{"orders.stale_after", c.Orders.StaleAfter},
		{"orders.base_delay", c.Orders.BaseDelay},
		{"orders.max_delay", c.Orders.MaxDelay},
		{"exchange.health_timeout", c.Exchange.HealthTimeout},
	} {
		if d.v == "" {
			continue
		}
		if _, err := time.ParseDuration(d.v); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	if c.Journal.Type != "csv" && c.Journal.Type != "sqlite" {
		return fmt.Errorf("journal.type must be 'csv' or 'sqlite'")
	}
	if c.Journal.Type == "csv" && (c.Journal.TradesFile == "" || c.Journal.EquityFile == "") {
		return fmt.Errorf("journal trades_file and equity_file required for CSV type")
	}
	if c.Journal.Type == "sqlite" && c.Journal.DBPath == "" {
		return fmt.Errorf("journal db_path required for SQLite type")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			Balance:      10000,
			Leverage:     10,
			SafetyBuffer: 0.20,
		},
		Risk: RiskConfig{
			RiskPerTrade:      0.025,
			MaxMarginFraction: 0.25,
			MaxDrawdown:       0.25,
			MaxVolatility:     0.08,
		},
		Fees: FeesConfig{
			MakerFee:    0.0001,
			TakerFee:    0.0002,
			MaxSlippage: 0.001,
		},
		Trailing: TrailingConfig{
			InitialStopPercent: 0.20,
			ATRMultiplier:      1.5,
		},
		Emergency: EmergencyConfig{
			MaxDrawdownFraction:  0.50,
			MaxPositionDuration:  "24h",
			ExtremeVolatility:    0.10,
			LiquidationProximity: 0.05,
		},
		Orders: OrdersConfig{
			Capacity:    100,
			StaleAfter:  "60s",
			MaxAttempts: 5,
			BaseDelay:   "500ms",
			MaxDelay:    "30s",
		},
		Exchange: ExchangeConfig{
			Testnet:        true,
			HealthTimeout:  "10s",
			QtyPrecision:   3,
			PricePrecision: 2,
		},
		Journal: JournalConfig{
			Type:       "csv",
			TradesFile: "./trades.csv",
			EquityFile: "./equity.csv",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
