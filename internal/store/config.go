package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode string `yaml:"mode"` // DRY_RUN or LIVE

	Exchange struct {
		Symbols           []string `yaml:"symbols"`
		Interval          string   `yaml:"interval"`
		Cash              float64  `yaml:"cash"`
		CashPerSymbol     float64  `yaml:"cash_per_symbol"`
		RecvWindow        int      `yaml:"recv_window"`
		ReconnectInterval int      `yaml:"reconnect_interval"`
		EnableTickerFeed  bool     `yaml:"enable_ticker_stream"`
		Testnet           bool     `yaml:"testnet"`
	} `yaml:"exchange"`

	Strategy struct {
		EntryLogic        string  `yaml:"entry_logic"` // MACD, STOCH_RSI or EMA
		TakeProfitPercent float64 `yaml:"take_profit_percent"`
		MartingaleTrigger float64 `yaml:"martingale_trigger"`
		MartingaleMult    float64 `yaml:"martingale_mult"`
		BasePositionPct   float64 `yaml:"base_position_pct"`
		FixedPosition     bool    `yaml:"fixed_position"`
		StartPositionSize float64 `yaml:"start_position_size"`
		MaxLevels         int     `yaml:"max_levels"`
		QuantityPrecision *int    `yaml:"quantity_precision"` // nil means default; 0 is whole-unit lots
	} `yaml:"strategy"`

	Risk struct {
		CooldownMinutes int     `yaml:"cooldown_minutes"`
		MaxNotional     float64 `yaml:"max_notional"`
	} `yaml:"risk"`

	AccountSync struct {
		Tolerance       float64 `yaml:"tolerance"`
		IntervalSeconds int     `yaml:"interval"`
	} `yaml:"account_sync"`

	CloudStorage struct {
		Endpoint         string `yaml:"endpoint"`
		Bucket           string `yaml:"bucket"`
		Region           string `yaml:"region"`
		UseSSL           bool   `yaml:"use_ssl"`
		StateKeyTemplate string `yaml:"state_key_template"` // e.g. "state/%s.json"
	} `yaml:"cloud_storage"`

	Notifications struct {
		Telegram struct {
			Enabled bool   `yaml:"enabled"`
			ChatID  string `yaml:"chat_id"`
		} `yaml:"telegram"`
	} `yaml:"notifications"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if len(c.Exchange.Symbols) == 0 {
		return fmt.Errorf("exchange.symbols cannot be empty")
	}
	if c.Exchange.Cash <= 0 && c.Exchange.CashPerSymbol <= 0 {
		return fmt.Errorf("one of exchange.cash or exchange.cash_per_symbol must be positive")
	}
	switch c.Strategy.EntryLogic {
	case "MACD", "STOCH_RSI", "EMA":
	default:
		return fmt.Errorf("strategy.entry_logic must be 'MACD', 'STOCH_RSI' or 'EMA', got '%s'", c.Strategy.EntryLogic)
	}
	if c.Strategy.MaxLevels < 1 {
		return fmt.Errorf("strategy.max_levels must be at least 1, got %d", c.Strategy.MaxLevels)
	}
	if c.Strategy.MartingaleMult <= 0 {
		return fmt.Errorf("strategy.martingale_mult must be positive, got %.2f", c.Strategy.MartingaleMult)
	}
	if !c.Strategy.FixedPosition && c.Strategy.BasePositionPct <= 0 {
		return fmt.Errorf("strategy.base_position_pct must be positive when fixed_position is false")
	}
	if c.Strategy.QuantityPrecision != nil && *c.Strategy.QuantityPrecision < 0 {
		return fmt.Errorf("strategy.quantity_precision cannot be negative, got %d", *c.Strategy.QuantityPrecision)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Exchange.Interval == "" {
		c.Exchange.Interval = "1h"
	}
	if c.Exchange.RecvWindow == 0 {
		c.Exchange.RecvWindow = 5000
	}
	if c.Exchange.ReconnectInterval == 0 {
		c.Exchange.ReconnectInterval = 5
	}
	if c.Strategy.EntryLogic == "" {
		c.Strategy.EntryLogic = "MACD"
	}
	if c.Strategy.QuantityPrecision == nil {
		p := 6
		c.Strategy.QuantityPrecision = &p
	}
	if c.AccountSync.Tolerance == 0 {
		c.AccountSync.Tolerance = 1e-6
	}
	if c.AccountSync.IntervalSeconds == 0 {
		c.AccountSync.IntervalSeconds = 60
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9464"
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

// CashFor splits the configured cash across symbols unless an explicit
// per-symbol amount is set.
func (c *Config) CashFor(symbolCount int) float64 {
	if c.Exchange.CashPerSymbol > 0 {
		return c.Exchange.CashPerSymbol
	}
	if symbolCount < 1 {
		symbolCount = 1
	}
	return c.Exchange.Cash / float64(symbolCount)
}
