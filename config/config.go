package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sandroneterpone/ye-meme-trader/position"
)

// Config is the complete engine configuration.
type Config struct {
	Budget   BudgetConfig   `json:"budget" yaml:"budget"`
	Breaker  BreakerConfig  `json:"breaker" yaml:"breaker"`
	Exits    ExitConfig     `json:"exits" yaml:"exits"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Feed     FeedConfig     `json:"feed" yaml:"feed"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// BudgetConfig sizes the ledger and individual trades.
type BudgetConfig struct {
	TotalCapital     float64 `json:"total_capital" yaml:"total_capital"`           // native units
	MaxTradeFraction float64 `json:"max_trade_fraction" yaml:"max_trade_fraction"` // of available budget
	MinTradeAmount   float64 `json:"min_trade_amount" yaml:"min_trade_amount"`
	MaxTradeAmount   float64 `json:"max_trade_amount" yaml:"max_trade_amount"`
}

type BreakerConfig struct {
	MaxDailyTrades int      `json:"max_daily_trades" yaml:"max_daily_trades"`
	MaxDailyLoss   float64  `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxErrors      int      `json:"max_errors" yaml:"max_errors"`
	ErrorTimeout   Duration `json:"error_timeout" yaml:"error_timeout"`
}

// ExitConfig holds the per-position exit thresholds.
type ExitConfig struct {
	StopLossPct   float64                     `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TrailingPct   float64                     `json:"trailing_stop_pct" yaml:"trailing_stop_pct"`
	ActivationPct float64                     `json:"trailing_activation_pct" yaml:"trailing_activation_pct"`
	TakeProfits   []position.TakeProfitTarget `json:"take_profit_levels" yaml:"take_profit_levels"`
}

type EngineConfig struct {
	PollInterval    Duration `json:"poll_interval" yaml:"poll_interval"`
	CallTimeout     Duration `json:"call_timeout" yaml:"call_timeout"`
	SwapRetries     int      `json:"swap_retries" yaml:"swap_retries"`
	MaxCloseRetries int      `json:"max_close_retries" yaml:"max_close_retries"`
}

type JournalConfig struct {
	Type          string `json:"type" yaml:"type"` // sqlite|csv|none
	DBPath        string `json:"db_path" yaml:"db_path"`
	PositionsFile string `json:"positions_file" yaml:"positions_file"`
	ClosesFile    string `json:"closes_file" yaml:"closes_file"`
}

type FeedConfig struct {
	URL      string   `json:"url" yaml:"url"`
	MaxStale Duration `json:"max_stale" yaml:"max_stale"`
}

type TelegramConfig struct {
	BotToken string `json:"bot_token" yaml:"bot_token"`
	ChatID   int64  `json:"chat_id" yaml:"chat_id"`
}

type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"` // empty disables the endpoint
}

// Default returns a runnable paper-mode configuration.
func Default() Config {
	return Config{
		Budget: BudgetConfig{
			TotalCapital:     10,
			MaxTradeFraction: 0.5,
			MinTradeAmount:   0.1,
			MaxTradeAmount:   5,
		},
		Breaker: BreakerConfig{
			MaxDailyTrades: 10,
			MaxDailyLoss:   1,
			MaxErrors:      3,
			ErrorTimeout:   Duration(5 * time.Minute),
		},
		Exits: ExitConfig{
			StopLossPct:   0.15,
			TrailingPct:   0.10,
			ActivationPct: 0.25,
			TakeProfits: []position.TakeProfitTarget{
				{GainPct: 0.5, Fraction: 0.5},
			},
		},
		Engine: EngineConfig{
			PollInterval:    Duration(5 * time.Second),
			CallTimeout:     Duration(15 * time.Second),
			SwapRetries:     2,
			MaxCloseRetries: 3,
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "trader.db",
		},
		Feed: FeedConfig{
			MaxStale: Duration(30 * time.Second),
		},
	}
}

// LoadFromFile reads YAML or JSON (by extension) over the defaults.
func LoadFromFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays secrets and deploy-specific values from the
// environment (loaded from .env by the CLI). Env always wins over the
// file so tokens never need to live in config files.
func (c *Config) applyEnv() {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("PRICE_FEED_URL"); v != "" {
		c.Feed.URL = v
	}
	if v := os.Getenv("TOTAL_CAPITAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Budget.TotalCapital = f
		}
	}
}

func (c Config) Validate() error {
	if c.Budget.TotalCapital <= 0 {
		return fmt.Errorf("budget.total_capital must be positive")
	}
	if c.Budget.MaxTradeFraction <= 0 || c.Budget.MaxTradeFraction > 1 {
		return fmt.Errorf("budget.max_trade_fraction must be in (0,1]")
	}
	if c.Budget.MinTradeAmount < 0 || c.Budget.MaxTradeAmount < c.Budget.MinTradeAmount {
		return fmt.Errorf("budget trade bounds invalid: min %v, max %v",
			c.Budget.MinTradeAmount, c.Budget.MaxTradeAmount)
	}
	if c.Exits.StopLossPct < 0 || c.Exits.StopLossPct >= 1 {
		return fmt.Errorf("exits.stop_loss_pct must be in [0,1)")
	}
	if c.Exits.TrailingPct < 0 || c.Exits.TrailingPct >= 1 {
		return fmt.Errorf("exits.trailing_stop_pct must be in [0,1)")
	}
	var total float64
	for i, tp := range c.Exits.TakeProfits {
		if tp.GainPct <= 0 {
			return fmt.Errorf("exits.take_profit_levels[%d].gain_pct must be positive", i)
		}
		if tp.Fraction <= 0 || tp.Fraction > 1 {
			return fmt.Errorf("exits.take_profit_levels[%d].fraction must be in (0,1]", i)
		}
		total += tp.Fraction
	}
	if total > 1+1e-9 {
		return fmt.Errorf("exits.take_profit_levels fractions sum to %v, must not exceed 1", total)
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive")
	}
	if c.Engine.CallTimeout <= 0 {
		return fmt.Errorf("engine.call_timeout must be positive")
	}
	switch c.Journal.Type {
	case "sqlite", "csv", "none", "":
	default:
		return fmt.Errorf("journal.type %q not recognized (sqlite|csv|none)", c.Journal.Type)
	}
	return nil
}
