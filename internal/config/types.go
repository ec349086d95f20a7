package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Signal   SignalConfig   `mapstructure:"signal"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name           string        `mapstructure:"name"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	UseSandbox     bool          `mapstructure:"use_sandbox"`
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// TradingConfig 为交易引擎的全部策略参数，引擎启动后不可变。
type TradingConfig struct {
	Pairs                 []string      `mapstructure:"pairs"`
	Timeframe             string        `mapstructure:"timeframe"`
	CycleInterval         time.Duration `mapstructure:"cycle_interval"`
	CycleErrorBackoff     time.Duration `mapstructure:"cycle_error_backoff"`
	TakeProfitRate        float64       `mapstructure:"take_profit_rate"`
	StopLossRate          float64       `mapstructure:"stop_loss_rate"`
	PositionSizeFraction  float64       `mapstructure:"position_size_fraction"`
	MaxPositions          int           `mapstructure:"max_positions"`
	MaxHoldDuration       time.Duration `mapstructure:"max_hold_duration"`
	MinTimeBetweenTrades  time.Duration `mapstructure:"min_time_between_trades"`
	MinTradeQuoteAmount   float64       `mapstructure:"min_trade_quote_amount"`
	MinConfidenceToOpen   float64       `mapstructure:"min_confidence_to_open"`
	SignalLookbackBars    int           `mapstructure:"signal_lookback_bars"`
}

// SignalConfig 选择信号来源及其参数。
type SignalConfig struct {
	Provider string       `mapstructure:"provider"` // momentum | openai
	OpenAI   OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// JournalConfig 控制成交流水文件输出。
type JournalConfig struct {
	Dir string `mapstructure:"dir"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.RateLimitDelay < 0 {
		err = multierr.Append(err, errors.New("exchange.rate_limit_delay 不能为负"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}

	if len(c.Trading.Pairs) == 0 {
		err = multierr.Append(err, errors.New("trading.pairs 至少包含一个交易对"))
	}
	seen := make(map[string]struct{}, len(c.Trading.Pairs))
	for _, pair := range c.Trading.Pairs {
		key := strings.ToUpper(strings.TrimSpace(pair))
		if key == "" {
			err = multierr.Append(err, errors.New("trading.pairs 不能包含空白交易对"))
			continue
		}
		if _, ok := seen[key]; ok {
			err = multierr.Append(err, fmt.Errorf("trading.pairs 存在重复交易对 %s", key))
		}
		seen[key] = struct{}{}
	}
	if c.Trading.Timeframe == "" {
		err = multierr.Append(err, errors.New("trading.timeframe 不能为空"))
	}
	if c.Trading.CycleInterval <= 0 {
		err = multierr.Append(err, errors.New("trading.cycle_interval 必须大于0"))
	}
	if c.Trading.CycleErrorBackoff <= 0 {
		err = multierr.Append(err, errors.New("trading.cycle_error_backoff 必须大于0"))
	}
	if c.Trading.TakeProfitRate <= 0 {
		err = multierr.Append(err, errors.New("trading.take_profit_rate 必须大于0"))
	}
	if c.Trading.StopLossRate <= 0 {
		err = multierr.Append(err, errors.New("trading.stop_loss_rate 必须大于0"))
	}
	if c.Trading.PositionSizeFraction <= 0 || c.Trading.PositionSizeFraction > 1 {
		err = multierr.Append(err, errors.New("trading.position_size_fraction 必须位于(0,1]"))
	}
	if c.Trading.MaxPositions < 1 {
		err = multierr.Append(err, errors.New("trading.max_positions 必须大于等于1"))
	}
	if c.Trading.MaxHoldDuration <= 0 {
		err = multierr.Append(err, errors.New("trading.max_hold_duration 必须大于0"))
	}
	if c.Trading.MinTimeBetweenTrades < 0 {
		err = multierr.Append(err, errors.New("trading.min_time_between_trades 不能为负"))
	}
	if c.Trading.MinTradeQuoteAmount <= 0 {
		err = multierr.Append(err, errors.New("trading.min_trade_quote_amount 必须大于0"))
	}
	if c.Trading.MinConfidenceToOpen < 0 || c.Trading.MinConfidenceToOpen > 1 {
		err = multierr.Append(err, errors.New("trading.min_confidence_to_open 必须位于[0,1]"))
	}
	if c.Trading.SignalLookbackBars < 50 {
		err = multierr.Append(err, errors.New("trading.signal_lookback_bars 不能小于50"))
	}

	switch strings.ToLower(c.Signal.Provider) {
	case "momentum":
	case "openai":
		if c.Signal.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("signal.openai.api_key 不能为空"))
		}
		if c.Signal.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("signal.openai.model 不能为空"))
		}
		if c.Signal.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("signal.openai.timeout 必须大于0"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("signal.provider 不支持 %q", c.Signal.Provider))
	}

	if c.Journal.Dir == "" {
		err = multierr.Append(err, errors.New("journal.dir 不能为空"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
