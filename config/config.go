package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gtoxlili/echoGuard/entity"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Config 进程级配置，启动时加载一次后注入各组件
type Config struct {
	Exchange ExchangeConfig    `yaml:"exchange"`
	Oracle   OracleConfig      `yaml:"oracle"`
	Trading  TradingConfig     `yaml:"trading"`
	Risk     entity.RiskPolicy `yaml:"risk"`
	Storage  StorageConfig     `yaml:"storage"`
	Log      LogConfig         `yaml:"log"`
}

type ExchangeConfig struct {
	Testnet   bool   `yaml:"testnet"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	// RequestsPerSecond 客户端侧限速
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type OracleConfig struct {
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

type TradingConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
}

type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite 文件路径或 ":memory:"
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load 读取 YAML，再用 .env 与环境变量覆盖。path 为空时只用环境变量。
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)
	return &cfg, nil
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.Trading.IntervalMinutes) * time.Minute
}

func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutSeconds) * time.Second
}

// Validate 缺少凭证时进程不应启动
func (c *Config) Validate() error {
	var errs []error
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		errs = append(errs, errors.New("exchange credentials are required (BINANCE_API_KEY / BINANCE_API_SECRET)"))
	}
	if c.Oracle.APIKey == "" {
		errs = append(errs, errors.New("oracle api key is required (OPENAI_API_KEY)"))
	}
	if len(c.Risk.TradingSymbols) == 0 {
		errs = append(errs, errors.New("at least one trading symbol is required"))
	}
	if c.Risk.DrawdownBasis != entity.DrawdownFromPeak && c.Risk.DrawdownBasis != entity.DrawdownFromInitial {
		errs = append(errs, fmt.Errorf("unknown drawdown basis %q", c.Risk.DrawdownBasis))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config.Validate: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	parse := func(key string, set func(string) error) {
		if v := os.Getenv(key); v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("env %s=%q: %w", key, v, err))
			}
		}
	}
	intVar := func(dst *int) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.Atoi(v)
			return err
		}
	}
	floatVar := func(dst *float64) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.ParseFloat(v, 64)
			return err
		}
	}
	boolVar := func(dst *bool) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.ParseBool(v)
			return err
		}
	}

	str("BINANCE_API_KEY", &cfg.Exchange.APIKey)
	str("BINANCE_API_SECRET", &cfg.Exchange.APISecret)
	parse("BINANCE_USE_TESTNET", boolVar(&cfg.Exchange.Testnet))

	str("OPENAI_API_KEY", &cfg.Oracle.APIKey)
	str("OPENAI_BASE_URL", &cfg.Oracle.BaseURL)
	str("AI_MODEL_NAME", &cfg.Oracle.Model)

	if v := os.Getenv("TRADING_SYMBOLS"); v != "" {
		cfg.Risk.TradingSymbols = strings.Split(v, ",")
	}
	parse("TRADING_INTERVAL_MINUTES", intVar(&cfg.Trading.IntervalMinutes))
	parse("MAX_POSITIONS", intVar(&cfg.Risk.MaxPositions))
	parse("MAX_LEVERAGE", intVar(&cfg.Risk.MaxLeverage))
	parse("MAX_HOLDING_HOURS", floatVar(&cfg.Risk.MaxHoldingHours))
	parse("ACCOUNT_MAX_DRAWDOWN_PERCENT", floatVar(&cfg.Risk.AccountMaxDrawdownPercent))
	parse("ACCOUNT_STOP_LOSS_USDT", floatVar(&cfg.Risk.AccountStopLossUsdt))
	parse("ACCOUNT_TAKE_PROFIT_USDT", floatVar(&cfg.Risk.AccountTakeProfitUsdt))
	parse("SYNC_CONFIG_ON_STARTUP", boolVar(&cfg.Risk.SyncOnStartup))

	str("DATABASE_URL", &cfg.Storage.DSN)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(errs...)
}

func setDefaults(cfg *Config) {
	if cfg.Exchange.RequestsPerSecond <= 0 {
		cfg.Exchange.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Exchange.Burst <= 0 {
		cfg.Exchange.Burst = DefaultRequestBurst
	}
	if cfg.Oracle.Model == "" {
		cfg.Oracle.Model = DefaultModel
	}
	if cfg.Oracle.TimeoutSeconds <= 0 {
		cfg.Oracle.TimeoutSeconds = int(DefaultOracleTimeout / time.Second)
	}
	if cfg.Trading.IntervalMinutes <= 0 {
		cfg.Trading.IntervalMinutes = DefaultIntervalMinutes
	}

	r := &cfg.Risk
	r.TradingSymbols = lo.Uniq(lo.FilterMap(r.TradingSymbols, func(s string, _ int) (string, bool) {
		s = strings.ToUpper(strings.TrimSpace(s))
		return s, s != ""
	}))
	if len(r.TradingSymbols) == 0 {
		r.TradingSymbols = append([]string(nil), DefaultSymbols...)
	}
	if r.MaxPositions <= 0 {
		r.MaxPositions = DefaultMaxPositions
	}
	if r.MaxLeverage <= 0 {
		r.MaxLeverage = DefaultMaxLeverage
	}
	if r.MaxHoldingHours <= 0 {
		r.MaxHoldingHours = DefaultMaxHoldingHours
	}
	if r.AccountMaxDrawdownPercent <= 0 {
		r.AccountMaxDrawdownPercent = DefaultMaxDrawdownPercent
	}
	if r.AccountStopLossUsdt <= 0 {
		r.AccountStopLossUsdt = DefaultAccountStopLossUsdt
	}
	if r.AccountTakeProfitUsdt <= 0 {
		r.AccountTakeProfitUsdt = DefaultAccountTakeProfitUsdt
	}
	if r.DrawdownBasis == "" {
		r.DrawdownBasis = entity.DrawdownFromPeak
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = DefaultDSN
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
