package config

import "time"

// 默认值，可被 YAML 与环境变量覆盖
const (
	DefaultIntervalMinutes       = 5
	DefaultMaxPositions          = 5
	DefaultMaxLeverage           = 15
	DefaultMaxHoldingHours       = 36
	DefaultMaxDrawdownPercent    = 15
	DefaultAccountStopLossUsdt   = 50
	DefaultAccountTakeProfitUsdt = 10000

	DefaultModel         = "deepseek-chat"
	DefaultOracleBaseURL = "https://api.deepseek.com/v1"
	DefaultOracleTimeout = 3 * time.Minute
	DefaultDSN           = "echoguard.db"

	DefaultRequestsPerSecond = 10
	DefaultRequestBurst      = 20

	// InitialBalance -reset 后写入的初始净值
	InitialBalance = 1000.0

	// ServerTimeSyncTimeout 启动时同步服务器时间的上限
	ServerTimeSyncTimeout = 10 * time.Second
	// OrderTimeout 单次交易所请求（下单、查单、撤单、读账户）的上限
	OrderTimeout = 15 * time.Second
)

var DefaultSymbols = []string{"BTC", "ETH", "SOL", "XRP", "BNB", "DOGE"}

// system_config 中风控参数的键
const (
	KeyAccountStopLossUsdt   = "account_stop_loss_usdt"
	KeyAccountTakeProfitUsdt = "account_take_profit_usdt"
	KeyMaxDrawdownPercent    = "account_max_drawdown_percent"
)
