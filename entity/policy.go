package entity

import (
	"slices"
	"strings"
	"time"
)

type DrawdownBasis string

const (
	DrawdownFromPeak    DrawdownBasis = "peak"
	DrawdownFromInitial DrawdownBasis = "initial"
)

// RiskPolicy 风控参数，周期内不可变
type RiskPolicy struct {
	MaxPositions              int           `yaml:"max_positions"`
	MaxLeverage               int           `yaml:"max_leverage"`
	TradingSymbols            []string      `yaml:"trading_symbols"`
	MaxHoldingHours           float64       `yaml:"max_holding_hours"`
	AccountMaxDrawdownPercent float64       `yaml:"account_max_drawdown_percent"`
	AccountStopLossUsdt       float64       `yaml:"account_stop_loss_usdt"`
	AccountTakeProfitUsdt     float64       `yaml:"account_take_profit_usdt"`
	DrawdownBasis             DrawdownBasis `yaml:"drawdown_basis"`
	SyncOnStartup             bool          `yaml:"sync_on_startup"`
}

func (p RiskPolicy) MaxHolding() time.Duration {
	return time.Duration(p.MaxHoldingHours * float64(time.Hour))
}

// DrawdownPercent 按 DrawdownBasis 计算当前净值相对峰值或初始值的回撤百分比
func (p RiskPolicy) DrawdownPercent(value, peak, initial float64) float64 {
	base := initial
	if p.DrawdownBasis != DrawdownFromInitial {
		base = max(peak, value)
	}
	if base <= 0 {
		return 0
	}
	return (base - value) / base * 100
}

func (p RiskPolicy) Allows(symbol string) bool {
	return slices.Contains(p.TradingSymbols, strings.ToUpper(symbol))
}

// CloseReason 风控强制平仓的原因
type CloseReason string

const (
	ReasonMaxHolding     CloseReason = "max_holding"
	ReasonStopLoss       CloseReason = "stop_loss"
	ReasonTrailingStop   CloseReason = "trailing_stop"
	ReasonPeakDrawdown   CloseReason = "peak_drawdown"
	ReasonCircuitBreaker CloseReason = "circuit_breaker"
)
