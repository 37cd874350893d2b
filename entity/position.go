package entity

import (
	"fmt"
	"time"
)

type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Long, Short:
		return Side(s), nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Sign 多头 +1，空头 -1
func (s Side) Sign() float64 {
	switch s {
	case Long:
		return 1
	case Short:
		return -1
	default:
		panic(fmt.Sprintf("entity: unknown side %q", string(s)))
	}
}

// OpenOrderSide 开仓方向对应的下单方向
func (s Side) OpenOrderSide() OrderSide {
	switch s {
	case Long:
		return Buy
	case Short:
		return Sell
	default:
		panic(fmt.Sprintf("entity: unknown side %q", string(s)))
	}
}

// CloseOrderSide 平仓方向对应的下单方向
func (s Side) CloseOrderSide() OrderSide {
	return s.OpenOrderSide().Opposite()
}

// Position 是账本中缓存的持仓。
// 数量、方向、开仓价、标记价以交易所为准；峰值盈亏、开仓时间、订单 ID 等是账本独有的元数据。
type Position struct {
	Symbol           string    `json:"symbol"`
	Side             Side      `json:"side"`
	Quantity         float64   `json:"quantity"`
	EntryPrice       float64   `json:"entry_price"`
	CurrentPrice     float64   `json:"current_price"`
	LiquidationPrice float64   `json:"liquidation_price"`
	Leverage         int       `json:"leverage"`
	UnrealizedPnl    float64   `json:"unrealized_pnl"`
	PeakPnlPercent   float64   `json:"peak_pnl_percent"`
	OpenedAt         time.Time `json:"opened_at"`
	StopLoss         *float64  `json:"stop_loss,omitempty"`
	ProfitTarget     *float64  `json:"profit_target,omitempty"`
	EntryOrderID     string    `json:"entry_order_id"`
	SLOrderID        string    `json:"sl_order_id,omitempty"`
	TPOrderID        string    `json:"tp_order_id,omitempty"`
}

// PnlPercent 杠杆后的盈亏百分比
func (p Position) PnlPercent() float64 {
	return PnlPercent(p.Side, p.EntryPrice, p.CurrentPrice, p.Leverage)
}

// Notional 名义价值（按开仓价）
func (p Position) Notional() float64 {
	return p.Quantity * p.EntryPrice
}

// PnlPercent = 按方向修正的价格变动百分比 × 杠杆
func PnlPercent(side Side, entry, current float64, leverage int) float64 {
	if entry <= 0 {
		return 0
	}
	return (current - entry) / entry * 100 * side.Sign() * float64(leverage)
}

// EstimateLiquidationPrice 交易所未返回强平价时的估算值
func EstimateLiquidationPrice(side Side, entry float64, leverage int) float64 {
	if entry <= 0 || leverage <= 0 {
		return 0
	}
	return entry * (1 - side.Sign()*0.9/float64(leverage))
}

// ExchangePosition 交易所返回的原始持仓
type ExchangePosition struct {
	Symbol           string  `json:"symbol"`
	Size             float64 `json:"size"` // 绝对值
	Side             Side    `json:"side"`
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	Leverage         int     `json:"leverage"`
	LiquidationPrice float64 `json:"liquidation_price"`
	UnrealizedPnl    float64 `json:"unrealized_pnl"`
}

// MinPositionSize 小于该数量视为无持仓（浮点精度）
const MinPositionSize = 0.00001

func (p ExchangePosition) Open() bool {
	return p.Size > MinPositionSize
}

// Account 交易所账户。Total 为含未实现盈亏的保证金余额。
type Account struct {
	Total             float64 `json:"total"`
	Available         float64 `json:"available"`
	UnrealizedPnl     float64 `json:"unrealized_pnl"`
	MaintenanceMargin float64 `json:"maintenance_margin"`
	MarginBalance     float64 `json:"margin_balance"`
	InitialMargin     float64 `json:"initial_margin"`
}

// NetBalance 不含未实现盈亏的总资产
func (a Account) NetBalance() float64 {
	return a.Total - a.UnrealizedPnl
}

type AccountSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	TotalValue    float64   `json:"total_value"`
	AvailableCash float64   `json:"available_cash"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	RealizedPnl   float64   `json:"realized_pnl"`
	ReturnPercent float64   `json:"return_percent"`
}
