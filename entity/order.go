package entity

import (
	"fmt"
	"time"
)

type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

func (s OrderSide) Opposite() OrderSide {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		panic(fmt.Sprintf("entity: unknown order side %q", string(s)))
	}
}

type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// Dead 订单已终结且不会再成交
func (s OrderStatus) Dead() bool {
	switch s {
	case OrderCanceled, OrderRejected, OrderExpired:
		return true
	case OrderNew, OrderPartiallyFilled, OrderFilled:
		return false
	default:
		return false
	}
}

// Working 订单仍挂在交易所
func (s OrderStatus) Working() bool {
	return s == OrderNew || s == OrderPartiallyFilled
}

type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Quantity      float64
	ReduceOnly    bool
	ClientOrderID string
}

type Order struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Status         OrderStatus `json:"status"`
	Quantity       float64     `json:"quantity"`
	FilledQuantity float64     `json:"filled_quantity"`
	FillPrice      float64     `json:"fill_price"`
}

// InstrumentConstraints 合约的下单数量限制
type InstrumentConstraints struct {
	MinQty   float64 `json:"min_qty"`
	MaxQty   float64 `json:"max_qty"`
	StepSize float64 `json:"step_size"`
}

type TradeType string

const (
	TradeOpen  TradeType = "open"
	TradeClose TradeType = "close"
)

type TradeStatus string

const (
	TradeFilled   TradeStatus = "filled"
	TradePending  TradeStatus = "pending"
	TradeReverted TradeStatus = "reverted" // 滑点回滚产生的纠正成交
)

// StatusFromOrder 交易所订单状态映射到成交记录状态
func StatusFromOrder(s OrderStatus) TradeStatus {
	switch s {
	case OrderFilled:
		return TradeFilled
	case OrderNew, OrderPartiallyFilled, OrderCanceled, OrderRejected, OrderExpired:
		return TradePending
	default:
		return TradePending
	}
}

// Trade 单次成交，只追加不修改
type Trade struct {
	ID        int64       `json:"id"`
	OrderID   string      `json:"order_id"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Type      TradeType   `json:"type"`
	Price     float64     `json:"price"`
	Quantity  float64     `json:"quantity"`
	Leverage  int         `json:"leverage"`
	Fee       float64     `json:"fee"`
	Pnl       *float64    `json:"pnl,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Status    TradeStatus `json:"status"`
}
