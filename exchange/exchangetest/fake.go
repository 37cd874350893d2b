// Package exchangetest 提供内存版交易所，供各引擎的测试使用
package exchangetest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/gtoxlili/echoGuard/entity"
	"github.com/gtoxlili/echoGuard/exchange"
)

const (
	MethodGetTicker      = "GetTicker"
	MethodGetCandles     = "GetCandles"
	MethodGetAccount     = "GetAccount"
	MethodGetPositions   = "GetPositions"
	MethodPlaceOrder     = "PlaceOrder"
	MethodGetOrder       = "GetOrder"
	MethodCancelOrder    = "CancelOrder"
	MethodSetLeverage    = "SetLeverage"
	MethodGetConstraints = "GetInstrumentConstraints"
)

var ErrReduceOnlyRejected = errors.New("reduce only order rejected")

var defaultConstraints = entity.InstrumentConstraints{MinQty: 0.001, MaxQty: 1000, StepSize: 0.001}

// Fake 按队列中的成交价（默认标记价）立即成交的交易所
type Fake struct {
	mu sync.Mutex

	tickers     map[string]entity.Ticker
	candles     map[string]map[entity.Timeframe][]entity.Candle
	account     entity.Account
	positions   map[string]entity.ExchangePosition
	constraints map[string]entity.InstrumentConstraints
	leverage    map[string]int
	orders      map[string]entity.Order

	placed    []entity.OrderRequest
	cancelled []string
	fills     []float64
	rejects   int
	failures  map[string][]error
	calls     map[string]int
	nextID    int
}

var _ exchange.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		tickers:     make(map[string]entity.Ticker),
		candles:     make(map[string]map[entity.Timeframe][]entity.Candle),
		positions:   make(map[string]entity.ExchangePosition),
		constraints: make(map[string]entity.InstrumentConstraints),
		leverage:    make(map[string]int),
		orders:      make(map[string]entity.Order),
		failures:    make(map[string][]error),
		calls:       make(map[string]int),
		nextID:      1000,
	}
}

// SetTicker 同时刷新该币种持仓的标记价和未实现盈亏
func (f *Fake) SetTicker(symbol string, last, mark float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tickers[symbol]
	t.Symbol, t.Last, t.MarkPrice = symbol, last, mark
	f.tickers[symbol] = t

	if p, ok := f.positions[symbol]; ok {
		p.MarkPrice = mark
		p.UnrealizedPnl = (mark - p.EntryPrice) * p.Size * p.Side.Sign()
		f.positions[symbol] = p
	}
}

func (f *Fake) SetTickerDetail(t entity.Ticker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickers[t.Symbol] = t
}

func (f *Fake) SetCandles(symbol string, tf entity.Timeframe, candles []entity.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.candles[symbol] == nil {
		f.candles[symbol] = make(map[entity.Timeframe][]entity.Candle)
	}
	f.candles[symbol][tf] = slices.Clone(candles)
}

func (f *Fake) SetAccount(a entity.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account = a
}

func (f *Fake) SetPosition(p entity.ExchangePosition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[p.Symbol] = p
}

func (f *Fake) RemovePosition(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions, symbol)
}

func (f *Fake) Position(symbol string) (entity.ExchangePosition, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[symbol]
	return p, ok
}

func (f *Fake) SetConstraints(symbol string, c entity.InstrumentConstraints) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constraints[symbol] = c
}

// QueueFill 指定后续订单的成交价，按顺序消费
func (f *Fake) QueueFill(prices ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills = append(f.fills, prices...)
}

// RejectNextOrders 后续 n 笔订单以 REJECTED 返回且无成交
func (f *Fake) RejectNextOrders(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects += n
}

// FailNext 指定方法的后续调用依次返回给定错误
func (f *Fake) FailNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], errs...)
}

// AddOrder 登记一笔挂单（如止损/止盈单）
func (f *Fake) AddOrder(o entity.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
}

func (f *Fake) Order(id string) (entity.Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	return o, ok
}

func (f *Fake) Placed() []entity.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.placed)
}

func (f *Fake) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.cancelled)
}

func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) Leverage(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leverage[symbol]
}

// enter 记录调用并弹出预设错误，调用方需持有锁
func (f *Fake) enter(method string) error {
	f.calls[method]++
	queue := f.failures[method]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	f.failures[method] = queue[1:]
	return err
}

func (f *Fake) GetTicker(_ context.Context, symbol string) (entity.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGetTicker); err != nil {
		return entity.Ticker{}, err
	}
	t, ok := f.tickers[symbol]
	if !ok {
		return entity.Ticker{}, fmt.Errorf("ticker %s: %w", symbol, exchange.ErrUnknownSymbol)
	}
	return t, nil
}

func (f *Fake) GetCandles(_ context.Context, symbol string, tf entity.Timeframe, limit int) ([]entity.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGetCandles); err != nil {
		return nil, err
	}
	candles := f.candles[symbol][tf]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return slices.Clone(candles), nil
}

func (f *Fake) GetAccount(context.Context) (entity.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGetAccount); err != nil {
		return entity.Account{}, err
	}
	return f.account, nil
}

func (f *Fake) GetPositions(context.Context) ([]entity.ExchangePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGetPositions); err != nil {
		return nil, err
	}
	out := make([]entity.ExchangePosition, 0, len(f.positions))
	for _, sym := range slices.Sorted(maps.Keys(f.positions)) {
		out = append(out, f.positions[sym])
	}
	return out, nil
}

func (f *Fake) PlaceOrder(_ context.Context, req entity.OrderRequest) (entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodPlaceOrder); err != nil {
		return entity.Order{}, err
	}
	f.placed = append(f.placed, req)
	f.nextID++
	order := entity.Order{
		ID:       strconv.Itoa(f.nextID),
		Symbol:   req.Symbol,
		Status:   entity.OrderFilled,
		Quantity: req.Quantity,
	}

	if f.rejects > 0 {
		f.rejects--
		order.Status = entity.OrderRejected
		f.orders[order.ID] = order
		return order, nil
	}

	price, err := f.fillPrice(req.Symbol)
	if err != nil {
		return entity.Order{}, err
	}
	if err := f.apply(req, price); err != nil {
		return entity.Order{}, err
	}

	order.FilledQuantity = req.Quantity
	order.FillPrice = price
	f.orders[order.ID] = order
	return order, nil
}

func (f *Fake) fillPrice(symbol string) (float64, error) {
	if len(f.fills) > 0 {
		p := f.fills[0]
		f.fills = f.fills[1:]
		return p, nil
	}
	t := f.tickers[symbol]
	if t.MarkPrice > 0 {
		return t.MarkPrice, nil
	}
	if t.Last > 0 {
		return t.Last, nil
	}
	return 0, fmt.Errorf("no price for %s: %w", symbol, exchange.ErrUnknownSymbol)
}

// apply 按单向持仓模式更新持仓
func (f *Fake) apply(req entity.OrderRequest, price float64) error {
	pos, exists := f.positions[req.Symbol]
	increasing := exists && pos.Side.OpenOrderSide() == req.Side

	if req.ReduceOnly && (!exists || increasing || req.Quantity > pos.Size+entity.MinPositionSize) {
		return fmt.Errorf("%s %s %v: %w", req.Symbol, req.Side, req.Quantity, ErrReduceOnlyRejected)
	}

	switch {
	case !exists:
		side := entity.Long
		if req.Side == entity.Sell {
			side = entity.Short
		}
		f.positions[req.Symbol] = f.newPosition(req.Symbol, side, req.Quantity, price)
	case increasing:
		total := pos.Size + req.Quantity
		pos.EntryPrice = (pos.EntryPrice*pos.Size + price*req.Quantity) / total
		pos.Size = total
		pos.MarkPrice = price
		f.positions[req.Symbol] = pos
	default:
		remaining := pos.Size - req.Quantity
		switch {
		case remaining > entity.MinPositionSize:
			pos.Size = remaining
			pos.MarkPrice = price
			f.positions[req.Symbol] = pos
		case remaining < -entity.MinPositionSize:
			side := entity.Long
			if pos.Side == entity.Long {
				side = entity.Short
			}
			f.positions[req.Symbol] = f.newPosition(req.Symbol, side, -remaining, price)
		default:
			delete(f.positions, req.Symbol)
		}
	}
	return nil
}

func (f *Fake) newPosition(symbol string, side entity.Side, size, price float64) entity.ExchangePosition {
	lev := f.leverage[symbol]
	if lev == 0 {
		lev = 1
	}
	return entity.ExchangePosition{
		Symbol:     symbol,
		Size:       size,
		Side:       side,
		EntryPrice: price,
		MarkPrice:  price,
		Leverage:   lev,
	}
}

func (f *Fake) GetOrder(_ context.Context, _ string, orderID string) (entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGetOrder); err != nil {
		return entity.Order{}, err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return entity.Order{}, fmt.Errorf("order #%s: %w", orderID, exchange.ErrOrderNotFound)
	}
	return o, nil
}

func (f *Fake) CancelOrder(_ context.Context, _ string, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodCancelOrder); err != nil {
		return err
	}
	o, ok := f.orders[orderID]
	if !ok || !o.Status.Working() {
		return fmt.Errorf("order #%s: %w", orderID, exchange.ErrOrderNotFound)
	}
	o.Status = entity.OrderCanceled
	f.orders[orderID] = o
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *Fake) SetLeverage(_ context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodSetLeverage); err != nil {
		return err
	}
	f.leverage[symbol] = leverage
	return nil
}

func (f *Fake) GetInstrumentConstraints(_ context.Context, symbol string) (entity.InstrumentConstraints, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGetConstraints); err != nil {
		return entity.InstrumentConstraints{}, err
	}
	if c, ok := f.constraints[symbol]; ok {
		return c, nil
	}
	return defaultConstraints, nil
}

func (f *Fake) SyncServerTime(context.Context) error { return nil }
