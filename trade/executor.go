package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gtoxlili/echoGuard/config"
	"github.com/gtoxlili/echoGuard/entity"
	"github.com/gtoxlili/echoGuard/exchange"
	"github.com/gtoxlili/echoGuard/ledger"
	"github.com/gtoxlili/echoGuard/utils"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	// FeeRate 每一腿按名义价值收取的手续费
	FeeRate = 0.0005

	MinLeverage     = 5
	HardMaxLeverage = 15

	MaxOpenSlippage  = 0.02
	MaxCloseSlippage = 0.03

	// MaxExposureMultiple 总名义敞口上限为净值的倍数
	MaxExposureMultiple = 10
)

var (
	ErrOpensBlocked        = errors.New("new positions are blocked for this cycle")
	ErrSymbolNotAllowed    = errors.New("symbol not in trading whitelist")
	ErrLeverageOutOfRange  = errors.New("leverage out of range")
	ErrInvalidMargin       = errors.New("margin must be positive and finite")
	ErrInvalidPercentage   = errors.New("close percentage must be in (0, 100]")
	ErrMaxPositions        = errors.New("maximum number of positions reached")
	ErrPositionExists      = errors.New("position already open on symbol")
	ErrNoPosition          = errors.New("no open position on symbol")
	ErrInsufficientBalance = errors.New("no available balance")
	ErrDrawdownLimit       = errors.New("account drawdown limit reached")
	ErrExposureLimit       = errors.New("notional exposure limit exceeded")
	ErrBelowMinSize        = errors.New("order size below instrument minimum")
	ErrOrderRejected       = errors.New("order was not filled")
	ErrSlippageExceeded    = errors.New("slippage exceeded, order reversed")
	ErrRollbackFailed      = errors.New("slippage reversal failed, manual intervention required")
)

// Timing 下单后的等待与轮询参数
type Timing struct {
	OpenSettle   time.Duration
	CloseSettle  time.Duration
	PollAttempts int
	PollInterval time.Duration
	// RequestTimeout 每次交易所请求的上限，0 时取 config.OrderTimeout
	RequestTimeout time.Duration
}

var DefaultTiming = Timing{
	OpenSettle:     2 * time.Second,
	CloseSettle:    500 * time.Millisecond,
	PollAttempts:   3,
	PollInterval:   300 * time.Millisecond,
	RequestTimeout: config.OrderTimeout,
}

func (t Timing) requestTimeout() time.Duration {
	if t.RequestTimeout > 0 {
		return t.RequestTimeout
	}
	return config.OrderTimeout
}

// pollPolicy 成交确认与强平价查询共用的有限轮询
func (t Timing) pollPolicy() utils.RetryPolicy {
	return utils.RetryPolicy{
		MaxRetries:     max(t.PollAttempts-1, 0),
		Backoff:        func(int) time.Duration { return t.PollInterval },
		AttemptTimeout: t.requestTimeout(),
	}
}

// bounded 以单次请求上限调用交易所
func bounded[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(ctx)
}

type OpenRequest struct {
	Symbol       string
	Side         entity.Side
	Leverage     int
	MarginUsdt   float64
	StopLoss     *float64
	ProfitTarget *float64
}

// Result 一次成功（或已记录的）执行
type Result struct {
	OrderID  string      `json:"order_id"`
	Symbol   string      `json:"symbol"`
	Side     entity.Side `json:"side"`
	Quantity float64     `json:"quantity"`
	Price    float64     `json:"price"`
	Fee      float64     `json:"fee"`
	Pnl      *float64    `json:"pnl,omitempty"`
}

func (r Result) String() string {
	s := fmt.Sprintf("%s %s qty=%v @ %.6g fee=%.4f", r.Symbol, r.Side, r.Quantity, r.Price, r.Fee)
	if r.Pnl != nil {
		s += fmt.Sprintf(" pnl=%.4f", *r.Pnl)
	}
	return s
}

// Executor 执行引擎：开平仓、成交确认、滑点回滚、手续费感知的盈亏记账。交易所写操作串行。
type Executor struct {
	client exchange.Client
	store  ledger.Store
	policy entity.RiskPolicy
	timing Timing
	now    func() time.Time

	writeMu sync.Mutex

	blockMu      sync.RWMutex
	opensBlocked bool
}

func NewExecutor(client exchange.Client, store ledger.Store, policy entity.RiskPolicy, timing Timing, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{
		client: client,
		store:  store,
		policy: policy,
		timing: timing,
		now:    now,
	}
}

// BlockOpens 本周期内拒绝所有开仓
func (e *Executor) BlockOpens() {
	e.blockMu.Lock()
	defer e.blockMu.Unlock()
	e.opensBlocked = true
}

// ResetCycle 新周期开始时解除开仓限制
func (e *Executor) ResetCycle() {
	e.blockMu.Lock()
	defer e.blockMu.Unlock()
	e.opensBlocked = false
}

func (e *Executor) OpensBlocked() bool {
	e.blockMu.RLock()
	defer e.blockMu.RUnlock()
	return e.opensBlocked
}

func (e *Executor) maxLeverage() int {
	return min(HardMaxLeverage, e.policy.MaxLeverage)
}

// Open 开仓。所有前置检查都在交易所写操作之前完成。
func (e *Executor) Open(ctx context.Context, req OpenRequest) (Result, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	account, err := e.checkOpen(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("trade.Open: %s: %w", req.Symbol, err)
	}

	if _, err := bounded(ctx, e.timing.requestTimeout(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.client.SetLeverage(ctx, req.Symbol, req.Leverage)
	}); err != nil {
		return Result{}, fmt.Errorf("trade.Open: %w", err)
	}
	refPrice, err := e.referencePrice(ctx, req.Symbol)
	if err != nil {
		return Result{}, fmt.Errorf("trade.Open: %w", err)
	}
	constraints, err := e.constraints(ctx, req.Symbol)
	if err != nil {
		return Result{}, fmt.Errorf("trade.Open: %w", err)
	}
	qty, err := sizeOrder(req.MarginUsdt, req.Leverage, refPrice, account.Available, constraints)
	if err != nil {
		return Result{}, fmt.Errorf("trade.Open: %s: %w", req.Symbol, err)
	}

	orderSide := req.Side.OpenOrderSide()
	order, err := e.execute(ctx, req.Symbol, orderSide, qty, false, refPrice, e.timing.OpenSettle)
	if err != nil {
		return Result{}, fmt.Errorf("trade.Open: %s: %w", req.Symbol, err)
	}
	fill, filled := order.FillPrice, order.FilledQuantity
	openFee := fill * filled * FeeRate

	var rollbackErr error
	if slip := slippage(fill, refPrice); slip > MaxOpenSlippage {
		slog.Warn("open slippage exceeded, reversing", "symbol", req.Symbol, "ref", refPrice, "fill", fill, "slippage_pct", slip*100)
		rev, err := e.execute(ctx, req.Symbol, orderSide.Opposite(), filled, true, fill, e.timing.CloseSettle)
		if err == nil {
			exitFee := rev.FillPrice * rev.FilledQuantity * FeeRate
			pnl := (rev.FillPrice-fill)*rev.FilledQuantity*req.Side.Sign() - openFee - exitFee
			e.appendTrade(ctx, entity.Trade{
				OrderID: rev.ID, Symbol: req.Symbol, Side: req.Side, Type: entity.TradeClose,
				Price: rev.FillPrice, Quantity: rev.FilledQuantity, Leverage: req.Leverage,
				Fee: openFee + exitFee, Pnl: &pnl, Status: entity.TradeReverted,
			})
			return Result{}, fmt.Errorf("trade.Open: %s fill %.6g vs ref %.6g: %w", req.Symbol, fill, refPrice, ErrSlippageExceeded)
		}
		slog.Error("MANUAL INTERVENTION REQUIRED: open reversal failed, position left open",
			"symbol", req.Symbol, "side", req.Side, "quantity", filled, "fill", fill, "error", err)
		rollbackErr = ErrRollbackFailed
	}

	e.appendTrade(ctx, entity.Trade{
		OrderID: order.ID, Symbol: req.Symbol, Side: req.Side, Type: entity.TradeOpen,
		Price: fill, Quantity: filled, Leverage: req.Leverage, Fee: openFee,
		Status: entity.StatusFromOrder(order.Status),
	})

	pos := entity.Position{
		Symbol:           req.Symbol,
		Side:             req.Side,
		Quantity:         filled,
		EntryPrice:       fill,
		CurrentPrice:     fill,
		LiquidationPrice: e.liquidationPrice(ctx, req.Symbol, req.Side, fill, req.Leverage),
		Leverage:         req.Leverage,
		OpenedAt:         e.now(),
		StopLoss:         req.StopLoss,
		ProfitTarget:     req.ProfitTarget,
		EntryOrderID:     order.ID,
	}
	if err := e.store.UpsertPosition(ctx, pos); err != nil {
		// 下一次对账会以 synced-* 订单号补回该持仓
		slog.Error("failed to record opened position", "symbol", req.Symbol, "error", err)
	}

	res := Result{OrderID: order.ID, Symbol: req.Symbol, Side: req.Side, Quantity: filled, Price: fill, Fee: openFee}
	slog.Info("position opened", "result", res.String(), "leverage", req.Leverage)
	if rollbackErr != nil {
		return res, fmt.Errorf("trade.Open: %s: %w", req.Symbol, rollbackErr)
	}
	return res, nil
}

func (e *Executor) checkOpen(ctx context.Context, req OpenRequest) (entity.Account, error) {
	switch {
	case e.OpensBlocked():
		return entity.Account{}, ErrOpensBlocked
	case !e.policy.Allows(req.Symbol):
		return entity.Account{}, ErrSymbolNotAllowed
	case req.Side != entity.Long && req.Side != entity.Short:
		return entity.Account{}, fmt.Errorf("unknown side %q", req.Side)
	case req.Leverage < MinLeverage || req.Leverage > e.maxLeverage():
		return entity.Account{}, fmt.Errorf("%dx not in [%d, %d]: %w", req.Leverage, MinLeverage, e.maxLeverage(), ErrLeverageOutOfRange)
	case req.MarginUsdt <= 0 || math.IsNaN(req.MarginUsdt) || math.IsInf(req.MarginUsdt, 0):
		return entity.Account{}, ErrInvalidMargin
	}

	positions, err := e.store.ListPositions(ctx)
	if err != nil {
		return entity.Account{}, err
	}
	if len(positions) >= e.policy.MaxPositions {
		return entity.Account{}, fmt.Errorf("%d/%d: %w", len(positions), e.policy.MaxPositions, ErrMaxPositions)
	}
	if lo.ContainsBy(positions, func(p entity.Position) bool { return p.Symbol == req.Symbol }) {
		return entity.Account{}, ErrPositionExists
	}

	account, err := bounded(ctx, e.timing.requestTimeout(), e.client.GetAccount)
	if err != nil {
		return entity.Account{}, err
	}
	if account.Available <= 0 {
		return entity.Account{}, ErrInsufficientBalance
	}

	peak, _, err := e.store.PeakAccountValue(ctx)
	if err != nil {
		return entity.Account{}, err
	}
	initial, ok, err := e.store.InitialAccountValue(ctx)
	if err != nil {
		return entity.Account{}, err
	}
	if !ok {
		initial = account.Total
	}
	if dd := e.policy.DrawdownPercent(account.Total, peak, initial); dd >= e.policy.AccountMaxDrawdownPercent {
		return entity.Account{}, fmt.Errorf("%.2f%% from %s: %w", dd, e.policy.DrawdownBasis, ErrDrawdownLimit)
	}

	exposure := lo.SumBy(positions, func(p entity.Position) float64 {
		return p.Quantity * lo.Ternary(p.CurrentPrice > 0, p.CurrentPrice, p.EntryPrice)
	})
	requested := req.MarginUsdt * float64(req.Leverage)
	if limit := MaxExposureMultiple * account.Total; exposure+requested > limit {
		return entity.Account{}, fmt.Errorf("%.2f + %.2f > %.2f: %w", exposure, requested, limit, ErrExposureLimit)
	}
	return account, nil
}

// sizeOrder qty = floor_step(margin×lev/price)，限制在 [min,max]；保证金不足时按可用余额重算
func sizeOrder(margin float64, leverage int, price, available float64, c entity.InstrumentConstraints) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("no reference price")
	}
	lev := float64(leverage)
	clamp := func(q float64) float64 {
		if c.MaxQty > 0 {
			q = math.Min(q, c.MaxQty)
		}
		return floorToStep(q, c.StepSize)
	}

	qty := clamp(margin * lev / price)
	if qty*price/lev > available {
		qty = clamp(available * lev / price)
	}
	if qty <= 0 || qty < c.MinQty {
		return 0, fmt.Errorf("qty %v < min %v: %w", qty, c.MinQty, ErrBelowMinSize)
	}
	return qty, nil
}

func floorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(qty).Div(s).Floor().Mul(s).InexactFloat64()
}

func slippage(fill, ref float64) float64 {
	if ref <= 0 {
		return 0
	}
	return math.Abs(fill-ref) / ref
}

// Close 按百分比平仓。100% 时删除账本行并撤销记录的止损/止盈单。
func (e *Executor) Close(ctx context.Context, symbol string, percentage float64) (Result, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if percentage <= 0 || percentage > 100 || math.IsNaN(percentage) {
		return Result{}, fmt.Errorf("trade.Close: %s %v: %w", symbol, percentage, ErrInvalidPercentage)
	}

	positions, err := bounded(ctx, e.timing.requestTimeout(), e.client.GetPositions)
	if err != nil {
		return Result{}, fmt.Errorf("trade.Close: %w", err)
	}
	ep, ok := lo.Find(positions, func(p entity.ExchangePosition) bool { return p.Symbol == symbol && p.Open() })
	if !ok {
		return Result{}, fmt.Errorf("trade.Close: %s: %w", symbol, ErrNoPosition)
	}
	row, known, err := e.store.GetPosition(ctx, symbol)
	if err != nil {
		return Result{}, fmt.Errorf("trade.Close: %w", err)
	}

	entry := ep.EntryPrice
	if entry <= 0 && known {
		entry = row.EntryPrice
	}
	leverage := lo.Ternary(ep.Leverage > 0, ep.Leverage, row.Leverage)
	full := percentage >= 100

	qty := ep.Size
	if !full {
		constraints, err := e.constraints(ctx, symbol)
		if err != nil {
			return Result{}, fmt.Errorf("trade.Close: %w", err)
		}
		qty = floorToStep(ep.Size*percentage/100, constraints.StepSize)
		if qty <= 0 || qty < constraints.MinQty {
			return Result{}, fmt.Errorf("trade.Close: %s qty %v: %w", symbol, qty, ErrBelowMinSize)
		}
	}

	refPrice, err := e.referencePrice(ctx, symbol)
	if err != nil {
		return Result{}, fmt.Errorf("trade.Close: %w", err)
	}
	if entry <= 0 {
		// 交易所与账本都没有开仓价时按参考价记账
		entry = refPrice
	}

	closeSide := ep.Side.CloseOrderSide()
	order, err := e.execute(ctx, symbol, closeSide, qty, true, refPrice, e.timing.CloseSettle)
	if err != nil {
		return Result{}, fmt.Errorf("trade.Close: %s: %w", symbol, err)
	}
	fill, filled := order.FillPrice, order.FilledQuantity
	entryFee := entry * filled * FeeRate
	exitFee := fill * filled * FeeRate

	var rollbackErr error
	if slip := slippage(fill, refPrice); slip > MaxCloseSlippage {
		slog.Warn("close slippage exceeded, re-opening", "symbol", symbol, "ref", refPrice, "fill", fill, "slippage_pct", slip*100)
		rev, err := e.execute(ctx, symbol, closeSide.Opposite(), filled, false, fill, e.timing.OpenSettle)
		if err == nil {
			// 滑点平仓已实现的盈亏照常入账；重开的仓位以新成交价为开仓价，手续费在其平仓时计入
			pnl := (fill-entry)*filled*ep.Side.Sign() - entryFee - exitFee
			e.appendTrade(ctx, entity.Trade{
				OrderID: order.ID, Symbol: symbol, Side: ep.Side, Type: entity.TradeClose,
				Price: fill, Quantity: filled, Leverage: leverage, Fee: entryFee + exitFee, Pnl: &pnl,
				Status: entity.TradeReverted,
			})
			e.appendTrade(ctx, entity.Trade{
				OrderID: rev.ID, Symbol: symbol, Side: ep.Side, Type: entity.TradeOpen,
				Price: rev.FillPrice, Quantity: rev.FilledQuantity, Leverage: leverage,
				Fee: rev.FillPrice * rev.FilledQuantity * FeeRate, Status: entity.TradeReverted,
			})
			if known {
				row.EntryPrice, row.CurrentPrice = rev.FillPrice, rev.FillPrice
				row.Quantity = ep.Size - filled + rev.FilledQuantity
				if err := e.store.UpsertPosition(ctx, row); err != nil {
					slog.Error("failed to record re-opened position", "symbol", symbol, "error", err)
				}
			}
			return Result{}, fmt.Errorf("trade.Close: %s fill %.6g vs ref %.6g: %w", symbol, fill, refPrice, ErrSlippageExceeded)
		}
		slog.Error("MANUAL INTERVENTION REQUIRED: close reversal failed, position closed at slipped price",
			"symbol", symbol, "side", ep.Side, "quantity", filled, "fill", fill, "error", err)
		rollbackErr = ErrRollbackFailed
	}

	pnl := (fill-entry)*filled*ep.Side.Sign() - entryFee - exitFee
	e.appendTrade(ctx, entity.Trade{
		OrderID: order.ID, Symbol: symbol, Side: ep.Side, Type: entity.TradeClose,
		Price: fill, Quantity: filled, Leverage: leverage, Fee: entryFee + exitFee, Pnl: &pnl,
		Status: entity.StatusFromOrder(order.Status),
	})

	if full && known {
		e.cancelProtectiveOrders(ctx, row)
		if err := e.store.DeletePosition(ctx, symbol); err != nil {
			slog.Error("failed to remove closed position from ledger", "symbol", symbol, "error", err)
		}
	}

	res := Result{OrderID: order.ID, Symbol: symbol, Side: ep.Side, Quantity: filled, Price: fill, Fee: entryFee + exitFee, Pnl: &pnl}
	slog.Info("position closed", "result", res.String(), "percentage", percentage)
	if rollbackErr != nil {
		return res, fmt.Errorf("trade.Close: %s: %w", symbol, rollbackErr)
	}
	return res, nil
}

// CancelOrder 撤销挂单，并清除账本中对应的止损/止盈单号
func (e *Executor) CancelOrder(ctx context.Context, symbol, orderID string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.cancel(ctx, symbol, orderID); err != nil {
		return fmt.Errorf("trade.CancelOrder: %w", err)
	}
	row, ok, err := e.store.GetPosition(ctx, symbol)
	if err != nil || !ok {
		return err
	}
	changed := false
	if row.SLOrderID == orderID {
		row.SLOrderID, changed = "", true
	}
	if row.TPOrderID == orderID {
		row.TPOrderID, changed = "", true
	}
	if changed {
		if err := e.store.UpsertPosition(ctx, row); err != nil {
			return fmt.Errorf("trade.CancelOrder: %w", err)
		}
	}
	return nil
}

func (e *Executor) cancelProtectiveOrders(ctx context.Context, p entity.Position) {
	for _, id := range []string{p.SLOrderID, p.TPOrderID} {
		if id == "" {
			continue
		}
		o, err := bounded(ctx, e.timing.requestTimeout(), func(ctx context.Context) (entity.Order, error) {
			return e.client.GetOrder(ctx, p.Symbol, id)
		})
		if err != nil || !o.Status.Working() {
			continue
		}
		if err := e.cancel(ctx, p.Symbol, id); err != nil {
			slog.Warn("failed to cancel protective order", "symbol", p.Symbol, "order_id", id, "error", err)
		}
	}
}

func (e *Executor) cancel(ctx context.Context, symbol, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timing.requestTimeout())
	defer cancel()
	return e.client.CancelOrder(ctx, symbol, orderID)
}

func (e *Executor) constraints(ctx context.Context, symbol string) (entity.InstrumentConstraints, error) {
	return bounded(ctx, e.timing.requestTimeout(), func(ctx context.Context) (entity.InstrumentConstraints, error) {
		return e.client.GetInstrumentConstraints(ctx, symbol)
	})
}

func (e *Executor) referencePrice(ctx context.Context, symbol string) (float64, error) {
	t, err := bounded(ctx, e.timing.requestTimeout(), func(ctx context.Context) (entity.Ticker, error) {
		return e.client.GetTicker(ctx, symbol)
	})
	if err != nil {
		return 0, err
	}
	price := lo.Ternary(t.Last > 0, t.Last, t.MarkPrice)
	if price <= 0 {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

var errNotFilled = errors.New("order not filled yet")

// execute 下市价单并确认成交。轮询耗尽时以预估价与下单数量作为成交结果。
func (e *Executor) execute(ctx context.Context, symbol string, side entity.OrderSide, qty float64, reduceOnly bool, estimate float64, settle time.Duration) (entity.Order, error) {
	req := entity.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty,
		ReduceOnly:    reduceOnly,
		ClientOrderID: uuid.NewString(),
	}
	placed, err := bounded(ctx, e.timing.requestTimeout(), func(ctx context.Context) (entity.Order, error) {
		return e.client.PlaceOrder(ctx, req)
	})
	if err != nil {
		return entity.Order{}, err
	}
	if placed.Status.Dead() {
		return entity.Order{}, fmt.Errorf("order #%s %s: %w", placed.ID, placed.Status, ErrOrderRejected)
	}

	if err := utils.Sleep(ctx, settle); err != nil {
		return entity.Order{}, err
	}

	last := placed
	confirmed, err := utils.RetryWithBackoff(ctx, e.timing.pollPolicy(), func(ctx context.Context) (entity.Order, error) {
		o, err := e.client.GetOrder(ctx, symbol, placed.ID)
		if err != nil {
			return o, err
		}
		last = o
		if o.Status.Dead() {
			return o, utils.Permanent(fmt.Errorf("order #%s %s", o.ID, o.Status))
		}
		if o.Status != entity.OrderFilled || o.FillPrice <= 0 || o.FilledQuantity <= 0 {
			return o, errNotFilled
		}
		return o, nil
	})
	switch {
	case err == nil:
		return confirmed, nil
	case errors.Is(err, utils.ErrPermanent), last.Status.Dead():
		if last.FilledQuantity <= 0 {
			return entity.Order{}, fmt.Errorf("order #%s %s: %w", placed.ID, last.Status, ErrOrderRejected)
		}
	case ctx.Err() != nil:
		return entity.Order{}, ctx.Err()
	}

	slog.Warn("order confirmation exhausted, using pre-trade estimate", "symbol", symbol, "order_id", placed.ID, "error", err)
	if last.FillPrice <= 0 {
		last.FillPrice = estimate
	}
	if last.FilledQuantity <= 0 {
		last.FilledQuantity = qty
	}
	if !last.Status.Dead() {
		last.Status = entity.OrderFilled
	}
	return last, nil
}

// liquidationPrice 有限次查询交易所返回的强平价，失败时估算
func (e *Executor) liquidationPrice(ctx context.Context, symbol string, side entity.Side, entry float64, leverage int) float64 {
	liq, err := utils.RetryWithBackoff(ctx, e.timing.pollPolicy(), func(ctx context.Context) (float64, error) {
		positions, err := e.client.GetPositions(ctx)
		if err != nil {
			return 0, err
		}
		p, ok := lo.Find(positions, func(p entity.ExchangePosition) bool { return p.Symbol == symbol })
		if !ok || p.LiquidationPrice <= 0 {
			return 0, errors.New("liquidation price not available")
		}
		return p.LiquidationPrice, nil
	})
	if err != nil {
		return entity.EstimateLiquidationPrice(side, entry, leverage)
	}
	return liq
}

func (e *Executor) appendTrade(ctx context.Context, t entity.Trade) {
	t.Timestamp = e.now()
	if _, err := e.store.AppendTrade(ctx, t); err != nil {
		slog.Error("failed to record trade", "symbol", t.Symbol, "type", t.Type, "status", t.Status, "error", err)
	}
}
