package trade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gtoxlili/echoGuard/config"
	"github.com/gtoxlili/echoGuard/entity"
	"github.com/gtoxlili/echoGuard/exchange"
	"github.com/gtoxlili/echoGuard/ledger"
	"github.com/gtoxlili/echoGuard/utils"
	"github.com/samber/lo"
)

// Manager 让账本持仓收敛到交易所持仓。交易所决定持仓是否存在及数量、方向、价格；
// 止损止盈、订单 ID、开仓时间、峰值盈亏由账本保留。
type Manager struct {
	mu     sync.Mutex
	store  ledger.Store
	client exchange.Client
	retry  utils.RetryPolicy
	now    func() time.Time
}

func NewManager(store ledger.Store, client exchange.Client, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:  store,
		client: client,
		retry: utils.RetryPolicy{
			MaxRetries:     2,
			Backoff:        utils.ExponentialBackoff(500*time.Millisecond, 5*time.Second),
			AttemptTimeout: 15 * time.Second,
			Retryable:      exchange.IsRetryable,
		},
		now: now,
	}
}

// WithRetry 替换拉取持仓时的重试策略，测试用
func (m *Manager) WithRetry(p utils.RetryPolicy) *Manager {
	m.retry = p
	return m
}

// Reconcile 执行一次对账。raw 为 nil 时从交易所拉取持仓；返回交易所非零持仓数。
func (m *Manager) Reconcile(ctx context.Context, raw []entity.ExchangePosition) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconcile(ctx, raw)
}

func (m *Manager) reconcile(ctx context.Context, raw []entity.ExchangePosition) (int, error) {
	if raw == nil {
		fetched, err := utils.RetryWithBackoff(ctx, m.retry, m.client.GetPositions)
		if err != nil {
			return 0, fmt.Errorf("trade.Reconcile: fetch positions: %w", err)
		}
		raw = fetched
	}
	live := lo.Filter(raw, func(p entity.ExchangePosition, _ int) bool { return p.Open() })

	existing, err := m.store.ListPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("trade.Reconcile: %w", err)
	}

	if len(live) == 0 {
		if len(existing) > 0 {
			slog.Warn("exchange reports no positions, clearing ledger",
				"ledger_positions", lo.Map(existing, func(p entity.Position, _ int) string { return p.Symbol }))
			if err := m.store.DeleteAllPositions(ctx); err != nil {
				return 0, fmt.Errorf("trade.Reconcile: %w", err)
			}
		}
		return 0, nil
	}

	bySymbol := lo.KeyBy(existing, func(p entity.Position) string { return p.Symbol })
	now := m.now()
	rows := make([]entity.Position, 0, len(live))
	for _, ep := range live {
		row, err := m.merge(ctx, ep, bySymbol, now)
		if err != nil {
			return 0, fmt.Errorf("trade.Reconcile: %s: %w", ep.Symbol, err)
		}
		rows = append(rows, row)
	}

	if err := m.store.ReplacePositions(ctx, rows); err != nil {
		return 0, fmt.Errorf("trade.Reconcile: %w", err)
	}
	for _, p := range existing {
		if _, ok := lo.Find(rows, func(r entity.Position) bool { return r.Symbol == p.Symbol }); !ok {
			slog.Info("position gone on exchange, removed from ledger", "symbol", p.Symbol, "side", p.Side)
		}
	}
	return len(live), nil
}

func (m *Manager) merge(ctx context.Context, ep entity.ExchangePosition, existing map[string]entity.Position, now time.Time) (entity.Position, error) {
	entry, current := ep.EntryPrice, ep.MarkPrice
	if entry <= 0 || current <= 0 {
		t, err := bounded(ctx, config.OrderTimeout, func(ctx context.Context) (entity.Ticker, error) {
			return m.client.GetTicker(ctx, ep.Symbol)
		})
		if err != nil {
			return entity.Position{}, fmt.Errorf("ticker fallback: %w", err)
		}
		price := lo.Ternary(t.MarkPrice > 0, t.MarkPrice, t.Last)
		if current <= 0 {
			current = price
		}
		if entry <= 0 {
			entry = current
		}
	}

	prev, known := existing[ep.Symbol]
	leverage := ep.Leverage
	if leverage <= 0 {
		leverage = lo.Ternary(known && prev.Leverage > 0, prev.Leverage, 1)
	}
	liq := ep.LiquidationPrice
	if liq <= 0 {
		liq = entity.EstimateLiquidationPrice(ep.Side, entry, leverage)
	}

	row := entity.Position{
		Symbol:           ep.Symbol,
		Side:             ep.Side,
		Quantity:         ep.Size,
		EntryPrice:       entry,
		CurrentPrice:     current,
		LiquidationPrice: liq,
		Leverage:         leverage,
		UnrealizedPnl:    ep.UnrealizedPnl,
	}

	switch {
	case known && prev.Side == ep.Side:
		row.PeakPnlPercent = prev.PeakPnlPercent
		row.OpenedAt = prev.OpenedAt
		row.StopLoss = prev.StopLoss
		row.ProfitTarget = prev.ProfitTarget
		row.EntryOrderID = prev.EntryOrderID
		row.SLOrderID = prev.SLOrderID
		row.TPOrderID = prev.TPOrderID
	case known:
		slog.Warn("position side flipped on exchange, resetting metadata",
			"symbol", ep.Symbol, "from", prev.Side, "to", ep.Side)
		fallthrough
	default:
		row.OpenedAt = now
	}
	if row.EntryOrderID == "" {
		row.EntryOrderID = fmt.Sprintf("synced-%s-%d", ep.Symbol, now.UnixMilli())
	}
	if row.OpenedAt.IsZero() {
		row.OpenedAt = now
	}
	return row, nil
}

// ReconcileVerified 对账后比较账本与交易所的持仓数，不一致时再对账一次，之后无论结果都继续
func (m *Manager) ReconcileVerified(ctx context.Context, raw []entity.ExchangePosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	want, err := m.reconcile(ctx, raw)
	if err != nil {
		return err
	}
	got, err := m.store.CountPositions(ctx)
	if err != nil {
		return fmt.Errorf("trade.ReconcileVerified: %w", err)
	}
	if got == want {
		return nil
	}

	slog.Warn("ledger diverges from exchange after reconciliation, retrying once", "ledger", got, "exchange", want)
	if want, err = m.reconcile(ctx, nil); err != nil {
		return err
	}
	if got, err = m.store.CountPositions(ctx); err != nil {
		return fmt.Errorf("trade.ReconcileVerified: %w", err)
	}
	if got != want {
		slog.Error("ledger still diverges from exchange, proceeding", "ledger", got, "exchange", want)
	}
	return nil
}
