package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gtoxlili/echoGuard/entity"
	"github.com/gtoxlili/echoGuard/exchange/exchangetest"
	"github.com/gtoxlili/echoGuard/ledger"
	"github.com/gtoxlili/echoGuard/trade"
	"github.com/gtoxlili/echoGuard/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	fake    *exchangetest.Fake
	store   *ledger.SQLite
	manager *trade.Manager
	engine  *Engine
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{fake: exchangetest.New(), store: store, now: t0}
	clock := func() time.Time { return h.now }
	h.fake.SetAccount(entity.Account{Total: 1000, Available: 1000})
	exec := trade.NewExecutor(h.fake, store, testPolicy(), trade.Timing{PollAttempts: 1}, clock)
	h.manager = trade.NewManager(store, h.fake, clock).WithRetry(utils.RetryPolicy{})
	h.engine = NewEngine(store, exec, testPolicy(), clock)
	return h
}

// open 在交易所建立持仓并同步进账本
func (h *harness) open(t *testing.T, symbol string, side entity.Side, entry float64, leverage int) {
	t.Helper()
	h.fake.SetPosition(entity.ExchangePosition{Symbol: symbol, Size: 1, Side: side, EntryPrice: entry, MarkPrice: entry, Leverage: leverage})
	h.fake.SetTicker(symbol, entry, entry)
	h.sync(t)
}

func (h *harness) price(t *testing.T, symbol string, p float64) {
	t.Helper()
	h.fake.SetTicker(symbol, p, p)
	h.sync(t)
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	_, err := h.manager.Reconcile(context.Background(), nil)
	require.NoError(t, err)
}

func TestRun_TrailingStopFromPersistedPeak(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.open(t, "BTC", entity.Long, 100, 10)

	h.price(t, "BTC", 101.6)
	actions, err := h.engine.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, actions)

	p, _, err := h.store.GetPosition(ctx, "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 16, p.PeakPnlPercent, 1e-6)

	// 峰值 16% 后回落到 7.9%，低于 8% 的移动止盈线
	h.price(t, "BTC", 100.79)
	actions, err = h.engine.Run(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, entity.ReasonTrailingStop, actions[0].Reason)
	assert.True(t, actions[0].Succeeded())

	_, open := h.fake.Position("BTC")
	assert.False(t, open)
	count, err := h.store.CountPositions(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	trades, err := h.store.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, entity.TradeClose, trades[0].Type)
}

func TestRun_PeakIsMonotonic(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.open(t, "ETH", entity.Short, 100, 5)

	last := 0.0
	for _, p := range []float64{99, 98.5, 98.8, 98.9, 98.6, 98.4} {
		h.price(t, "ETH", p)
		_, err := h.engine.Run(ctx)
		require.NoError(t, err)

		pos, ok, err := h.store.GetPosition(ctx, "ETH")
		require.NoError(t, err)
		require.True(t, ok)
		assert.GreaterOrEqual(t, pos.PeakPnlPercent, last, "price %v", p)
		last = pos.PeakPnlPercent
	}
	assert.InDelta(t, 8, last, 1e-6)
}

func TestRun_StopLoss(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.open(t, "BTC", entity.Long, 100, 10)
	h.open(t, "ETH", entity.Long, 100, 10)

	h.price(t, "BTC", 99.6)
	h.price(t, "ETH", 99.61)
	actions, err := h.engine.Run(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "BTC", actions[0].Symbol)
	assert.Equal(t, entity.ReasonStopLoss, actions[0].Reason)

	_, open := h.fake.Position("ETH")
	assert.True(t, open)
}

func TestRun_MaxHolding(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.open(t, "SOL", entity.Long, 20, 5)

	h.now = t0.Add(36*time.Hour + time.Minute)
	actions, err := h.engine.Run(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, entity.ReasonMaxHolding, actions[0].Reason)
}

func TestRun_FailedCloseKeepsLedgerRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.open(t, "BTC", entity.Long, 100, 10)
	h.price(t, "BTC", 99)
	h.fake.FailNext(exchangetest.MethodPlaceOrder, errors.New("exchange unavailable"))

	actions, err := h.engine.Run(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.False(t, actions[0].Succeeded())

	_, ok, err := h.store.GetPosition(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_PositionAlreadyGoneIsRemoved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.open(t, "BTC", entity.Long, 100, 10)
	h.price(t, "BTC", 99)
	h.fake.RemovePosition("BTC")

	actions, err := h.engine.Run(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.True(t, actions[0].Succeeded())

	count, err := h.store.CountPositions(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCheckAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// 没有历史时以当前净值为基准
	v, err := h.engine.CheckAccount(ctx, entity.Account{Total: 1000})
	require.NoError(t, err)
	assert.Equal(t, BreakerNormal, v.State)

	require.NoError(t, h.store.AppendAccountSnapshot(ctx, entity.AccountSnapshot{Timestamp: t0, TotalValue: 1000}))
	require.NoError(t, h.store.AppendAccountSnapshot(ctx, entity.AccountSnapshot{Timestamp: t0.Add(time.Minute), TotalValue: 1250}))

	v, err = h.engine.CheckAccount(ctx, entity.Account{Total: 1100})
	require.NoError(t, err)
	assert.Equal(t, BreakerNormal, v.State)

	v, err = h.engine.CheckAccount(ctx, entity.Account{Total: 1000})
	require.NoError(t, err)
	assert.Equal(t, BreakerHalt, v.State)
	assert.InDelta(t, 20, v.DrawdownPct, 1e-9)
}

func TestCloseAll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.open(t, "BTC", entity.Long, 100, 10)
	h.open(t, "ETH", entity.Short, 50, 5)

	actions, err := h.engine.CloseAll(ctx, "drawdown 21%")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	for _, a := range actions {
		assert.Equal(t, entity.ReasonCircuitBreaker, a.Reason)
		assert.True(t, a.Succeeded())
	}

	positions, err := h.fake.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
	count, err := h.store.CountPositions(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
