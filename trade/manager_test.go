package trade

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gtoxlili/echoGuard/entity"
	"github.com/gtoxlili/echoGuard/exchange/exchangetest"
	"github.com/gtoxlili/echoGuard/ledger"
	"github.com/gtoxlili/echoGuard/utils"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return t0 }

func openLedger(t *testing.T) *ledger.SQLite {
	t.Helper()
	store, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newManager(store ledger.Store, fake *exchangetest.Fake) *Manager {
	return NewManager(store, fake, fixedClock).WithRetry(utils.RetryPolicy{})
}

func TestReconcile_SyncsExchangePositions(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New()
	store := openLedger(t)

	fake.SetPosition(entity.ExchangePosition{Symbol: "BTC", Size: 0.5, Side: entity.Long, EntryPrice: 100, MarkPrice: 101, Leverage: 10})
	fake.SetPosition(entity.ExchangePosition{Symbol: "ETH", Size: 2, Side: entity.Short, Leverage: 5})
	fake.SetPosition(entity.ExchangePosition{Symbol: "DUST", Size: 0.000001, Side: entity.Long, EntryPrice: 1, MarkPrice: 1, Leverage: 1})
	fake.SetTicker("ETH", 50, 49.5)

	n, err := newManager(store, fake).Reconcile(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	positions, err := store.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)

	btc := positions[0]
	assert.Equal(t, "BTC", btc.Symbol)
	assert.InDelta(t, 91.0, btc.LiquidationPrice, 1e-9)
	assert.Equal(t, fmt.Sprintf("synced-BTC-%d", t0.UnixMilli()), btc.EntryOrderID)
	assert.True(t, btc.OpenedAt.Equal(t0))

	eth := positions[1]
	assert.Equal(t, 49.5, eth.CurrentPrice)
	assert.Equal(t, 49.5, eth.EntryPrice)
	assert.InDelta(t, 49.5*(1+0.9/5), eth.LiquidationPrice, 1e-9)
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New()
	store := openLedger(t)
	fake.SetPosition(entity.ExchangePosition{Symbol: "BTC", Size: 0.5, Side: entity.Long, EntryPrice: 100, MarkPrice: 101, Leverage: 10})
	fake.SetPosition(entity.ExchangePosition{Symbol: "SOL", Size: 3, Side: entity.Short, EntryPrice: 20, MarkPrice: 19, Leverage: 8, LiquidationPrice: 22})

	m := newManager(store, fake)
	_, err := m.Reconcile(ctx, nil)
	require.NoError(t, err)
	first, err := store.ListPositions(ctx)
	require.NoError(t, err)

	_, err = m.Reconcile(ctx, nil)
	require.NoError(t, err)
	second, err := store.ListPositions(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestReconcile_Bijection(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New()
	store := openLedger(t)

	// 账本中有交易所已不存在的持仓和方向不一致的持仓
	require.NoError(t, store.UpsertPosition(ctx, entity.Position{Symbol: "XRP", Side: entity.Long, Quantity: 10, EntryPrice: 1, Leverage: 5, OpenedAt: t0, EntryOrderID: "1"}))
	require.NoError(t, store.UpsertPosition(ctx, entity.Position{Symbol: "BTC", Side: entity.Short, Quantity: 1, EntryPrice: 100, Leverage: 5, OpenedAt: t0, EntryOrderID: "2"}))
	raw := []entity.ExchangePosition{
		{Symbol: "BTC", Size: 1, Side: entity.Long, EntryPrice: 100, MarkPrice: 100, Leverage: 5},
		{Symbol: "ETH", Size: 1, Side: entity.Long, EntryPrice: 50, MarkPrice: 50, Leverage: 5},
		{Symbol: "SOL", Size: 0, Side: entity.Long, EntryPrice: 20, MarkPrice: 20, Leverage: 5},
	}

	n, err := newManager(store, fake).Reconcile(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	positions, err := store.ListPositions(ctx)
	require.NoError(t, err)
	live := lo.Filter(raw, func(p entity.ExchangePosition, _ int) bool { return p.Open() })
	require.Len(t, positions, len(live))
	for _, p := range positions {
		ep, ok := lo.Find(live, func(e entity.ExchangePosition) bool { return e.Symbol == p.Symbol })
		require.True(t, ok, p.Symbol)
		assert.Equal(t, ep.Side, p.Side)
		assert.Equal(t, ep.Size, p.Quantity)
	}
}

func TestReconcile_PreservesLedgerMetadata(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New()
	store := openLedger(t)

	opened := t0.Add(-3 * time.Hour)
	require.NoError(t, store.UpsertPosition(ctx, entity.Position{
		Symbol: "BTC", Side: entity.Long, Quantity: 0.5, EntryPrice: 100, Leverage: 10,
		PeakPnlPercent: 12, OpenedAt: opened, StopLoss: lo.ToPtr(95.0), ProfitTarget: lo.ToPtr(120.0),
		EntryOrderID: "77", SLOrderID: "78",
	}))
	fake.SetPosition(entity.ExchangePosition{Symbol: "BTC", Size: 0.7, Side: entity.Long, EntryPrice: 101, MarkPrice: 102, Leverage: 10, LiquidationPrice: 92})

	_, err := newManager(store, fake).Reconcile(ctx, nil)
	require.NoError(t, err)

	p, ok, err := store.GetPosition(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.7, p.Quantity)
	assert.Equal(t, 101.0, p.EntryPrice)
	assert.Equal(t, 102.0, p.CurrentPrice)
	assert.Equal(t, 92.0, p.LiquidationPrice)
	assert.Equal(t, 12.0, p.PeakPnlPercent)
	assert.True(t, p.OpenedAt.Equal(opened))
	assert.Equal(t, "77", p.EntryOrderID)
	assert.Equal(t, "78", p.SLOrderID)
	require.NotNil(t, p.StopLoss)
	assert.Equal(t, 95.0, *p.StopLoss)
}

func TestReconcile_SideFlipResetsMetadata(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New()
	store := openLedger(t)

	require.NoError(t, store.UpsertPosition(ctx, entity.Position{
		Symbol: "BTC", Side: entity.Long, Quantity: 0.5, EntryPrice: 100, Leverage: 10,
		PeakPnlPercent: 12, OpenedAt: t0.Add(-time.Hour), StopLoss: lo.ToPtr(95.0), EntryOrderID: "77",
	}))
	fake.SetPosition(entity.ExchangePosition{Symbol: "BTC", Size: 0.5, Side: entity.Short, EntryPrice: 99, MarkPrice: 99, Leverage: 10})

	_, err := newManager(store, fake).Reconcile(ctx, nil)
	require.NoError(t, err)

	p, _, err := store.GetPosition(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, entity.Short, p.Side)
	assert.Zero(t, p.PeakPnlPercent)
	assert.Nil(t, p.StopLoss)
	assert.True(t, p.OpenedAt.Equal(t0))
	assert.Contains(t, p.EntryOrderID, "synced-BTC-")
}

func TestReconcile_EmptyExchangeClearsLedger(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New()
	store := openLedger(t)
	require.NoError(t, store.UpsertPosition(ctx, entity.Position{Symbol: "BTC", Side: entity.Long, Quantity: 1, EntryPrice: 100, Leverage: 5, OpenedAt: t0, EntryOrderID: "1"}))

	n, err := newManager(store, fake).Reconcile(ctx, []entity.ExchangePosition{})
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := store.CountPositions(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	// 显式传入空切片时不再拉取交易所
	assert.Zero(t, fake.Calls(exchangetest.MethodGetPositions))
}

// lossyStore 第一次替换持仓时丢掉最后一行
type lossyStore struct {
	ledger.Store
	dropped bool
}

func (s *lossyStore) ReplacePositions(ctx context.Context, ps []entity.Position) error {
	if !s.dropped && len(ps) > 0 {
		s.dropped = true
		ps = ps[:len(ps)-1]
	}
	return s.Store.ReplacePositions(ctx, ps)
}

func TestReconcileVerified_RetriesOnceOnMismatch(t *testing.T) {
	ctx := context.Background()
	fake := exchangetest.New()
	store := &lossyStore{Store: openLedger(t)}
	fake.SetPosition(entity.ExchangePosition{Symbol: "BTC", Size: 1, Side: entity.Long, EntryPrice: 100, MarkPrice: 100, Leverage: 5})
	fake.SetPosition(entity.ExchangePosition{Symbol: "ETH", Size: 1, Side: entity.Long, EntryPrice: 50, MarkPrice: 50, Leverage: 5})

	require.NoError(t, newManager(store, fake).ReconcileVerified(ctx, nil))

	count, err := store.CountPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, fake.Calls(exchangetest.MethodGetPositions))
}
