package collector

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gtoxlili/echoGuard/entity"
	"github.com/gtoxlili/echoGuard/exchange"
	"github.com/gtoxlili/echoGuard/utils"
	"golang.org/x/sync/errgroup"
)

// candleLimits 各周期拉取的 K 线数量，需足够长以计算 EMA50
var candleLimits = map[entity.Timeframe]int{
	entity.Timeframe1m:  60,
	entity.Timeframe3m:  60,
	entity.Timeframe5m:  100,
	entity.Timeframe15m: 96,
	entity.Timeframe30m: 90,
	entity.Timeframe1h:  120,
}

// DefaultRetry 每次读取最多额外重试 2 次，间隔线性递增
var DefaultRetry = utils.RetryPolicy{
	MaxRetries:     2,
	Backoff:        utils.LinearBackoff(time.Second),
	AttemptTimeout: 15 * time.Second,
	Retryable:      exchange.IsRetryable,
}

type Option func(*Collector)

func WithRetry(p utils.RetryPolicy) Option {
	return func(c *Collector) { c.retry = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// Collector 多周期行情采集与校验
type Collector struct {
	client  exchange.Client
	testnet bool
	retry   utils.RetryPolicy
	now     func() time.Time
}

func New(client exchange.Client, testnet bool, opts ...Option) *Collector {
	c := &Collector{
		client:  client,
		testnet: testnet,
		retry:   DefaultRetry,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect 并发采集所有币种。单个币种失败只体现在其快照的 Error 上，不影响其他币种。
func (c *Collector) Collect(ctx context.Context, symbols []string) map[string]entity.MarketSnapshot {
	var (
		mu        sync.Mutex
		snapshots = make(map[string]entity.MarketSnapshot, len(symbols))
		g         errgroup.Group
	)

	for _, symbol := range symbols {
		g.Go(func() error {
			snap := c.collectOne(ctx, symbol)
			mu.Lock()
			snapshots[symbol] = snap
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return snapshots
}

func (c *Collector) collectOne(ctx context.Context, symbol string) entity.MarketSnapshot {
	snap := entity.MarketSnapshot{Symbol: symbol}

	var (
		ticker  entity.Ticker
		mu      sync.Mutex
		candles = make(map[entity.Timeframe][]entity.Candle, len(entity.Timeframes))
		g       errgroup.Group
	)

	g.Go(func() error {
		t, err := utils.RetryWithBackoff(ctx, c.retry, func(ctx context.Context) (entity.Ticker, error) {
			return c.client.GetTicker(ctx, symbol)
		})
		if err != nil {
			return fmt.Errorf("ticker: %w", err)
		}
		ticker = t
		return nil
	})
	for _, tf := range entity.Timeframes {
		g.Go(func() error {
			cs, err := utils.RetryWithBackoff(ctx, c.retry, func(ctx context.Context) ([]entity.Candle, error) {
				return c.client.GetCandles(ctx, symbol, tf, candleLimits[tf])
			})
			if err != nil {
				return fmt.Errorf("%s candles: %w", tf, err)
			}
			slices.SortFunc(cs, func(a, b entity.Candle) int { return a.OpenTime.Compare(b.OpenTime) })
			mu.Lock()
			candles[tf] = cs
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Warn("market data unavailable", "symbol", symbol, "error", err)
		snap.Error = err.Error()
		return snap
	}

	snap.Ticker = ticker
	snap.LastPrice = ticker.Last
	snap.Timeframes = make(map[entity.Timeframe]entity.IndicatorSet, len(candles))
	for tf, cs := range candles {
		snap.Timeframes[tf] = Indicators(cs)
	}
	snap.Intraday = IntradaySeries(candles[entity.Timeframe3m])
	snap.LongTerm = LongTermContext(candles[entity.Timeframe1h])

	snap.Valid, snap.Warnings = Validate(snap, candles[entity.Timeframe1m], c.testnet, c.now())
	for _, w := range snap.Warnings {
		if c.testnet {
			slog.Debug("market data warning", "symbol", symbol, "kind", w.Kind, "detail", w.Message)
		} else {
			slog.Warn("market data warning", "symbol", symbol, "kind", w.Kind, "detail", w.Message)
		}
	}
	if !snap.Valid {
		snap.Error = "no usable price"
	}
	return snap
}

// UsableSymbols 可以作为决策输入的币种
func UsableSymbols(snapshots map[string]entity.MarketSnapshot) []string {
	var out []string
	for sym, s := range snapshots {
		if s.Usable() {
			out = append(out, sym)
		}
	}
	slices.Sort(out)
	return out
}
