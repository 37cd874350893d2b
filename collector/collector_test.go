package collector

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gtoxlili/echoGuard/entity"
	"github.com/gtoxlili/echoGuard/exchange/exchangetest"
	"github.com/gtoxlili/echoGuard/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 30, 0, time.UTC)

func makeCandles(tf entity.Timeframe, n int, end time.Time, price float64) []entity.Candle {
	d := tf.Duration()
	start := end.Truncate(d).Add(-time.Duration(n-1) * d)
	out := make([]entity.Candle, n)
	for i := range out {
		p := price + float64(i%7)*0.1
		out[i] = entity.Candle{
			OpenTime:    start.Add(time.Duration(i) * d),
			Open:        p,
			High:        p + 0.5,
			Low:         p - 0.5,
			Close:       p + 0.2,
			Volume:      10,
			QuoteVolume: 10 * p,
			TradeCount:  5,
		}
	}
	return out
}

func seed(fake *exchangetest.Fake, symbol string, price float64) {
	fake.SetTicker(symbol, price, price)
	for _, tf := range entity.Timeframes {
		fake.SetCandles(symbol, tf, makeCandles(tf, candleLimits[tf], testNow, price))
	}
}

func newTestCollector(fake *exchangetest.Fake, testnet bool) *Collector {
	return New(fake, testnet,
		WithRetry(utils.RetryPolicy{MaxRetries: 2, Backoff: utils.NoBackoff}),
		WithClock(func() time.Time { return testNow }),
	)
}

func TestCollect_BuildsSnapshot(t *testing.T) {
	fake := exchangetest.New()
	seed(fake, "BTC", 100)

	snaps := newTestCollector(fake, false).Collect(context.Background(), []string{"BTC"})
	snap := snaps["BTC"]

	require.Empty(t, snap.Error)
	assert.True(t, snap.Valid)
	assert.True(t, snap.Usable())
	assert.Empty(t, snap.Warnings)
	assert.Equal(t, 100.0, snap.LastPrice)
	assert.Len(t, snap.Timeframes, len(entity.Timeframes))
	assert.Len(t, snap.Intraday.Prices3m, seriesLength)
	assert.Len(t, snap.Intraday.RSI7_3m, seriesLength)
	assert.Len(t, snap.LongTerm.MACD_1h, seriesLength)
	assert.Positive(t, snap.LongTerm.EMA20_1h)
	assert.Positive(t, snap.LongTerm.ATR14_1h)
}

func TestCollect_SortsCandles(t *testing.T) {
	fake := exchangetest.New()
	seed(fake, "BTC", 100)
	// 倒序返回
	cs := makeCandles(entity.Timeframe3m, 60, testNow, 100)
	for i, j := 0, len(cs)-1; i < j; i, j = i+1, j-1 {
		cs[i], cs[j] = cs[j], cs[i]
	}
	fake.SetCandles("BTC", entity.Timeframe3m, cs)

	snap := newTestCollector(fake, false).Collect(context.Background(), []string{"BTC"})["BTC"]
	want := makeCandles(entity.Timeframe3m, 60, testNow, 100)
	assert.Equal(t, want[len(want)-1].Close, snap.Intraday.Prices3m[seriesLength-1])
}

func TestCollect_RetriesTransientFailures(t *testing.T) {
	fake := exchangetest.New()
	seed(fake, "BTC", 100)
	fake.FailNext(exchangetest.MethodGetTicker, errors.New("timeout"), errors.New("timeout"))

	snap := newTestCollector(fake, false).Collect(context.Background(), []string{"BTC"})["BTC"]
	assert.Empty(t, snap.Error)
	assert.Equal(t, 3, fake.Calls(exchangetest.MethodGetTicker))
}

func TestCollect_FailureIsolatedPerSymbol(t *testing.T) {
	fake := exchangetest.New()
	seed(fake, "BTC", 100)
	seed(fake, "ETH", 50)
	// DOGE 没有行情
	snaps := newTestCollector(fake, false).Collect(context.Background(), []string{"BTC", "ETH", "DOGE"})

	require.Len(t, snaps, 3)
	assert.NotEmpty(t, snaps["DOGE"].Error)
	assert.False(t, snaps["DOGE"].Usable())
	assert.True(t, snaps["BTC"].Usable())
	assert.True(t, snaps["ETH"].Usable())
	assert.Equal(t, []string{"BTC", "ETH"}, UsableSymbols(snaps))
}

func TestCollect_NoPriceInvalidOnMainnet(t *testing.T) {
	fake := exchangetest.New()
	seed(fake, "BTC", 100)
	fake.SetTicker("BTC", 0, 100)

	snap := newTestCollector(fake, false).Collect(context.Background(), []string{"BTC"})["BTC"]
	assert.False(t, snap.Valid)
	assert.False(t, snap.Usable())

	snap = newTestCollector(fake, true).Collect(context.Background(), []string{"BTC"})["BTC"]
	assert.True(t, snap.Valid)
	assert.False(t, snap.Usable())
}

func kinds(ws []entity.DataWarning) []entity.WarningKind {
	out := make([]entity.WarningKind, len(ws))
	for i, w := range ws {
		out[i] = w.Kind
	}
	return out
}

func TestValidate_Deviation(t *testing.T) {
	candles := makeCandles(entity.Timeframe1m, 60, testNow, 100)
	snap := entity.MarketSnapshot{LastPrice: 100.8, Ticker: entity.Ticker{MarkPrice: 100}}

	valid, ws := Validate(snap, candles, false, testNow)
	assert.True(t, valid)
	assert.Equal(t, []entity.WarningKind{entity.WarnPriceDeviation}, kinds(ws))

	// 测试网阈值 1%
	_, ws = Validate(snap, candles, true, testNow)
	assert.Empty(t, ws)
}

func TestValidate_Staleness(t *testing.T) {
	candles := makeCandles(entity.Timeframe1m, 60, testNow.Add(-150*time.Second), 100)
	snap := entity.MarketSnapshot{LastPrice: 100, Ticker: entity.Ticker{MarkPrice: 100}}

	_, ws := Validate(snap, candles, false, testNow)
	assert.Contains(t, kinds(ws), entity.WarnStaleCandle)

	_, ws = Validate(snap, candles, true, testNow)
	assert.NotContains(t, kinds(ws), entity.WarnStaleCandle)
}

func TestValidate_InactiveCandles(t *testing.T) {
	candles := makeCandles(entity.Timeframe1m, 60, testNow, 100)
	// 最后一根为未收盘 K 线，之前 5 根已收盘且无成交
	for i := len(candles) - 6; i < len(candles)-1; i++ {
		candles[i].Volume, candles[i].TradeCount = 0, 0
	}
	snap := entity.MarketSnapshot{LastPrice: 100, Ticker: entity.Ticker{MarkPrice: 100}}

	valid, ws := Validate(snap, candles, false, testNow)
	assert.True(t, valid)
	assert.ElementsMatch(t, []entity.WarningKind{entity.WarnInactiveCandle, entity.WarnInactiveRun}, kinds(ws))

	_, ws = Validate(snap, candles, true, testNow)
	assert.Empty(t, ws)
}

func TestIndicators_ShortSeriesDefaults(t *testing.T) {
	set := Indicators(nil)
	assert.Equal(t, defaultRSI, set.RSI7)
	assert.Zero(t, set.EMA20)

	set = Indicators(makeCandles(entity.Timeframe5m, 100, testNow, 100))
	for _, v := range []float64{set.EMA20, set.EMA50, set.MACD, set.RSI7, set.RSI14, set.ATR3, set.ATR14} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
	assert.Equal(t, 10.0, set.AvgVolume)
}
