package collector

import (
	"fmt"
	"math"
	"time"

	"github.com/gtoxlili/echoGuard/entity"
	"github.com/samber/lo"
)

// thresholds 数据质量阈值，测试网流动性差，阈值放宽
type thresholds struct {
	maxDeviation float64 // 价格与标记价偏离比例
	maxStaleness time.Duration
}

var (
	mainnetThresholds = thresholds{maxDeviation: 0.005, maxStaleness: 2 * time.Minute}
	testnetThresholds = thresholds{maxDeviation: 0.01, maxStaleness: 3 * time.Minute}
)

// inactiveRun 连续无成交的已收盘 K 线数量
const inactiveRun = 5

// Validate 基于升序 1m K 线检查快照的数据质量。
// 主网仅「无有效价格」使快照失效；测试网不会失效。
func Validate(snap entity.MarketSnapshot, candles1m []entity.Candle, testnet bool, now time.Time) (valid bool, warnings []entity.DataWarning) {
	th := lo.Ternary(testnet, testnetThresholds, mainnetThresholds)
	warn := func(kind entity.WarningKind, format string, args ...any) {
		warnings = append(warnings, entity.DataWarning{Kind: kind, Message: fmt.Sprintf(format, args...)})
	}

	price, mark := snap.LastPrice, snap.Ticker.MarkPrice
	noPrice := price <= 0 || math.IsNaN(price)
	if noPrice {
		warn(entity.WarnNoPrice, "no usable price (%v)", price)
	}
	if mark <= 0 {
		warn(entity.WarnNoMarkPrice, "no mark price")
	} else if !noPrice {
		if dev := math.Abs(price-mark) / mark; dev > th.maxDeviation {
			warn(entity.WarnPriceDeviation, "price %.6g deviates %.2f%% from mark %.6g", price, dev*100, mark)
		}
	}

	if len(candles1m) == 0 {
		warn(entity.WarnNoCandles, "no 1m candles")
		return !(noPrice && !testnet), warnings
	}

	latest := candles1m[len(candles1m)-1]
	if age := now.Sub(latest.OpenTime); age > th.maxStaleness {
		warn(entity.WarnStaleCandle, "latest 1m candle is %s old", age.Truncate(time.Second))
	}

	if !testnet {
		closed := lo.Filter(candles1m, func(c entity.Candle, _ int) bool {
			return !c.OpenTime.Add(time.Minute).After(now)
		})
		if len(closed) > 0 && lo.LastOrEmpty(closed).Inactive() {
			warn(entity.WarnInactiveCandle, "latest closed 1m candle has no trades")
		}
		if len(closed) >= inactiveRun {
			run := closed[len(closed)-inactiveRun:]
			if lo.EveryBy(run, func(c entity.Candle) bool { return c.Inactive() }) {
				warn(entity.WarnInactiveRun, "last %d closed 1m candles have no trades", inactiveRun)
			}
		}
	}

	return !(noPrice && !testnet), warnings
}
