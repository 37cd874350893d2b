package entity

import "time"

type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe3m  Timeframe = "3m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
)

// Timeframes 按周期从短到长
var Timeframes = []Timeframe{
	Timeframe1m, Timeframe3m, Timeframe5m, Timeframe15m, Timeframe30m, Timeframe1h,
}

func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe3m:
		return 3 * time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	default:
		return 0
	}
}

type Candle struct {
	OpenTime    time.Time `json:"open_time"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	QuoteVolume float64   `json:"quote_volume"`
	TradeCount  int64     `json:"trade_count"`
}

// Inactive 没有任何成交
func (c Candle) Inactive() bool {
	return c.Volume <= 0 || c.QuoteVolume <= 0 || c.TradeCount <= 0
}

type Ticker struct {
	Symbol         string  `json:"symbol"`
	Last           float64 `json:"last"`
	MarkPrice      float64 `json:"mark_price"`
	Volume24h      float64 `json:"volume_24h"`
	QuoteVolume24h float64 `json:"quote_volume_24h"`
	FundingRate    float64 `json:"funding_rate"`
}

type IndicatorSet struct {
	EMA20     float64 `json:"ema_20"`
	EMA50     float64 `json:"ema_50"`
	MACD      float64 `json:"macd"`
	RSI7      float64 `json:"rsi_7"`
	RSI14     float64 `json:"rsi_14"`
	ATR3      float64 `json:"atr_3"`
	ATR14     float64 `json:"atr_14"`
	Volume    float64 `json:"volume"`
	AvgVolume float64 `json:"avg_volume"`
}

// Intraday 短线（3分钟）时间序列
type Intraday struct {
	Prices3m []float64 `json:"prices_3m"`
	EMA20_3m []float64 `json:"ema_20_3m"`
	MACD_3m  []float64 `json:"macd_3m"`
	RSI7_3m  []float64 `json:"rsi_7_3m"`
	RSI14_3m []float64 `json:"rsi_14_3m"`
}

// LongTerm 长线（1小时）上下文
type LongTerm struct {
	EMA20_1h float64   `json:"ema_20_1h"`
	EMA50_1h float64   `json:"ema_50_1h"`
	ATR3_1h  float64   `json:"atr_3_1h"`
	ATR14_1h float64   `json:"atr_14_1h"`
	VolCurr  float64   `json:"vol_curr"`
	VolAvg   float64   `json:"vol_avg"`
	MACD_1h  []float64 `json:"macd_1h"`
	RSI14_1h []float64 `json:"rsi_14_1h"`
}

type WarningKind string

const (
	WarnNoPrice        WarningKind = "no_price"
	WarnNoMarkPrice    WarningKind = "no_mark_price"
	WarnPriceDeviation WarningKind = "price_deviation"
	WarnStaleCandle    WarningKind = "stale_candle"
	WarnInactiveCandle WarningKind = "inactive_candle"
	WarnInactiveRun    WarningKind = "inactive_run"
	WarnNoCandles      WarningKind = "no_candles"
)

type DataWarning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// MarketSnapshot 单个币种本周期的市场快照
type MarketSnapshot struct {
	Symbol     string                     `json:"symbol"`
	Ticker     Ticker                     `json:"ticker"`
	LastPrice  float64                    `json:"last_price"`
	Timeframes map[Timeframe]IndicatorSet `json:"timeframes"`
	Intraday   Intraday                   `json:"intraday"`
	LongTerm   LongTerm                   `json:"long_term"`
	Valid      bool                       `json:"valid"`
	Warnings   []DataWarning              `json:"warnings,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// Usable 是否可以作为决策输入
func (s MarketSnapshot) Usable() bool {
	return s.Error == "" && s.LastPrice > 0
}
