package collector

import (
	"github.com/cinar/indicator"
	"github.com/gtoxlili/echoGuard/entity"
	"github.com/gtoxlili/echoGuard/utils"
	"github.com/samber/lo"
)

// seriesLength 提示词中时间序列保留的长度
const seriesLength = 10

// 指标数值非有限时的替代值
const (
	defaultRSI = 50.0
	defaultNum = 0.0
)

// minCandles 少于该数量时不计算指标
const minCandles = 2

type ohlcv struct {
	high, low, close, volume []float64
}

func split(candles []entity.Candle) ohlcv {
	s := ohlcv{
		high:   make([]float64, len(candles)),
		low:    make([]float64, len(candles)),
		close:  make([]float64, len(candles)),
		volume: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.high[i], s.low[i], s.close[i], s.volume[i] = c.High, c.Low, c.Close, c.Volume
	}
	return s
}

func sanitize(vals []float64, def float64) []float64 {
	return lo.Map(vals, func(v float64, _ int) float64 { return utils.FiniteOr(v, def) })
}

func tail(vals []float64) []float64 {
	return lo.Subset(vals, -seriesLength, uint(seriesLength))
}

func last(vals []float64, def float64) float64 {
	if len(vals) == 0 {
		return def
	}
	return utils.FiniteOr(lo.LastOrEmpty(vals), def)
}

type series struct {
	ema20, ema50, macd, rsi7, rsi14, atr3, atr14 []float64
}

func computeSeries(s ohlcv) series {
	if len(s.close) < minCandles {
		return series{}
	}
	macd, _ := indicator.Macd(s.close)
	_, rsi7 := indicator.RsiPeriod(7, s.close)
	_, rsi14 := indicator.RsiPeriod(14, s.close)
	_, atr3 := indicator.Atr(3, s.high, s.low, s.close)
	_, atr14 := indicator.Atr(14, s.high, s.low, s.close)
	return series{
		ema20: indicator.Ema(20, s.close),
		ema50: indicator.Ema(50, s.close),
		macd:  macd,
		rsi7:  rsi7,
		rsi14: rsi14,
		atr3:  atr3,
		atr14: atr14,
	}
}

// Indicators 计算单个周期的最新指标值，输入须按开盘时间升序
func Indicators(candles []entity.Candle) entity.IndicatorSet {
	s := split(candles)
	ser := computeSeries(s)
	return entity.IndicatorSet{
		EMA20:     last(ser.ema20, defaultNum),
		EMA50:     last(ser.ema50, defaultNum),
		MACD:      last(ser.macd, defaultNum),
		RSI7:      last(ser.rsi7, defaultRSI),
		RSI14:     last(ser.rsi14, defaultRSI),
		ATR3:      last(ser.atr3, defaultNum),
		ATR14:     last(ser.atr14, defaultNum),
		Volume:    last(s.volume, defaultNum),
		AvgVolume: utils.FiniteOr(utils.Avg(s.volume), defaultNum),
	}
}

// IntradaySeries 3 分钟序列，保留最近 seriesLength 个点
func IntradaySeries(candles3m []entity.Candle) entity.Intraday {
	s := split(candles3m)
	ser := computeSeries(s)
	return entity.Intraday{
		Prices3m: tail(s.close),
		EMA20_3m: sanitize(tail(ser.ema20), defaultNum),
		MACD_3m:  sanitize(tail(ser.macd), defaultNum),
		RSI7_3m:  sanitize(tail(ser.rsi7), defaultRSI),
		RSI14_3m: sanitize(tail(ser.rsi14), defaultRSI),
	}
}

// LongTermContext 1 小时上下文
func LongTermContext(candles1h []entity.Candle) entity.LongTerm {
	s := split(candles1h)
	ser := computeSeries(s)
	return entity.LongTerm{
		EMA20_1h: last(ser.ema20, defaultNum),
		EMA50_1h: last(ser.ema50, defaultNum),
		ATR3_1h:  last(ser.atr3, defaultNum),
		ATR14_1h: last(ser.atr14, defaultNum),
		VolCurr:  last(s.volume, defaultNum),
		VolAvg:   utils.FiniteOr(utils.Avg(s.volume), defaultNum),
		MACD_1h:  sanitize(tail(ser.macd), defaultNum),
		RSI14_1h: sanitize(tail(ser.rsi14), defaultRSI),
	}
}
