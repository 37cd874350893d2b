package prompts

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/gtoxlili/echoGuard/entity"
	"github.com/samber/lo"
)

// promptTemplate 主模板，币种部分整体替换为 {all_coins_data_block}
const promptTemplate = `It has been {minutes_elapsed} minutes since you started trading. This is decision cycle #{iteration} (one cycle every {interval_minutes} minutes).

Below, we are providing you with a variety of market data, price data, and predictive signals so you can discover alpha. Below that is your current account information, value, performance, positions, etc.

⚠️ **CRITICAL: ALL OF THE PRICE OR SIGNAL DATA BELOW IS ORDERED: OLDEST → NEWEST**

**Timeframes note:** Unless stated otherwise in a section title, intraday series are provided at **3-minute intervals**.

---

## CURRENT MARKET STATE FOR ALL COINS

{all_coins_data_block}

## HERE IS YOUR ACCOUNT INFORMATION & PERFORMANCE

**Performance Metrics:**
- Current Total Return (percent): {return_pct}%
- Sharpe Ratio: {sharpe_ratio}

**Account Status:**
- Available Cash: ${cash_available}
- Unrealized PnL: ${unrealized_pnl}
- **Current Account Value:** ${account_value}
{opens_notice}
**Current Live Positions & Performance:**

` + "```json" + `
{positions_block}
` + "```" + `

**Recent Trades (newest first):**

{trades_block}

**Your Previous Decision:**

{last_decision_block}

Based on the above data, provide your trading decision in the required JSON format.
`

// coinDataTemplate 每个币种的子模板
const coinDataTemplate = `### ALL {symbol} DATA

**Current Snapshot:**
- current_price = {price}
- mark_price = {mark_price}
- current_ema20 = {ema20}
- current_macd = {macd}
- current_rsi (7 period) = {rsi7}
{warnings}
**Perpetual Futures Metrics:**
- Funding Rate: {funding_rate}
- 24h Volume: {volume_24h}

**Multi-timeframe Summary:**

{timeframes_block}

**Intraday Series (3-minute intervals, oldest → latest):**

Mid prices: [{prices_3m}]

EMA indicators (20-period): [{ema20_3m}]

MACD indicators: [{macd_3m}]

RSI indicators (7-Period): [{rsi7_3m}]

RSI indicators (14-Period): [{rsi14_3m}]

**Longer-term Context (1-hour timeframe):**

20-Period EMA: {ema20_1h} vs. 50-Period EMA: {ema50_1h}

3-Period ATR: {atr3_1h} vs. 14-Period ATR: {atr14_1h}

Current Volume: {volume_current} vs. Average Volume: {volume_avg}

MACD indicators (1h): [{macd_1h}]

RSI indicators (14-Period, 1h): [{rsi14_1h}]

---
`

const unavailableCoinTemplate = `### ALL {symbol} DATA

Market data unavailable this cycle ({reason}). Do not open new positions on {symbol}.

---
`

// formatFloatSlice 将 []float64 转换为 "val1, val2, val3" 格式的字符串
func formatFloatSlice(slice []float64) string {
	return strings.Join(lo.Map(slice, func(v float64, _ int) string { return fmt.Sprintf("%.4f", v) }), ", ")
}

func formatWarnings(ws []entity.DataWarning) string {
	if len(ws) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("- data warnings:\n")
	for _, w := range ws {
		fmt.Fprintf(&b, "  - [%s] %s\n", w.Kind, w.Message)
	}
	return b.String()
}

func formatTimeframes(sets map[entity.Timeframe]entity.IndicatorSet) string {
	lines := make([]string, 0, len(sets))
	for _, tf := range entity.Timeframes {
		s, ok := sets[tf]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: ema20=%.4f ema50=%.4f macd=%.4f rsi14=%.2f atr14=%.4f volume=%.2f (avg %.2f)",
			tf, s.EMA20, s.EMA50, s.MACD, s.RSI14, s.ATR14, s.Volume, s.AvgVolume))
	}
	if len(lines) == 0 {
		return "- n/a"
	}
	return strings.Join(lines, "\n")
}

func formatPositions(positions []entity.PositionData) string {
	if len(positions) == 0 {
		return "[]"
	}
	out, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(out)
}

func formatTrades(trades []entity.Trade) string {
	if len(trades) == 0 {
		return "No trades yet."
	}
	var b strings.Builder
	for _, t := range trades {
		fmt.Fprintf(&b, "- %s %s %s %s qty=%v @ %.4f %dx fee=%.4f",
			t.Timestamp.UTC().Format(time.RFC3339), t.Symbol, t.Side, t.Type, t.Quantity, t.Price, t.Leverage, t.Fee)
		if t.Pnl != nil {
			fmt.Fprintf(&b, " pnl=%.4f", *t.Pnl)
		}
		if t.Status != entity.TradeFilled {
			fmt.Fprintf(&b, " [%s]", t.Status)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatLastDecision(d *entity.DecisionRecord) string {
	if d == nil {
		return "No prior decision exists. Establish a market baseline before committing capital."
	}
	return fmt.Sprintf("At %s (cycle #%d, account value $%.2f):\n%s\n\nActions taken: %s",
		d.Timestamp.UTC().Format(time.RFC3339), d.Iteration, d.AccountValue, d.Decision, d.ActionsTaken)
}

func buildCoinBlock(symbol string, s entity.MarketSnapshot) string {
	if !s.Usable() {
		reason := lo.Ternary(s.Error != "", s.Error, "no usable price")
		return strings.NewReplacer("{symbol}", symbol, "{reason}", reason).Replace(unavailableCoinTemplate)
	}

	short := s.Timeframes[entity.Timeframe3m]
	r := strings.NewReplacer(
		"{symbol}", symbol,
		"{price}", fmt.Sprintf("%.4f", s.LastPrice),
		"{mark_price}", fmt.Sprintf("%.4f", s.Ticker.MarkPrice),
		"{ema20}", fmt.Sprintf("%.4f", short.EMA20),
		"{macd}", fmt.Sprintf("%.4f", short.MACD),
		"{rsi7}", fmt.Sprintf("%.4f", short.RSI7),
		"{warnings}", formatWarnings(s.Warnings),
		"{funding_rate}", fmt.Sprintf("%.6f", s.Ticker.FundingRate),
		"{volume_24h}", fmt.Sprintf("%.2f", s.Ticker.Volume24h),
		"{timeframes_block}", formatTimeframes(s.Timeframes),
		"{prices_3m}", formatFloatSlice(s.Intraday.Prices3m),
		"{ema20_3m}", formatFloatSlice(s.Intraday.EMA20_3m),
		"{macd_3m}", formatFloatSlice(s.Intraday.MACD_3m),
		"{rsi7_3m}", formatFloatSlice(s.Intraday.RSI7_3m),
		"{rsi14_3m}", formatFloatSlice(s.Intraday.RSI14_3m),
		"{ema20_1h}", fmt.Sprintf("%.4f", s.LongTerm.EMA20_1h),
		"{ema50_1h}", fmt.Sprintf("%.4f", s.LongTerm.EMA50_1h),
		"{atr3_1h}", fmt.Sprintf("%.4f", s.LongTerm.ATR3_1h),
		"{atr14_1h}", fmt.Sprintf("%.4f", s.LongTerm.ATR14_1h),
		"{volume_current}", fmt.Sprintf("%.4f", s.LongTerm.VolCurr),
		"{volume_avg}", fmt.Sprintf("%.4f", s.LongTerm.VolAvg),
		"{macd_1h}", formatFloatSlice(s.LongTerm.MACD_1h),
		"{rsi14_1h}", formatFloatSlice(s.LongTerm.RSI14_1h),
	)
	return r.Replace(coinDataTemplate)
}

// buildAllCoinsBlock 按币种字母序构建全部币种的数据块
func buildAllCoinsBlock(coins map[string]entity.MarketSnapshot) string {
	var b strings.Builder
	for _, symbol := range slices.Sorted(maps.Keys(coins)) {
		b.WriteString(buildCoinBlock(symbol, coins[symbol]))
	}
	return b.String()
}

func BuildUserPrompt(data entity.PromptData) string {
	opensNotice := ""
	if data.OpensBlocked {
		opensNotice = "- ⚠️ **New positions are BLOCKED this cycle (account drawdown limit). Only close_position and cancel_order will be executed.**\n"
	}

	r := strings.NewReplacer(
		"{minutes_elapsed}", fmt.Sprintf("%d", data.MinutesElapsed),
		"{iteration}", fmt.Sprintf("%d", data.Iteration),
		"{interval_minutes}", fmt.Sprintf("%d", data.IntervalMinutes),
		"{all_coins_data_block}", buildAllCoinsBlock(data.Coins),

		// 账户
		"{return_pct}", fmt.Sprintf("%.4f", data.Account.ReturnPct),
		"{sharpe_ratio}", fmt.Sprintf("%.4f", data.Account.SharpeRatio),
		"{cash_available}", fmt.Sprintf("%.4f", data.Account.CashAvailable),
		"{unrealized_pnl}", fmt.Sprintf("%.4f", data.Account.UnrealizedPnl),
		"{account_value}", fmt.Sprintf("%.4f", data.Account.AccountValue),
		"{opens_notice}", opensNotice,

		"{positions_block}", formatPositions(data.Positions),
		"{trades_block}", formatTrades(data.RecentTrades),
		"{last_decision_block}", formatLastDecision(data.LastDecision),
	)
	return r.Replace(promptTemplate)
}
