package risk

import (
	"testing"
	"time"

	"github.com/gtoxlili/echoGuard/entity"
	"github.com/stretchr/testify/assert"
)

func testPolicy() entity.RiskPolicy {
	return entity.RiskPolicy{
		MaxPositions:              5,
		MaxLeverage:               15,
		TradingSymbols:            []string{"BTC", "ETH", "SOL"},
		MaxHoldingHours:           36,
		AccountMaxDrawdownPercent: 15,
		AccountStopLossUsdt:       50,
		AccountTakeProfitUsdt:     10000,
		DrawdownBasis:             entity.DrawdownFromPeak,
	}
}

func TestStopLossThreshold(t *testing.T) {
	cases := map[int]float64{1: -5, 5: -5, 7: -5, 8: -4, 10: -4, 11: -4, 12: -3, 15: -3}
	for lev, want := range cases {
		assert.Equal(t, want, StopLossThreshold(lev), "leverage %d", lev)
	}
}

func TestEvaluate_StopLossBoundary(t *testing.T) {
	policy := testPolicy()

	v := Evaluate(policy, 10, -4.0, 0, time.Hour)
	assert.True(t, v.Close)
	assert.Equal(t, entity.ReasonStopLoss, v.Reason)

	v = Evaluate(policy, 10, -3.99, 0, time.Hour)
	assert.False(t, v.Close)

	// 由价格算出的 -4% 带有浮点误差
	pnl := entity.PnlPercent(entity.Long, 100, 99.6, 10)
	assert.True(t, Evaluate(policy, 10, pnl, 0, time.Hour).Close)

	assert.True(t, Evaluate(policy, 12, -3.0, 0, time.Hour).Close)
	assert.False(t, Evaluate(policy, 5, -4.5, 0, time.Hour).Close)
}

func TestTrailingFloor(t *testing.T) {
	cases := []struct {
		peak  float64
		floor float64
		ok    bool
	}{
		{peak: 7.9, ok: false},
		{peak: 8, floor: 3, ok: true},
		{peak: 14.9, floor: 3, ok: true},
		{peak: 16, floor: 8, ok: true},
		{peak: 25, floor: 15, ok: true},
		{peak: 40, floor: 15, ok: true},
	}
	for _, tc := range cases {
		floor, ok := TrailingFloor(tc.peak)
		assert.Equal(t, tc.ok, ok, "peak %v", tc.peak)
		assert.Equal(t, tc.floor, floor, "peak %v", tc.peak)
	}
}

func TestEvaluate_TrailingStop(t *testing.T) {
	policy := testPolicy()

	v := Evaluate(policy, 10, 7.9, 16, time.Hour)
	assert.True(t, v.Close)
	assert.Equal(t, entity.ReasonTrailingStop, v.Reason)

	// 8.1 高于移动止盈线，但 16 → 8.1 已回吐超过 30%
	floor, _ := TrailingFloor(16)
	assert.Greater(t, 8.1, floor)

	v = Evaluate(policy, 10, 12, 16, time.Hour)
	assert.False(t, v.Close)
}

func TestEvaluate_PeakDrawdown(t *testing.T) {
	policy := testPolicy()

	v := Evaluate(policy, 10, 14, 20, time.Hour)
	assert.True(t, v.Close)
	assert.Equal(t, entity.ReasonPeakDrawdown, v.Reason)

	v = Evaluate(policy, 10, 14.1, 20, time.Hour)
	assert.False(t, v.Close)

	// 峰值未超过 5% 时不启用
	_, ok := PeakDrawdown(5, 1)
	assert.False(t, ok)
	dd, ok := PeakDrawdown(10, 7)
	assert.True(t, ok)
	assert.InDelta(t, 0.3, dd, 1e-9)
}

func TestEvaluate_MaxHolding(t *testing.T) {
	policy := testPolicy()

	v := Evaluate(policy, 10, 50, 50, 36*time.Hour+time.Minute)
	assert.True(t, v.Close)
	assert.Equal(t, entity.ReasonMaxHolding, v.Reason)

	v = Evaluate(policy, 10, 1, 1, 35*time.Hour+59*time.Minute)
	assert.False(t, v.Close)
}

func TestEvaluate_RuleOrder(t *testing.T) {
	policy := testPolicy()

	// 同时满足止损与持仓超时时以持仓超时为准
	v := Evaluate(policy, 10, -10, 0, 40*time.Hour)
	assert.Equal(t, entity.ReasonMaxHolding, v.Reason)

	// 同时满足移动止盈与峰值回吐时以移动止盈为准
	v = Evaluate(policy, 10, 2, 10, time.Hour)
	assert.Equal(t, entity.ReasonTrailingStop, v.Reason)
}

func TestEvaluateAccount(t *testing.T) {
	policy := testPolicy()

	cases := []struct {
		name        string
		value, peak float64
		initial     float64
		basis       entity.DrawdownBasis
		want        BreakerState
	}{
		{name: "healthy", value: 950, peak: 1000, initial: 1000, want: BreakerNormal},
		{name: "block opens", value: 840, peak: 1000, initial: 1000, want: BreakerBlockOpens},
		{name: "halt at 20%", value: 800, peak: 1000, initial: 1000, want: BreakerHalt},
		{name: "stop loss", value: 45, peak: 50, initial: 50, want: BreakerHalt},
		{name: "take profit", value: 10000, peak: 10000, initial: 1000, want: BreakerHalt},
		{name: "new high", value: 1300, peak: 1200, initial: 1000, want: BreakerNormal},
		{name: "initial basis ignores peak", value: 1100, peak: 1500, initial: 1000, basis: entity.DrawdownFromInitial, want: BreakerNormal},
		{name: "peak basis from same history", value: 1100, peak: 1500, initial: 1000, want: BreakerHalt},
		{name: "initial basis below start", value: 790, peak: 1500, initial: 1000, basis: entity.DrawdownFromInitial, want: BreakerHalt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := policy
			if tc.basis != "" {
				p.DrawdownBasis = tc.basis
			}
			v := EvaluateAccount(p, tc.value, tc.peak, tc.initial)
			assert.Equal(t, tc.want, v.State, v.Reason)
		})
	}
}
