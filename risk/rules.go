package risk

import (
	"fmt"
	"time"

	"github.com/gtoxlili/echoGuard/entity"
)

// epsilon 浮点比较容差，使 -4.0% 之类的边界值稳定触发
const epsilon = 1e-9

const (
	// 峰值回撤保护：峰值超过 peakDrawdownMinPeak 后，回吐 peakDrawdownRatio 即平仓
	peakDrawdownMinPeak = 5.0
	peakDrawdownRatio   = 0.30
)

// trailingTiers 峰值达到 peak 后，盈亏不得低于 floor，取满足条件的最高档
var trailingTiers = []struct{ peak, floor float64 }{
	{25, 15},
	{15, 8},
	{8, 3},
}

// StopLossThreshold 按杠杆分档的止损线（杠杆后盈亏百分比）
func StopLossThreshold(leverage int) float64 {
	switch {
	case leverage >= 12:
		return -3
	case leverage >= 8:
		return -4
	default:
		return -5
	}
}

// TrailingFloor 由持久化峰值推出的移动止盈线；峰值只增不减，因此该线只会上移
func TrailingFloor(peak float64) (float64, bool) {
	for _, tier := range trailingTiers {
		if peak >= tier.peak-epsilon {
			return tier.floor, true
		}
	}
	return 0, false
}

// PeakDrawdown 从峰值回吐的比例，峰值不足时返回 false
func PeakDrawdown(peak, pnl float64) (float64, bool) {
	if peak <= peakDrawdownMinPeak {
		return 0, false
	}
	return (peak - pnl) / peak, true
}

type Verdict struct {
	Close  bool
	Reason entity.CloseReason
	Detail string
}

// Evaluate 按顺序应用持仓级规则，第一条命中即返回
func Evaluate(policy entity.RiskPolicy, leverage int, pnl, peak float64, holding time.Duration) Verdict {
	if limit := policy.MaxHolding(); limit > 0 && holding >= limit {
		return Verdict{true, entity.ReasonMaxHolding, fmt.Sprintf("held %s >= %s", holding.Truncate(time.Minute), limit)}
	}

	if threshold := StopLossThreshold(leverage); pnl <= threshold+epsilon {
		return Verdict{true, entity.ReasonStopLoss, fmt.Sprintf("pnl %.2f%% <= %.0f%% at %dx", pnl, threshold, leverage)}
	}

	if floor, ok := TrailingFloor(peak); ok && pnl < floor-epsilon {
		return Verdict{true, entity.ReasonTrailingStop, fmt.Sprintf("pnl %.2f%% < floor %.0f%% (peak %.2f%%)", pnl, floor, peak)}
	}

	if dd, ok := PeakDrawdown(peak, pnl); ok && dd >= peakDrawdownRatio-epsilon {
		return Verdict{true, entity.ReasonPeakDrawdown, fmt.Sprintf("gave back %.1f%% of peak %.2f%%", dd*100, peak)}
	}

	return Verdict{}
}
