package risk

import (
	"fmt"

	"github.com/gtoxlili/echoGuard/entity"
)

// HaltDrawdownPercent 账户回撤达到该值时全部平仓并停机
const HaltDrawdownPercent = 20.0

type BreakerState int

const (
	BreakerNormal BreakerState = iota
	BreakerBlockOpens
	BreakerHalt
)

func (s BreakerState) String() string {
	switch s {
	case BreakerNormal:
		return "normal"
	case BreakerBlockOpens:
		return "block_opens"
	case BreakerHalt:
		return "halt"
	default:
		return fmt.Sprintf("BreakerState(%d)", int(s))
	}
}

type BreakerVerdict struct {
	State       BreakerState
	Reason      string
	DrawdownPct float64
}

// EvaluateAccount 账户级熔断。value 为含未实现盈亏的账户净值，peak/initial 来自净值历史。
func EvaluateAccount(policy entity.RiskPolicy, value, peak, initial float64) BreakerVerdict {
	base := initial
	if policy.DrawdownBasis != entity.DrawdownFromInitial {
		base = max(peak, value)
	}
	dd := policy.DrawdownPercent(value, peak, initial)

	switch {
	case dd >= HaltDrawdownPercent-epsilon:
		return BreakerVerdict{BreakerHalt, fmt.Sprintf("drawdown %.2f%% >= %.0f%% from %s %.2f", dd, HaltDrawdownPercent, policy.DrawdownBasis, base), dd}
	case value <= policy.AccountStopLossUsdt:
		return BreakerVerdict{BreakerHalt, fmt.Sprintf("account value %.2f <= stop loss %.2f", value, policy.AccountStopLossUsdt), dd}
	case policy.AccountTakeProfitUsdt > 0 && value >= policy.AccountTakeProfitUsdt:
		return BreakerVerdict{BreakerHalt, fmt.Sprintf("account value %.2f >= take profit %.2f", value, policy.AccountTakeProfitUsdt), dd}
	case dd >= policy.AccountMaxDrawdownPercent-epsilon:
		return BreakerVerdict{BreakerBlockOpens, fmt.Sprintf("drawdown %.2f%% >= %.0f%%", dd, policy.AccountMaxDrawdownPercent), dd}
	default:
		return BreakerVerdict{State: BreakerNormal, DrawdownPct: dd}
	}
}
