package entity

import (
	"fmt"
	"time"

	json "github.com/bytedance/sonic"
)

type ToolName string

const (
	OpenPosition  ToolName = "open_position"
	ClosePosition ToolName = "close_position"
	CancelOrder   ToolName = "cancel_order"
)

// ToolInvocation 决策源返回的一次工具调用，一一对应执行引擎的操作
type ToolInvocation struct {
	Tool          ToolName `json:"tool"`
	Symbol        string   `json:"symbol"`
	Side          Side     `json:"side,omitempty"`
	Leverage      int      `json:"leverage,omitempty"`
	MarginUsdt    float64  `json:"margin_usdt,omitempty"`
	Percentage    float64  `json:"percentage,omitempty"`
	OrderID       string   `json:"order_id,omitempty"`
	StopLoss      float64  `json:"stop_loss,omitempty"`
	ProfitTarget  float64  `json:"profit_target,omitempty"`
	Justification string   `json:"justification,omitempty"`
}

func (ti ToolInvocation) String() string {
	switch ti.Tool {
	case OpenPosition:
		return fmt.Sprintf("%s %s %s %dx margin=%.2f", ti.Tool, ti.Symbol, ti.Side, ti.Leverage, ti.MarginUsdt)
	case ClosePosition:
		return fmt.Sprintf("%s %s %.0f%%", ti.Tool, ti.Symbol, ti.Percentage)
	case CancelOrder:
		return fmt.Sprintf("%s %s #%s", ti.Tool, ti.Symbol, ti.OrderID)
	default:
		return fmt.Sprintf("unknown tool %q", string(ti.Tool))
	}
}

// AgentDecision 决策源的完整输出：自由文本 + 工具调用
type AgentDecision struct {
	Analysis string           `json:"analysis"`
	Actions  []ToolInvocation `json:"actions"`
}

// ActionResult 一次工具调用的执行结果，写入决策记录
type ActionResult struct {
	Invocation ToolInvocation `json:"invocation"`
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
}

type ActionResults []ActionResult

func (ars ActionResults) JSON() string {
	if len(ars) == 0 {
		return "[]"
	}
	display, err := json.MarshalString(ars)
	if err != nil {
		return "[]"
	}
	return display
}

// DecisionRecord 决策审计记录，只追加
type DecisionRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	Iteration      int       `json:"iteration"`
	MarketAnalysis string    `json:"market_analysis"`
	Decision       string    `json:"decision"`
	ActionsTaken   string    `json:"actions_taken"`
	AccountValue   float64   `json:"account_value"`
	PositionsCount int       `json:"positions_count"`
}
