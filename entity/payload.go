package entity

// PromptData 是包含所有上下文的顶级结构
type PromptData struct {
	MinutesElapsed  int                       `json:"minutes_elapsed"`
	Iteration       int                       `json:"iteration"`
	IntervalMinutes int                       `json:"interval_minutes"`
	Coins           map[string]MarketSnapshot `json:"coins"`
	Account         AccountData               `json:"account"`
	Positions       []PositionData            `json:"positions"`
	RecentTrades    []Trade                   `json:"recent_trades"`
	LastDecision    *DecisionRecord           `json:"last_decision,omitempty"`
	OpensBlocked    bool                      `json:"opens_blocked"`
}

// AccountData 包含账户绩效和余额
type AccountData struct {
	ReturnPct     float64 `json:"return_pct"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	CashAvailable float64 `json:"cash_available"`
	AccountValue  float64 `json:"account_value"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
}

// PositionData 包含单个持仓的详细信息
type PositionData struct {
	Symbol         string       `json:"symbol"`
	Side           Side         `json:"side"`
	Quantity       float64      `json:"quantity"`
	EntryPrice     float64      `json:"entry_price"`
	CurrentPrice   float64      `json:"current_price"`
	LiqPrice       float64      `json:"liq_price"`
	UnrealizedPNL  float64      `json:"unrealized_pnl"`
	PnlPercent     float64      `json:"pnl_percent"`
	PeakPnlPercent float64      `json:"peak_pnl_percent"`
	Leverage       int          `json:"leverage"`
	ExitPlan       ExitPlanData `json:"exit_plan"`
	NotionalUSD    float64      `json:"notional_usd"`
	AgeInMinutes   float64      `json:"age_in_minutes"`
}

// ExitPlanData 包含仓位的退出策略
type ExitPlanData struct {
	ProfitTarget float64 `json:"profit_target"`
	StopLoss     float64 `json:"stop_loss"`
}
