package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gtoxlili/echoGuard/entity"
	"github.com/gtoxlili/echoGuard/ledger"
	"github.com/gtoxlili/echoGuard/trade"
)

// Closer 强制平仓所需的执行能力
type Closer interface {
	Close(ctx context.Context, symbol string, percentage float64) (trade.Result, error)
}

// Action 一次强制平仓尝试
type Action struct {
	Symbol     string             `json:"symbol"`
	Reason     entity.CloseReason `json:"reason"`
	Detail     string             `json:"detail"`
	PnlPercent float64            `json:"pnl_percent"`
	Peak       float64            `json:"peak_pnl_percent"`
	Err        error              `json:"-"`
}

func (a Action) Succeeded() bool { return a.Err == nil }

// Engine 独立于决策源执行持仓级风控
type Engine struct {
	store  ledger.Store
	closer Closer
	policy entity.RiskPolicy
	now    func() time.Time
}

func NewEngine(store ledger.Store, closer Closer, policy entity.RiskPolicy, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, closer: closer, policy: policy, now: now}
}

// CheckAccount 基于账本净值历史评估账户级熔断
func (e *Engine) CheckAccount(ctx context.Context, account entity.Account) (BreakerVerdict, error) {
	peak, _, err := e.store.PeakAccountValue(ctx)
	if err != nil {
		return BreakerVerdict{}, fmt.Errorf("risk.CheckAccount: %w", err)
	}
	initial, ok, err := e.store.InitialAccountValue(ctx)
	if err != nil {
		return BreakerVerdict{}, fmt.Errorf("risk.CheckAccount: %w", err)
	}
	if !ok {
		initial = account.Total
	}
	return EvaluateAccount(e.policy, account.Total, peak, initial), nil
}

// Run 对账本中每个持仓先推高峰值，再按规则评估，命中即强制平仓
func (e *Engine) Run(ctx context.Context) ([]Action, error) {
	positions, err := e.store.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk.Run: %w", err)
	}

	now := e.now()
	var actions []Action
	for _, p := range positions {
		pnl := p.PnlPercent()
		peak, err := e.store.UpdatePeakPnl(ctx, p.Symbol, pnl)
		if err != nil {
			slog.Error("failed to persist peak pnl", "symbol", p.Symbol, "error", err)
			peak = max(p.PeakPnlPercent, pnl)
		}

		v := Evaluate(e.policy, p.Leverage, pnl, peak, now.Sub(p.OpenedAt))
		if !v.Close {
			slog.Debug("position within risk limits", "symbol", p.Symbol, "pnl_pct", pnl, "peak_pct", peak)
			continue
		}
		actions = append(actions, e.forceClose(ctx, p.Symbol, v.Reason, v.Detail, pnl, peak))
	}
	return actions, nil
}

// CloseAll 熔断时平掉账本中的全部持仓
func (e *Engine) CloseAll(ctx context.Context, detail string) ([]Action, error) {
	positions, err := e.store.ListPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk.CloseAll: %w", err)
	}
	actions := make([]Action, 0, len(positions))
	for _, p := range positions {
		actions = append(actions, e.forceClose(ctx, p.Symbol, entity.ReasonCircuitBreaker, detail, p.PnlPercent(), p.PeakPnlPercent))
	}
	return actions, nil
}

func (e *Engine) forceClose(ctx context.Context, symbol string, reason entity.CloseReason, detail string, pnl, peak float64) Action {
	action := Action{Symbol: symbol, Reason: reason, Detail: detail, PnlPercent: pnl, Peak: peak}
	slog.Warn("risk rule triggered, force closing", "symbol", symbol, "reason", reason, "detail", detail)

	_, err := e.closer.Close(ctx, symbol, 100)
	switch {
	case err == nil, errors.Is(err, trade.ErrNoPosition), errors.Is(err, trade.ErrRollbackFailed):
		// 交易所上已无该持仓
	default:
		action.Err = err
		slog.Error("forced close failed", "symbol", symbol, "reason", reason, "error", err)
		return action
	}

	if err := e.store.DeletePosition(ctx, symbol); err != nil {
		slog.Error("failed to delete force-closed position", "symbol", symbol, "error", err)
	}
	return action
}
