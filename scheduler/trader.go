package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gtoxlili/echoGuard/collector"
	"github.com/gtoxlili/echoGuard/entity"
	"github.com/gtoxlili/echoGuard/exchange"
	"github.com/gtoxlili/echoGuard/ledger"
	"github.com/gtoxlili/echoGuard/risk"
	"github.com/gtoxlili/echoGuard/trade"
	"github.com/gtoxlili/echoGuard/utils"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrHalted 账户级熔断触发，进程应退出
	ErrHalted = errors.New("trading halted by circuit breaker")
	// ErrCycleInProgress 上一个周期尚未结束，本次触发被跳过
	ErrCycleInProgress = errors.New("previous cycle still running")
	// ErrNoMarketData 没有任何可用币种，本周期不做风控与执行
	ErrNoMarketData = errors.New("no usable market data")
)

const (
	recentTradesLimit = 10
	closeAllPercent   = 100
)

// Oracle 外部决策源
type Oracle interface {
	Decide(ctx context.Context, data entity.PromptData) (entity.AgentDecision, error)
}

type Option func(*Trader)

func WithClock(now func() time.Time) Option {
	return func(t *Trader) { t.now = now }
}

func WithTiming(timing trade.Timing) Option {
	return func(t *Trader) { t.timing = timing }
}

// WithRetry 替换读接口的重试策略
func WithRetry(p utils.RetryPolicy) Option {
	return func(t *Trader) { t.retry = p }
}

// WithReport 每个周期结束时把摘要表格写到 w
func WithReport(w io.Writer) Option {
	return func(t *Trader) { t.report = w }
}

func WithTestnet(testnet bool) Option {
	return func(t *Trader) { t.testnet = testnet }
}

func WithInterval(d time.Duration) Option {
	return func(t *Trader) { t.interval = d }
}

// Trader 周期驱动：采集、对账、风控、决策、执行、记账。同一时间只运行一个周期。
type Trader struct {
	mu sync.Mutex

	client exchange.Client
	store  ledger.Store
	oracle Oracle
	policy entity.RiskPolicy

	collector *collector.Collector
	manager   *trade.Manager
	executor  *trade.Executor
	risk      *risk.Engine

	timing    trade.Timing
	retry     utils.RetryPolicy
	now       func() time.Time
	report    io.Writer
	testnet   bool
	interval  time.Duration
	startedAt time.Time
	iteration int
}

func NewTrader(client exchange.Client, store ledger.Store, oracle Oracle, policy entity.RiskPolicy, opts ...Option) *Trader {
	t := &Trader{
		client:   client,
		store:    store,
		oracle:   oracle,
		policy:   policy,
		timing:   trade.DefaultTiming,
		retry:    collector.DefaultRetry,
		now:      time.Now,
		interval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.collector = collector.New(client, t.testnet, collector.WithRetry(t.retry), collector.WithClock(t.now))
	t.manager = trade.NewManager(store, client, t.now).WithRetry(t.retry)
	t.executor = trade.NewExecutor(client, store, policy, t.timing, t.now)
	t.risk = risk.NewEngine(store, t.executor, policy, t.now)
	t.startedAt = t.now()
	return t
}

// Bootstrap 对齐账本与交易所持仓；净值历史为空时写入首条快照，返回初始净值
func (t *Trader) Bootstrap(ctx context.Context) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.manager.Reconcile(ctx, nil); err != nil {
		return 0, fmt.Errorf("scheduler.Bootstrap: %w", err)
	}
	initial, ok, err := t.store.InitialAccountValue(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler.Bootstrap: %w", err)
	}
	if ok {
		return initial, nil
	}
	snap, err := t.recordAccount(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler.Bootstrap: %w", err)
	}
	slog.Info("initial account snapshot recorded", "value", snap.TotalValue)
	return snap.TotalValue, nil
}

// Reset 平掉全部持仓并清空账本，以 initial 作为新的初始净值
func (t *Trader) Reset(ctx context.Context, initial float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.manager.Reconcile(ctx, nil); err != nil {
		return fmt.Errorf("scheduler.Reset: %w", err)
	}
	actions, err := t.risk.CloseAll(ctx, "manual reset")
	if err != nil {
		return fmt.Errorf("scheduler.Reset: %w", err)
	}
	if failed := lo.Filter(actions, func(a risk.Action, _ int) bool { return !a.Succeeded() }); len(failed) > 0 {
		return fmt.Errorf("scheduler.Reset: %d positions could not be closed: %w", len(failed), failed[0].Err)
	}

	now := t.now()
	if err := t.store.Reset(ctx, entity.AccountSnapshot{Timestamp: now, TotalValue: initial, AvailableCash: initial}); err != nil {
		return fmt.Errorf("scheduler.Reset: %w", err)
	}
	t.iteration = 0
	t.startedAt = now
	slog.Warn("ledger reset", "closed", len(actions), "initial_value", initial)
	return nil
}

// RunCycle 执行一个完整周期。熔断停机时返回 ErrHalted，重叠触发返回 ErrCycleInProgress。
func (t *Trader) RunCycle(ctx context.Context) error {
	if !t.mu.TryLock() {
		slog.Warn("previous cycle still running, skipping trigger")
		return ErrCycleInProgress
	}
	defer t.mu.Unlock()

	t.iteration++
	log := slog.With("cycle", uuid.NewString()[:8], "iteration", t.iteration)
	t.executor.ResetCycle()

	err := t.runCycle(ctx, log)
	if err != nil && !errors.Is(err, ErrHalted) {
		log.Error("cycle failed", "error", err)
		if _, rerr := t.manager.Reconcile(ctx, nil); rerr != nil {
			log.Error("post-failure reconciliation failed", "error", rerr)
		}
	}
	return err
}

func (t *Trader) runCycle(ctx context.Context, log *slog.Logger) error {
	start := t.now()
	report := CycleReport{Iteration: t.iteration, StartedAt: start, Breaker: risk.BreakerNormal.String()}

	snapshots := t.collector.Collect(ctx, t.policy.TradingSymbols)
	usable := collector.UsableSymbols(snapshots)
	report.UsableCoins = len(usable)
	log.Info("market data collected", "symbols", len(snapshots), "usable", usable)
	if len(usable) == 0 {
		return fmt.Errorf("scheduler.RunCycle: %w", ErrNoMarketData)
	}

	account, positions, err := t.fetchState(ctx)
	if err != nil {
		return fmt.Errorf("scheduler.RunCycle: %w", err)
	}
	if err := t.manager.ReconcileVerified(ctx, positions); err != nil {
		return fmt.Errorf("scheduler.RunCycle: %w", err)
	}

	verdict, err := t.risk.CheckAccount(ctx, account)
	if err != nil {
		return fmt.Errorf("scheduler.RunCycle: %w", err)
	}
	report.Breaker = verdict.State.String()
	switch verdict.State {
	case risk.BreakerHalt:
		return t.halt(ctx, log, verdict, snapshots, report)
	case risk.BreakerBlockOpens:
		log.Warn("account drawdown limit reached, new positions blocked", "reason", verdict.Reason)
		t.executor.BlockOpens()
	case risk.BreakerNormal:
	}

	var results entity.ActionResults
	riskActions, err := t.risk.Run(ctx)
	if err != nil {
		return fmt.Errorf("scheduler.RunCycle: %w", err)
	}
	if len(riskActions) > 0 {
		results = append(results, riskResults(riskActions)...)
		if _, err := t.manager.Reconcile(ctx, nil); err != nil {
			log.Error("reconciliation after risk closes failed", "error", err)
		}
	}

	data, err := t.promptData(ctx, snapshots, usable)
	if err != nil {
		return fmt.Errorf("scheduler.RunCycle: %w", err)
	}
	decision, err := t.oracle.Decide(ctx, data)
	if err != nil {
		log.Error("oracle failed, no decision this cycle", "error", err)
		report.OracleFailed = true
		decision = entity.AgentDecision{Analysis: "no decision: " + err.Error()}
	} else {
		log.Info("oracle decided", "actions", len(decision.Actions))
		results = append(results, t.apply(ctx, log, decision.Actions, snapshots)...)
	}

	if _, err := t.manager.Reconcile(ctx, nil); err != nil {
		log.Error("final reconciliation failed", "error", err)
	}

	snap, err := t.recordAccount(ctx)
	if err != nil {
		return fmt.Errorf("scheduler.RunCycle: %w", err)
	}
	t.recordDecision(ctx, log, snapshots, decision.Analysis, results, snap)

	report.Account = snap
	report.Actions = results
	report.Duration = t.now().Sub(start)
	report.Positions, _ = t.store.ListPositions(ctx)
	printReport(t.report, report)
	log.Info("cycle complete", "account_value", snap.TotalValue, "positions", len(report.Positions),
		"actions", len(results), "duration", report.Duration.Round(time.Millisecond))
	return nil
}

// fetchState 并发读取账户与持仓，两者互不取消
func (t *Trader) fetchState(ctx context.Context) (entity.Account, []entity.ExchangePosition, error) {
	var (
		account   entity.Account
		positions []entity.ExchangePosition
		g         errgroup.Group
	)
	g.Go(func() (err error) {
		account, err = utils.RetryWithBackoff(ctx, t.retry, t.client.GetAccount)
		if err != nil {
			return fmt.Errorf("account: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		positions, err = utils.RetryWithBackoff(ctx, t.retry, t.client.GetPositions)
		if err != nil {
			return fmt.Errorf("positions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return entity.Account{}, nil, err
	}
	if positions == nil {
		positions = []entity.ExchangePosition{}
	}
	return account, positions, nil
}

// halt 平掉全部持仓，记录净值与决策后返回 ErrHalted；不再调用决策源
func (t *Trader) halt(ctx context.Context, log *slog.Logger, verdict risk.BreakerVerdict, snapshots map[string]entity.MarketSnapshot, report CycleReport) error {
	log.Error("CIRCUIT BREAKER: closing all positions and halting", "reason", verdict.Reason, "drawdown_pct", verdict.DrawdownPct)

	actions, err := t.risk.CloseAll(ctx, verdict.Reason)
	if err != nil {
		log.Error("failed to list positions for circuit breaker", "error", err)
	}
	if _, err := t.manager.Reconcile(ctx, nil); err != nil {
		log.Error("reconciliation after circuit breaker failed", "error", err)
	}
	for _, a := range actions {
		if !a.Succeeded() {
			log.Error("MANUAL INTERVENTION REQUIRED: position not closed by circuit breaker", "symbol", a.Symbol, "error", a.Err)
		}
	}

	results := riskResults(actions)
	snap, err := t.recordAccount(ctx)
	if err != nil {
		log.Error("failed to record account after halt", "error", err)
	}
	t.recordDecision(ctx, log, snapshots, "circuit breaker halt: "+verdict.Reason, results, snap)

	report.Account = snap
	report.Actions = results
	report.Duration = t.now().Sub(report.StartedAt)
	printReport(t.report, report)
	return fmt.Errorf("%s: %w", verdict.Reason, ErrHalted)
}

func riskResults(actions []risk.Action) entity.ActionResults {
	return lo.Map(actions, func(a risk.Action, _ int) entity.ActionResult {
		msg := fmt.Sprintf("risk %s: %s", a.Reason, a.Detail)
		if a.Err != nil {
			msg += ": " + a.Err.Error()
		}
		return entity.ActionResult{
			Invocation: entity.ToolInvocation{
				Tool:          entity.ClosePosition,
				Symbol:        a.Symbol,
				Percentage:    closeAllPercent,
				Justification: string(a.Reason),
			},
			Success: a.Succeeded(),
			Message: msg,
		}
	})
}

// apply 依次执行决策源的工具调用，单个失败不影响后续调用
func (t *Trader) apply(ctx context.Context, log *slog.Logger, actions []entity.ToolInvocation, snapshots map[string]entity.MarketSnapshot) entity.ActionResults {
	results := make(entity.ActionResults, 0, len(actions))
	for _, inv := range actions {
		inv.Symbol = strings.ToUpper(strings.TrimSpace(inv.Symbol))
		msg, err := t.invoke(ctx, inv, snapshots)
		res := entity.ActionResult{Invocation: inv, Success: err == nil, Message: msg}
		if err != nil {
			res.Message = err.Error()
			log.Warn("action rejected", "action", inv.String(), "error", err)
		} else {
			log.Info("action executed", "action", inv.String(), "result", msg)
		}
		results = append(results, res)
	}
	return results
}

func (t *Trader) invoke(ctx context.Context, inv entity.ToolInvocation, snapshots map[string]entity.MarketSnapshot) (string, error) {
	switch inv.Tool {
	case entity.OpenPosition:
		if snap, ok := snapshots[inv.Symbol]; !ok || !snap.Usable() {
			return "", fmt.Errorf("%s: no usable market data", inv.Symbol)
		}
		side, err := entity.ParseSide(string(inv.Side))
		if err != nil {
			return "", err
		}
		res, err := t.executor.Open(ctx, trade.OpenRequest{
			Symbol:       inv.Symbol,
			Side:         side,
			Leverage:     inv.Leverage,
			MarginUsdt:   inv.MarginUsdt,
			StopLoss:     positive(inv.StopLoss),
			ProfitTarget: positive(inv.ProfitTarget),
		})
		if err != nil {
			return "", err
		}
		return res.String(), nil
	case entity.ClosePosition:
		pct := lo.Ternary(inv.Percentage == 0, float64(closeAllPercent), inv.Percentage)
		res, err := t.executor.Close(ctx, inv.Symbol, pct)
		if err != nil {
			return "", err
		}
		return res.String(), nil
	case entity.CancelOrder:
		if err := t.executor.CancelOrder(ctx, inv.Symbol, inv.OrderID); err != nil {
			return "", err
		}
		return "cancelled #" + inv.OrderID, nil
	default:
		return "", fmt.Errorf("unknown tool %q", string(inv.Tool))
	}
}

func positive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

// promptData 组装决策源的输入：行情、账户绩效、持仓、近期成交与上一次决策
func (t *Trader) promptData(ctx context.Context, snapshots map[string]entity.MarketSnapshot, usable []string) (entity.PromptData, error) {
	account, err := utils.RetryWithBackoff(ctx, t.retry, t.client.GetAccount)
	if err != nil {
		return entity.PromptData{}, err
	}
	positions, err := t.store.ListPositions(ctx)
	if err != nil {
		return entity.PromptData{}, err
	}
	history, err := t.store.AccountHistory(ctx, 0)
	if err != nil {
		return entity.PromptData{}, err
	}
	trades, err := t.store.RecentTrades(ctx, recentTradesLimit)
	if err != nil {
		return entity.PromptData{}, err
	}
	decisions, err := t.store.RecentDecisions(ctx, 1)
	if err != nil {
		return entity.PromptData{}, err
	}

	values := append(lo.Map(history, func(s entity.AccountSnapshot, _ int) float64 { return s.TotalValue }), account.Total)
	initial := lo.Ternary(len(history) > 0, lo.FirstOrEmpty(history).TotalValue, account.Total)

	now := t.now()
	data := entity.PromptData{
		MinutesElapsed:  int(now.Sub(t.startedAt).Minutes()),
		Iteration:       t.iteration,
		IntervalMinutes: int(t.interval.Minutes()),
		Coins:           lo.PickByKeys(snapshots, usable),
		Account: entity.AccountData{
			ReturnPct:     returnPercent(account.Total, initial),
			SharpeRatio:   utils.SharpeRatio(values),
			CashAvailable: account.Available,
			AccountValue:  account.Total,
			UnrealizedPnl: account.UnrealizedPnl,
		},
		Positions:    lo.Map(positions, func(p entity.Position, _ int) entity.PositionData { return positionData(p, now) }),
		RecentTrades: trades,
		OpensBlocked: t.executor.OpensBlocked(),
	}
	if len(decisions) > 0 {
		data.LastDecision = &decisions[0]
	}
	return data, nil
}

func positionData(p entity.Position, now time.Time) entity.PositionData {
	return entity.PositionData{
		Symbol:         p.Symbol,
		Side:           p.Side,
		Quantity:       p.Quantity,
		EntryPrice:     p.EntryPrice,
		CurrentPrice:   p.CurrentPrice,
		LiqPrice:       p.LiquidationPrice,
		UnrealizedPNL:  p.UnrealizedPnl,
		PnlPercent:     p.PnlPercent(),
		PeakPnlPercent: p.PeakPnlPercent,
		Leverage:       p.Leverage,
		ExitPlan: entity.ExitPlanData{
			ProfitTarget: lo.FromPtr(p.ProfitTarget),
			StopLoss:     lo.FromPtr(p.StopLoss),
		},
		NotionalUSD:  p.Quantity * p.CurrentPrice,
		AgeInMinutes: now.Sub(p.OpenedAt).Minutes(),
	}
}

func returnPercent(value, initial float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (value - initial) / initial * 100
}

// recordAccount 追加一条净值快照
func (t *Trader) recordAccount(ctx context.Context) (entity.AccountSnapshot, error) {
	account, err := utils.RetryWithBackoff(ctx, t.retry, t.client.GetAccount)
	if err != nil {
		return entity.AccountSnapshot{}, err
	}
	realized, err := t.store.SumRealizedPnl(ctx)
	if err != nil {
		return entity.AccountSnapshot{}, err
	}
	initial, ok, err := t.store.InitialAccountValue(ctx)
	if err != nil {
		return entity.AccountSnapshot{}, err
	}
	if !ok {
		initial = account.Total
	}

	snap := entity.AccountSnapshot{
		Timestamp:     t.now(),
		TotalValue:    account.Total,
		AvailableCash: account.Available,
		UnrealizedPnl: account.UnrealizedPnl,
		RealizedPnl:   realized,
		ReturnPercent: returnPercent(account.Total, initial),
	}
	if err := t.store.AppendAccountSnapshot(ctx, snap); err != nil {
		return entity.AccountSnapshot{}, err
	}
	return snap, nil
}

func (t *Trader) recordDecision(ctx context.Context, log *slog.Logger, snapshots map[string]entity.MarketSnapshot, analysis string, results entity.ActionResults, snap entity.AccountSnapshot) {
	market, err := json.MarshalString(snapshots)
	if err != nil {
		market = "{}"
	}
	count, err := t.store.CountPositions(ctx)
	if err != nil {
		log.Warn("failed to count positions", "error", err)
	}
	rec := entity.DecisionRecord{
		Timestamp:      t.now(),
		Iteration:      t.iteration,
		MarketAnalysis: market,
		Decision:       analysis,
		ActionsTaken:   results.JSON(),
		AccountValue:   snap.TotalValue,
		PositionsCount: count,
	}
	if err := t.store.AppendDecision(ctx, rec); err != nil {
		log.Error("failed to record decision", "error", err)
	}
}
