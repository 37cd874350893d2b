package scheduler

import (
	"fmt"
	"io"
	"time"

	"github.com/gtoxlili/echoGuard/entity"
	"github.com/olekukonko/tablewriter"
)

// CycleReport 一个周期的执行摘要
type CycleReport struct {
	Iteration    int
	StartedAt    time.Time
	Duration     time.Duration
	Breaker      string
	Account      entity.AccountSnapshot
	Positions    []entity.Position
	Actions      entity.ActionResults
	UsableCoins  int
	OracleFailed bool
}

// printReport 以表格形式输出当前持仓与本周期动作
func printReport(w io.Writer, r CycleReport) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[%s] cycle #%d  value $%.2f  cash $%.2f  return %+.2f%%  breaker %s  coins %d  (%s)\n",
		r.StartedAt.Format("15:04:05"), r.Iteration, r.Account.TotalValue, r.Account.AvailableCash,
		r.Account.ReturnPercent, r.Breaker, r.UsableCoins, r.Duration.Round(time.Millisecond))

	if len(r.Positions) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Symbol", "Side", "Qty", "Entry", "Mark", "Lev", "PnL%", "Peak%", "Liq", "Held")
		for _, p := range r.Positions {
			table.Append(
				p.Symbol,
				string(p.Side),
				fmt.Sprintf("%g", p.Quantity),
				fmt.Sprintf("%.4f", p.EntryPrice),
				fmt.Sprintf("%.4f", p.CurrentPrice),
				fmt.Sprintf("%dx", p.Leverage),
				fmt.Sprintf("%+.2f", p.PnlPercent()),
				fmt.Sprintf("%.2f", p.PeakPnlPercent),
				fmt.Sprintf("%.4f", p.LiquidationPrice),
				r.StartedAt.Sub(p.OpenedAt).Round(time.Minute).String(),
			)
		}
		table.Render()
	}

	if len(r.Actions) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("Action", "OK", "Result")
		for _, a := range r.Actions {
			table.Append(a.Invocation.String(), fmt.Sprintf("%v", a.Success), a.Message)
		}
		table.Render()
	}
	if r.OracleFailed {
		fmt.Fprintln(w, "  oracle returned no decision this cycle")
	}
}
