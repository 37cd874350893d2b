package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gtoxlili/echoGuard/entity"
	"github.com/samber/lo"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    symbol            TEXT PRIMARY KEY,
    quantity          REAL    NOT NULL,
    entry_price       REAL    NOT NULL,
    current_price     REAL    NOT NULL DEFAULT 0,
    liquidation_price REAL    NOT NULL DEFAULT 0,
    unrealized_pnl    REAL    NOT NULL DEFAULT 0,
    leverage          INTEGER NOT NULL,
    side              TEXT    NOT NULL CHECK (side IN ('long', 'short')),
    stop_loss         REAL,
    profit_target     REAL,
    peak_pnl_percent  REAL    NOT NULL DEFAULT 0,
    opened_at         TEXT    NOT NULL,
    entry_order_id    TEXT    NOT NULL,
    sl_order_id       TEXT,
    tp_order_id       TEXT
);

CREATE TABLE IF NOT EXISTS trades (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id  TEXT    NOT NULL,
    symbol    TEXT    NOT NULL,
    side      TEXT    NOT NULL,
    type      TEXT    NOT NULL CHECK (type IN ('open', 'close')),
    price     REAL    NOT NULL,
    quantity  REAL    NOT NULL,
    leverage  INTEGER NOT NULL,
    pnl       REAL,
    fee       REAL    NOT NULL DEFAULT 0,
    timestamp TEXT    NOT NULL,
    status    TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS account_history (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp      TEXT NOT NULL,
    total_value    REAL NOT NULL,
    available_cash REAL NOT NULL,
    unrealized_pnl REAL NOT NULL,
    realized_pnl   REAL NOT NULL,
    return_percent REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_decisions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp       TEXT    NOT NULL,
    iteration       INTEGER NOT NULL,
    market_analysis TEXT    NOT NULL,
    decision        TEXT    NOT NULL,
    actions_taken   TEXT    NOT NULL,
    account_value   REAL    NOT NULL,
    positions_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS system_config (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_ts    ON trades(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_history_ts   ON account_history(timestamp);
CREATE INDEX IF NOT EXISTS idx_decisions_ts ON agent_decisions(timestamp DESC);
`

// 定长 UTC 格式，字典序即时间序
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// SQLite 基于 modernc.org/sqlite（纯 Go，无 CGo）
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// Open 打开（或创建）数据库并应用 schema。path 可为 ":memory:"。
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger.Open: open %q: %w", path, err)
	}
	// 单写者；内存库也必须复用同一连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger.Open: apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

const positionColumns = `symbol, quantity, entry_price, current_price, liquidation_price, unrealized_pnl,
	leverage, side, stop_loss, profit_target, peak_pnl_percent, opened_at, entry_order_id, sl_order_id, tp_order_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(row scanner) (entity.Position, error) {
	var (
		p                    entity.Position
		side, openedAt       string
		stopLoss, target     sql.NullFloat64
		slOrderID, tpOrderID sql.NullString
	)
	if err := row.Scan(
		&p.Symbol, &p.Quantity, &p.EntryPrice, &p.CurrentPrice, &p.LiquidationPrice, &p.UnrealizedPnl,
		&p.Leverage, &side, &stopLoss, &target, &p.PeakPnlPercent, &openedAt, &p.EntryOrderID, &slOrderID, &tpOrderID,
	); err != nil {
		return entity.Position{}, err
	}

	var err error
	if p.Side, err = entity.ParseSide(side); err != nil {
		return entity.Position{}, err
	}
	if p.OpenedAt, err = parseTime(openedAt); err != nil {
		return entity.Position{}, fmt.Errorf("opened_at: %w", err)
	}
	if stopLoss.Valid {
		p.StopLoss = lo.ToPtr(stopLoss.Float64)
	}
	if target.Valid {
		p.ProfitTarget = lo.ToPtr(target.Float64)
	}
	p.SLOrderID = slOrderID.String
	p.TPOrderID = tpOrderID.String
	return p, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func (s *SQLite) ListPositions(ctx context.Context) ([]entity.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+positionColumns+` FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("ledger.ListPositions: query: %w", err)
	}
	defer rows.Close()

	var out []entity.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger.ListPositions: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) GetPosition(ctx context.Context, symbol string) (entity.Position, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE symbol = ?`, symbol)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Position{}, false, nil
	}
	if err != nil {
		return entity.Position{}, false, fmt.Errorf("ledger.GetPosition: %s: %w", symbol, err)
	}
	return p, true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertPosition = `
INSERT INTO positions (` + positionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol) DO UPDATE SET
    quantity          = excluded.quantity,
    entry_price       = excluded.entry_price,
    current_price     = excluded.current_price,
    liquidation_price = excluded.liquidation_price,
    unrealized_pnl    = excluded.unrealized_pnl,
    leverage          = excluded.leverage,
    side              = excluded.side,
    stop_loss         = excluded.stop_loss,
    profit_target     = excluded.profit_target,
    peak_pnl_percent  = excluded.peak_pnl_percent,
    opened_at         = excluded.opened_at,
    entry_order_id    = excluded.entry_order_id,
    sl_order_id       = excluded.sl_order_id,
    tp_order_id       = excluded.tp_order_id
`

func upsert(ctx context.Context, ex execer, p entity.Position) error {
	_, err := ex.ExecContext(ctx, upsertPosition,
		p.Symbol, p.Quantity, p.EntryPrice, p.CurrentPrice, p.LiquidationPrice, p.UnrealizedPnl,
		p.Leverage, string(p.Side), nullFloat(p.StopLoss), nullFloat(p.ProfitTarget), p.PeakPnlPercent,
		formatTime(p.OpenedAt), p.EntryOrderID, nullString(p.SLOrderID), nullString(p.TPOrderID),
	)
	return err
}

func (s *SQLite) UpsertPosition(ctx context.Context, p entity.Position) error {
	if err := upsert(ctx, s.db, p); err != nil {
		return fmt.Errorf("ledger.UpsertPosition: %s: %w", p.Symbol, err)
	}
	return nil
}

func (s *SQLite) DeletePosition(ctx context.Context, symbol string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("ledger.DeletePosition: %s: %w", symbol, err)
	}
	return nil
}

func (s *SQLite) DeleteAllPositions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("ledger.DeleteAllPositions: %w", err)
	}
	return nil
}

func (s *SQLite) ReplacePositions(ctx context.Context, ps []entity.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger.ReplacePositions: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT symbol FROM positions`)
	if err != nil {
		return fmt.Errorf("ledger.ReplacePositions: list symbols: %w", err)
	}
	var existing []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			rows.Close()
			return fmt.Errorf("ledger.ReplacePositions: scan: %w", err)
		}
		existing = append(existing, sym)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger.ReplacePositions: list symbols: %w", err)
	}

	keep := lo.SliceToMap(ps, func(p entity.Position) (string, struct{}) { return p.Symbol, struct{}{} })
	for _, sym := range existing {
		if _, ok := keep[sym]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, sym); err != nil {
			return fmt.Errorf("ledger.ReplacePositions: delete %s: %w", sym, err)
		}
	}
	for _, p := range ps {
		if err := upsert(ctx, tx, p); err != nil {
			return fmt.Errorf("ledger.ReplacePositions: upsert %s: %w", p.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger.ReplacePositions: commit: %w", err)
	}
	return nil
}

func (s *SQLite) CountPositions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger.CountPositions: %w", err)
	}
	return n, nil
}

func (s *SQLite) UpdatePeakPnl(ctx context.Context, symbol string, pnlPercent float64) (float64, error) {
	var peak float64
	err := s.db.QueryRowContext(ctx,
		`UPDATE positions SET peak_pnl_percent = MAX(peak_pnl_percent, ?) WHERE symbol = ? RETURNING peak_pnl_percent`,
		pnlPercent, symbol,
	).Scan(&peak)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("ledger.UpdatePeakPnl: %s: no such position", symbol)
	}
	if err != nil {
		return 0, fmt.Errorf("ledger.UpdatePeakPnl: %s: %w", symbol, err)
	}
	return peak, nil
}

func (s *SQLite) AppendTrade(ctx context.Context, t entity.Trade) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (order_id, symbol, side, type, price, quantity, leverage, pnl, fee, timestamp, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OrderID, t.Symbol, string(t.Side), string(t.Type), t.Price, t.Quantity, t.Leverage,
		nullFloat(t.Pnl), t.Fee, formatTime(t.Timestamp), string(t.Status),
	)
	if err != nil {
		return 0, fmt.Errorf("ledger.AppendTrade: %s %s: %w", t.Symbol, t.Type, err)
	}
	return res.LastInsertId()
}

func (s *SQLite) RecentTrades(ctx context.Context, limit int) ([]entity.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, symbol, side, type, price, quantity, leverage, pnl, fee, timestamp, status
		 FROM trades ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger.RecentTrades: query: %w", err)
	}
	defer rows.Close()

	var out []entity.Trade
	for rows.Next() {
		var (
			t                     entity.Trade
			side, typ, ts, status string
			pnl                   sql.NullFloat64
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &side, &typ, &t.Price, &t.Quantity, &t.Leverage,
			&pnl, &t.Fee, &ts, &status); err != nil {
			return nil, fmt.Errorf("ledger.RecentTrades: scan: %w", err)
		}
		t.Side, t.Type, t.Status = entity.Side(side), entity.TradeType(typ), entity.TradeStatus(status)
		if pnl.Valid {
			t.Pnl = lo.ToPtr(pnl.Float64)
		}
		if t.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("ledger.RecentTrades: timestamp: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) SumRealizedPnl(ctx context.Context) (float64, error) {
	var sum float64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE pnl IS NOT NULL`).Scan(&sum); err != nil {
		return 0, fmt.Errorf("ledger.SumRealizedPnl: %w", err)
	}
	return sum, nil
}

func (s *SQLite) AppendAccountSnapshot(ctx context.Context, snap entity.AccountSnapshot) error {
	if err := insertSnapshot(ctx, s.db, snap); err != nil {
		return fmt.Errorf("ledger.AppendAccountSnapshot: %w", err)
	}
	return nil
}

func insertSnapshot(ctx context.Context, ex execer, snap entity.AccountSnapshot) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO account_history (timestamp, total_value, available_cash, unrealized_pnl, realized_pnl, return_percent)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(snap.Timestamp), snap.TotalValue, snap.AvailableCash, snap.UnrealizedPnl, snap.RealizedPnl, snap.ReturnPercent,
	)
	return err
}

func (s *SQLite) AccountHistory(ctx context.Context, limit int) ([]entity.AccountSnapshot, error) {
	if limit <= 0 {
		limit = -1 // SQLite: 无上限
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, total_value, available_cash, unrealized_pnl, realized_pnl, return_percent FROM (
		     SELECT * FROM account_history ORDER BY timestamp DESC, id DESC LIMIT ?
		 ) ORDER BY timestamp ASC, id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger.AccountHistory: query: %w", err)
	}
	defer rows.Close()

	var out []entity.AccountSnapshot
	for rows.Next() {
		var (
			snap entity.AccountSnapshot
			ts   string
		)
		if err := rows.Scan(&ts, &snap.TotalValue, &snap.AvailableCash, &snap.UnrealizedPnl, &snap.RealizedPnl, &snap.ReturnPercent); err != nil {
			return nil, fmt.Errorf("ledger.AccountHistory: scan: %w", err)
		}
		if snap.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("ledger.AccountHistory: timestamp: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLite) InitialAccountValue(ctx context.Context) (float64, bool, error) {
	var v float64
	err := s.db.QueryRowContext(ctx,
		`SELECT total_value FROM account_history ORDER BY timestamp ASC, id ASC LIMIT 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("ledger.InitialAccountValue: %w", err)
	}
	return v, true, nil
}

func (s *SQLite) PeakAccountValue(ctx context.Context) (float64, bool, error) {
	var v sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(total_value) FROM account_history`).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("ledger.PeakAccountValue: %w", err)
	}
	return v.Float64, v.Valid, nil
}

func (s *SQLite) AppendDecision(ctx context.Context, d entity.DecisionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_decisions (timestamp, iteration, market_analysis, decision, actions_taken, account_value, positions_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		formatTime(d.Timestamp), d.Iteration, d.MarketAnalysis, d.Decision, d.ActionsTaken, d.AccountValue, d.PositionsCount,
	)
	if err != nil {
		return fmt.Errorf("ledger.AppendDecision: %w", err)
	}
	return nil
}

func (s *SQLite) RecentDecisions(ctx context.Context, limit int) ([]entity.DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, iteration, market_analysis, decision, actions_taken, account_value, positions_count
		 FROM agent_decisions ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger.RecentDecisions: query: %w", err)
	}
	defer rows.Close()

	var out []entity.DecisionRecord
	for rows.Next() {
		var (
			d  entity.DecisionRecord
			ts string
		)
		if err := rows.Scan(&ts, &d.Iteration, &d.MarketAnalysis, &d.Decision, &d.ActionsTaken, &d.AccountValue, &d.PositionsCount); err != nil {
			return nil, fmt.Errorf("ledger.RecentDecisions: scan: %w", err)
		}
		if d.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("ledger.RecentDecisions: timestamp: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLite) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_config WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger.GetConfig: %s: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLite) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("ledger.SetConfig: %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Reset(ctx context.Context, initial entity.AccountSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger.Reset: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"positions", "trades", "account_history", "agent_decisions"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("ledger.Reset: clear %s: %w", table, err)
		}
	}
	if err := insertSnapshot(ctx, tx, initial); err != nil {
		return fmt.Errorf("ledger.Reset: initial snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger.Reset: commit: %w", err)
	}
	return nil
}
