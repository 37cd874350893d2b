package ledger

import (
	"context"

	"github.com/gtoxlili/echoGuard/entity"
)

// Store 本地账本。持仓表是唯一跨周期共享的可变状态，其余表只追加。
type Store interface {
	ListPositions(ctx context.Context) ([]entity.Position, error)
	GetPosition(ctx context.Context, symbol string) (entity.Position, bool, error)
	UpsertPosition(ctx context.Context, p entity.Position) error
	DeletePosition(ctx context.Context, symbol string) error
	DeleteAllPositions(ctx context.Context) error
	// ReplacePositions 在一个事务内让持仓表恰好等于 ps：缺席的行删除，其余 upsert
	ReplacePositions(ctx context.Context, ps []entity.Position) error
	CountPositions(ctx context.Context) (int, error)
	// UpdatePeakPnl 峰值只增不减，返回更新后的峰值
	UpdatePeakPnl(ctx context.Context, symbol string, pnlPercent float64) (float64, error)

	AppendTrade(ctx context.Context, t entity.Trade) (int64, error)
	// RecentTrades 按时间倒序
	RecentTrades(ctx context.Context, limit int) ([]entity.Trade, error)
	SumRealizedPnl(ctx context.Context) (float64, error)

	AppendAccountSnapshot(ctx context.Context, s entity.AccountSnapshot) error
	// AccountHistory 最近 limit 条，按时间正序；limit <= 0 返回全部
	AccountHistory(ctx context.Context, limit int) ([]entity.AccountSnapshot, error)
	InitialAccountValue(ctx context.Context) (float64, bool, error)
	PeakAccountValue(ctx context.Context) (float64, bool, error)

	AppendDecision(ctx context.Context, d entity.DecisionRecord) error
	// RecentDecisions 按时间倒序
	RecentDecisions(ctx context.Context, limit int) ([]entity.DecisionRecord, error)

	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error

	// Reset 清空所有业务表并写入初始净值快照
	Reset(ctx context.Context, initial entity.AccountSnapshot) error
	Close() error
}
