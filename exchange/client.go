package exchange

import (
	"context"

	"github.com/gtoxlili/echoGuard/entity"
)

// Client 交易所能力接口。symbol 一律为基础资产代码（BTC），由实现负责映射。
type Client interface {
	GetTicker(ctx context.Context, symbol string) (entity.Ticker, error)
	GetCandles(ctx context.Context, symbol string, tf entity.Timeframe, limit int) ([]entity.Candle, error)
	GetAccount(ctx context.Context) (entity.Account, error)
	GetPositions(ctx context.Context) ([]entity.ExchangePosition, error)
	PlaceOrder(ctx context.Context, req entity.OrderRequest) (entity.Order, error)
	GetOrder(ctx context.Context, symbol, orderID string) (entity.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	GetInstrumentConstraints(ctx context.Context, symbol string) (entity.InstrumentConstraints, error)
	SyncServerTime(ctx context.Context) error
}
