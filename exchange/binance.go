package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/gtoxlili/echoGuard/config"
	"github.com/gtoxlili/echoGuard/entity"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const usdtSuffix = "USDT"

// Binance USDT 本位永续合约适配器
type Binance struct {
	client  *futures.Client
	limiter *rate.Limiter
	testnet bool

	mu          sync.Mutex
	constraints map[string]entity.InstrumentConstraints
}

var _ Client = (*Binance)(nil)

func NewBinance(cfg config.ExchangeConfig) *Binance {
	// go-binance 通过包级变量切换测试网，必须在创建客户端之前设置
	futures.UseTestnet = cfg.Testnet
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	client.HTTPClient = &http.Client{Timeout: config.OrderTimeout}
	return &Binance{
		client:      client,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		testnet:     cfg.Testnet,
		constraints: make(map[string]entity.InstrumentConstraints),
	}
}

func (b *Binance) Testnet() bool { return b.testnet }

func toPair(symbol string) string {
	return strings.ToUpper(symbol) + usdtSuffix
}

func fromPair(pair string) string {
	return strings.TrimSuffix(pair, usdtSuffix)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func (b *Binance) wait(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (b *Binance) GetTicker(ctx context.Context, symbol string) (entity.Ticker, error) {
	pair := toPair(symbol)
	ticker := entity.Ticker{Symbol: symbol}

	if err := b.wait(ctx); err != nil {
		return ticker, err
	}
	prices, err := b.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return ticker, fmt.Errorf("exchange.GetTicker: %s price: %w", symbol, err)
	}
	if p, ok := lo.Find(prices, func(p *futures.SymbolPrice) bool { return p.Symbol == pair }); ok {
		ticker.Last = parseFloat(p.Price)
	}

	if err := b.wait(ctx); err != nil {
		return ticker, err
	}
	premium, err := b.client.NewPremiumIndexService().Symbol(pair).Do(ctx)
	if err != nil {
		return ticker, fmt.Errorf("exchange.GetTicker: %s premium index: %w", symbol, err)
	}
	if p, ok := lo.Find(premium, func(p *futures.PremiumIndex) bool { return p.Symbol == pair }); ok {
		ticker.MarkPrice = parseFloat(p.MarkPrice)
		ticker.FundingRate = parseFloat(p.LastFundingRate)
	}

	if err := b.wait(ctx); err != nil {
		return ticker, err
	}
	stats, err := b.client.NewListPriceChangeStatsService().Symbol(pair).Do(ctx)
	if err != nil {
		return ticker, fmt.Errorf("exchange.GetTicker: %s 24h stats: %w", symbol, err)
	}
	if s, ok := lo.Find(stats, func(s *futures.PriceChangeStats) bool { return s.Symbol == pair }); ok {
		ticker.Volume24h = parseFloat(s.Volume)
		ticker.QuoteVolume24h = parseFloat(s.QuoteVolume)
	}
	return ticker, nil
}

func (b *Binance) GetCandles(ctx context.Context, symbol string, tf entity.Timeframe, limit int) ([]entity.Candle, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	klines, err := b.client.NewKlinesService().Symbol(toPair(symbol)).Interval(string(tf)).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange.GetCandles: %s %s: %w", symbol, tf, err)
	}
	return lo.Map(klines, func(k *futures.Kline, _ int) entity.Candle {
		return entity.Candle{
			OpenTime:    time.UnixMilli(k.OpenTime).UTC(),
			Open:        parseFloat(k.Open),
			High:        parseFloat(k.High),
			Low:         parseFloat(k.Low),
			Close:       parseFloat(k.Close),
			Volume:      parseFloat(k.Volume),
			QuoteVolume: parseFloat(k.QuoteAssetVolume),
			TradeCount:  k.TradeNum,
		}
	}), nil
}

func (b *Binance) GetAccount(ctx context.Context) (entity.Account, error) {
	if err := b.wait(ctx); err != nil {
		return entity.Account{}, err
	}
	acc, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return entity.Account{}, fmt.Errorf("exchange.GetAccount: %w", err)
	}
	marginBalance := parseFloat(acc.TotalMarginBalance)
	return entity.Account{
		Total:             marginBalance,
		Available:         parseFloat(acc.AvailableBalance),
		UnrealizedPnl:     parseFloat(acc.TotalUnrealizedProfit),
		MaintenanceMargin: parseFloat(acc.TotalMaintMargin),
		MarginBalance:     marginBalance,
		InitialMargin:     parseFloat(acc.TotalInitialMargin),
	}, nil
}

func (b *Binance) GetPositions(ctx context.Context) ([]entity.ExchangePosition, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange.GetPositions: %w", err)
	}

	positions := make([]entity.ExchangePosition, 0, len(risks))
	for _, r := range risks {
		if !strings.HasSuffix(r.Symbol, usdtSuffix) {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := entity.Long
		if amt < 0 {
			side = entity.Short
		}
		lev, _ := strconv.Atoi(r.Leverage)
		positions = append(positions, entity.ExchangePosition{
			Symbol:           fromPair(r.Symbol),
			Size:             abs(amt),
			Side:             side,
			EntryPrice:       parseFloat(r.EntryPrice),
			MarkPrice:        parseFloat(r.MarkPrice),
			Leverage:         lev,
			LiquidationPrice: parseFloat(r.LiquidationPrice),
			UnrealizedPnl:    parseFloat(r.UnRealizedProfit),
		})
	}
	return positions, nil
}

func (b *Binance) PlaceOrder(ctx context.Context, req entity.OrderRequest) (entity.Order, error) {
	if err := b.wait(ctx); err != nil {
		return entity.Order{}, err
	}
	svc := b.client.NewCreateOrderService().
		Symbol(toPair(req.Symbol)).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(decimal.NewFromFloat(req.Quantity).String()).
		ReduceOnly(req.ReduceOnly)
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return entity.Order{}, fmt.Errorf("exchange.PlaceOrder: %s %s %v: %w", req.Symbol, req.Side, req.Quantity, err)
	}
	return entity.Order{
		ID:             strconv.FormatInt(res.OrderID, 10),
		Symbol:         req.Symbol,
		Status:         entity.OrderStatus(res.Status),
		Quantity:       parseFloat(res.OrigQuantity),
		FilledQuantity: parseFloat(res.ExecutedQuantity),
		FillPrice:      parseFloat(res.AvgPrice),
	}, nil
}

func (b *Binance) GetOrder(ctx context.Context, symbol, orderID string) (entity.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return entity.Order{}, fmt.Errorf("exchange.GetOrder: bad order id %q: %w", orderID, ErrOrderNotFound)
	}
	if err := b.wait(ctx); err != nil {
		return entity.Order{}, err
	}
	o, err := b.client.NewGetOrderService().Symbol(toPair(symbol)).OrderID(id).Do(ctx)
	if err != nil {
		return entity.Order{}, fmt.Errorf("exchange.GetOrder: %s #%s: %w", symbol, orderID, mapOrderErr(err))
	}
	return entity.Order{
		ID:             orderID,
		Symbol:         symbol,
		Status:         entity.OrderStatus(o.Status),
		Quantity:       parseFloat(o.OrigQuantity),
		FilledQuantity: parseFloat(o.ExecutedQuantity),
		FillPrice:      parseFloat(o.AvgPrice),
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("exchange.CancelOrder: bad order id %q: %w", orderID, ErrOrderNotFound)
	}
	if err := b.wait(ctx); err != nil {
		return err
	}
	if _, err := b.client.NewCancelOrderService().Symbol(toPair(symbol)).OrderID(id).Do(ctx); err != nil {
		return fmt.Errorf("exchange.CancelOrder: %s #%s: %w", symbol, orderID, mapOrderErr(err))
	}
	return nil
}

func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	if _, err := b.client.NewChangeLeverageService().Symbol(toPair(symbol)).Leverage(leverage).Do(ctx); err != nil {
		return fmt.Errorf("exchange.SetLeverage: %s %dx: %w", symbol, leverage, err)
	}
	return nil
}

// GetInstrumentConstraints 交易规则在进程生命周期内缓存
func (b *Binance) GetInstrumentConstraints(ctx context.Context, symbol string) (entity.InstrumentConstraints, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.constraints[symbol]; ok {
		return c, nil
	}
	if err := b.wait(ctx); err != nil {
		return entity.InstrumentConstraints{}, err
	}
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return entity.InstrumentConstraints{}, fmt.Errorf("exchange.GetInstrumentConstraints: %w", err)
	}
	for _, s := range info.Symbols {
		if !strings.HasSuffix(s.Symbol, usdtSuffix) {
			continue
		}
		lot := s.LotSizeFilter()
		if lot == nil {
			continue
		}
		b.constraints[fromPair(s.Symbol)] = entity.InstrumentConstraints{
			MinQty:   parseFloat(lot.MinQuantity),
			MaxQty:   parseFloat(lot.MaxQuantity),
			StepSize: parseFloat(lot.StepSize),
		}
	}

	c, ok := b.constraints[symbol]
	if !ok {
		return entity.InstrumentConstraints{}, fmt.Errorf("exchange.GetInstrumentConstraints: %s: %w", symbol, ErrUnknownSymbol)
	}
	return c, nil
}

func (b *Binance) SyncServerTime(ctx context.Context) error {
	offset, err := b.client.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return fmt.Errorf("exchange.SyncServerTime: %w", err)
	}
	slog.Info("server time synchronized", "offset_ms", offset)
	return nil
}

// -2013 Order does not exist
func mapOrderErr(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == -2013 {
		return fmt.Errorf("%w: %w", ErrOrderNotFound, err)
	}
	return err
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
