package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"scalper/internal/models"
	"scalper/pkg/utils"
)

// binanceErrorKinds - классы кодов ошибок Binance USDT-M
var binanceErrorKinds = map[int64]ErrorKind{
	-1003: KindRateLimited, // too many requests
	-1007: KindTransient,   // timeout waiting for response from backend
	-1013: KindValidation,  // filter failure (price/lot size)
	-1021: KindTransient,   // timestamp outside recvWindow
	-1111: KindValidation,  // precision over maximum
	-1121: KindValidation,  // invalid symbol
	-2011: KindNotFound,    // unknown order sent (cancel)
	-2013: KindNotFound,    // order does not exist
	-2019: KindMargin,      // margin is insufficient
	-4164: KindValidation,  // notional too small
	-5022: KindValidation,  // post only order would be rejected
}

// Binance реализует Exchange для USDT-M фьючерсов через go-binance
type Binance struct {
	client *futures.Client
	log    *utils.Logger

	testnet bool
	baseURL string
	httpCli *http.Client

	// Остановка потоков bookTicker по символу
	streams  map[string]chan struct{}
	streamMu sync.Mutex
}

// BinanceOptions - параметры адаптера
type BinanceOptions struct {
	Testnet    bool
	BaseURL    string       // переопределение REST адреса (тесты)
	HTTPClient *http.Client // переопределение клиента (тесты)
	Logger     *utils.Logger
}

// NewBinance создаёт адаптер Binance; клиент создаётся в Connect
func NewBinance(opts BinanceOptions) *Binance {
	log := opts.Logger
	if log == nil {
		log = utils.L()
	}
	b := &Binance{
		log:     log.WithExchange("binance"),
		testnet: opts.Testnet,
		baseURL: opts.BaseURL,
		httpCli: opts.HTTPClient,
		streams: make(map[string]chan struct{}),
	}
	b.client = b.newClient("", "")
	return b
}

func (b *Binance) newClient(apiKey, secret string) *futures.Client {
	if b.testnet {
		futures.UseTestnet = true
	}
	client := futures.NewClient(apiKey, secret)
	if b.baseURL != "" {
		client.BaseURL = b.baseURL
	}
	if b.httpCli != nil {
		client.HTTPClient = b.httpCli
	} else {
		client.HTTPClient = GetGlobalHTTPClient().GetClient()
	}
	return client
}

// wrapError переводит ошибки go-binance в ExchangeError
func (b *Binance) wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		kind, ok := binanceErrorKinds[apiErr.Code]
		if !ok {
			kind = KindExchange
		}
		return &ExchangeError{
			Exchange: "binance",
			Code:     strconv.FormatInt(apiErr.Code, 10),
			Message:  apiErr.Message,
			Kind:     kind,
			Original: err,
		}
	}

	return &ExchangeError{Exchange: "binance", Message: err.Error(), Kind: KindOf(err), Original: err}
}

// timed замеряет задержку вызова SDK
func (b *Binance) timed(endpoint string, fn func() error) error {
	start := time.Now()
	err := fn()
	observeRequest("binance", endpoint, start, err)
	return b.wrapError(err)
}

func (b *Binance) Connect(apiKey, secret, passphrase string) error {
	b.client = b.newClient(apiKey, secret)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := b.GetBalance(ctx); err != nil {
		return fmt.Errorf("failed to connect to Binance: %w", err)
	}
	return nil
}

func (b *Binance) GetName() string {
	return "binance"
}

func (b *Binance) GetBalance(ctx context.Context) (float64, error) {
	var balances []*futures.Balance
	err := b.timed("balance", func() (err error) {
		balances, err = b.client.NewGetBalanceService().Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, bal := range balances {
		if bal.Asset == "USDT" {
			available, _ := strconv.ParseFloat(bal.AvailableBalance, 64)
			return available, nil
		}
	}
	return 0, nil
}

func (b *Binance) GetMarketData(ctx context.Context, symbol string) (*MarketData, error) {
	var tickers []*futures.BookTicker
	err := b.timed("bookTicker", func() (err error) {
		tickers, err = b.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, NewError("binance", KindValidation, "", "unknown symbol "+symbol)
	}

	md := &MarketData{Symbol: symbol, Timestamp: time.Now()}
	md.Bid, _ = strconv.ParseFloat(tickers[0].BidPrice, 64)
	md.Ask, _ = strconv.ParseFloat(tickers[0].AskPrice, 64)

	var prices []*futures.SymbolPrice
	err = b.timed("price", func() (err error) {
		prices, err = b.client.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err == nil && len(prices) > 0 {
		md.Last, _ = strconv.ParseFloat(prices[0].Price, 64)
	} else if md.Bid > 0 && md.Ask > 0 {
		md.Last = md.Mid()
	}

	if md.AllZero() {
		return nil, NewError("binance", KindMarketData, "", "zero prices for "+symbol)
	}
	return md, nil
}

func binanceSide(side models.Side) futures.SideType {
	if side == models.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

// PlaceLimitOrder размещает GTX (post-only) ордер
func (b *Binance) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, price, qty float64) (string, error) {
	var resp *futures.CreateOrderResponse
	err := b.timed("order", func() (err error) {
		resp, err = b.client.NewCreateOrderService().
			Symbol(symbol).
			Side(binanceSide(side)).
			Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTX).
			Price(strconv.FormatFloat(price, 'f', -1, 64)).
			Quantity(strconv.FormatFloat(qty, 'f', -1, 64)).
			Do(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

func (b *Binance) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, qty float64) (string, error) {
	var resp *futures.CreateOrderResponse
	err := b.timed("order", func() (err error) {
		resp, err = b.client.NewCreateOrderService().
			Symbol(symbol).
			Side(binanceSide(side)).
			Type(futures.OrderTypeMarket).
			Quantity(strconv.FormatFloat(qty, 'f', -1, 64)).
			Do(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

func parseBinanceOrderID(orderID string) (int64, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return 0, NewError("binance", KindNotFound, "", "malformed order id "+orderID)
	}
	return id, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := parseBinanceOrderID(orderID)
	if err != nil {
		return err
	}
	return b.timed("cancel", func() error {
		_, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
		return err
	})
}

// parseBinanceStatus нормализует статус ордера
func parseBinanceStatus(s futures.OrderStatusType) OrderStatus {
	switch s {
	case futures.OrderStatusTypeNew:
		return OrderStatusNew
	case futures.OrderStatusTypePartiallyFilled:
		return OrderStatusPartiallyFilled
	case futures.OrderStatusTypeFilled:
		return OrderStatusFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return OrderStatusCanceled
	case futures.OrderStatusTypeRejected:
		return OrderStatusRejected
	default:
		return OrderStatusUnknown
	}
}

func (b *Binance) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	id, err := parseBinanceOrderID(orderID)
	if err != nil {
		return OrderStatusUnknown, err
	}

	var order *futures.Order
	err = b.timed("getOrder", func() (err error) {
		order, err = b.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
		return err
	})
	if err != nil {
		return OrderStatusUnknown, err
	}
	return parseBinanceStatus(order.Status), nil
}

func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return b.timed("leverage", func() error {
		_, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		return err
	})
}

func (b *Binance) GetOpenPositions(ctx context.Context) ([]*Position, error) {
	var risks []*futures.PositionRisk
	err := b.timed("positionRisk", func() (err error) {
		risks, err = b.client.NewGetPositionRiskService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	positions := make([]*Position, 0)
	for _, r := range risks {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}

		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		leverage, _ := strconv.Atoi(r.Leverage)

		side := models.SideLong
		if amt < 0 {
			side = models.SideShort
			amt = -amt
		}

		positions = append(positions, &Position{
			Symbol:        r.Symbol,
			Side:          side,
			Size:          amt,
			EntryPrice:    entry,
			MarkPrice:     mark,
			Leverage:      leverage,
			UnrealizedPnl: pnl,
			UpdatedAt:     time.Now(),
		})
	}
	return positions, nil
}

func (b *Binance) GetLimits(ctx context.Context, symbol string) (*Limits, error) {
	var info *futures.ExchangeInfo
	err := b.timed("exchangeInfo", func() (err error) {
		info, err = b.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}

		limits := &Limits{Symbol: symbol, Status: s.Status}
		if f := s.PriceFilter(); f != nil {
			limits.PriceStep, _ = strconv.ParseFloat(f.TickSize, 64)
		}
		if f := s.LotSizeFilter(); f != nil {
			limits.QtyStep, _ = strconv.ParseFloat(f.StepSize, 64)
			limits.MinOrderQty, _ = strconv.ParseFloat(f.MinQuantity, 64)
			limits.MaxOrderQty, _ = strconv.ParseFloat(f.MaxQuantity, 64)
		}
		if f := s.MinNotionalFilter(); f != nil {
			limits.MinNotional, _ = strconv.ParseFloat(f.Notional, 64)
		}
		if limits.MinNotional <= 0 {
			limits.MinNotional = 5.0
		}
		return limits, nil
	}

	return nil, NewError("binance", KindValidation, "-1121", "invalid symbol "+symbol)
}

func (b *Binance) GetLotSize(ctx context.Context, symbol string) (float64, error) {
	limits, err := b.GetLimits(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return limits.QtyStep, nil
}

// SubscribeMarketData подписывается на поток <symbol>@bookTicker
func (b *Binance) SubscribeMarketData(symbol string, callback func(*MarketData)) error {
	b.streamMu.Lock()
	defer b.streamMu.Unlock()

	if _, ok := b.streams[symbol]; ok {
		return nil
	}

	handler := func(event *futures.WsBookTickerEvent) {
		bid, _ := strconv.ParseFloat(event.BestBidPrice, 64)
		ask, _ := strconv.ParseFloat(event.BestAskPrice, 64)
		if bid <= 0 || ask <= 0 {
			return
		}
		callback(&MarketData{
			Symbol:    event.Symbol,
			Bid:       bid,
			Ask:       ask,
			Last:      (bid + ask) / 2,
			Timestamp: utils.FromUnixMillis(event.Time),
		})
	}
	errHandler := func(err error) {
		b.log.Warn("bookTicker stream error", utils.Symbol(symbol), utils.Err(err))
	}

	_, stopC, err := futures.WsBookTickerServe(symbol, handler, errHandler)
	if err != nil {
		return b.wrapError(err)
	}
	b.streams[symbol] = stopC
	return nil
}

func (b *Binance) Close() error {
	b.streamMu.Lock()
	defer b.streamMu.Unlock()

	for symbol, stopC := range b.streams {
		close(stopC)
		delete(b.streams, symbol)
	}
	return nil
}
