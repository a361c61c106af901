package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"scalper/internal/models"
	"scalper/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	bybitBaseURL        = "https://api.bybit.com"
	bybitTestnetBaseURL = "https://api-testnet.bybit.com"
	bybitWSPublic       = "wss://stream.bybit.com/v5/public/linear"
	bybitWSTestnet      = "wss://stream-testnet.bybit.com/v5/public/linear"
	bybitRecvWindow     = "5000"
)

// bybitErrorKinds - классы кодов retCode Bybit v5
var bybitErrorKinds = map[int]ErrorKind{
	10001:  KindValidation,  // params error
	10002:  KindTransient,   // request time exceeds the time window
	10006:  KindRateLimited, // too many visits
	10016:  KindTransient,   // server error
	10018:  KindRateLimited, // exceeded the IP rate limit
	110001: KindNotFound,    // order does not exist
	110003: KindValidation,  // price out of permissible range
	110004: KindMargin,      // insufficient wallet balance
	110007: KindMargin,      // insufficient available balance
	110008: KindNotFound,    // order already finished or cancelled
	110012: KindMargin,      // insufficient available balance
	110017: KindValidation,  // reduce-only rule not satisfied
	110094: KindValidation,  // order does not meet minimum order value
	170136: KindValidation,  // order quantity exceeds the lower limit
	170137: KindValidation,  // order volume decimal too long
}

// Bybit реализует Exchange для бессрочных USDT контрактов Bybit (API v5, category=linear)
type Bybit struct {
	apiKey    string
	secretKey string

	baseURL string
	wsURL   string
	client  *HTTPClient
	log     *utils.Logger

	wsManager *WSReconnectManager
	wsMu      sync.Mutex

	// Лучшие цены по потоку orderbook.1: дельты содержат только изменившуюся сторону
	books     map[string]*MarketData
	callbacks map[string]func(*MarketData)
	streamMu  sync.RWMutex

	connected bool
}

// BybitOptions - параметры адаптера
type BybitOptions struct {
	Testnet    bool
	BaseURL    string       // переопределение REST адреса (тесты)
	WSURL      string       // переопределение адреса потока
	HTTPClient *http.Client // переопределение клиента (тесты)
	Logger     *utils.Logger
}

// NewBybit создаёт адаптер Bybit
// По умолчанию использует глобальный HTTP клиент с connection pooling
func NewBybit(opts BybitOptions) *Bybit {
	b := &Bybit{
		baseURL:   bybitBaseURL,
		wsURL:     bybitWSPublic,
		client:    GetGlobalHTTPClient(),
		log:       opts.Logger,
		books:     make(map[string]*MarketData),
		callbacks: make(map[string]func(*MarketData)),
	}
	if opts.Testnet {
		b.baseURL = bybitTestnetBaseURL
		b.wsURL = bybitWSTestnet
	}
	if opts.BaseURL != "" {
		b.baseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.WSURL != "" {
		b.wsURL = opts.WSURL
	}
	if opts.HTTPClient != nil {
		b.client = WrapHTTPClient(opts.HTTPClient)
	}
	if b.log == nil {
		b.log = utils.L()
	}
	b.log = b.log.WithExchange("bybit")
	return b
}

// sign создаёт подпись запроса Bybit v5: timestamp + apiKey + recvWindow + payload
func (b *Bybit) sign(timestamp, payload string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(timestamp + b.apiKey + bybitRecvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет запрос к REST API и проверяет retCode
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	var payload, reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		payload = query.Encode()
		reqURL = b.baseURL + endpoint
		if payload != "" {
			reqURL += "?" + payload
		}
	} else {
		reqURL = b.baseURL + endpoint
		if len(params) > 0 {
			body, err := json.Marshal(params)
			if err != nil {
				return nil, err
			}
			payload = string(body)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, payload))
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.client.Do("bybit", endpoint, req)
	if err != nil {
		return nil, &ExchangeError{Exchange: "bybit", Message: err.Error(), Kind: KindTransient, Original: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExchangeError{Exchange: "bybit", Message: err.Error(), Kind: KindTransient, Original: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, NewError("bybit", KindRateLimited, strconv.Itoa(resp.StatusCode), "http rate limit")
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, NewError("bybit", KindTransient, strconv.Itoa(resp.StatusCode), "http server error")
	}

	var base struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &base); err != nil {
		return nil, &ExchangeError{Exchange: "bybit", Message: "invalid response", Kind: KindExchange, Original: err}
	}
	if base.RetCode != 0 {
		kind, ok := bybitErrorKinds[base.RetCode]
		if !ok {
			kind = KindExchange
		}
		return nil, NewError("bybit", kind, strconv.Itoa(base.RetCode), base.RetMsg)
	}

	return body, nil
}

func (b *Bybit) Connect(apiKey, secret, passphrase string) error {
	b.apiKey = apiKey
	b.secretKey = secret

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := b.GetBalance(ctx); err != nil {
		return fmt.Errorf("failed to connect to Bybit: %w", err)
	}

	b.connected = true
	return nil
}

func (b *Bybit) GetName() string {
	return "bybit"
}

func (b *Bybit) GetBalance(ctx context.Context) (float64, error) {
	params := map[string]string{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				TotalAvailableBalance string `json:"totalAvailableBalance"`
				Coin                  []struct {
					Coin                string `json:"coin"`
					Equity              string `json:"equity"`
					AvailableToWithdraw string `json:"availableToWithdraw"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	if len(resp.Result.List) == 0 {
		return 0, nil
	}
	account := resp.Result.List[0]
	if available, err := strconv.ParseFloat(account.TotalAvailableBalance, 64); err == nil && available > 0 {
		return available, nil
	}
	for _, coin := range account.Coin {
		if coin.Coin == "USDT" {
			equity, _ := strconv.ParseFloat(coin.Equity, 64)
			return equity, nil
		}
	}
	return 0, nil
}

func (b *Bybit) GetMarketData(ctx context.Context, symbol string) (*MarketData, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, false)
	if err != nil {
		return nil, err
	}

	ticker := gjson.GetBytes(body, "result.list.0")
	if !ticker.Exists() {
		return nil, NewError("bybit", KindValidation, "", "unknown symbol "+symbol)
	}

	md := &MarketData{
		Symbol:    symbol,
		Bid:       ticker.Get("bid1Price").Float(),
		Ask:       ticker.Get("ask1Price").Float(),
		Last:      ticker.Get("lastPrice").Float(),
		Volume:    ticker.Get("volume24h").Float(),
		Timestamp: time.Now(),
	}
	if md.AllZero() {
		return nil, NewError("bybit", KindMarketData, "", "zero prices for "+symbol)
	}
	return md, nil
}

// bybitSide конвертирует сторону в формат Bybit
func bybitSide(side models.Side) string {
	if side == models.SideSell {
		return "Sell"
	}
	return "Buy"
}

func (b *Bybit) createOrder(ctx context.Context, params map[string]string) (string, error) {
	params["category"] = "linear"
	params["orderLinkId"] = uuid.NewString()

	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return "", err
	}

	orderID := gjson.GetBytes(body, "result.orderId").String()
	if orderID == "" {
		return "", NewError("bybit", KindExchange, "", "empty order id")
	}
	return orderID, nil
}

func (b *Bybit) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, price, qty float64) (string, error) {
	return b.createOrder(ctx, map[string]string{
		"symbol":      symbol,
		"side":        bybitSide(side),
		"orderType":   "Limit",
		"qty":         strconv.FormatFloat(qty, 'f', -1, 64),
		"price":       strconv.FormatFloat(price, 'f', -1, 64),
		"timeInForce": "PostOnly",
	})
}

func (b *Bybit) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, qty float64) (string, error) {
	return b.createOrder(ctx, map[string]string{
		"symbol":      symbol,
		"side":        bybitSide(side),
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(qty, 'f', -1, 64),
		"timeInForce": "IOC",
	})
}

func (b *Bybit) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}
	_, err := b.doRequest(ctx, http.MethodPost, "/v5/order/cancel", params, true)
	return err
}

// parseBybitStatus нормализует orderStatus Bybit
func parseBybitStatus(s string) OrderStatus {
	switch s {
	case "New", "Untriggered", "Created":
		return OrderStatusNew
	case "PartiallyFilled":
		return OrderStatusPartiallyFilled
	case "Filled":
		return OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return OrderStatusCanceled
	case "Rejected":
		return OrderStatusRejected
	default:
		return OrderStatusUnknown
	}
}

// GetOrderStatus ищет ордер среди активных, затем в истории
func (b *Bybit) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}

	for _, endpoint := range []string{"/v5/order/realtime", "/v5/order/history"} {
		body, err := b.doRequest(ctx, http.MethodGet, endpoint, params, true)
		if err != nil {
			return OrderStatusUnknown, err
		}
		if status := gjson.GetBytes(body, "result.list.0.orderStatus"); status.Exists() {
			return parseBybitStatus(status.String()), nil
		}
	}

	return OrderStatusUnknown, NewError("bybit", KindNotFound, "", "order not found: "+orderID)
}

func (b *Bybit) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	params := map[string]string{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/v5/position/set-leverage", params, true)
	if err != nil {
		// 110043: плечо уже установлено
		var exErr *ExchangeError
		if errors.As(err, &exErr) && exErr.Code == "110043" {
			return nil
		}
		return err
	}
	return nil
}

func (b *Bybit) GetOpenPositions(ctx context.Context) ([]*Position, error) {
	params := map[string]string{
		"category":   "linear",
		"settleCoin": "USDT",
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/position/list", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				Side          string `json:"side"`
				Size          string `json:"size"`
				AvgPrice      string `json:"avgPrice"`
				MarkPrice     string `json:"markPrice"`
				Leverage      string `json:"leverage"`
				UnrealisedPnl string `json:"unrealisedPnl"`
				UpdatedTime   string `json:"updatedTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]*Position, 0, len(resp.Result.List))
	for _, p := range resp.Result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}

		entryPrice, _ := strconv.ParseFloat(p.AvgPrice, 64)
		markPrice, _ := strconv.ParseFloat(p.MarkPrice, 64)
		leverage, _ := strconv.Atoi(p.Leverage)
		pnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)
		updated, _ := strconv.ParseInt(p.UpdatedTime, 10, 64)

		side := models.SideLong
		if p.Side == "Sell" {
			side = models.SideShort
		}

		positions = append(positions, &Position{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    entryPrice,
			MarkPrice:     markPrice,
			Leverage:      leverage,
			UnrealizedPnl: pnl,
			UpdatedAt:     utils.FromUnixMillis(updated),
		})
	}
	return positions, nil
}

func (b *Bybit) GetLimits(ctx context.Context, symbol string) (*Limits, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, false)
	if err != nil {
		return nil, err
	}

	info := gjson.GetBytes(body, "result.list.0")
	if !info.Exists() {
		return nil, NewError("bybit", KindValidation, "", "instrument info not found for "+symbol)
	}

	status := info.Get("status").String()
	if status == "Trading" {
		status = models.SymbolStatusTrading
	}

	minNotional := info.Get("lotSizeFilter.minNotionalValue").Float()
	if minNotional <= 0 {
		minNotional = 5.0 // минимум Bybit для linear
	}

	return &Limits{
		Symbol:      symbol,
		MinOrderQty: info.Get("lotSizeFilter.minOrderQty").Float(),
		MaxOrderQty: info.Get("lotSizeFilter.maxOrderQty").Float(),
		QtyStep:     info.Get("lotSizeFilter.qtyStep").Float(),
		MinNotional: minNotional,
		PriceStep:   info.Get("priceFilter.tickSize").Float(),
		MaxLeverage: int(info.Get("leverageFilter.maxLeverage").Float()),
		Status:      status,
	}, nil
}

func (b *Bybit) GetLotSize(ctx context.Context, symbol string) (float64, error) {
	limits, err := b.GetLimits(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return limits.QtyStep, nil
}

// SubscribeMarketData подписывается на orderbook.1.<symbol>
func (b *Bybit) SubscribeMarketData(symbol string, callback func(*MarketData)) error {
	b.streamMu.Lock()
	b.callbacks[symbol] = callback
	b.streamMu.Unlock()

	b.wsMu.Lock()
	defer b.wsMu.Unlock()

	if b.wsManager == nil {
		m := NewWSReconnectManager("bybit-public", b.wsURL, DefaultWSReconnectConfig(), b.log)
		m.SetOnMessage(b.handlePublicMessage)
		m.SetOnDisconnect(func(err error) {
			// после переподключения придёт новый snapshot
			b.streamMu.Lock()
			b.books = make(map[string]*MarketData)
			b.streamMu.Unlock()
		})
		if err := m.Connect(); err != nil {
			return fmt.Errorf("failed to connect to WebSocket: %w", err)
		}
		b.wsManager = m
	}

	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"orderbook.1." + symbol},
	}
	b.wsManager.AddSubscription(sub)
	return b.wsManager.Send(sub)
}

// handlePublicMessage разбирает сообщения orderbook.1
//
//	{"topic":"orderbook.1.BTCUSDT","type":"snapshot","ts":1672304484978,
//	 "data":{"s":"BTCUSDT","b":[["16493.50","0.006"]],"a":[["16611.00","0.029"]]}}
func (b *Bybit) handlePublicMessage(message []byte) {
	topic := gjson.GetBytes(message, "topic").String()
	if !strings.HasPrefix(topic, "orderbook.1.") {
		return
	}

	data := gjson.GetBytes(message, "data")
	symbol := data.Get("s").String()
	snapshot := gjson.GetBytes(message, "type").String() == "snapshot"
	ts := utils.FromUnixMillis(gjson.GetBytes(message, "ts").Int())

	b.streamMu.Lock()
	book, ok := b.books[symbol]
	if !ok || snapshot {
		book = &MarketData{Symbol: symbol}
		b.books[symbol] = book
	}
	if level := data.Get("b.0"); level.Exists() && level.Get("1").Float() > 0 {
		book.Bid = level.Get("0").Float()
	}
	if level := data.Get("a.0"); level.Exists() && level.Get("1").Float() > 0 {
		book.Ask = level.Get("0").Float()
	}
	book.Timestamp = ts
	// поток книги не несёт последней сделки: берём mid
	if book.Bid > 0 && book.Ask > 0 {
		book.Last = (book.Bid + book.Ask) / 2
	}
	md := *book
	callback := b.callbacks[symbol]
	b.streamMu.Unlock()

	if callback != nil && md.Bid > 0 && md.Ask > 0 {
		callback(&md)
	}
}

func (b *Bybit) Close() error {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()

	if b.wsManager != nil {
		b.wsManager.Close()
		b.wsManager = nil
	}
	b.connected = false
	return nil
}
