package exchange

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"scalper/internal/models"
)

// Paper - биржа в памяти для dry-run и тестов
//
// Лимитные ордера исполняются вручную (FillOrder) или автоматически, когда
// книга пересекает цену ордера (AutoFill). Рыночные ордера исполняются
// сразу по ask (покупка) или bid (продажа). Ошибки внедряются через FailNext.
type Paper struct {
	name string

	mu        sync.Mutex
	balance   float64
	market    map[string]*MarketData
	limits    map[string]*Limits
	orders    map[string]*PaperOrder
	positions map[string]*Position // symbol -> нетто позиция
	leverage  map[string]int
	failures  map[string][]error
	calls     map[string]int
	callbacks map[string][]func(*MarketData)
	nextID    int64
	autoFill  bool
	streaming bool
}

// PaperOrder - ордер симулятора
type PaperOrder struct {
	ID        string
	Symbol    string
	Side      models.Side
	Price     float64
	Qty       float64
	Market    bool
	Status    OrderStatus
	FillPrice float64
	CreatedAt time.Time
}

// Методы для FailNext и Calls
const (
	PaperGetBalance     = "GetBalance"
	PaperGetMarketData  = "GetMarketData"
	PaperPlaceLimit     = "PlaceLimitOrder"
	PaperPlaceMarket    = "PlaceMarketOrder"
	PaperCancel         = "CancelOrder"
	PaperOrderStatus    = "GetOrderStatus"
	PaperSetLeverage    = "SetLeverage"
	PaperOpenPositions  = "GetOpenPositions"
	PaperGetLimits      = "GetLimits"
	PaperSubscribe      = "SubscribeMarketData"
	PaperConnect        = "Connect"
	defaultPaperBalance = 1000.0
)

// NewPaper создаёт симулятор с балансом 1000 USDT
func NewPaper(name string) *Paper {
	if name == "" {
		name = "paper"
	}
	return &Paper{
		name:      name,
		balance:   defaultPaperBalance,
		market:    make(map[string]*MarketData),
		limits:    make(map[string]*Limits),
		orders:    make(map[string]*PaperOrder),
		positions: make(map[string]*Position),
		leverage:  make(map[string]int),
		failures:  make(map[string][]error),
		calls:     make(map[string]int),
		callbacks: make(map[string][]func(*MarketData)),
		streaming: true,
	}
}

// ====== управление симулятором ======

// SetBalance задаёт баланс
func (p *Paper) SetBalance(balance float64) {
	p.mu.Lock()
	p.balance = balance
	p.mu.Unlock()
}

// SetLimits задаёт параметры инструмента
func (p *Paper) SetLimits(limits *Limits) {
	p.mu.Lock()
	cp := *limits
	p.limits[limits.Symbol] = &cp
	p.mu.Unlock()
}

// SetAutoFill включает исполнение лимитных ордеров при пересечении книги
func (p *Paper) SetAutoFill(enabled bool) {
	p.mu.Lock()
	p.autoFill = enabled
	p.mu.Unlock()
}

// SetStreaming включает или выключает поддержку SubscribeMarketData
func (p *Paper) SetStreaming(enabled bool) {
	p.mu.Lock()
	p.streaming = enabled
	p.mu.Unlock()
}

// SetMarketData обновляет книгу, исполняет пересечённые ордера и рассылает подписчикам
func (p *Paper) SetMarketData(symbol string, bid, ask, last float64) {
	md := &MarketData{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		Timestamp: time.Now(),
	}

	p.mu.Lock()
	p.market[symbol] = md
	if p.autoFill {
		for _, o := range p.orders {
			if o.Symbol != symbol || o.Status.IsFinal() || o.Market {
				continue
			}
			if (o.Side == models.SideBuy && ask > 0 && ask <= o.Price) ||
				(o.Side == models.SideSell && bid > 0 && bid >= o.Price) {
				p.fillLocked(o, o.Price)
			}
		}
	}
	callbacks := append([]func(*MarketData){}, p.callbacks[symbol]...)
	p.mu.Unlock()

	for _, cb := range callbacks {
		cp := *md
		cb(&cp)
	}
}

// FailNext ставит ошибку в очередь для следующего вызова method
func (p *Paper) FailNext(method string, err error) {
	p.mu.Lock()
	p.failures[method] = append(p.failures[method], err)
	p.mu.Unlock()
}

// FillOrder исполняет лимитный ордер по его цене
func (p *Paper) FillOrder(orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok || o.Status.IsFinal() {
		return false
	}
	p.fillLocked(o, o.Price)
	return true
}

// Order возвращает копию ордера
func (p *Paper) Order(orderID string) (PaperOrder, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return PaperOrder{}, false
	}
	return *o, true
}

// Orders возвращает копии всех ордеров символа
func (p *Paper) Orders(symbol string) []PaperOrder {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PaperOrder, 0)
	for _, o := range p.orders {
		if o.Symbol == symbol {
			out = append(out, *o)
		}
	}
	return out
}

// Calls возвращает число вызовов метода
func (p *Paper) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// Leverage возвращает установленное плечо
func (p *Paper) Leverage(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leverage[symbol]
}

// SetPosition задаёт позицию на бирже (восстановление при старте)
func (p *Paper) SetPosition(pos *Position) {
	p.mu.Lock()
	cp := *pos
	p.positions[pos.Symbol] = &cp
	p.mu.Unlock()
}

// enter учитывает вызов и возвращает внедрённую ошибку. Вызывается под lock'ом
func (p *Paper) enter(method string) error {
	p.calls[method]++
	queue := p.failures[method]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	p.failures[method] = queue[1:]
	return err
}

// fillLocked исполняет ордер и двигает нетто позицию
func (p *Paper) fillLocked(o *PaperOrder, price float64) {
	o.Status = OrderStatusFilled
	o.FillPrice = price

	signed := o.Qty
	if o.Side == models.SideSell {
		signed = -signed
	}

	pos, ok := p.positions[o.Symbol]
	net := signed
	entry := price
	if ok {
		cur := pos.Size
		if pos.Side == models.SideShort {
			cur = -cur
		}
		net = cur + signed
		// добавление в ту же сторону: средняя цена входа
		if cur*signed > 0 {
			entry = (pos.EntryPrice*math.Abs(cur) + price*math.Abs(signed)) / math.Abs(net)
		} else if cur*net > 0 {
			entry = pos.EntryPrice
		}
	}

	if math.Abs(net) < 1e-12 {
		delete(p.positions, o.Symbol)
		return
	}
	side := models.SideLong
	if net < 0 {
		side = models.SideShort
	}
	p.positions[o.Symbol] = &Position{
		Symbol:     o.Symbol,
		Side:       side,
		Size:       math.Abs(net),
		EntryPrice: entry,
		MarkPrice:  price,
		Leverage:   p.leverage[o.Symbol],
		UpdatedAt:  time.Now(),
	}
}

func (p *Paper) newOrderLocked(symbol string, side models.Side, price, qty float64, market bool) *PaperOrder {
	p.nextID++
	o := &PaperOrder{
		ID:        p.name + "-" + strconv.FormatInt(p.nextID, 10),
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Qty:       qty,
		Market:    market,
		Status:    OrderStatusNew,
		CreatedAt: time.Now(),
	}
	p.orders[o.ID] = o
	return o
}

// ====== Exchange ======

func (p *Paper) Connect(apiKey, secret, passphrase string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enter(PaperConnect)
}

func (p *Paper) GetName() string {
	return p.name
}

func (p *Paper) GetBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(PaperGetBalance); err != nil {
		return 0, err
	}
	return p.balance, nil
}

func (p *Paper) GetMarketData(ctx context.Context, symbol string) (*MarketData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(PaperGetMarketData); err != nil {
		return nil, err
	}

	md, ok := p.market[symbol]
	if !ok {
		return nil, NewError(p.name, KindValidation, "", "unknown symbol "+symbol)
	}
	if md.AllZero() {
		return nil, NewError(p.name, KindMarketData, "", "zero prices for "+symbol)
	}
	cp := *md
	return &cp, nil
}

func (p *Paper) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, price, qty float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(PaperPlaceLimit); err != nil {
		return "", err
	}
	if price <= 0 || qty <= 0 {
		return "", NewError(p.name, KindValidation, "", "invalid price or quantity")
	}
	return p.newOrderLocked(symbol, side, price, qty, false).ID, nil
}

func (p *Paper) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, qty float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(PaperPlaceMarket); err != nil {
		return "", err
	}
	if qty <= 0 {
		return "", NewError(p.name, KindValidation, "", "invalid quantity")
	}

	md, ok := p.market[symbol]
	if !ok || md.AllZero() {
		return "", NewError(p.name, KindMarketData, "", "no market for "+symbol)
	}
	price := md.Ask
	if side == models.SideSell {
		price = md.Bid
	}

	o := p.newOrderLocked(symbol, side, price, qty, true)
	p.fillLocked(o, price)
	return o.ID, nil
}

func (p *Paper) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(PaperCancel); err != nil {
		return err
	}

	o, ok := p.orders[orderID]
	if !ok || o.Symbol != symbol {
		return NewError(p.name, KindNotFound, "", "order not found: "+orderID)
	}
	if o.Status.IsFinal() {
		return NewError(p.name, KindNotFound, "", "order already finished: "+orderID)
	}
	o.Status = OrderStatusCanceled
	return nil
}

func (p *Paper) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(PaperOrderStatus); err != nil {
		return OrderStatusUnknown, err
	}

	o, ok := p.orders[orderID]
	if !ok || o.Symbol != symbol {
		return OrderStatusUnknown, NewError(p.name, KindNotFound, "", "order not found: "+orderID)
	}
	return o.Status, nil
}

func (p *Paper) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(PaperSetLeverage); err != nil {
		return err
	}
	p.leverage[symbol] = leverage
	return nil
}

func (p *Paper) GetOpenPositions(ctx context.Context) ([]*Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(PaperOpenPositions); err != nil {
		return nil, err
	}

	out := make([]*Position, 0, len(p.positions))
	for _, pos := range p.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out, nil
}

func (p *Paper) GetLimits(ctx context.Context, symbol string) (*Limits, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(PaperGetLimits); err != nil {
		return nil, err
	}

	l, ok := p.limits[symbol]
	if !ok {
		return nil, NewError(p.name, KindNotFound, "", "no instrument info for "+symbol)
	}
	cp := *l
	return &cp, nil
}

func (p *Paper) GetLotSize(ctx context.Context, symbol string) (float64, error) {
	l, err := p.GetLimits(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return l.QtyStep, nil
}

func (p *Paper) SubscribeMarketData(symbol string, callback func(*MarketData)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(PaperSubscribe); err != nil {
		return err
	}
	if !p.streaming {
		return ErrStreamingUnsupported
	}
	p.callbacks[symbol] = append(p.callbacks[symbol], callback)
	return nil
}

func (p *Paper) Close() error {
	p.mu.Lock()
	p.callbacks = make(map[string][]func(*MarketData))
	p.mu.Unlock()
	return nil
}
