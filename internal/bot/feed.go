package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"scalper/internal/exchange"
	"scalper/internal/models"
	"scalper/pkg/ratelimit"
	"scalper/pkg/utils"
)

// PairRef - торгуемая пара на конкретной бирже
type PairRef struct {
	Exchange string
	Symbol   string
}

// Key возвращает ключ "exchange:symbol"
func (p PairRef) Key() string {
	return models.PairKey(p.Exchange, p.Symbol)
}

// FeedConfig - параметры MarketFeed
type FeedConfig struct {
	PollInterval   time.Duration // период опроса REST при отсутствии потока
	StaleAfter     time.Duration // снимок старше считается устаревшим
	RequestTimeout time.Duration
	PollRate       float64 // запросов в секунду на биржу
	PollBurst      float64
}

// DefaultFeedConfig возвращает параметры по умолчанию
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		PollInterval:   time.Second,
		StaleAfter:     2 * time.Second,
		RequestTimeout: 5 * time.Second,
		PollRate:       5,
		PollBurst:      5,
	}
}

// MarketFeed наполняет MarketStore
//
// Для каждой пары сначала пробует push поток (SubscribeMarketData).
// Если поток недоступен или снимок устарел, пара опрашивается через
// GetMarketData. Опрос ограничен token bucket на биржу.
type MarketFeed struct {
	exchanges map[string]exchange.Exchange
	store     *MarketStore
	limiter   *ratelimit.MultiLimiter
	cfg       FeedConfig
	log       *utils.Logger

	pairs []PairRef
	mu    sync.Mutex
	wg    sync.WaitGroup
}

// NewMarketFeed создаёт поставщик рыночных данных
func NewMarketFeed(exchanges map[string]exchange.Exchange, store *MarketStore, cfg FeedConfig, log *utils.Logger) *MarketFeed {
	if log == nil {
		log = utils.L()
	}
	return &MarketFeed{
		exchanges: exchanges,
		store:     store,
		limiter:   ratelimit.NewMultiLimiter(cfg.PollRate, cfg.PollBurst),
		cfg:       cfg,
		log:       log.WithComponent("feed"),
	}
}

// Start подписывается на пары и запускает опрос-резерв
func (f *MarketFeed) Start(ctx context.Context, pairs []PairRef) {
	f.mu.Lock()
	f.pairs = append(f.pairs, pairs...)
	f.mu.Unlock()

	for _, pair := range pairs {
		ex, ok := f.exchanges[pair.Exchange]
		if !ok {
			continue
		}

		p := pair
		err := ex.SubscribeMarketData(p.Symbol, func(md *exchange.MarketData) {
			f.store.Update(p.Exchange, md)
		})
		switch {
		case err == nil:
			f.log.Debug("market data stream subscribed", utils.Exchange(p.Exchange), utils.Symbol(p.Symbol))
		case errors.Is(err, exchange.ErrStreamingUnsupported):
			f.log.Debug("streaming unsupported, polling", utils.Exchange(p.Exchange), utils.Symbol(p.Symbol))
		default:
			f.log.Warn("market data subscribe failed, polling",
				utils.Exchange(p.Exchange), utils.Symbol(p.Symbol), utils.Err(err))
		}

		// первый снимок сразу, чтобы воркер не ждал потока
		if _, err := f.Refresh(ctx, p.Exchange, p.Symbol); err != nil {
			f.log.Warn("initial market data fetch failed",
				utils.Exchange(p.Exchange), utils.Symbol(p.Symbol), utils.Err(err))
		}

		f.wg.Add(1)
		go f.pollLoop(ctx, p)
	}
}

// Wait ждёт завершения циклов опроса
func (f *MarketFeed) Wait() {
	f.wg.Wait()
}

// pollLoop опрашивает REST, пока поток молчит дольше StaleAfter
func (f *MarketFeed) pollLoop(ctx context.Context, pair PairRef) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if age, ok := f.store.Age(pair.Exchange, pair.Symbol); ok && age < f.cfg.StaleAfter {
				continue
			}
			if _, err := f.Refresh(ctx, pair.Exchange, pair.Symbol); err != nil && ctx.Err() == nil {
				f.log.Debug("market data poll failed",
					utils.Exchange(pair.Exchange), utils.Symbol(pair.Symbol), utils.Err(err))
			}
		}
	}
}

// Refresh запрашивает снимок через REST и сохраняет его в хранилище
func (f *MarketFeed) Refresh(ctx context.Context, exchangeName, symbol string) (*exchange.MarketData, error) {
	ex, ok := f.exchanges[exchangeName]
	if !ok {
		return nil, exchange.NewError(exchangeName, exchange.KindValidation, "", "unknown exchange")
	}

	if err := f.limiter.Wait(ctx, exchangeName); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	md, err := ex.GetMarketData(reqCtx, symbol)
	if err != nil {
		return nil, err
	}
	f.store.Update(exchangeName, md)
	return md, nil
}

// Latest возвращает свежий снимок из хранилища, устаревший обновляет через REST
func (f *MarketFeed) Latest(ctx context.Context, exchangeName, symbol string) (*exchange.MarketData, error) {
	if age, ok := f.store.Age(exchangeName, symbol); ok && age < f.cfg.StaleAfter {
		if md, ok := f.store.Get(exchangeName, symbol); ok {
			return md, nil
		}
	}
	return f.Refresh(ctx, exchangeName, symbol)
}

// Store возвращает хранилище снимков
func (f *MarketFeed) Store() *MarketStore {
	return f.store
}
