package bot

import (
	"sync"
	"time"

	"scalper/internal/exchange"
	"scalper/internal/indicator"
	"scalper/internal/models"
)

// ============ Inline FNV-1a hash без аллокаций ============
const (
	fnvOffset32 = uint32(2166136261)
	fnvPrime32  = uint32(16777619)
)

// fnvHash вычисляет FNV-1a hash строки без аллокаций
func fnvHash(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// MarketStore - шардированное хранилище последних снимков книги
//
// Ключ - пара "exchange:symbol". Один писатель на пару (MarketFeed),
// много читателей (воркер, монитор позиций). Разные пары в разных
// шардах не блокируют друг друга.
type MarketStore struct {
	shards    []*marketShard
	numShards uint32
	histCap   int
}

type marketShard struct {
	entries map[string]*marketEntry
	mu      sync.RWMutex
}

type marketEntry struct {
	data      exchange.MarketData
	history   *indicator.History // mid цены
	updatedAt time.Time
}

// NewMarketStore создаёт хранилище; historyCap - длина истории mid цен на пару
func NewMarketStore(numShards, historyCap int) *MarketStore {
	if numShards <= 0 {
		numShards = 16
	}
	if historyCap <= 0 {
		historyCap = indicator.CycleHistorySize
	}

	ms := &MarketStore{
		shards:    make([]*marketShard, numShards),
		numShards: uint32(numShards),
		histCap:   historyCap,
	}
	for i := range ms.shards {
		ms.shards[i] = &marketShard{entries: make(map[string]*marketEntry)}
	}
	return ms
}

func (ms *MarketStore) getShard(key string) *marketShard {
	return ms.shards[fnvHash(key)%ms.numShards]
}

// Update записывает снимок и добавляет mid в историю
// Невалидные снимки сохраняются (воркер сам решает пропустить цикл), но в историю не попадают
func (ms *MarketStore) Update(exchangeName string, md *exchange.MarketData) {
	if md == nil {
		return
	}
	key := models.PairKey(exchangeName, md.Symbol)
	shard := ms.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[key]
	if !ok {
		entry = &marketEntry{history: indicator.NewHistory(ms.histCap)}
		shard.entries[key] = entry
	}
	entry.data = *md
	entry.updatedAt = time.Now()
	if md.Bid > 0 && md.Ask > md.Bid {
		entry.history.Push(md.Mid())
	}
}

// Get возвращает копию последнего снимка
func (ms *MarketStore) Get(exchangeName, symbol string) (*exchange.MarketData, bool) {
	key := models.PairKey(exchangeName, symbol)
	shard := ms.getShard(key)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entry, ok := shard.entries[key]
	if !ok {
		return nil, false
	}
	md := entry.data
	return &md, true
}

// History возвращает копию истории mid цен
func (ms *MarketStore) History(exchangeName, symbol string) []float64 {
	key := models.PairKey(exchangeName, symbol)
	shard := ms.getShard(key)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entry, ok := shard.entries[key]
	if !ok {
		return nil
	}
	return entry.history.Values()
}

// Age возвращает время с последнего обновления; false если данных нет
func (ms *MarketStore) Age(exchangeName, symbol string) (time.Duration, bool) {
	key := models.PairKey(exchangeName, symbol)
	shard := ms.getShard(key)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entry, ok := shard.entries[key]
	if !ok {
		return 0, false
	}
	return time.Since(entry.updatedAt), true
}
