package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"scalper/internal/exchange"
	"scalper/pkg/utils"
)

func TestMarketStore(t *testing.T) {
	store := NewMarketStore(4, 3)

	if _, ok := store.Get("paper", "BTCUSDT"); ok {
		t.Fatal("empty store must miss")
	}

	for _, mid := range []float64{100, 101, 102, 103} {
		store.Update("paper", &exchange.MarketData{Symbol: "BTCUSDT", Bid: mid - 0.1, Ask: mid + 0.1})
	}
	// невалидный снимок хранится, но не попадает в историю
	store.Update("paper", &exchange.MarketData{Symbol: "BTCUSDT", Bid: 105, Ask: 104})

	md, ok := store.Get("paper", "BTCUSDT")
	if !ok || md.Bid != 105 {
		t.Errorf("latest snapshot = %+v", md)
	}
	hist := store.History("paper", "BTCUSDT")
	if len(hist) != 3 || !approx(hist[0], 101) || !approx(hist[2], 103) {
		t.Errorf("history = %v, want last 3 mids", hist)
	}
	if age, ok := store.Age("paper", "BTCUSDT"); !ok || age > time.Second {
		t.Errorf("age = %v, %v", age, ok)
	}

	// копия не меняет хранилище
	md.Bid = 1
	if again, _ := store.Get("paper", "BTCUSDT"); again.Bid != 105 {
		t.Error("Get must return a copy")
	}
}

func TestMarketStore_Concurrent(t *testing.T) {
	store := NewMarketStore(0, 0)
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}

	var wg sync.WaitGroup
	for _, sym := range symbols {
		sym := sym
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				store.Update("paper", &exchange.MarketData{Symbol: sym, Bid: 99, Ask: 101})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				store.Get("paper", sym)
				store.History("paper", sym)
			}
		}()
	}
	wg.Wait()

	for _, sym := range symbols {
		if _, ok := store.Get("paper", sym); !ok {
			t.Errorf("%s missing", sym)
		}
	}
}

func newTestFeed(paper *exchange.Paper) (*MarketFeed, *MarketStore) {
	store := NewMarketStore(4, 0)
	cfg := DefaultFeedConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.PollRate = 1000
	cfg.PollBurst = 1000
	return NewMarketFeed(map[string]exchange.Exchange{"paper": paper}, store, cfg, utils.NewNopLogger()), store
}

func TestMarketFeed_StreamUpdatesStore(t *testing.T) {
	paper := newTestPaper("paper")
	feed, store := newTestFeed(paper)

	ctx, cancel := context.WithCancel(context.Background())
	feed.Start(ctx, []PairRef{{Exchange: "paper", Symbol: "BTCUSDT"}})

	// начальный снимок через REST
	if md, ok := store.Get("paper", "BTCUSDT"); !ok || md.Bid != 99.9 {
		t.Fatalf("initial snapshot = %+v", md)
	}

	paper.SetMarketData("BTCUSDT", 100.5, 100.7, 100.6)
	if md, _ := store.Get("paper", "BTCUSDT"); md.Bid != 100.5 {
		t.Errorf("stream update not stored: %+v", md)
	}

	cancel()
	feed.Wait()
}

func TestMarketFeed_PollsWithoutStream(t *testing.T) {
	paper := newTestPaper("paper")
	paper.SetStreaming(false)
	feed, store := newTestFeed(paper)
	feed.cfg.StaleAfter = 0

	ctx, cancel := context.WithCancel(context.Background())
	feed.Start(ctx, []PairRef{{Exchange: "paper", Symbol: "BTCUSDT"}})

	paper.SetMarketData("BTCUSDT", 101, 101.2, 101.1)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if md, _ := store.Get("paper", "BTCUSDT"); md != nil && md.Bid == 101 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poll loop did not refresh the snapshot")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	feed.Wait()
}

func TestMarketFeed_Latest(t *testing.T) {
	paper := newTestPaper("paper")
	feed, store := newTestFeed(paper)
	ctx := context.Background()

	// пустое хранилище: REST
	md, err := feed.Latest(ctx, "paper", "ETHUSDT")
	if err != nil || md.Bid != 49.95 {
		t.Fatalf("Latest = %+v, %v", md, err)
	}
	calls := paper.Calls(exchange.PaperGetMarketData)

	// свежий снимок: без запроса
	store.Update("paper", &exchange.MarketData{Symbol: "ETHUSDT", Bid: 48, Ask: 48.1})
	md, _ = feed.Latest(ctx, "paper", "ETHUSDT")
	if md.Bid != 48 || paper.Calls(exchange.PaperGetMarketData) != calls {
		t.Errorf("fresh snapshot must be served from the store: %+v", md)
	}

	if _, err := feed.Latest(ctx, "paper", "DOGEUSDT"); err == nil {
		t.Error("unknown symbol must fail")
	}
	if _, err := feed.Latest(ctx, "bybit", "BTCUSDT"); err == nil {
		t.Error("unknown exchange must fail")
	}
}
