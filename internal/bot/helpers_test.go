package bot

import (
	"testing"
	"time"

	"scalper/internal/exchange"
	"scalper/pkg/ratelimit"
	"scalper/pkg/utils"
)

// newTestPaper возвращает симулятор с BTCUSDT и ETHUSDT
func newTestPaper(name string) *exchange.Paper {
	p := exchange.NewPaper(name)
	p.SetLimits(&exchange.Limits{Symbol: "BTCUSDT", PriceStep: 0.01, QtyStep: 0.001, MinOrderQty: 0.001, MinNotional: 5})
	p.SetLimits(&exchange.Limits{Symbol: "ETHUSDT", PriceStep: 0.01, QtyStep: 0.001, MinOrderQty: 0.001, MinNotional: 5})
	p.SetMarketData("BTCUSDT", 99.9, 100.1, 100)
	p.SetMarketData("ETHUSDT", 49.95, 50.05, 50)
	return p
}

type testGatewayEnv struct {
	paper    *exchange.Paper
	gateway  *OrderGateway
	status   *PairStatusManager
	risk     *RiskManager
	symbols  *SymbolManager
	orders   *ActiveOrders
	notifier *recordNotifier
}

func newTestGatewayEnv(t testing.TB) *testGatewayEnv {
	t.Helper()

	log := utils.NewNopLogger()
	paper := newTestPaper("paper")
	notifier := &recordNotifier{}
	exchanges := map[string]exchange.Exchange{"paper": paper}

	env := &testGatewayEnv{
		paper:    paper,
		status:   NewPairStatusManager(notifier, log),
		risk:     NewRiskManager(300, 10, notifier, log),
		symbols:  NewSymbolManager(exchanges, time.Second, log),
		orders:   NewActiveOrders(),
		notifier: notifier,
	}
	env.risk.SetBalance(1000)

	env.gateway = NewOrderGateway(paper, GatewayDeps{
		PairStatus: env.status,
		Limiter:    ratelimit.NewWindowLimiter(100, 1000),
		Symbols:    env.symbols,
		Risk:       env.risk,
		Orders:     env.orders,
	}, time.Second, log)
	return env
}
