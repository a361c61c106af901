package bot

import (
	"context"
	"errors"
	"testing"

	"scalper/internal/exchange"
	"scalper/internal/models"
)

func TestOrderGateway_PlaceLimit(t *testing.T) {
	env := newTestGatewayEnv(t)
	ctx := context.Background()

	rec, err := env.gateway.PlaceLimit(ctx, "BTCUSDT", models.SideBuy, 99.987, 0.12345)
	if err != nil {
		t.Fatalf("PlaceLimit: %v", err)
	}

	// цена и размер округлены вниз
	if !approx(rec.Price, 99.98) || !approx(rec.Size, 0.123) {
		t.Errorf("rounded order = %v x %v", rec.Price, rec.Size)
	}
	if env.orders.Count() != 1 {
		t.Errorf("active orders = %d, want 1", env.orders.Count())
	}

	po, ok := env.paper.Order(rec.OrderID)
	if !ok || po.Price != rec.Price || po.Side != models.SideBuy {
		t.Errorf("exchange order mismatch: %+v", po)
	}
}

func TestOrderGateway_PlaceLimitRejects(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *testGatewayEnv)
		price float64
		size  float64
		want  error
	}{
		{"disabled pair", func(env *testGatewayEnv) { env.status.Disable("paper:BTCUSDT") }, 100, 0.1, ErrPairDisabled},
		{"zero price", nil, 0, 0.1, ErrInvalidPrice},
		{"below min qty", nil, 100, 0.0004, ErrOrderTooSmall},
		{"below min notional", nil, 100, 0.04, ErrOrderTooSmall},
		{"insufficient balance", nil, 100, 4.6, ErrInsufficientBalance},
		{"daily stop", func(env *testGatewayEnv) {
			env.risk.RecordTrade(models.Trade{PnL: -500})
		}, 100, 0.1, ErrDailyStop},
		{"max positions", func(env *testGatewayEnv) { env.risk.SetPositions(10) }, 100, 0.1, ErrMaxPositions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestGatewayEnv(t)
			if tt.setup != nil {
				tt.setup(env)
			}

			_, err := env.gateway.PlaceLimit(context.Background(), "BTCUSDT", models.SideBuy, tt.price, tt.size)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if env.paper.Calls(exchange.PaperPlaceLimit) != 0 {
				t.Error("rejected order must not reach the exchange")
			}
		})
	}
}

func TestOrderGateway_CriticalErrorsDisablePair(t *testing.T) {
	env := newTestGatewayEnv(t)
	ctx := context.Background()
	rejected := exchange.NewError("paper", exchange.KindValidation, "10001", "post only would cross")

	for i := 0; i < DefaultMaxPairErrors; i++ {
		env.paper.FailNext(exchange.PaperPlaceLimit, rejected)
		if _, err := env.gateway.PlaceLimit(ctx, "BTCUSDT", models.SideSell, 100.2, 0.1); err == nil {
			t.Fatal("expected exchange error")
		}
	}

	if env.status.IsEnabled("paper:BTCUSDT") {
		t.Fatal("pair must be disabled after repeated critical errors")
	}
	if env.notifier.Count() == 0 {
		t.Error("disable must notify")
	}

	// транзиентные ошибки бюджет не расходуют
	env2 := newTestGatewayEnv(t)
	for i := 0; i < 5; i++ {
		env2.paper.FailNext(exchange.PaperPlaceLimit, exchange.NewError("paper", exchange.KindTransient, "", "timeout"))
		env2.gateway.PlaceLimit(ctx, "BTCUSDT", models.SideSell, 100.2, 0.1)
	}
	if !env2.status.IsEnabled("paper:BTCUSDT") {
		t.Error("transient errors must not disable the pair")
	}
}

func TestOrderGateway_PlaceMarketIgnoresPairStatus(t *testing.T) {
	env := newTestGatewayEnv(t)
	env.status.Disable("paper:BTCUSDT")
	env.risk.RecordTrade(models.Trade{PnL: -1000})

	id, err := env.gateway.PlaceMarket(context.Background(), "BTCUSDT", models.SideSell, 0.1234)
	if err != nil {
		t.Fatalf("PlaceMarket: %v", err)
	}
	po, _ := env.paper.Order(id)
	if !approx(po.Qty, 0.123) || po.Status != exchange.OrderStatusFilled {
		t.Errorf("market order %+v", po)
	}

	if _, err := env.gateway.PlaceMarket(context.Background(), "BTCUSDT", models.SideSell, 0.0001); !errors.Is(err, ErrOrderTooSmall) {
		t.Errorf("size rounding to zero: %v", err)
	}
}

func TestOrderGateway_CancelAndStatus(t *testing.T) {
	env := newTestGatewayEnv(t)
	ctx := context.Background()

	if err := env.gateway.Cancel(ctx, "BTCUSDT", "missing"); !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("Cancel unknown = %v", err)
	}
	if _, err := env.gateway.Status(ctx, "BTCUSDT", "missing"); !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("Status unknown = %v", err)
	}
	if env.paper.Calls(exchange.PaperCancel) != 0 || env.paper.Calls(exchange.PaperOrderStatus) != 0 {
		t.Error("unknown orders must fail fast without exchange calls")
	}

	rec, err := env.gateway.PlaceLimit(ctx, "BTCUSDT", models.SideBuy, 99.5, 0.1)
	if err != nil {
		t.Fatal(err)
	}

	status, err := env.gateway.Status(ctx, "BTCUSDT", rec.OrderID)
	if err != nil || status != exchange.OrderStatusNew {
		t.Fatalf("Status = %v, %v", status, err)
	}

	if err := env.gateway.Cancel(ctx, "BTCUSDT", rec.OrderID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if env.orders.Count() != 0 {
		t.Error("cancel must remove the record")
	}
}

func TestOrderGateway_StatusRemovesFinishedOrders(t *testing.T) {
	env := newTestGatewayEnv(t)
	ctx := context.Background()

	filled, _ := env.gateway.PlaceLimit(ctx, "BTCUSDT", models.SideBuy, 99.5, 0.1)
	gone, _ := env.gateway.PlaceLimit(ctx, "BTCUSDT", models.SideSell, 100.5, 0.1)

	env.paper.FillOrder(filled.OrderID)
	status, err := env.gateway.Status(ctx, "BTCUSDT", filled.OrderID)
	if err != nil || status != exchange.OrderStatusFilled {
		t.Fatalf("Status = %v, %v", status, err)
	}
	if _, ok := env.orders.Get("paper", filled.OrderID); !ok {
		t.Error("filled order stays until the worker processes the fill")
	}

	env.paper.FailNext(exchange.PaperOrderStatus, exchange.NewError("paper", exchange.KindNotFound, "", "no order"))
	if _, err := env.gateway.Status(ctx, "BTCUSDT", gone.OrderID); !exchange.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, ok := env.orders.Get("paper", gone.OrderID); ok {
		t.Error("order unknown to the exchange must be removed")
	}
}

func TestOrderGateway_CancelKeepsFilledOrders(t *testing.T) {
	env := newTestGatewayEnv(t)
	ctx := context.Background()

	filled, _ := env.gateway.PlaceLimit(ctx, "BTCUSDT", models.SideBuy, 99.5, 0.1)
	gone, _ := env.gateway.PlaceLimit(ctx, "BTCUSDT", models.SideSell, 100.5, 0.1)
	env.paper.FillOrder(filled.OrderID)

	// биржа не отменяет исполненный ордер, запись остаётся для сверки
	if err := env.gateway.Cancel(ctx, "BTCUSDT", filled.OrderID); !errors.Is(err, ErrOrderFilled) {
		t.Fatalf("Cancel filled = %v, want ErrOrderFilled", err)
	}
	if _, ok := env.orders.Get("paper", filled.OrderID); !ok {
		t.Error("filled order must stay in the active table")
	}

	// ордер неизвестен бирже совсем: считается снятым
	notFound := exchange.NewError("paper", exchange.KindNotFound, "110001", "order not exists")
	env.paper.FailNext(exchange.PaperCancel, notFound)
	env.paper.FailNext(exchange.PaperOrderStatus, notFound)
	if err := env.gateway.Cancel(ctx, "BTCUSDT", gone.OrderID); err != nil {
		t.Fatalf("Cancel unknown to exchange = %v", err)
	}
	if _, ok := env.orders.Get("paper", gone.OrderID); ok {
		t.Error("order unknown to the exchange must be removed")
	}

	// CancelAll не теряет исполненный ордер
	if n := env.gateway.CancelAll(ctx); n != 0 {
		t.Errorf("CancelAll = %d, want 0", n)
	}
	if _, ok := env.orders.Get("paper", filled.OrderID); !ok {
		t.Error("CancelAll must keep filled orders")
	}
}

func TestOrderGateway_CancelAll(t *testing.T) {
	env := newTestGatewayEnv(t)
	ctx := context.Background()

	env.gateway.PlaceLimit(ctx, "BTCUSDT", models.SideBuy, 99.5, 0.1)
	env.gateway.PlaceLimit(ctx, "ETHUSDT", models.SideSell, 50.5, 0.2)
	env.orders.Add(models.OrderRecord{Exchange: "other", Symbol: "BTCUSDT", OrderID: "x"})

	if n := env.gateway.CancelAll(ctx); n != 2 {
		t.Errorf("CancelAll = %d, want 2", n)
	}
	if env.orders.Count() != 1 {
		t.Error("orders of other exchanges must stay")
	}
}

func TestActiveOrders_ForSymbol(t *testing.T) {
	a := NewActiveOrders()
	a.Add(models.OrderRecord{Exchange: "a", Symbol: "BTCUSDT", OrderID: "1"})
	a.Add(models.OrderRecord{Exchange: "a", Symbol: "ETHUSDT", OrderID: "2"})
	a.Add(models.OrderRecord{Exchange: "b", Symbol: "BTCUSDT", OrderID: "1"})

	if got := a.ForSymbol("a", "BTCUSDT"); len(got) != 1 || got[0].OrderID != "1" {
		t.Errorf("ForSymbol = %+v", got)
	}
	if a.Count() != 3 {
		t.Errorf("same id on two exchanges must not collide, count %d", a.Count())
	}
	if !a.Remove("b", "1") || a.Remove("b", "1") {
		t.Error("Remove must report presence")
	}
}
