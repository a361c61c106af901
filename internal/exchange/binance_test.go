package exchange

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"scalper/pkg/utils"
)

func newTestBinance(t *testing.T, handler http.HandlerFunc) *Binance {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b := NewBinance(BinanceOptions{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Logger:     utils.NewNopLogger(),
	})
	b.client = b.newClient("key", "secret")
	return b
}

func TestBinanceGetMarketData(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ticker/bookTicker"):
			io.WriteString(w, `[{"symbol":"BTCUSDT","bidPrice":"99.95","bidQty":"1","askPrice":"100.05","askQty":"2","time":1}]`)
		case strings.HasSuffix(r.URL.Path, "/ticker/price"):
			io.WriteString(w, `[{"symbol":"BTCUSDT","price":"100.02","time":1}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	md, err := b.GetMarketData(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetMarketData() error = %v", err)
	}
	if md.Bid != 99.95 || md.Ask != 100.05 || md.Last != 100.02 {
		t.Errorf("неверные цены: %+v", md)
	}
}

func TestBinanceAPIErrorMapping(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":-2011,"msg":"Unknown order sent."}`)
	})

	err := b.CancelOrder(context.Background(), "BTCUSDT", "42")
	if !IsNotFound(err) {
		t.Fatalf("ожидали not found, got %v", err)
	}

	var exErr *ExchangeError
	if !errors.As(err, &exErr) || exErr.Code != "-2011" {
		t.Errorf("код ошибки не сохранён: %v", err)
	}
}

func TestBinanceWrapError(t *testing.T) {
	b := NewBinance(BinanceOptions{Logger: utils.NewNopLogger()})

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"rate limit", &common.APIError{Code: -1003, Message: "too many"}, KindRateLimited},
		{"margin", &common.APIError{Code: -2019, Message: "margin"}, KindMargin},
		{"filter", &common.APIError{Code: -1013, Message: "filter"}, KindValidation},
		{"unmapped", &common.APIError{Code: -9999, Message: "?"}, KindExchange},
		{"deadline", context.DeadlineExceeded, KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(b.wrapError(tt.err)); got != tt.want {
				t.Errorf("kind = %v, want %v", got, tt.want)
			}
		})
	}

	if b.wrapError(nil) != nil {
		t.Error("nil должен остаться nil")
	}
}

func TestBinanceMalformedOrderID(t *testing.T) {
	b := NewBinance(BinanceOptions{Logger: utils.NewNopLogger()})

	_, err := b.GetOrderStatus(context.Background(), "BTCUSDT", "not-a-number")
	if !IsNotFound(err) {
		t.Errorf("ожидали not found, got %v", err)
	}
}

func TestParseBinanceStatus(t *testing.T) {
	tests := map[futures.OrderStatusType]OrderStatus{
		futures.OrderStatusTypeNew:             OrderStatusNew,
		futures.OrderStatusTypePartiallyFilled: OrderStatusPartiallyFilled,
		futures.OrderStatusTypeFilled:          OrderStatusFilled,
		futures.OrderStatusTypeCanceled:        OrderStatusCanceled,
		futures.OrderStatusTypeExpired:         OrderStatusCanceled,
		futures.OrderStatusTypeRejected:        OrderStatusRejected,
	}
	for in, want := range tests {
		if got := parseBinanceStatus(in); got != want {
			t.Errorf("parseBinanceStatus(%s) = %s, want %s", in, got, want)
		}
	}
}
