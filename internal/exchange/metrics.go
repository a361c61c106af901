package exchange

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestDuration - задержка REST запросов к биржам
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scalper",
			Subsystem: "exchange",
			Name:      "request_duration_seconds",
			Help:      "Latency of exchange REST requests",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"exchange", "endpoint", "result"},
	)

	// wsReconnects - переподключения потоков цен
	wsReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scalper",
			Subsystem: "exchange",
			Name:      "ws_reconnects_total",
			Help:      "WebSocket reconnect attempts",
		},
		[]string{"stream"},
	)
)

func observeRequest(exchange, endpoint string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	requestDuration.WithLabelValues(exchange, endpoint, result).Observe(time.Since(start).Seconds())
}
