package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Экспортируются статус-API на /metrics.

// ============ Ордера ============

// OrdersPlaced - размещённые ордера
var OrdersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "orders",
		Name:      "placed_total",
		Help:      "Number of orders accepted by exchanges",
	},
	[]string{"exchange", "symbol", "side"},
)

// OrdersRejected - отклонённые ордера (локальные проверки и биржа)
var OrdersRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "orders",
		Name:      "rejected_total",
		Help:      "Number of orders rejected before or by the exchange",
	},
	[]string{"exchange", "symbol", "reason"},
)

// FillsTotal - исполненные лимитные ордера
var FillsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "orders",
		Name:      "fills_total",
		Help:      "Number of filled limit orders",
	},
	[]string{"exchange", "symbol", "side"},
)

// ActiveOrdersGauge - ордера в локальной таблице
var ActiveOrdersGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "orders",
		Name:      "active_orders",
		Help:      "Resting orders tracked locally",
	},
)

// ============ Позиции и PnL ============

// PositionsClosed - закрытые позиции по причине выхода
var PositionsClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "positions",
		Name:      "closed_total",
		Help:      "Number of closed positions by exit reason",
	},
	[]string{"reason"},
)

// OpenPositionsGauge - открытые позиции
var OpenPositionsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "positions",
		Name:      "open_positions",
		Help:      "Open positions",
	},
)

// DailyPnL - дневной PnL в USDT
var DailyPnL = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "daily_pnl_usdt",
		Help:      "Realized PnL since the start of the UTC day",
	},
)

// ============ Пары ============

// PairDisabled - отключения пар
var PairDisabled = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "pairs",
		Name:      "disabled_total",
		Help:      "Number of times a pair was disabled by the circuit breaker",
	},
	[]string{"pair"},
)

// PairEnabled - 1 если пара торгуется, 0 если отключена
var PairEnabled = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "pairs",
		Name:      "enabled",
		Help:      "Pair enabled flag",
	},
	[]string{"pair"},
)

// RateLimited - отказы лимитера запросов
var RateLimited = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "exchange",
		Name:      "rate_limited_total",
		Help:      "Requests delayed or refused by the local rate limiter",
	},
	[]string{"exchange"},
)

// ============ Спред и цикл ============

// SpreadRequired - требуемый спред последнего цикла
var SpreadRequired = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "spread",
		Name:      "required",
		Help:      "Required relative spread computed by the last cycle",
	},
	[]string{"pair"},
)

// SpreadMarket - рыночный спред последнего цикла
var SpreadMarket = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "spread",
		Name:      "market",
		Help:      "Observed relative book spread",
	},
	[]string{"pair"},
)

// CycleDuration - длительность итерации воркера
// Buckets для циклов 500ms с сетевыми вызовами внутри
var CycleDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "scalper",
		Subsystem: "worker",
		Name:      "cycle_duration_seconds",
		Help:      "Grid worker cycle duration",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"exchange"},
)

// BufferOverflows - переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "runtime",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"},
)

// ============ Вспомогательные функции ============

// RecordReject записывает отклонённый ордер
func RecordReject(exchange, symbol, reason string) {
	OrdersRejected.WithLabelValues(exchange, symbol, reason).Inc()
}

// RecordPairEnabled обновляет флаг пары
func RecordPairEnabled(pair string, enabled bool) {
	if enabled {
		PairEnabled.WithLabelValues(pair).Set(1)
	} else {
		PairEnabled.WithLabelValues(pair).Set(0)
	}
}

// RecordSpread записывает требуемый и рыночный спред
func RecordSpread(pair string, required, market float64) {
	SpreadRequired.WithLabelValues(pair).Set(required)
	SpreadMarket.WithLabelValues(pair).Set(market)
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}
