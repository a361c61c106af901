package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scalper/internal/api/handlers"
	"scalper/internal/api/middleware"
	"scalper/internal/models"
	"scalper/pkg/utils"
)

// EngineView - то, что статус-API видит у движка
type EngineView = handlers.EngineView

// Options - настройки роутера
type Options struct {
	// TokenHash - bcrypt хеш bearer токена; пусто = без авторизации
	TokenHash string

	AllowedOrigins []string

	// Stream - обработчик /ws/stream; nil = поток отключён
	Stream http.Handler

	// OnPairsChanged вызывается после enable/disable пары
	OnPairsChanged func([]models.PairSummary)

	Logger *utils.Logger
}

// NewRouter настраивает HTTP маршруты статус-API
//
// Структура маршрутов:
//
//	/health                                   - liveness, без авторизации
//	/metrics                                  - Prometheus, без авторизации
//	/api/v1/
//	├── GET  /summary
//	├── GET  /positions
//	├── GET  /orders
//	├── GET  /pairs
//	├── POST /pairs/{exchange}/{symbol}/enable
//	└── POST /pairs/{exchange}/{symbol}/disable
//	/ws/stream                                - сводки и уведомления
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. BearerAuth (/api/v1 и /ws)
func NewRouter(view EngineView, opts Options) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(opts.Logger))
	router.Use(middleware.Logging(opts.Logger))
	router.Use(middleware.CORS(opts.AllowedOrigins))

	auth := middleware.BearerAuth(opts.TokenHash)

	status := handlers.NewStatusHandler(view)
	if opts.OnPairsChanged != nil {
		status.OnPairsChanged(opts.OnPairsChanged)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	api.HandleFunc("/summary", status.GetSummary).Methods(http.MethodGet)
	api.HandleFunc("/positions", status.GetPositions).Methods(http.MethodGet)
	api.HandleFunc("/orders", status.GetOrders).Methods(http.MethodGet)
	api.HandleFunc("/pairs", status.GetPairs).Methods(http.MethodGet)
	api.HandleFunc("/pairs/{exchange}/{symbol}/enable", status.EnablePair).Methods(http.MethodPost)
	api.HandleFunc("/pairs/{exchange}/{symbol}/disable", status.DisablePair).Methods(http.MethodPost)

	if opts.Stream != nil {
		router.Handle("/ws/stream", auth(opts.Stream)).Methods(http.MethodGet)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	return router
}
