package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"scalper/internal/exchange"
	"scalper/internal/models"
)

// EngineView - read-only срез движка плюс управление парами
type EngineView interface {
	Summary() models.Summary
	Positions() []models.Position
	Orders() []models.OrderRecord
	Pairs() []models.PairSummary
	SetPairEnabled(key string, enabled bool) error
}

// StatusHandler обслуживает статус-API бота
//
// Endpoints:
// - GET /api/v1/summary                              - сводка движка
// - GET /api/v1/positions                            - открытые позиции
// - GET /api/v1/orders                               - активные лимитные ордера
// - GET /api/v1/pairs                                - пары, состояние воркеров, параметры символов
// - POST /api/v1/pairs/{exchange}/{symbol}/enable    - включить пару
// - POST /api/v1/pairs/{exchange}/{symbol}/disable   - выключить пару
type StatusHandler struct {
	view EngineView

	// onPairsChanged вызывается после успешного enable/disable
	onPairsChanged func([]models.PairSummary)
}

// NewStatusHandler создаёт StatusHandler
func NewStatusHandler(view EngineView) *StatusHandler {
	return &StatusHandler{view: view}
}

// OnPairsChanged задаёт обработчик изменения состава пар
func (h *StatusHandler) OnPairsChanged(fn func([]models.PairSummary)) {
	h.onPairsChanged = fn
}

func (h *StatusHandler) ready(w http.ResponseWriter) bool {
	if h.view == nil {
		writeError(w, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "engine is not running")
		return false
	}
	return true
}

// GetSummary возвращает сводку
//
// GET /api/v1/summary
func (h *StatusHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.view.Summary())
}

// GetPositions возвращает открытые позиции
//
// GET /api/v1/positions
func (h *StatusHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	positions := h.view.Positions()
	if positions == nil {
		positions = []models.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetOrders возвращает активные ордера
//
// GET /api/v1/orders
func (h *StatusHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	orders := h.view.Orders()
	if orders == nil {
		orders = []models.OrderRecord{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetPairs возвращает пары
//
// GET /api/v1/pairs
func (h *StatusHandler) GetPairs(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	pairs := h.view.Pairs()
	if pairs == nil {
		pairs = []models.PairSummary{}
	}
	writeJSON(w, http.StatusOK, pairs)
}

// EnablePair включает пару
//
// POST /api/v1/pairs/{exchange}/{symbol}/enable
func (h *StatusHandler) EnablePair(w http.ResponseWriter, r *http.Request) {
	h.setPairEnabled(w, r, true)
}

// DisablePair выключает пару
//
// POST /api/v1/pairs/{exchange}/{symbol}/disable
func (h *StatusHandler) DisablePair(w http.ResponseWriter, r *http.Request) {
	h.setPairEnabled(w, r, false)
}

func (h *StatusHandler) setPairEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if !h.ready(w) {
		return
	}

	vars := mux.Vars(r)
	ex := strings.ToLower(vars["exchange"])
	symbol := strings.ToUpper(vars["symbol"])
	if ex == "" || symbol == "" {
		writeError(w, http.StatusBadRequest, "INVALID_PAIR", "exchange and symbol are required")
		return
	}

	key := models.PairKey(ex, symbol)
	if err := h.view.SetPairEnabled(key, enabled); err != nil {
		if exchange.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "PAIR_NOT_FOUND", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "PAIR_UPDATE_FAILED", err.Error())
		return
	}

	action := "disabled"
	if enabled {
		action = "enabled"
	}
	if h.onPairsChanged != nil {
		h.onPairsChanged(h.view.Pairs())
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Message: key + " " + action})
}
