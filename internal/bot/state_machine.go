package bot

import "scalper/internal/models"

// ValidTransitions определяет допустимые переходы цикла grid воркера
//
// Пропуск цикла ведёт в ReconcileFills (исполнения проверяются всегда),
// отключённая пара сразу уходит в Sleep. Stopped - терминальное состояние.
var ValidTransitions = map[models.WorkerState][]models.WorkerState{
	models.WorkerIdle:             {models.WorkerCheckPairEnabled, models.WorkerStopped},
	models.WorkerCheckPairEnabled: {models.WorkerReadMarket, models.WorkerSleep, models.WorkerStopped},
	models.WorkerReadMarket:       {models.WorkerComputeSpread, models.WorkerReconcileFills, models.WorkerStopped},
	models.WorkerComputeSpread:    {models.WorkerSizeOrder, models.WorkerReconcileFills, models.WorkerStopped},
	models.WorkerSizeOrder:        {models.WorkerPlaceOrders, models.WorkerReconcileFills, models.WorkerStopped},
	models.WorkerPlaceOrders:      {models.WorkerReconcileFills, models.WorkerStopped},
	models.WorkerReconcileFills:   {models.WorkerSleep, models.WorkerStopped},
	models.WorkerSleep:            {models.WorkerIdle, models.WorkerStopped},
	models.WorkerStopped:          {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.WorkerState) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для статус API
func StateInfo(s models.WorkerState) string {
	switch s {
	case models.WorkerIdle:
		return "Ожидание следующего цикла"
	case models.WorkerCheckPairEnabled:
		return "Проверка статуса пары"
	case models.WorkerReadMarket:
		return "Чтение рыночных данных"
	case models.WorkerComputeSpread:
		return "Расчёт спреда"
	case models.WorkerSizeOrder:
		return "Расчёт размера ордера"
	case models.WorkerPlaceOrders:
		return "Выставление и обновление ордеров"
	case models.WorkerReconcileFills:
		return "Сверка исполнений"
	case models.WorkerSleep:
		return "Пауза между циклами"
	case models.WorkerStopped:
		return "Воркер остановлен"
	default:
		return "Неизвестное состояние"
	}
}

// IsActive возвращает true если воркер ещё работает
func IsActive(s models.WorkerState) bool {
	_, known := ValidTransitions[s]
	return known && s != models.WorkerStopped
}
