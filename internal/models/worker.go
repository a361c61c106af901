package models

// WorkerState - состояние цикла grid воркера
type WorkerState string

// Состояния воркера (state machine)
const (
	WorkerIdle             WorkerState = "IDLE"
	WorkerCheckPairEnabled WorkerState = "CHECK_PAIR_ENABLED"
	WorkerReadMarket       WorkerState = "READ_MARKET"
	WorkerComputeSpread    WorkerState = "COMPUTE_SPREAD"
	WorkerSizeOrder        WorkerState = "SIZE_ORDER"
	WorkerPlaceOrders      WorkerState = "PLACE_OR_PATCH_ORDERS"
	WorkerReconcileFills   WorkerState = "RECONCILE_FILLS"
	WorkerSleep            WorkerState = "SLEEP"
	WorkerStopped          WorkerState = "STOPPED"
)
