package bot

import "scalper/internal/exchange"

// Ошибки торгового ядра
// Класс ошибки определяет, расходует ли она бюджет ошибок пары (exchange.IsCritical)
var (
	ErrPairDisabled        = exchange.NewKindError(exchange.KindRisk, "pair is disabled")
	ErrRateLimited         = exchange.NewKindError(exchange.KindRateLimited, "rate limit exceeded")
	ErrUnknownOrder        = exchange.NewKindError(exchange.KindNotFound, "order is not tracked locally")
	ErrOrderFilled         = exchange.NewKindError(exchange.KindExchange, "order filled before cancel")
	ErrInvalidPrice        = exchange.NewKindError(exchange.KindValidation, "invalid order price")
	ErrInsufficientBalance = exchange.NewKindError(exchange.KindMargin, "insufficient balance")
	ErrDailyStop           = exchange.NewKindError(exchange.KindRisk, "daily stop loss reached")
	ErrMaxPositions        = exchange.NewKindError(exchange.KindRisk, "max open positions reached")
	ErrOrderTooSmall       = exchange.NewKindError(exchange.KindValidation, "order below minimum quantity or notional")
	ErrOrderTooLarge       = exchange.NewKindError(exchange.KindRisk, "order notional exceeds risk limit")
	ErrCloseInFlight       = exchange.NewKindError(exchange.KindRisk, "position close already in progress")
)

// ErrUnknownPair - пара не торгуется движком
var ErrUnknownPair = exchange.NewKindError(exchange.KindNotFound, "pair is not traded")
