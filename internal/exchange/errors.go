package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind - класс ошибки биржи или проверки ордера
type ErrorKind int

const (
	KindExchange    ErrorKind = iota // отказ биржи без особой классификации
	KindTransient                    // таймауты, разрывы соединения, 5xx
	KindValidation                   // точность, min qty/notional, неверный символ
	KindMarketData                   // нулевые или перевёрнутые цены
	KindMargin                       // недостаточно маржи
	KindRisk                         // отказ риск-менеджера или экспозиции
	KindNotFound                     // ордер неизвестен бирже
	KindRateLimited                  // превышен лимит запросов
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindMarketData:
		return "market_data"
	case KindMargin:
		return "margin"
	case KindRisk:
		return "risk"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "exchange"
	}
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Kind     ErrorKind
	Original error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code %s)", e.Exchange, e.Message, e.Code)
	}
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// ErrorKind возвращает класс ошибки
func (e *ExchangeError) ErrorKind() ErrorKind {
	return e.Kind
}

// Retryable - повтор имеет смысл только для временных ошибок
// Используется retry.IsRetryable
func (e *ExchangeError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// NewError создаёт ошибку биржи заданного класса
func NewError(exchange string, kind ErrorKind, code, message string) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Code: code, Message: message, Kind: kind}
}

// KindError - классифицированная ошибка вне биржи (проверки шлюза, риск)
// Подходит для sentinel значений: errors.Is сравнивает по указателю
type KindError struct {
	Kind ErrorKind
	Msg  string
}

// NewKindError создаёт классифицированную ошибку
func NewKindError(kind ErrorKind, msg string) *KindError {
	return &KindError{Kind: kind, Msg: msg}
}

func (e *KindError) Error() string        { return e.Msg }
func (e *KindError) ErrorKind() ErrorKind { return e.Kind }
func (e *KindError) Retryable() bool      { return e.Kind == KindTransient || e.Kind == KindRateLimited }

// kinded - любая ошибка, знающая свой класс
type kinded interface {
	ErrorKind() ErrorKind
}

// KindOf классифицирует произвольную ошибку
//
// Порядок: классифицированная ошибка в цепочке, затем таймауты контекста
// и сетевые ошибки (transient), иначе KindExchange.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindExchange
	}

	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindExchange
}

// IsCritical - ошибка расходует бюджет ошибок пары
// Критичны: валидация ордера, нет рыночных данных, нехватка маржи
func IsCritical(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindValidation, KindMarketData, KindMargin:
		return true
	}
	return false
}

// IsNotFound - биржа не знает ордер
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}
