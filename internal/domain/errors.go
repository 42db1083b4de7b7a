package domain

import "errors"

// Code: стабильный машиночитаемый код ошибки, по которому ветвятся клиенты.
type Code string

const (
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeDropNotFound         Code = "DROP_NOT_FOUND"
	CodeDropNotActive        Code = "DROP_NOT_ACTIVE"
	CodeOutOfStock           Code = "OUT_OF_STOCK"
	CodeAlreadyReserved      Code = "ALREADY_RESERVED"
	CodeReservationRequired  Code = "RESERVATION_REQUIRED"
	CodeReservationNotActive Code = "RESERVATION_NOT_ACTIVE"
	CodeReservationExpired   Code = "RESERVATION_EXPIRED"
	CodeReservationConflict  Code = "RESERVATION_CONFLICT"
	CodeReservationNotFound  Code = "RESERVATION_NOT_FOUND"
	CodeAlreadyPurchased     Code = "ALREADY_PURCHASED"
	CodeConflict             Code = "CONFLICT"
	// CodeInternal возвращается CodeOf для ошибок без кода.
	CodeInternal Code = "INTERNAL"
)

// Error: доменная ошибка с кодом. Message предназначено людям, Code: коду.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError создаёт доменную ошибку с кодом.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	// ErrInvalidArgument: не передан обязательный идентификатор.
	ErrInvalidArgument = NewError(CodeInvalidArgument, "invalid argument")
	// ErrDropNotFound: дроп не существует.
	ErrDropNotFound = NewError(CodeDropNotFound, "drop not found")
	// ErrDropNotActive: дроп вне окна продаж или не в статусе live.
	ErrDropNotActive = NewError(CodeDropNotActive, "drop is not active")
	// ErrOutOfStock: остаток исчерпан, в том числе конкурентной транзакцией.
	ErrOutOfStock = NewError(CodeOutOfStock, "drop is out of stock")
	// ErrAlreadyReserved: у пользователя уже есть активный резерв на этот дроп.
	ErrAlreadyReserved = NewError(CodeAlreadyReserved, "user already holds an active reservation for this drop")
	// ErrReservationRequired: покупка без резерва.
	ErrReservationRequired = NewError(CodeReservationRequired, "reservation is required to purchase")
	// ErrReservationNotActive: резерв уже в терминальном статусе.
	ErrReservationNotActive = NewError(CodeReservationNotActive, "reservation is not active")
	// ErrReservationExpired: резерв истёк; единица уже возвращена в остаток.
	ErrReservationExpired = NewError(CodeReservationExpired, "reservation has expired")
	// ErrReservationConflict: резерв перехвачен конкурентной экспирацией или отменой.
	ErrReservationConflict = NewError(CodeReservationConflict, "reservation was modified concurrently")
	// ErrReservationNotFound: резерв не найден среди резервов пользователя.
	ErrReservationNotFound = NewError(CodeReservationNotFound, "reservation not found")
	// ErrAlreadyPurchased: по резерву уже есть покупка.
	ErrAlreadyPurchased = NewError(CodeAlreadyPurchased, "reservation has already been purchased")
	// ErrConflict: общий конфликт конкурентного доступа (serialization failure, deadlock).
	ErrConflict = NewError(CodeConflict, "concurrent modification conflict")
)

var (
	// Ошибка отсутствующего идентификатора дропа.
	ErrDropIDRequired = errors.New("drop id is required")
	// Ошибка отрицательного общего остатка.
	ErrStockNegative = errors.New("total_stock must be non-negative")
	// Ошибка выхода available_stock за пределы [0, total_stock].
	ErrStockOutOfBounds = errors.New("available_stock must be within [0, total_stock]")
	// Ошибка отрицательной цены.
	ErrPriceNegative = errors.New("price_minor must be non-negative")
	// Ошибка неизвестного статуса дропа.
	ErrDropStatusInvalid = errors.New("drop status is invalid")
	// Ошибка окна продаж, где ends_at не позже starts_at.
	ErrDropWindowInvalid = errors.New("ends_at must be after starts_at")
)

// CodeOf извлекает код доменной ошибки. Для nil возвращает пустую строку.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsConflict сообщает, относится ли ошибка к конфликтам конкурентного доступа.
// Вызывающая сторона может повторить операцию целиком.
func IsConflict(err error) bool {
	switch CodeOf(err) {
	case CodeOutOfStock, CodeAlreadyReserved, CodeReservationConflict, CodeAlreadyPurchased, CodeConflict:
		return true
	default:
		return false
	}
}
