package domain

import "time"

// ReservationStatus отражает состояние удержания единицы товара.
type ReservationStatus string

const (
	// ReservationStatusActive: единственное нетерминальное состояние, единица удерживается.
	ReservationStatusActive ReservationStatus = "ACTIVE"
	// ReservationStatusExpired: удержание истекло, единица возвращена в остаток.
	ReservationStatusExpired ReservationStatus = "EXPIRED"
	// ReservationStatusCancelled: пользователь отказался от удержания.
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	// ReservationStatusConsumed: удержание превращено в покупку.
	ReservationStatusConsumed ReservationStatus = "CONSUMED"
	// ReservationStatusFulfilled: внешнее исполнение, движком не выставляется.
	ReservationStatusFulfilled ReservationStatus = "FULFILLED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationStatusActive, ReservationStatusExpired, ReservationStatusCancelled,
		ReservationStatusConsumed, ReservationStatusFulfilled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s ReservationStatus) Terminal() bool {
	return s.Valid() && s != ReservationStatusActive
}

// CanTransitionTo разрешает только однократный выход из ACTIVE в терминальный статус.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	return s == ReservationStatusActive && next.Terminal()
}

// Reservation: удержание ровно одной единицы дропа до ExpiresAt.
type Reservation struct {
	ID        string
	UserID    string
	DropID    string
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExpiredAt сообщает, истекло ли удержание к моменту now. Граница включительная.
func (r Reservation) ExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// ExpiredReservation: пара резерв/дроп, переведённая в EXPIRED.
type ExpiredReservation struct {
	ReservationID string
	DropID        string
}
