package domain

import "time"

// DefaultCurrency используется, если у дропа не задана валюта.
const DefaultCurrency = "USD"

// DropStatus описывает жизненный цикл дропа.
type DropStatus string

const (
	// DropStatusDraft: дроп создан, но ещё не опубликован.
	DropStatusDraft DropStatus = "draft"
	// DropStatusScheduled: продажа запланирована на starts_at.
	DropStatusScheduled DropStatus = "scheduled"
	// DropStatusLive: продажа идёт.
	DropStatusLive DropStatus = "live"
	// DropStatusEnded: продажа завершена.
	DropStatusEnded DropStatus = "ended"
	// DropStatusCancelled: дроп отменён.
	DropStatusCancelled DropStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s DropStatus) Valid() bool {
	switch s {
	case DropStatusDraft, DropStatusScheduled, DropStatusLive, DropStatusEnded, DropStatusCancelled:
		return true
	default:
		return false
	}
}

// Drop: партия товара ограниченного объёма с окном продаж.
type Drop struct {
	ID   string
	Name string
	// PriceMinor: цена единицы в минимальных денежных единицах.
	PriceMinor int64
	Currency   string
	// TotalStock не меняется после создания.
	TotalStock int
	// AvailableStock меняется только сервисами резервирования, покупки, отмены и экспирации.
	AvailableStock int
	Status         DropStatus
	StartsAt       *time.Time
	EndsAt         *time.Time
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EffectiveStatus возвращает статус с учётом времени: scheduled с наступившим starts_at считается live.
func (d Drop) EffectiveStatus(now time.Time) DropStatus {
	if d.Status == DropStatusScheduled && d.StartsAt != nil && !d.StartsAt.After(now) {
		return DropStatusLive
	}
	return d.Status
}

// ReservableAt сообщает, открыто ли окно продаж в момент now.
// Наличие остатка здесь не проверяется.
func (d Drop) ReservableAt(now time.Time) bool {
	if d.EffectiveStatus(now) != DropStatusLive {
		return false
	}
	if d.StartsAt != nil && d.StartsAt.After(now) {
		return false
	}
	if d.EndsAt != nil && !d.EndsAt.After(now) {
		return false
	}
	return true
}

// ValidateInvariants проверяет базовые инварианты дропа и возвращает список замечаний.
func (d *Drop) ValidateInvariants() []error {
	var errs []error

	if d.ID == "" {
		errs = append(errs, ErrDropIDRequired)
	}
	if d.TotalStock < 0 {
		errs = append(errs, ErrStockNegative)
	}
	if d.AvailableStock < 0 || d.AvailableStock > d.TotalStock {
		errs = append(errs, ErrStockOutOfBounds)
	}
	if d.PriceMinor < 0 {
		errs = append(errs, ErrPriceNegative)
	}
	if !d.Status.Valid() {
		errs = append(errs, ErrDropStatusInvalid)
	}
	if d.StartsAt != nil && d.EndsAt != nil && !d.EndsAt.After(*d.StartsAt) {
		errs = append(errs, ErrDropWindowInvalid)
	}

	return errs
}

// DropStock: остаток конкретного дропа после изменения.
type DropStock struct {
	DropID         string
	AvailableStock int
}
