package domain

import "time"

// ChangeEventType: тип события для real-time рассылки.
type ChangeEventType string

const (
	EventStockUpdated       ChangeEventType = "stock_updated"
	EventReservationExpired ChangeEventType = "reservation_expired"
	EventActivityUpdated    ChangeEventType = "activity_updated"
	EventPurchaseCompleted  ChangeEventType = "purchase_completed"
)

// ChangeEvent: событие об изменении дропа. Сериализуется в JSON как есть.
type ChangeEvent interface {
	EventType() ChangeEventType
	// AggregateID: идентификатор дропа, используется как ключ партиционирования.
	AggregateID() string
}

// StockUpdated: остаток дропа изменился.
type StockUpdated struct {
	DropID         string `json:"dropId"`
	AvailableStock int    `json:"availableStock"`
}

func (StockUpdated) EventType() ChangeEventType { return EventStockUpdated }
func (e StockUpdated) AggregateID() string      { return e.DropID }

// ReservationExpired: резерв переведён в EXPIRED.
type ReservationExpired struct {
	DropID        string `json:"dropId"`
	ReservationID string `json:"reservationId"`
}

func (ReservationExpired) EventType() ChangeEventType { return EventReservationExpired }
func (e ReservationExpired) AggregateID() string      { return e.DropID }

// ActivityUpdated: обновилась лента последних покупателей.
type ActivityUpdated struct {
	DropID           string            `json:"dropId"`
	LatestPurchasers []LatestPurchaser `json:"latestPurchasers"`
}

func (ActivityUpdated) EventType() ChangeEventType { return EventActivityUpdated }
func (e ActivityUpdated) AggregateID() string      { return e.DropID }

// PurchaseCompleted: покупка зафиксирована.
type PurchaseCompleted struct {
	DropID      string    `json:"dropId"`
	Username    string    `json:"username"`
	PurchasedAt time.Time `json:"purchasedAt"`
}

func (PurchaseCompleted) EventType() ChangeEventType { return EventPurchaseCompleted }
func (e PurchaseCompleted) AggregateID() string      { return e.DropID }
