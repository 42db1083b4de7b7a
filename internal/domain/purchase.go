package domain

import "time"

// PurchaseStatus: статус записи о покупке.
type PurchaseStatus string

const (
	// PurchaseStatusPaid: покупка зафиксирована. Реального списания средств движок не выполняет.
	PurchaseStatusPaid PurchaseStatus = "paid"
)

const (
	// PurchaseProviderManual: тег провайдера для покупок без платёжного шлюза.
	PurchaseProviderManual = "manual"
	// PurchaseQtyPerReservation: одно удержание всегда покрывает одну единицу.
	PurchaseQtyPerReservation = 1
)

// Purchase: завершённая продажа. После создания не меняется.
type Purchase struct {
	ID     string
	UserID string
	// Username: отображаемое имя покупателя. Без имени из metadata совпадает с UserID.
	Username string
	DropID   string
	// ReservationID пустой для продаж вне потока резервирования.
	ReservationID string
	Qty           int
	AmountMinor   int64
	Currency      string
	Status        PurchaseStatus
	Provider      string
	CreatedAt     time.Time
}

// LatestPurchaser: строка ленты последних покупателей дропа.
type LatestPurchaser struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Qty         int       `json:"qty"`
	PurchasedAt time.Time `json:"purchasedAt"`
}
