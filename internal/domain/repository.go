package domain

import (
	"context"
	"time"
)

// TxRunner выполняет fn в одной транзакции хранилища.
// Если fn вернула nil, транзакция фиксируется, иначе откатывается.
// Методы репозиториев, вызванные с ctx из fn, работают внутри этой транзакции.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// InventoryStore хранит дропы и их остатки.
// Все изменения available_stock выполняются одним условным обновлением.
type InventoryStore interface {
	// CreateDrop сохраняет новый дроп (сидирование и тесты; каталог вне движка).
	CreateDrop(ctx context.Context, drop Drop) error
	// GetDrop возвращает дроп или ErrDropNotFound.
	GetDrop(ctx context.Context, dropID string) (Drop, error)
	// DecrementStock уменьшает остаток на единицу, если он положителен и окно продаж открыто в now.
	// ok=false означает, что условие не выполнилось (или дропа нет).
	DecrementStock(ctx context.Context, dropID string, now time.Time) (available int, ok bool, err error)
	// RestoreStock возвращает qty единиц с ограничением сверху total_stock.
	RestoreStock(ctx context.Context, dropID string, qty int, now time.Time) (available int, err error)
	// ActivateDueDrops переводит scheduled дропы с наступившим starts_at в live.
	ActivateDueDrops(ctx context.Context, now time.Time) (int, error)
}

// ReservationLedger хранит резервы. Переходы статуса возможны только из ACTIVE.
type ReservationLedger interface {
	// InsertReservation сохраняет новый ACTIVE резерв. Конфликт уникальности: ErrAlreadyReserved.
	InsertReservation(ctx context.Context, r Reservation) error
	// ExpireUserReservations переводит в EXPIRED истёкшие ACTIVE резервы пользователя на дроп.
	ExpireUserReservations(ctx context.Context, userID, dropID string, now time.Time) ([]Reservation, error)
	// LockLatestReservation блокирует самый свежий резерв пользователя на дроп или возвращает ErrReservationNotFound.
	LockLatestReservation(ctx context.Context, userID, dropID string) (Reservation, error)
	// LockUserReservation блокирует резерв по id, если он принадлежит пользователю, иначе ErrReservationNotFound.
	LockUserReservation(ctx context.Context, reservationID, userID string) (Reservation, error)
	// TransitionReservation выполняет ACTIVE -> to. ok=false означает проигранную гонку.
	TransitionReservation(ctx context.Context, reservationID string, to ReservationStatus, now time.Time) (ok bool, err error)
	// ClaimExpired переводит в EXPIRED до limit истёкших резервов, пропуская заблокированные строки.
	ClaimExpired(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
}

// PurchaseLedger хранит покупки.
type PurchaseLedger interface {
	// InsertPurchase сохраняет покупку. Повтор по reservation_id: ErrAlreadyPurchased.
	InsertPurchase(ctx context.Context, p Purchase) error
}

// ActivityFeed отдаёт ленту последних покупателей дропа.
type ActivityFeed interface {
	LatestPurchasers(ctx context.Context, dropID string, limit int) ([]LatestPurchaser, error)
}

// Store объединяет всё, что нужно движку от хранилища.
type Store interface {
	TxRunner
	InventoryStore
	ReservationLedger
	PurchaseLedger
	ActivityFeed
}
