package grpcsvc

import (
	"time"

	"github.com/vladislavdragonenkov/drops/internal/domain"
	"github.com/vladislavdragonenkov/drops/internal/service/expiry"
)

// Ключи metadata с личностью вызывающего. Аутентификацию выполняет шлюз перед сервисом.
const (
	MetadataUserID   = "x-user-id"
	MetadataUsername = "x-username"
)

type ReserveRequest struct {
	DropID string `json:"dropId"`
	// TTLSeconds<=0 означает TTL по умолчанию; больше максимума сервера: INVALID_ARGUMENT.
	TTLSeconds int `json:"ttlSeconds,omitempty"`
}

type ReserveResponse struct {
	Reservation    Reservation `json:"reservation"`
	AvailableStock int         `json:"availableStock"`
}

type PurchaseRequest struct {
	DropID string `json:"dropId"`
}

type PurchaseResponse struct {
	Purchase    Purchase    `json:"purchase"`
	Reservation Reservation `json:"reservation"`
}

type CancelRequest struct {
	ReservationID string `json:"reservationId"`
}

type CancelResponse struct {
	Reservation    Reservation `json:"reservation"`
	AvailableStock int         `json:"availableStock"`
}

type SweepExpiredRequest struct {
	// Limit<=0 означает батч ручного запуска.
	Limit int `json:"limit,omitempty"`
}

type SweepExpiredResponse struct {
	ExpiredCount int                  `json:"expiredCount"`
	Drops        []DropStock          `json:"drops"`
	Expired      []ExpiredReservation `json:"expired"`
}

type Reservation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	DropID    string    `json:"dropId"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Purchase struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Username      string    `json:"username"`
	DropID        string    `json:"dropId"`
	ReservationID string    `json:"reservationId,omitempty"`
	Qty           int       `json:"qty"`
	AmountMinor   int64     `json:"amountMinor"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	Provider      string    `json:"provider"`
	CreatedAt     time.Time `json:"createdAt"`
}

type DropStock struct {
	DropID         string `json:"dropId"`
	AvailableStock int    `json:"availableStock"`
}

type ExpiredReservation struct {
	ReservationID string `json:"reservationId"`
	DropID        string `json:"dropId"`
}

func toReservation(r domain.Reservation) Reservation {
	return Reservation{
		ID:        r.ID,
		UserID:    r.UserID,
		DropID:    r.DropID,
		Status:    string(r.Status),
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toPurchase(p domain.Purchase) Purchase {
	return Purchase{
		ID:            p.ID,
		UserID:        p.UserID,
		Username:      p.Username,
		DropID:        p.DropID,
		ReservationID: p.ReservationID,
		Qty:           p.Qty,
		AmountMinor:   p.AmountMinor,
		Currency:      p.Currency,
		Status:        string(p.Status),
		Provider:      p.Provider,
		CreatedAt:     p.CreatedAt,
	}
}

func toSweepResponse(res expiry.Result) *SweepExpiredResponse {
	out := &SweepExpiredResponse{
		ExpiredCount: res.ExpiredCount,
		Drops:        make([]DropStock, 0, len(res.Drops)),
		Expired:      make([]ExpiredReservation, 0, len(res.Expired)),
	}
	for _, d := range res.Drops {
		out.Drops = append(out.Drops, DropStock{DropID: d.DropID, AvailableStock: d.AvailableStock})
	}
	for _, e := range res.Expired {
		out.Expired = append(out.Expired, ExpiredReservation{ReservationID: e.ReservationID, DropID: e.DropID})
	}
	return out
}
