package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/drops/internal/domain"
)

// InsertPurchase сохраняет покупку. UNIQUE(reservation_id) защищает от двойной покупки по одному резерву.
func (s *Store) InsertPurchase(ctx context.Context, p domain.Purchase) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	reservationID := sql.NullString{String: p.ReservationID, Valid: p.ReservationID != ""}
	_, err := s.q(ctx).ExecContext(opCtx, `
		INSERT INTO purchases (id, user_id, username, drop_id, reservation_id, qty, amount_minor, currency, status, provider, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.UserID, p.Username, p.DropID, reservationID, p.Qty, p.AmountMinor, p.Currency, string(p.Status), p.Provider, p.CreatedAt)
	if err != nil {
		switch {
		case isConstraintViolation(err, constraintPurchaseReservation):
			return domain.ErrAlreadyPurchased
		case isUniqueViolation(err):
			return fmt.Errorf("purchase %s already exists", p.ID)
		case isForeignKeyViolation(err):
			return domain.ErrDropNotFound
		}
		return fmt.Errorf("insert purchase: %w", classifyError(err))
	}
	return nil
}

// LatestPurchasers возвращает последние оплаченные покупки дропа.
func (s *Store) LatestPurchasers(ctx context.Context, dropID string, limit int) ([]domain.LatestPurchaser, error) {
	if limit <= 0 {
		limit = 3
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.q(ctx).QueryContext(opCtx, `
		SELECT user_id, username, qty, created_at
		FROM purchases
		WHERE drop_id = $1 AND status = 'paid'
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, dropID, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest purchasers: %w", classifyError(err))
	}
	defer rows.Close()

	out := make([]domain.LatestPurchaser, 0, limit)
	for rows.Next() {
		var lp domain.LatestPurchaser
		if err := rows.Scan(&lp.UserID, &lp.Username, &lp.Qty, &lp.PurchasedAt); err != nil {
			return nil, fmt.Errorf("scan latest purchaser: %w", err)
		}
		lp.PurchasedAt = lp.PurchasedAt.UTC()
		out = append(out, lp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest purchasers: %w", err)
	}
	return out, nil
}

// Purchases возвращает все покупки дропа в порядке создания.
func (s *Store) Purchases(ctx context.Context, dropID string) ([]domain.Purchase, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.q(ctx).QueryContext(opCtx, `
		SELECT id, user_id, username, drop_id, reservation_id, qty, amount_minor, currency, status, provider, created_at
		FROM purchases
		WHERE drop_id = $1
		ORDER BY created_at ASC, id ASC
	`, dropID)
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", classifyError(err))
	}
	defer rows.Close()

	var out []domain.Purchase
	for rows.Next() {
		var (
			p             domain.Purchase
			reservationID sql.NullString
			status        string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Username, &p.DropID, &reservationID, &p.Qty, &p.AmountMinor,
			&p.Currency, &status, &p.Provider, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		p.ReservationID = reservationID.String
		p.Status = domain.PurchaseStatus(status)
		p.CreatedAt = p.CreatedAt.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}
	return out, nil
}
