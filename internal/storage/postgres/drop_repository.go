package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/drops/internal/domain"
)

const dropColumns = `id, name, price_minor, currency, total_stock, available_stock, status,
	starts_at, ends_at, created_by, created_at, updated_at`

// CreateDrop сохраняет новый дроп.
func (s *Store) CreateDrop(ctx context.Context, drop domain.Drop) error {
	if drop.Currency == "" {
		drop.Currency = domain.DefaultCurrency
	}
	if drop.Status == "" {
		drop.Status = domain.DropStatusDraft
	}
	if errs := drop.ValidateInvariants(); len(errs) > 0 {
		return fmt.Errorf("invalid drop: %w", errors.Join(errs...))
	}
	if drop.CreatedAt.IsZero() {
		drop.CreatedAt = time.Now().UTC()
	}
	if drop.UpdatedAt.IsZero() {
		drop.UpdatedAt = drop.CreatedAt
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.q(ctx).ExecContext(opCtx, `
		INSERT INTO drops (`+dropColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		drop.ID, drop.Name, drop.PriceMinor, drop.Currency, drop.TotalStock, drop.AvailableStock, string(drop.Status),
		nullableTime(drop.StartsAt), nullableTime(drop.EndsAt), drop.CreatedBy, drop.CreatedAt, drop.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("drop %s already exists", drop.ID)
		}
		return fmt.Errorf("insert drop: %w", classifyError(err))
	}
	return nil
}

// GetDrop возвращает дроп или ErrDropNotFound.
func (s *Store) GetDrop(ctx context.Context, dropID string) (domain.Drop, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	drop, err := scanDrop(s.q(ctx).QueryRowContext(opCtx, `
		SELECT `+dropColumns+`
		FROM drops
		WHERE id = $1
	`, dropID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Drop{}, domain.ErrDropNotFound
		}
		return domain.Drop{}, fmt.Errorf("get drop: %w", classifyError(err))
	}
	return drop, nil
}

// DecrementStock атомарно уменьшает остаток на единицу.
// Проверка остатка, статуса и окна продаж выполняется тем же UPDATE,
// наступивший scheduled дроп одновременно переводится в live.
func (s *Store) DecrementStock(ctx context.Context, dropID string, now time.Time) (int, bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var available int
	err := s.q(ctx).QueryRowContext(opCtx, `
		UPDATE drops
		SET available_stock = available_stock - 1,
		    status = CASE WHEN status = 'scheduled' THEN 'live' ELSE status END,
		    updated_at = $2
		WHERE id = $1
		  AND available_stock > 0
		  AND (status = 'live' OR (status = 'scheduled' AND starts_at IS NOT NULL AND starts_at <= $2))
		  AND (starts_at IS NULL OR starts_at <= $2)
		  AND (ends_at IS NULL OR ends_at > $2)
		RETURNING available_stock
	`, dropID, now).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("decrement stock: %w", classifyError(err))
	}
	return available, true, nil
}

// RestoreStock возвращает qty единиц с ограничением total_stock.
func (s *Store) RestoreStock(ctx context.Context, dropID string, qty int, now time.Time) (int, error) {
	if qty <= 0 {
		drop, err := s.GetDrop(ctx, dropID)
		if err != nil {
			return 0, err
		}
		return drop.AvailableStock, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var available int
	err := s.q(ctx).QueryRowContext(opCtx, `
		UPDATE drops
		SET available_stock = LEAST(total_stock, available_stock + $2),
		    updated_at = $3
		WHERE id = $1
		RETURNING available_stock
	`, dropID, qty, now).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrDropNotFound
		}
		return 0, fmt.Errorf("restore stock: %w", classifyError(err))
	}
	return available, nil
}

// ActivateDueDrops переводит наступившие scheduled дропы в live.
func (s *Store) ActivateDueDrops(ctx context.Context, now time.Time) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.q(ctx).ExecContext(opCtx, `
		UPDATE drops
		SET status = 'live', updated_at = $1
		WHERE status = 'scheduled'
		  AND starts_at IS NOT NULL
		  AND starts_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("activate due drops: %w", classifyError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("activate due drops rows affected: %w", err)
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDrop(row rowScanner) (domain.Drop, error) {
	var (
		drop     domain.Drop
		status   string
		startsAt sql.NullTime
		endsAt   sql.NullTime
	)
	if err := row.Scan(
		&drop.ID, &drop.Name, &drop.PriceMinor, &drop.Currency, &drop.TotalStock, &drop.AvailableStock, &status,
		&startsAt, &endsAt, &drop.CreatedBy, &drop.CreatedAt, &drop.UpdatedAt,
	); err != nil {
		return domain.Drop{}, err
	}
	drop.Status = domain.DropStatus(status)
	drop.StartsAt = timePtr(startsAt)
	drop.EndsAt = timePtr(endsAt)
	drop.CreatedAt = drop.CreatedAt.UTC()
	drop.UpdatedAt = drop.UpdatedAt.UTC()
	return drop, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
