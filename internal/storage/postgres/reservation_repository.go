package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/drops/internal/domain"
)

const reservationColumns = `id, user_id, drop_id, status, expires_at, created_at, updated_at`

// InsertReservation сохраняет новый резерв.
// Нарушение частичного уникального индекса по ACTIVE означает ErrAlreadyReserved.
func (s *Store) InsertReservation(ctx context.Context, r domain.Reservation) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.q(ctx).ExecContext(opCtx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.UserID, r.DropID, string(r.Status), r.ExpiresAt, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		switch {
		case isConstraintViolation(err, constraintActiveReservation):
			return domain.ErrAlreadyReserved
		case isUniqueViolation(err):
			return fmt.Errorf("reservation %s already exists", r.ID)
		case isForeignKeyViolation(err):
			return domain.ErrDropNotFound
		}
		return fmt.Errorf("insert reservation: %w", classifyError(err))
	}
	return nil
}

// ExpireUserReservations переводит в EXPIRED истёкшие ACTIVE резервы пользователя на дроп.
func (s *Store) ExpireUserReservations(ctx context.Context, userID, dropID string, now time.Time) ([]domain.Reservation, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.q(ctx).QueryContext(opCtx, `
		UPDATE reservations
		SET status = 'EXPIRED', updated_at = $3
		WHERE user_id = $1
		  AND drop_id = $2
		  AND status = 'ACTIVE'
		  AND expires_at <= $3
		RETURNING `+reservationColumns,
		userID, dropID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("expire user reservations: %w", classifyError(err))
	}
	return collectReservations(rows)
}

// LockLatestReservation блокирует FOR UPDATE самый свежий резерв пользователя на дроп.
func (s *Store) LockLatestReservation(ctx context.Context, userID, dropID string) (domain.Reservation, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	r, err := scanReservation(s.q(ctx).QueryRowContext(opCtx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE user_id = $1 AND drop_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`, userID, dropID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("lock latest reservation: %w", classifyError(err))
	}
	return r, nil
}

// LockUserReservation блокирует FOR UPDATE резерв пользователя по id.
func (s *Store) LockUserReservation(ctx context.Context, reservationID, userID string) (domain.Reservation, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	r, err := scanReservation(s.q(ctx).QueryRowContext(opCtx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, reservationID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("lock reservation: %w", classifyError(err))
	}
	return r, nil
}

// TransitionReservation выполняет ACTIVE -> to одним условным UPDATE.
func (s *Store) TransitionReservation(ctx context.Context, reservationID string, to domain.ReservationStatus, now time.Time) (bool, error) {
	if !domain.ReservationStatusActive.CanTransitionTo(to) {
		return false, fmt.Errorf("unsupported reservation transition to %q", to)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.q(ctx).ExecContext(opCtx, `
		UPDATE reservations
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'ACTIVE'
	`, reservationID, string(to), now)
	if err != nil {
		return false, fmt.Errorf("transition reservation: %w", classifyError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition reservation rows affected: %w", err)
	}
	return affected == 1, nil
}

// ClaimExpired переводит в EXPIRED до limit истёкших резервов.
// FOR UPDATE SKIP LOCKED пропускает строки, занятые покупкой, отменой или другим свипом.
func (s *Store) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	if limit <= 0 {
		return nil, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.q(ctx).QueryContext(opCtx, `
		WITH due AS (
			SELECT id
			FROM reservations
			WHERE status = 'ACTIVE' AND expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE reservations r
		SET status = 'EXPIRED', updated_at = $1
		FROM due
		WHERE r.id = due.id AND r.status = 'ACTIVE'
		RETURNING r.id, r.user_id, r.drop_id, r.status, r.expires_at, r.created_at, r.updated_at
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim expired reservations: %w", classifyError(err))
	}

	claimed, err := collectReservations(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING не гарантирует порядок.
	sort.SliceStable(claimed, func(i, j int) bool {
		return claimed[i].ExpiresAt.Before(claimed[j].ExpiresAt)
	})
	return claimed, nil
}

// Reservation возвращает резерв по id без блокировки.
func (s *Store) Reservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	r, err := scanReservation(s.q(ctx).QueryRowContext(opCtx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
	`, reservationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("get reservation: %w", classifyError(err))
	}
	return r, nil
}

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var (
		r      domain.Reservation
		status string
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.DropID, &status, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.Reservation{}, err
	}
	r.Status = domain.ReservationStatus(status)
	r.ExpiresAt = r.ExpiresAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func collectReservations(rows *sql.Rows) ([]domain.Reservation, error) {
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", classifyError(err))
	}
	return out, nil
}
