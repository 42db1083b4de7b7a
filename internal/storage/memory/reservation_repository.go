package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/drops/internal/domain"
)

// InsertReservation сохраняет новый ACTIVE резерв.
// Второй ACTIVE резерв той же пары user/drop отклоняется как ErrAlreadyReserved.
func (s *Store) InsertReservation(ctx context.Context, r domain.Reservation) error {
	return s.run(ctx, func(st *state) error {
		if _, exists := st.reservations[r.ID]; exists {
			return fmt.Errorf("reservation %s already exists", r.ID)
		}
		if _, exists := st.drops[r.DropID]; !exists {
			return domain.ErrDropNotFound
		}
		if r.Status == domain.ReservationStatusActive {
			for _, existing := range st.reservations {
				if existing.Status == domain.ReservationStatusActive &&
					existing.UserID == r.UserID && existing.DropID == r.DropID {
					return domain.ErrAlreadyReserved
				}
			}
		}
		st.addReservation(r)
		return nil
	})
}

// ExpireUserReservations переводит в EXPIRED истёкшие ACTIVE резервы пользователя на дроп.
func (s *Store) ExpireUserReservations(ctx context.Context, userID, dropID string, now time.Time) ([]domain.Reservation, error) {
	var expired []domain.Reservation
	err := s.run(ctx, func(st *state) error {
		for _, id := range st.reservationOrder {
			r := st.reservations[id]
			if r.UserID != userID || r.DropID != dropID ||
				r.Status != domain.ReservationStatusActive || !r.ExpiredAt(now) {
				continue
			}
			r.Status = domain.ReservationStatusExpired
			r.UpdatedAt = now
			st.putReservation(r)
			expired = append(expired, r)
		}
		return nil
	})
	return expired, err
}

// LockLatestReservation возвращает самый свежий резерв пользователя на дроп.
func (s *Store) LockLatestReservation(ctx context.Context, userID, dropID string) (domain.Reservation, error) {
	var out domain.Reservation
	err := s.run(ctx, func(st *state) error {
		found := false
		for _, id := range st.reservationOrder {
			r := st.reservations[id]
			if r.UserID != userID || r.DropID != dropID {
				continue
			}
			// Порядок вставки разрешает равенство CreatedAt в пользу более позднего резерва.
			if !found || !r.CreatedAt.Before(out.CreatedAt) {
				out, found = r, true
			}
		}
		if !found {
			return domain.ErrReservationNotFound
		}
		return nil
	})
	return out, err
}

// LockUserReservation возвращает резерв по id, если он принадлежит пользователю.
func (s *Store) LockUserReservation(ctx context.Context, reservationID, userID string) (domain.Reservation, error) {
	var out domain.Reservation
	err := s.run(ctx, func(st *state) error {
		r, ok := st.reservations[reservationID]
		if !ok || r.UserID != userID {
			return domain.ErrReservationNotFound
		}
		out = r
		return nil
	})
	return out, err
}

// TransitionReservation выполняет переход ACTIVE -> to. ok=false, если резерв уже не ACTIVE.
func (s *Store) TransitionReservation(ctx context.Context, reservationID string, to domain.ReservationStatus, now time.Time) (bool, error) {
	if !domain.ReservationStatusActive.CanTransitionTo(to) {
		return false, fmt.Errorf("unsupported reservation transition to %q", to)
	}

	var ok bool
	err := s.run(ctx, func(st *state) error {
		r, exists := st.reservations[reservationID]
		if !exists || r.Status != domain.ReservationStatusActive {
			return nil
		}
		r.Status = to
		r.UpdatedAt = now
		st.putReservation(r)
		ok = true
		return nil
	})
	return ok, err
}

// ClaimExpired переводит в EXPIRED до limit истёкших резервов, начиная с самых ранних.
// Транзакции в памяти сериализованы, поэтому пропускать заблокированные строки не нужно.
func (s *Store) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []domain.Reservation
	err := s.run(ctx, func(st *state) error {
		candidates := make([]domain.Reservation, 0)
		for _, id := range st.reservationOrder {
			r := st.reservations[id]
			if r.Status == domain.ReservationStatusActive && r.ExpiredAt(now) {
				candidates = append(candidates, r)
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].ExpiresAt.Before(candidates[j].ExpiresAt)
		})
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}

		for _, r := range candidates {
			r.Status = domain.ReservationStatusExpired
			r.UpdatedAt = now
			st.putReservation(r)
			claimed = append(claimed, r)
		}
		return nil
	})
	return claimed, err
}

// Reservation возвращает резерв по id без блокировки. Используется в тестах и диагностике.
func (s *Store) Reservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	var out domain.Reservation
	err := s.run(ctx, func(st *state) error {
		r, ok := st.reservations[reservationID]
		if !ok {
			return domain.ErrReservationNotFound
		}
		out = r
		return nil
	})
	return out, err
}
