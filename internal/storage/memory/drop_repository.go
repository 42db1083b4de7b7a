package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/drops/internal/domain"
)

// CreateDrop сохраняет новый дроп, если ID ещё не занят.
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

	return s.run(ctx, func(st *state) error {
		if _, exists := st.drops[drop.ID]; exists {
			return fmt.Errorf("drop %s already exists", drop.ID)
		}
		st.putDrop(drop)
		return nil
	})
}

// GetDrop возвращает дроп или ErrDropNotFound.
func (s *Store) GetDrop(ctx context.Context, dropID string) (domain.Drop, error) {
	var out domain.Drop
	err := s.run(ctx, func(st *state) error {
		drop, ok := st.drops[dropID]
		if !ok {
			return domain.ErrDropNotFound
		}
		out = drop
		return nil
	})
	return out, err
}

// DecrementStock уменьшает остаток на единицу при открытом окне продаж.
// Наступивший scheduled дроп одновременно переводится в live.
func (s *Store) DecrementStock(ctx context.Context, dropID string, now time.Time) (int, bool, error) {
	var (
		available int
		ok        bool
	)
	err := s.run(ctx, func(st *state) error {
		drop, exists := st.drops[dropID]
		if !exists || drop.AvailableStock <= 0 || !drop.ReservableAt(now) {
			return nil
		}
		drop.AvailableStock--
		drop.Status = drop.EffectiveStatus(now)
		drop.UpdatedAt = now
		st.putDrop(drop)

		available, ok = drop.AvailableStock, true
		return nil
	})
	return available, ok, err
}

// RestoreStock возвращает qty единиц, не превышая total_stock.
func (s *Store) RestoreStock(ctx context.Context, dropID string, qty int, now time.Time) (int, error) {
	var available int
	err := s.run(ctx, func(st *state) error {
		drop, exists := st.drops[dropID]
		if !exists {
			return domain.ErrDropNotFound
		}
		if qty > 0 {
			drop.AvailableStock = min(drop.TotalStock, drop.AvailableStock+qty)
			drop.UpdatedAt = now
			st.putDrop(drop)
		}
		available = drop.AvailableStock
		return nil
	})
	return available, err
}

// ActivateDueDrops переводит наступившие scheduled дропы в live.
func (s *Store) ActivateDueDrops(ctx context.Context, now time.Time) (int, error) {
	var activated int
	err := s.run(ctx, func(st *state) error {
		for _, drop := range st.drops {
			if drop.Status != domain.DropStatusScheduled || drop.EffectiveStatus(now) != domain.DropStatusLive {
				continue
			}
			drop.Status = domain.DropStatusLive
			drop.UpdatedAt = now
			st.putDrop(drop)
			activated++
		}
		return nil
	})
	return activated, err
}
