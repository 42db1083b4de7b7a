package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/drops/internal/domain"
)

// InsertPurchase сохраняет покупку. На один резерв допускается одна покупка.
func (s *Store) InsertPurchase(ctx context.Context, p domain.Purchase) error {
	return s.run(ctx, func(st *state) error {
		if _, exists := st.purchases[p.ID]; exists {
			return fmt.Errorf("purchase %s already exists", p.ID)
		}
		if p.ReservationID != "" {
			for _, existing := range st.purchases {
				if existing.ReservationID == p.ReservationID {
					return domain.ErrAlreadyPurchased
				}
			}
		}
		st.addPurchase(p)
		return nil
	})
}

// LatestPurchasers возвращает последние оплаченные покупки дропа, новые первыми.
func (s *Store) LatestPurchasers(ctx context.Context, dropID string, limit int) ([]domain.LatestPurchaser, error) {
	var out []domain.LatestPurchaser
	err := s.run(ctx, func(st *state) error {
		rows := make([]domain.Purchase, 0)
		// Идём с конца, чтобы при равном CreatedAt более поздняя вставка оказалась первой.
		for i := len(st.purchaseOrder) - 1; i >= 0; i-- {
			p := st.purchases[st.purchaseOrder[i]]
			if p.DropID == dropID && p.Status == domain.PurchaseStatusPaid {
				rows = append(rows, p)
			}
		}
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		})
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}

		out = make([]domain.LatestPurchaser, 0, len(rows))
		for _, p := range rows {
			out = append(out, domain.LatestPurchaser{
				UserID:      p.UserID,
				Username:    p.Username,
				Qty:         p.Qty,
				PurchasedAt: p.CreatedAt,
			})
		}
		return nil
	})
	return out, err
}

// Purchases возвращает все покупки дропа в порядке вставки. Используется в тестах.
func (s *Store) Purchases(ctx context.Context, dropID string) ([]domain.Purchase, error) {
	var out []domain.Purchase
	err := s.run(ctx, func(st *state) error {
		for _, id := range st.purchaseOrder {
			if p := st.purchases[id]; p.DropID == dropID {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}
