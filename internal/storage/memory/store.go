package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/drops/internal/domain"
)

// Store: in-memory реализация хранилища движка для локальной разработки и тестов.
//
// Транзакции сериализуются одним мьютексом и пишут прямо в состояние, а каждая
// запись кладёт в журнал отмены прежнее значение. При ошибке или панике журнал
// проигрывается в обратном порядке, так что откат ведёт себя как в Postgres.
// Стоимость транзакции пропорциональна числу её записей, а не размеру хранилища.
// Терминальные резервы и покупки не удаляются: память растёт с историей.
type Store struct {
	mu    sync.Mutex
	state *state
}

var _ domain.Store = (*Store)(nil)

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{state: newState()}
}

type state struct {
	drops        map[string]domain.Drop
	reservations map[string]domain.Reservation
	// reservationOrder хранит id в порядке вставки, чтобы различать резервы с одинаковым CreatedAt.
	reservationOrder []string
	purchases        map[string]domain.Purchase
	purchaseOrder    []string

	undo []func()
}

func newState() *state {
	return &state{
		drops:        make(map[string]domain.Drop),
		reservations: make(map[string]domain.Reservation),
		purchases:    make(map[string]domain.Purchase),
	}
}

func (s *state) putDrop(d domain.Drop) {
	prev, existed := s.drops[d.ID]
	s.undo = append(s.undo, func() {
		if existed {
			s.drops[d.ID] = prev
		} else {
			delete(s.drops, d.ID)
		}
	})
	s.drops[d.ID] = d
}

func (s *state) putReservation(r domain.Reservation) {
	prev, existed := s.reservations[r.ID]
	s.undo = append(s.undo, func() {
		if existed {
			s.reservations[r.ID] = prev
		} else {
			delete(s.reservations, r.ID)
		}
	})
	s.reservations[r.ID] = r
}

func (s *state) addReservation(r domain.Reservation) {
	n := len(s.reservationOrder)
	s.undo = append(s.undo, func() { s.reservationOrder = s.reservationOrder[:n] })
	s.reservationOrder = append(s.reservationOrder, r.ID)
	s.putReservation(r)
}

func (s *state) addPurchase(p domain.Purchase) {
	_, existed := s.purchases[p.ID]
	n := len(s.purchaseOrder)
	s.undo = append(s.undo, func() {
		s.purchaseOrder = s.purchaseOrder[:n]
		if !existed {
			delete(s.purchases, p.ID)
		}
	})
	s.purchaseOrder = append(s.purchaseOrder, p.ID)
	s.purchases[p.ID] = p
}

// rollback отменяет записи журнала в обратном порядке.
func (s *state) rollback() {
	for i := len(s.undo) - 1; i >= 0; i-- {
		s.undo[i]()
	}
}

type txKey struct{}

type memTx struct {
	owner *Store
	state *state
}

// WithinTx выполняет fn атомарно. Вложенный вызов присоединяется к внешней транзакции.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := s.txFromContext(ctx); tx != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	committed := false
	defer func() {
		if !committed {
			st.rollback()
		}
		st.undo = nil
	}()

	txCtx := context.WithValue(ctx, txKey{}, &memTx{owner: s, state: st})
	if err := fn(txCtx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) txFromContext(ctx context.Context) *memTx {
	tx, ok := ctx.Value(txKey{}).(*memTx)
	if !ok || tx.owner != s {
		return nil
	}
	return tx
}

// run выполняет fn над состоянием текущей транзакции или в отдельной транзакции.
func (s *Store) run(ctx context.Context, fn func(st *state) error) error {
	if tx := s.txFromContext(ctx); tx != nil {
		return fn(tx.state)
	}
	return s.WithinTx(ctx, func(ctx context.Context) error {
		return fn(s.txFromContext(ctx).state)
	})
}
