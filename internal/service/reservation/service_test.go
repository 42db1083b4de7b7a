package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/drops/internal/clock"
	"github.com/vladislavdragonenkov/drops/internal/domain"
	"github.com/vladislavdragonenkov/drops/internal/service/notify"
	"github.com/vladislavdragonenkov/drops/internal/storage/memory"
)

var testNow = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	clock    *clock.Manual
	recorder *notify.Recorder
	svc      *Service
}

func newFixture(t *testing.T, store Store) *fixture {
	t.Helper()

	mem := memory.NewStore()
	if store == nil {
		store = mem
	} else if wrapped, ok := store.(*faultyStore); ok {
		mem = wrapped.Store
	}

	c := clock.NewManual(testNow)
	rec := &notify.Recorder{}
	svc := NewService(store,
		WithClock(c),
		WithTTL(time.Minute),
		WithPublisher(notify.NewPublisher(rec, nil, nil)),
	)
	return &fixture{store: mem, clock: c, recorder: rec, svc: svc}
}

func (f *fixture) seedDrop(t *testing.T, id string, stock int, mut ...func(*domain.Drop)) {
	t.Helper()

	drop := domain.Drop{
		ID:             id,
		Name:           "drop " + id,
		PriceMinor:     1000,
		TotalStock:     stock,
		AvailableStock: stock,
		Status:         domain.DropStatusLive,
		CreatedAt:      testNow,
	}
	for _, m := range mut {
		m(&drop)
	}
	require.NoError(t, f.store.CreateDrop(context.Background(), drop))
}

func (f *fixture) available(t *testing.T, dropID string) int {
	t.Helper()

	drop, err := f.store.GetDrop(context.Background(), dropID)
	require.NoError(t, err)
	return drop.AvailableStock
}

// faultyStore подменяет отдельные методы memory.Store ошибками.
type faultyStore struct {
	*memory.Store
	insertErr error
	getErr    error
}

func (s *faultyStore) InsertReservation(ctx context.Context, r domain.Reservation) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.Store.InsertReservation(ctx, r)
}

func (s *faultyStore) GetDrop(ctx context.Context, dropID string) (domain.Drop, error) {
	if s.getErr != nil {
		return domain.Drop{}, s.getErr
	}
	return s.Store.GetDrop(ctx, dropID)
}

func TestReserve_LastUnitThenOutOfStock(t *testing.T) {
	f := newFixture(t, nil)
	f.seedDrop(t, "D", 1)

	res, err := f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A", TTL: 60 * time.Second})
	require.NoError(t, err)
	require.Zero(t, res.AvailableStock)
	require.Equal(t, domain.ReservationStatusActive, res.Reservation.Status)
	require.Equal(t, testNow.Add(60*time.Second), res.Reservation.ExpiresAt)
	require.Zero(t, f.available(t, "D"))

	_, err = f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "B", TTL: 60 * time.Second})
	require.ErrorIs(t, err, domain.ErrOutOfStock)
	require.Equal(t, domain.CodeOutOfStock, domain.CodeOf(err))
	require.Zero(t, f.available(t, "D"))
}

func TestReserve_UsesDefaultTTL(t *testing.T) {
	f := newFixture(t, nil)
	f.seedDrop(t, "D", 1)

	res, err := f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A"})
	require.NoError(t, err)
	require.Equal(t, testNow.Add(time.Minute), res.Reservation.ExpiresAt)
	require.Equal(t, time.Minute, f.svc.TTL())
}

func TestReserve_PreconditionFailures(t *testing.T) {
	future := testNow.Add(time.Hour)
	past := testNow.Add(-time.Hour)

	f := newFixture(t, nil)
	f.seedDrop(t, "draft", 5, func(d *domain.Drop) { d.Status = domain.DropStatusDraft })
	f.seedDrop(t, "not-started", 5, func(d *domain.Drop) {
		d.Status = domain.DropStatusScheduled
		d.StartsAt = &future
	})
	f.seedDrop(t, "ended", 5, func(d *domain.Drop) {
		start := past.Add(-time.Hour)
		d.StartsAt, d.EndsAt = &start, &past
	})
	f.seedDrop(t, "empty", 0)

	cases := []struct {
		name string
		in   ReserveInput
		want error
	}{
		{name: "missing drop id", in: ReserveInput{UserID: "A"}, want: domain.ErrInvalidArgument},
		{name: "missing user id", in: ReserveInput{DropID: "draft"}, want: domain.ErrInvalidArgument},
		{name: "unknown drop", in: ReserveInput{DropID: "nope", UserID: "A"}, want: domain.ErrDropNotFound},
		{name: "draft drop", in: ReserveInput{DropID: "draft", UserID: "A"}, want: domain.ErrDropNotActive},
		{name: "scheduled in future", in: ReserveInput{DropID: "not-started", UserID: "A"}, want: domain.ErrDropNotActive},
		{name: "window closed", in: ReserveInput{DropID: "ended", UserID: "A"}, want: domain.ErrDropNotActive},
		{name: "zero stock", in: ReserveInput{DropID: "empty", UserID: "A"}, want: domain.ErrOutOfStock},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Reserve(context.Background(), tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Equal(t, 5, f.available(t, "draft"))
	require.Empty(t, f.recorder.Events())
}

func TestReserve_ScheduledDropBecomesLiveAtStart(t *testing.T) {
	start := testNow.Add(30 * time.Second)

	f := newFixture(t, nil)
	f.seedDrop(t, "D", 2, func(d *domain.Drop) {
		d.Status = domain.DropStatusScheduled
		d.StartsAt = &start
	})

	_, err := f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A"})
	require.ErrorIs(t, err, domain.ErrDropNotActive)

	f.clock.Set(start)
	res, err := f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A"})
	require.NoError(t, err)
	require.Equal(t, 1, res.AvailableStock)

	drop, err := f.store.GetDrop(context.Background(), "D")
	require.NoError(t, err)
	require.Equal(t, domain.DropStatusLive, drop.Status)
}

func TestReserve_AlreadyReservedRollsBackDecrement(t *testing.T) {
	f := newFixture(t, nil)
	f.seedDrop(t, "D", 5)

	_, err := f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A"})
	require.NoError(t, err)
	require.Equal(t, 4, f.available(t, "D"))

	_, err = f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A"})
	require.ErrorIs(t, err, domain.ErrAlreadyReserved)
	require.Equal(t, 4, f.available(t, "D"), "failed insert must roll back its decrement")
}

func TestReserve_LazySelfExpiryFreesTheUser(t *testing.T) {
	f := newFixture(t, nil)
	f.seedDrop(t, "D", 1)

	first, err := f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A"})
	require.NoError(t, err)

	// Граница включительная: expires_at == now уже истёк.
	f.clock.Set(first.Reservation.ExpiresAt)
	f.recorder.Reset()

	second, err := f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A"})
	require.NoError(t, err)
	require.NotEqual(t, first.Reservation.ID, second.Reservation.ID)
	require.Zero(t, second.AvailableStock)

	old, err := f.store.Reservation(context.Background(), first.Reservation.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationStatusExpired, old.Status)

	expired := f.recorder.OfType(domain.EventReservationExpired)
	require.Len(t, expired, 1)
	require.Equal(t, first.Reservation.ID, expired[0].(domain.ReservationExpired).ReservationID)
}

func TestReserve_LazyExpiryIsKeptWhenReserveIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	end := testNow.Add(90 * time.Second)
	f.seedDrop(t, "D", 3, func(d *domain.Drop) { d.EndsAt = &end })

	first, err := f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A"})
	require.NoError(t, err)
	require.Equal(t, 2, f.available(t, "D"))

	// Резерв истёк, окно продаж закрылось.
	f.clock.Set(end)
	_, err = f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A"})
	require.ErrorIs(t, err, domain.ErrDropNotActive)

	require.Equal(t, 3, f.available(t, "D"), "expired hold must be returned to stock")
	old, err := f.store.Reservation(context.Background(), first.Reservation.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationStatusExpired, old.Status)
}

func TestReserve_InfrastructureErrorRollsBackEverything(t *testing.T) {
	faulty := &faultyStore{Store: memory.NewStore()}
	f := newFixture(t, faulty)
	f.seedDrop(t, "D", 2)

	first, err := f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A"})
	require.NoError(t, err)

	f.clock.Set(first.Reservation.ExpiresAt.Add(time.Second))
	faulty.insertErr = errors.New("disk full")

	_, err = f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A"})
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, domain.CodeInternal, domain.CodeOf(err))

	require.Equal(t, 1, f.available(t, "D"))
	old, err := f.store.Reservation(context.Background(), first.Reservation.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ReservationStatusActive, old.Status, "lazy expiry must roll back with the failed insert")
}

func TestReserve_ClassificationReadErrorIsNotDomainError(t *testing.T) {
	faulty := &faultyStore{Store: memory.NewStore(), getErr: fmt.Errorf("connection reset")}
	f := newFixture(t, faulty)
	f.seedDrop(t, "D", 0)

	_, err := f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A"})
	require.ErrorContains(t, err, "connection reset")
}

func TestReserve_EmitsStockUpdated(t *testing.T) {
	f := newFixture(t, nil)
	f.seedDrop(t, "D", 2)

	_, err := f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: "A"})
	require.NoError(t, err)

	events := f.recorder.OfType(domain.EventStockUpdated)
	require.Len(t, events, 1)
	require.Equal(t, domain.StockUpdated{DropID: "D", AvailableStock: 1}, events[0])
}

func TestReserve_ConcurrentCallersNeverOversell(t *testing.T) {
	f := newFixture(t, nil)
	f.seedDrop(t, "D", 10)

	const callers = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		outOfStk int
		other    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Reserve(context.Background(), ReserveInput{DropID: "D", UserID: fmt.Sprintf("user-%d", i)})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrOutOfStock):
				outOfStk++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, other)
	require.Equal(t, 10, success)
	require.Equal(t, 40, outOfStk)
	require.Zero(t, f.available(t, "D"))
}
