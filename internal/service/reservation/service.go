package reservation

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/drops/internal/clock"
	"github.com/vladislavdragonenkov/drops/internal/domain"
	"github.com/vladislavdragonenkov/drops/internal/metrics"
	"github.com/vladislavdragonenkov/drops/internal/service/notify"
)

var tracer = otel.Tracer("github.com/vladislavdragonenkov/drops/internal/service/reservation")

// Store: то, что сервису нужно от хранилища.
type Store interface {
	domain.TxRunner
	domain.InventoryStore
	domain.ReservationLedger
}

// ReserveInput: параметры резервирования. TTL<=0 означает TTL по умолчанию.
type ReserveInput struct {
	DropID string
	UserID string
	TTL    time.Duration
}

// ReserveResult: созданный резерв и остаток сразу после списания.
type ReserveResult struct {
	Reservation    domain.Reservation
	AvailableStock int
}

// Service создаёт резервы на единицу дропа.
type Service struct {
	store     Store
	logger    *log.Entry
	clock     clock.Clock
	ttl       time.Duration
	metrics   *metrics.EngineMetrics
	publisher *notify.Publisher
	newID     func() string
}

// NewService создаёт сервис резервирования.
func NewService(store Store, options ...Option) *Service {
	opts := buildOptions(options)
	return &Service{
		store:     store,
		logger:    opts.Logger,
		clock:     opts.Clock,
		ttl:       opts.TTL,
		metrics:   opts.Metrics,
		publisher: opts.Publisher,
		newID:     opts.NewID,
	}
}

// TTL возвращает TTL по умолчанию.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Reserve удерживает одну единицу дропа за пользователем.
//
// В одной транзакции: ленивая экспирация собственного просроченного резерва,
// условное списание единицы, вставка ACTIVE резерва. Если списать не удалось,
// причина уточняется повторным чтением дропа; ленивая экспирация при этом
// фиксируется, чтобы возвращённая единица не зависла до следующего свипа.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (ReserveResult, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "reservation.Reserve", trace.WithAttributes(
		attribute.String("drop.id", in.DropID),
		attribute.String("user.id", in.UserID),
	))
	defer span.End()

	result, err := s.reserve(ctx, in)
	s.metrics.RecordOperation(metrics.OperationReserve, err, time.Since(started))

	logger := s.logger.WithFields(log.Fields{"drop_id": in.DropID, "user_id": in.UserID})
	switch code := domain.CodeOf(err); {
	case err == nil:
		span.SetAttributes(attribute.String("reservation.id", result.Reservation.ID))
		logger.WithFields(log.Fields{
			"reservation_id":  result.Reservation.ID,
			"available_stock": result.AvailableStock,
		}).Debug("reservation created")
	case code == domain.CodeInternal:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithError(err).Error("reserve failed")
	default:
		span.SetAttributes(attribute.String("error.code", string(code)))
		logger.WithField("code", code).Debug("reserve rejected")
	}
	return result, err
}

func (s *Service) reserve(ctx context.Context, in ReserveInput) (ReserveResult, error) {
	if in.DropID == "" || in.UserID == "" {
		return ReserveResult{}, domain.ErrInvalidArgument
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.clock.Now()

	var (
		result    ReserveResult
		rejection error
		expired   []domain.Reservation
		restored  = -1
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		result, rejection, expired, restored = ReserveResult{}, nil, nil, -1

		stale, err := s.store.ExpireUserReservations(ctx, in.UserID, in.DropID, now)
		if err != nil {
			return fmt.Errorf("expire stale reservations: %w", err)
		}
		if len(stale) > 0 {
			available, err := s.store.RestoreStock(ctx, in.DropID, len(stale), now)
			if err != nil {
				return fmt.Errorf("restore stock after lazy expiry: %w", err)
			}
			expired, restored = stale, available
		}

		available, ok, err := s.store.DecrementStock(ctx, in.DropID, now)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if !ok {
			rejection = s.classifyRejection(ctx, in.DropID, now)
			if domain.CodeOf(rejection) == domain.CodeInternal {
				return rejection
			}
			// Списания не было: фиксируем только ленивую экспирацию.
			return nil
		}

		r := domain.Reservation{
			ID:        s.newID(),
			UserID:    in.UserID,
			DropID:    in.DropID,
			Status:    domain.ReservationStatusActive,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
			UpdatedAt: now,
		}
		// Конфликт уникальности откатывает и списание, и ленивую экспирацию.
		if err := s.store.InsertReservation(ctx, r); err != nil {
			return err
		}

		result = ReserveResult{Reservation: r, AvailableStock: available}
		return nil
	})
	if err != nil {
		return ReserveResult{}, err
	}

	s.metrics.RecordRestock(metrics.RestockLazyExpiry, len(expired))
	events := make([]domain.ChangeEvent, 0, len(expired)+1)
	for _, r := range expired {
		events = append(events, domain.ReservationExpired{DropID: r.DropID, ReservationID: r.ID})
	}

	if rejection != nil {
		if restored >= 0 {
			events = append(events, domain.StockUpdated{DropID: in.DropID, AvailableStock: restored})
		}
		s.publisher.Publish(ctx, events...)
		return ReserveResult{}, rejection
	}

	events = append(events, domain.StockUpdated{DropID: in.DropID, AvailableStock: result.AvailableStock})
	s.publisher.Publish(ctx, events...)
	return result, nil
}

// classifyRejection объясняет, почему условное списание не затронуло строк.
// Исчерпание остатка конкурентной транзакцией тоже считается OUT_OF_STOCK.
func (s *Service) classifyRejection(ctx context.Context, dropID string, now time.Time) error {
	drop, err := s.store.GetDrop(ctx, dropID)
	if err != nil {
		return err
	}
	if !drop.ReservableAt(now) {
		return domain.ErrDropNotActive
	}
	return domain.ErrOutOfStock
}
