package cancellation

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

var tracer = otel.Tracer("github.com/vladislavdragonenkov/drops/internal/service/cancellation")

// Store: то, что сервису отмены нужно от хранилища.
type Store interface {
	domain.TxRunner
	domain.InventoryStore
	domain.ReservationLedger
}

type CancelInput struct {
	ReservationID string
	UserID        string
}

// CancelResult: отменённый резерв и остаток после возврата единицы.
type CancelResult struct {
	Reservation    domain.Reservation
	AvailableStock int
}

// Service отменяет резервы по просьбе владельца.
type Service struct {
	store     Store
	logger    *log.Entry
	clock     clock.Clock
	metrics   *metrics.EngineMetrics
	publisher *notify.Publisher
}

func NewService(store Store, options ...Option) *Service {
	opts := buildOptions(options)
	return &Service{
		store:     store,
		logger:    opts.Logger,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		publisher: opts.Publisher,
	}
}

// Cancel переводит ACTIVE резерв пользователя в CANCELLED и возвращает единицу в остаток.
// Чужой резерв неотличим от несуществующего.
func (s *Service) Cancel(ctx context.Context, in CancelInput) (CancelResult, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "cancellation.Cancel", trace.WithAttributes(
		attribute.String("reservation.id", in.ReservationID),
		attribute.String("user.id", in.UserID),
	))
	defer span.End()

	result, err := s.cancel(ctx, in)
	s.metrics.RecordOperation(metrics.OperationCancel, err, time.Since(started))

	logger := s.logger.WithFields(log.Fields{"reservation_id": in.ReservationID, "user_id": in.UserID})
	switch code := domain.CodeOf(err); {
	case err == nil:
		logger.WithField("available_stock", result.AvailableStock).Debug("reservation cancelled")
	case code == domain.CodeInternal:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithError(err).Error("cancel failed")
	default:
		span.SetAttributes(attribute.String("error.code", string(code)))
		logger.WithField("code", code).Debug("cancel rejected")
	}
	return result, err
}

func (s *Service) cancel(ctx context.Context, in CancelInput) (CancelResult, error) {
	if in.ReservationID == "" || in.UserID == "" {
		return CancelResult{}, domain.ErrInvalidArgument
	}
	now := s.clock.Now()

	var (
		result  CancelResult
		expired bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		result, expired = CancelResult{}, false

		r, err := s.store.LockUserReservation(ctx, in.ReservationID, in.UserID)
		if err != nil {
			return err
		}
		if r.Status != domain.ReservationStatusActive {
			return domain.ErrReservationNotActive
		}

		to := domain.ReservationStatusCancelled
		if r.ExpiredAt(now) {
			to, expired = domain.ReservationStatusExpired, true
		}
		ok, err := s.store.TransitionReservation(ctx, r.ID, to, now)
		if err != nil {
			return fmt.Errorf("transition reservation: %w", err)
		}
		if !ok {
			return domain.ErrReservationNotActive
		}

		available, err := s.store.RestoreStock(ctx, r.DropID, 1, now)
		if err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
		r.Status, r.UpdatedAt = to, now
		result = CancelResult{Reservation: r, AvailableStock: available}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	dropID := result.Reservation.DropID
	if expired {
		s.metrics.RecordRestock(metrics.RestockLazyExpiry, 1)
		s.publisher.Publish(ctx,
			domain.ReservationExpired{DropID: dropID, ReservationID: result.Reservation.ID},
			domain.StockUpdated{DropID: dropID, AvailableStock: result.AvailableStock},
		)
		return CancelResult{}, domain.ErrReservationExpired
	}

	s.metrics.RecordRestock(metrics.RestockCancel, 1)
	s.publisher.Publish(ctx, domain.StockUpdated{DropID: dropID, AvailableStock: result.AvailableStock})
	return result, nil
}
