package purchase

import (
	"context"
	"errors"
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

var tracer = otel.Tracer("github.com/vladislavdragonenkov/drops/internal/service/purchase")

// Store: то, что сервису покупок нужно от хранилища.
type Store interface {
	domain.TxRunner
	domain.InventoryStore
	domain.ReservationLedger
	domain.PurchaseLedger
	domain.ActivityFeed
}

// PurchaseInput: кто и что покупает. Пустой Username заменяется на UserID.
type PurchaseInput struct {
	DropID   string
	UserID   string
	Username string
}

// PurchaseResult: созданная покупка и финальное состояние резерва.
type PurchaseResult struct {
	Purchase    domain.Purchase
	Reservation domain.Reservation
}

// Service превращает активный резерв в покупку. Остаток не списывает:
// единица уже удержана при резервировании.
type Service struct {
	store     Store
	logger    *log.Entry
	clock     clock.Clock
	metrics   *metrics.EngineMetrics
	publisher *notify.Publisher
	newID     func() string
}

// NewService создаёт сервис покупок.
func NewService(store Store, options ...Option) *Service {
	opts := buildOptions(options)
	return &Service{
		store:     store,
		logger:    opts.Logger,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		publisher: opts.Publisher,
		newID:     opts.NewID,
	}
}

// Purchase оформляет покупку по последнему резерву пользователя на дроп.
func (s *Service) Purchase(ctx context.Context, in PurchaseInput) (PurchaseResult, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "purchase.Purchase", trace.WithAttributes(
		attribute.String("drop.id", in.DropID),
		attribute.String("user.id", in.UserID),
	))
	defer span.End()

	result, err := s.purchase(ctx, in)
	s.metrics.RecordOperation(metrics.OperationPurchase, err, time.Since(started))

	logger := s.logger.WithFields(log.Fields{"drop_id": in.DropID, "user_id": in.UserID})
	switch code := domain.CodeOf(err); {
	case err == nil:
		span.SetAttributes(attribute.String("purchase.id", result.Purchase.ID))
		logger.WithFields(log.Fields{
			"purchase_id":    result.Purchase.ID,
			"reservation_id": result.Reservation.ID,
			"amount_minor":   result.Purchase.AmountMinor,
		}).Info("purchase completed")
	case code == domain.CodeInternal:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithError(err).Error("purchase failed")
	default:
		span.SetAttributes(attribute.String("error.code", string(code)))
		logger.WithField("code", code).Debug("purchase rejected")
	}
	return result, err
}

func (s *Service) purchase(ctx context.Context, in PurchaseInput) (PurchaseResult, error) {
	if in.DropID == "" || in.UserID == "" {
		return PurchaseResult{}, domain.ErrInvalidArgument
	}
	now := s.clock.Now()

	var (
		result   PurchaseResult
		expired  *domain.Reservation
		restored int
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		result, expired = PurchaseResult{}, nil

		r, err := s.store.LockLatestReservation(ctx, in.UserID, in.DropID)
		if err != nil {
			if errors.Is(err, domain.ErrReservationNotFound) {
				return domain.ErrReservationRequired
			}
			return fmt.Errorf("lock reservation: %w", err)
		}
		if r.Status != domain.ReservationStatusActive {
			return domain.ErrReservationNotActive
		}

		if r.ExpiredAt(now) {
			ok, err := s.store.TransitionReservation(ctx, r.ID, domain.ReservationStatusExpired, now)
			if err != nil {
				return fmt.Errorf("expire reservation: %w", err)
			}
			if !ok {
				return domain.ErrReservationConflict
			}
			available, err := s.store.RestoreStock(ctx, r.DropID, 1, now)
			if err != nil {
				return fmt.Errorf("restore stock after expiry: %w", err)
			}
			r.Status, r.UpdatedAt = domain.ReservationStatusExpired, now
			expired, restored = &r, available
			// Фиксируем экспирацию, ошибку вернём после коммита.
			return nil
		}

		ok, err := s.store.TransitionReservation(ctx, r.ID, domain.ReservationStatusConsumed, now)
		if err != nil {
			return fmt.Errorf("consume reservation: %w", err)
		}
		if !ok {
			return domain.ErrReservationConflict
		}
		r.Status, r.UpdatedAt = domain.ReservationStatusConsumed, now

		drop, err := s.store.GetDrop(ctx, in.DropID)
		if err != nil {
			return err
		}
		currency := drop.Currency
		if currency == "" {
			currency = domain.DefaultCurrency
		}

		username := in.Username
		if username == "" {
			username = in.UserID
		}

		p := domain.Purchase{
			ID:            s.newID(),
			UserID:        in.UserID,
			Username:      username,
			DropID:        in.DropID,
			ReservationID: r.ID,
			Qty:           domain.PurchaseQtyPerReservation,
			AmountMinor:   drop.PriceMinor * int64(domain.PurchaseQtyPerReservation),
			Currency:      currency,
			Status:        domain.PurchaseStatusPaid,
			Provider:      domain.PurchaseProviderManual,
			CreatedAt:     now,
		}
		if err := s.store.InsertPurchase(ctx, p); err != nil {
			return err
		}

		result = PurchaseResult{Purchase: p, Reservation: r}
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	if expired != nil {
		s.metrics.RecordRestock(metrics.RestockLazyExpiry, 1)
		s.publisher.Publish(ctx,
			domain.ReservationExpired{DropID: expired.DropID, ReservationID: expired.ID},
			domain.StockUpdated{DropID: expired.DropID, AvailableStock: restored},
		)
		return PurchaseResult{}, domain.ErrReservationExpired
	}

	s.publishCompleted(ctx, result.Purchase)
	return result, nil
}

// publishCompleted рассылает activity_updated и purchase_completed.
// Ошибка чтения ленты не отменяет уже зафиксированную покупку.
func (s *Service) publishCompleted(ctx context.Context, p domain.Purchase) {
	events := make([]domain.ChangeEvent, 0, 2)

	latest, err := s.store.LatestPurchasers(ctx, p.DropID, LatestPurchasersLimit)
	if err != nil {
		s.logger.WithError(err).WithField("drop_id", p.DropID).Warn("failed to load latest purchasers")
	} else {
		events = append(events, domain.ActivityUpdated{DropID: p.DropID, LatestPurchasers: latest})
	}
	events = append(events, domain.PurchaseCompleted{
		DropID:      p.DropID,
		Username:    p.Username,
		PurchasedAt: p.CreatedAt,
	})
	s.publisher.Publish(ctx, events...)
}
