package expiry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
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

var tracer = otel.Tracer("github.com/vladislavdragonenkov/drops/internal/service/expiry")

// Store: то, что свиперу нужно от хранилища.
type Store interface {
	domain.TxRunner
	domain.InventoryStore
	domain.ReservationLedger
}

// Result: итог одного прохода.
type Result struct {
	ExpiredCount int
	// Drops: новые остатки дропов, получивших единицы обратно, по возрастанию id.
	Drops   []domain.DropStock
	Expired []domain.ExpiredReservation
}

// Sweeper периодически переводит просроченные резервы в EXPIRED и возвращает остаток.
type Sweeper struct {
	store     Store
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	clock     clock.Clock
	metrics   *metrics.EngineMetrics
	publisher *notify.Publisher

	inFlight atomic.Bool
	wg       sync.WaitGroup
}

// NewSweeper создаёт свипер.
func NewSweeper(store Store, options ...Option) *Sweeper {
	opts := buildOptions(options)
	return &Sweeper{
		store:     store,
		logger:    opts.Logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		publisher: opts.Publisher,
	}
}

// Run выполняет проход сразу, затем тики до отмены ctx, и дожидается незавершённого тика.
// Тик, наступивший во время предыдущего, пропускается.
func (s *Sweeper) Run(ctx context.Context) {
	if s.store == nil {
		s.logger.Warn("expiry sweeper is disabled: store is nil")
		return
	}

	s.logger.WithFields(log.Fields{
		"interval":   s.interval,
		"batch_size": s.batchSize,
	}).Info("expiry sweeper started")

	defer s.wg.Wait()

	// Резервы, просроченные за время простоя, освобождаются сразу при старте.
	s.startTick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.startTick(ctx)
		}
	}
}

func (s *Sweeper) startTick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.metrics.RecordSweep(metrics.SweepResultSkipped, 0)
		s.logger.Debug("previous sweep still running, tick skipped")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.tick(ctx)
	}()
}

// RunOnce выполняет один тик синхронно. false означает, что тик уже идёт.
func (s *Sweeper) RunOnce(ctx context.Context) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.metrics.RecordSweep(metrics.SweepResultSkipped, 0)
		return false
	}
	defer s.inFlight.Store(false)
	s.tick(ctx)
	return true
}

func (s *Sweeper) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.metrics.SweepStarted()
	defer s.metrics.SweepFinished()

	activated, err := s.store.ActivateDueDrops(ctx, s.clock.Now())
	if err != nil {
		s.logger.WithError(err).Warn("failed to activate scheduled drops")
	} else if activated > 0 {
		s.logger.WithField("count", activated).Info("scheduled drops went live")
	}

	res, err := s.SweepOnce(ctx, s.batchSize)
	if err != nil {
		s.metrics.RecordSweep(metrics.SweepResultError, 0)
		if ctx.Err() == nil {
			s.logger.WithError(err).Error("expiry sweep failed")
		}
		return
	}
	s.metrics.RecordSweep(metrics.SweepResultOK, res.ExpiredCount)
}

// ExpireNow запускает проход с увеличенным батчем по запросу оператора.
func (s *Sweeper) ExpireNow(ctx context.Context) (Result, error) {
	return s.SweepOnce(ctx, OnDemandBatchSize)
}

// SweepOnce в одной транзакции забирает до limit просроченных ACTIVE резервов,
// переводит их в EXPIRED и возвращает единицы в остатки их дропов.
// Резервы, занятые параллельными операциями, пропускаются до следующего прохода.
func (s *Sweeper) SweepOnce(ctx context.Context, limit int) (Result, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "expiry.SweepOnce", trace.WithAttributes(attribute.Int("sweep.limit", limit)))
	defer span.End()

	res, err := s.sweep(ctx, limit)
	s.metrics.RecordOperation(metrics.OperationSweep, err, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	span.SetAttributes(attribute.Int("sweep.expired", res.ExpiredCount))
	if res.ExpiredCount > 0 {
		s.logger.WithFields(log.Fields{
			"expired": res.ExpiredCount,
			"drops":   len(res.Drops),
		}).Info("expired reservations swept")
	}
	return res, nil
}

func (s *Sweeper) sweep(ctx context.Context, limit int) (Result, error) {
	if limit <= 0 {
		return Result{}, domain.ErrInvalidArgument
	}
	now := s.clock.Now()

	var res Result
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		res = Result{}

		claimed, err := s.store.ClaimExpired(ctx, now, limit)
		if err != nil {
			return fmt.Errorf("claim expired: %w", err)
		}
		if len(claimed) == 0 {
			return nil
		}

		perDrop := make(map[string]int, len(claimed))
		expired := make([]domain.ExpiredReservation, 0, len(claimed))
		for _, r := range claimed {
			perDrop[r.DropID]++
			expired = append(expired, domain.ExpiredReservation{ReservationID: r.ID, DropID: r.DropID})
		}

		// Фиксированный порядок обновления дропов исключает взаимные блокировки между свипами.
		dropIDs := make([]string, 0, len(perDrop))
		for id := range perDrop {
			dropIDs = append(dropIDs, id)
		}
		sort.Strings(dropIDs)

		drops := make([]domain.DropStock, 0, len(dropIDs))
		for _, id := range dropIDs {
			available, err := s.store.RestoreStock(ctx, id, perDrop[id], now)
			if err != nil {
				return fmt.Errorf("restore stock for drop %s: %w", id, err)
			}
			drops = append(drops, domain.DropStock{DropID: id, AvailableStock: available})
		}

		res = Result{ExpiredCount: len(claimed), Drops: drops, Expired: expired}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if res.ExpiredCount == 0 {
		return res, nil
	}

	s.metrics.RecordRestock(metrics.RestockSweep, res.ExpiredCount)
	events := make([]domain.ChangeEvent, 0, len(res.Expired)+len(res.Drops))
	for _, e := range res.Expired {
		events = append(events, domain.ReservationExpired{DropID: e.DropID, ReservationID: e.ReservationID})
	}
	for _, d := range res.Drops {
		events = append(events, domain.StockUpdated{DropID: d.DropID, AvailableStock: d.AvailableStock})
	}
	s.publisher.Publish(ctx, events...)
	return res, nil
}
