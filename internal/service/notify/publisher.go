package notify

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drops/internal/domain"
	"github.com/vladislavdragonenkov/drops/internal/metrics"
)

// Publisher доставляет события нотификатору после фиксации транзакции.
// Ошибки доставки логируются и учитываются в метриках, но операцию не ломают:
// источник истины: хранилище, а рассылка best-effort.
type Publisher struct {
	notifier domain.ChangeNotifier
	logger   *log.Entry
	metrics  *metrics.EngineMetrics
}

// NewPublisher создаёт Publisher. nil-нотификатор допустим: события отбрасываются.
func NewPublisher(notifier domain.ChangeNotifier, logger *log.Entry, m *metrics.EngineMetrics) *Publisher {
	if logger == nil {
		logger = log.WithField("component", "change-publisher")
	}
	return &Publisher{notifier: notifier, logger: logger, metrics: m}
}

// Publish отправляет события по порядку.
func (p *Publisher) Publish(ctx context.Context, events ...domain.ChangeEvent) {
	if p == nil || p.notifier == nil {
		return
	}
	for _, event := range events {
		if err := p.notifier.Notify(ctx, event); err != nil {
			p.metrics.RecordNotifyFailure(event.EventType())
			p.logger.WithError(err).WithFields(log.Fields{
				"event_type": event.EventType(),
				"drop_id":    event.AggregateID(),
			}).Warn("failed to publish change event")
		}
	}
}

// Fanout рассылает событие всем нотификаторам и объединяет ошибки.
type Fanout []domain.ChangeNotifier

// Notify вызывает все нотификаторы, даже если часть из них вернула ошибку.
func (f Fanout) Notify(ctx context.Context, event domain.ChangeEvent) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier пишет события в лог. Используется, когда Kafka не настроена.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "change-log")
	}
	return &LogNotifier{logger: logger}
}

// Notify логирует событие на уровне debug.
func (n *LogNotifier) Notify(_ context.Context, event domain.ChangeEvent) error {
	n.logger.WithFields(log.Fields{
		"event_type": event.EventType(),
		"drop_id":    event.AggregateID(),
		"payload":    event,
	}).Debug("change event")
	return nil
}

var (
	_ domain.ChangeNotifier = Fanout(nil)
	_ domain.ChangeNotifier = (*LogNotifier)(nil)
)
