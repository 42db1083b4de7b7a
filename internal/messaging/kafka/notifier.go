package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/drops/internal/clock"
	"github.com/vladislavdragonenkov/drops/internal/domain"
)

type eventPublisher interface {
	PublishEvent(topic, key string, event any, headers ...sarama.RecordHeader) error
}

// Notifier публикует события дропов в Kafka с ключом dropId.
type Notifier struct {
	producer eventPublisher
	topic    string
	clock    clock.Clock
}

// NewNotifier создаёт Kafka-нотификатор. Пустой topic означает TopicDropEvents.
func NewNotifier(producer *Producer, topic string) *Notifier {
	return newNotifier(producer, topic, clock.NewSystem())
}

func newNotifier(producer eventPublisher, topic string, c clock.Clock) *Notifier {
	if topic == "" {
		topic = TopicDropEvents
	}
	return &Notifier{producer: producer, topic: topic, clock: c}
}

// Notify отправляет одно событие. Событие уже зафиксировано в хранилище,
// поэтому отмена ctx вызывающего отправку не прерывает.
func (n *Notifier) Notify(_ context.Context, event domain.ChangeEvent) error {
	if n == nil || n.producer == nil {
		return fmt.Errorf("kafka notifier is not initialized")
	}

	envelope, err := NewEnvelope(event, n.clock.Now())
	if err != nil {
		return err
	}
	header := sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(event.EventType())}
	return n.producer.PublishEvent(n.topic, event.AggregateID(), envelope, header)
}

var _ domain.ChangeNotifier = (*Notifier)(nil)
