package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/drops/internal/domain"
)

// TopicDropEvents: топик событий об изменении дропов.
const TopicDropEvents = "drops.events"

// HeaderEventType дублирует тип события в заголовке, чтобы фильтровать без разбора тела.
const HeaderEventType = "x-event-type"

// Envelope: формат сообщения в TopicDropEvents.
type Envelope struct {
	EventType  domain.ChangeEventType `json:"event_type"`
	DropID     string                 `json:"drop_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    json.RawMessage        `json:"payload"`
}

// NewEnvelope упаковывает событие домена.
func NewEnvelope(event domain.ChangeEvent, occurredAt time.Time) (Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", event.EventType(), err)
	}
	return Envelope{
		EventType:  event.EventType(),
		DropID:     event.AggregateID(),
		OccurredAt: occurredAt.UTC(),
		Payload:    payload,
	}, nil
}

// ParseEnvelope разбирает сообщение из TopicDropEvents.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal drop event: %w", err)
	}
	if envelope.EventType == "" {
		return Envelope{}, fmt.Errorf("drop event at offset %d has no type", message.Offset)
	}
	return envelope, nil
}

// StockLevel возвращает остаток из stock_updated. ok=false для других типов.
func (e Envelope) StockLevel() (domain.StockUpdated, bool, error) {
	if e.EventType != domain.EventStockUpdated {
		return domain.StockUpdated{}, false, nil
	}
	var event domain.StockUpdated
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		return domain.StockUpdated{}, false, fmt.Errorf("failed to unmarshal stock_updated: %w", err)
	}
	return event, true, nil
}
