package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drops/internal/domain"
	"github.com/vladislavdragonenkov/drops/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/drops/internal/service/notify"
)

// initKafkaProducer инициализирует Kafka producer, если brokers не пустой.
// Возвращает nil, nil для пустого списка.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// buildNotifier собирает получателя событий изменений.
// Лог пишется всегда, Kafka добавляется, если producer поднялся.
func buildNotifier(producer *kafka.Producer, topic string, logger *log.Entry) domain.ChangeNotifier {
	logNotifier := notify.NewLogNotifier(logger.WithField("component", "change-log"))
	if producer == nil {
		return logNotifier
	}
	return notify.Fanout{kafka.NewNotifier(producer, topic), logNotifier}
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
