package reservation

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drops/internal/clock"
	"github.com/vladislavdragonenkov/drops/internal/metrics"
	"github.com/vladislavdragonenkov/drops/internal/service/notify"
)

// DefaultTTL: время жизни резерва, если ни вызов, ни конфигурация его не задали.
const DefaultTTL = 60 * time.Second

// Options задаёт зависимости и параметры сервиса резервирования.
type Options struct {
	Logger    *log.Entry
	Clock     clock.Clock
	TTL       time.Duration
	Metrics   *metrics.EngineMetrics
	Publisher *notify.Publisher
	NewID     func() string
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithClock подменяет источник времени.
func WithClock(c clock.Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithTTL задаёт TTL по умолчанию.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = ttl }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithPublisher подключает рассылку событий.
func WithPublisher(p *notify.Publisher) Option {
	return func(o *Options) { o.Publisher = p }
}

// WithIDGenerator подменяет генератор идентификаторов резервов.
func WithIDGenerator(fn func() string) Option {
	return func(o *Options) { o.NewID = fn }
}

func buildOptions(options []Option) Options {
	opts := Options{TTL: DefaultTTL}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "reservation-service")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return opts
}
