package purchase

import (
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drops/internal/clock"
	"github.com/vladislavdragonenkov/drops/internal/metrics"
	"github.com/vladislavdragonenkov/drops/internal/service/notify"
)

// LatestPurchasersLimit: сколько последних покупателей уходит в activity_updated.
const LatestPurchasersLimit = 3

// Options задаёт зависимости сервиса покупок.
type Options struct {
	Logger    *log.Entry
	Clock     clock.Clock
	Metrics   *metrics.EngineMetrics
	Publisher *notify.Publisher
	NewID     func() string
}

// Option настраивает Service.
type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

func WithClock(c clock.Clock) Option {
	return func(o *Options) { o.Clock = c }
}

func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

func WithPublisher(p *notify.Publisher) Option {
	return func(o *Options) { o.Publisher = p }
}

// WithIDGenerator подменяет генератор идентификаторов покупок.
func WithIDGenerator(fn func() string) Option {
	return func(o *Options) { o.NewID = fn }
}

func buildOptions(options []Option) Options {
	var opts Options
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "purchase-service")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return opts
}
