package expiry

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drops/internal/clock"
	"github.com/vladislavdragonenkov/drops/internal/metrics"
	"github.com/vladislavdragonenkov/drops/internal/service/notify"
)

const (
	// DefaultInterval: период опроса свипера.
	DefaultInterval = 2000 * time.Millisecond
	// DefaultBatchSize: сколько резервов свипер забирает за тик.
	DefaultBatchSize = 500
	// OnDemandBatchSize: размер батча для ручного запуска через ExpireNow.
	OnDemandBatchSize = 2000
)

// Options задаёт параметры свипера.
type Options struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Clock     clock.Clock
	Metrics   *metrics.EngineMetrics
	Publisher *notify.Publisher
}

// Option настраивает Sweeper.
type Option func(*Options)

// WithLogger задаёт logger свипера.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithInterval задаёт период опроса.
func WithInterval(interval time.Duration) Option {
	return func(o *Options) { o.Interval = interval }
}

// WithBatchSize задаёт размер батча за тик.
func WithBatchSize(batchSize int) Option {
	return func(o *Options) { o.BatchSize = batchSize }
}

// WithClock подменяет источник времени.
func WithClock(c clock.Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithMetrics подключает метрики свипера.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithPublisher подключает рассылку событий.
func WithPublisher(p *notify.Publisher) Option {
	return func(o *Options) { o.Publisher = p }
}

func buildOptions(options []Option) Options {
	opts := Options{
		Interval:  DefaultInterval,
		BatchSize: DefaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "expiry-sweeper")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	return opts
}
