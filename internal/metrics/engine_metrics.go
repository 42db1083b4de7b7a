package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/drops/internal/domain"
)

// Операции движка для label operation.
const (
	OperationReserve  = "reserve"
	OperationPurchase = "purchase"
	OperationCancel   = "cancel"
	OperationSweep    = "sweep"
)

// Источники возврата остатка для label source.
const (
	RestockLazyExpiry = "lazy_expiry"
	RestockCancel     = "cancel"
	RestockSweep      = "sweep"
)

// Результаты тика свипера.
const (
	SweepResultOK      = "ok"
	SweepResultError   = "error"
	SweepResultSkipped = "skipped"
)

const resultOK = "ok"

// EngineMetrics содержит метрики движка резервирования. Методы безопасны для nil-получателя.
type EngineMetrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	stockRestored *prometheus.CounterVec

	sweepRuns     *prometheus.CounterVec
	sweepExpired  prometheus.Counter
	sweepInFlight prometheus.Gauge

	notifyFailures *prometheus.CounterVec
}

// NewEngineMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewEngineMetrics() *EngineMetrics {
	return NewEngineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewEngineMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewEngineMetricsWithRegisterer(registerer prometheus.Registerer) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &EngineMetrics{
		operations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drops_operations_total",
			Help: "Total number of engine operations by result code",
		}, []string{"operation", "result"})),
		operationDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drops_operation_duration_seconds",
			Help:    "Duration of engine operations including the transaction",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"})),
		stockRestored: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drops_stock_restored_units_total",
			Help: "Units returned to available stock by source",
		}, []string{"source"})),
		sweepRuns: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drops_sweep_runs_total",
			Help: "Expiry sweeper ticks by result",
		}, []string{"result"})),
		sweepExpired: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drops_sweep_expired_total",
			Help: "Reservations expired by the sweeper",
		})),
		sweepInFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drops_sweep_in_flight",
			Help: "1 while a sweep is running",
		})),
		notifyFailures: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drops_notify_failures_total",
			Help: "Change events that failed to reach the notifier",
		}, []string{"event"})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(fmt.Sprintf("register collector: %v", err))
		}
		existing, ok := alreadyRegistered.ExistingCollector.(T)
		if !ok {
			panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
		}
		return existing
	}
	return collector
}

// ResultLabel возвращает значение label result: ok или код доменной ошибки.
func ResultLabel(err error) string {
	if err == nil {
		return resultOK
	}
	return string(domain.CodeOf(err))
}

// RecordOperation учитывает завершение операции и её длительность.
func (m *EngineMetrics) RecordOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, ResultLabel(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRestock учитывает возвращённые в остаток единицы.
func (m *EngineMetrics) RecordRestock(source string, units int) {
	if m == nil || units <= 0 {
		return
	}
	m.stockRestored.WithLabelValues(source).Add(float64(units))
}

// RecordSweep учитывает завершённый тик свипера.
func (m *EngineMetrics) RecordSweep(result string, expired int) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	if expired > 0 {
		m.sweepExpired.Add(float64(expired))
	}
}

// SweepStarted и SweepFinished отмечают выполняющийся свип.
func (m *EngineMetrics) SweepStarted() {
	if m == nil {
		return
	}
	m.sweepInFlight.Set(1)
}

func (m *EngineMetrics) SweepFinished() {
	if m == nil {
		return
	}
	m.sweepInFlight.Set(0)
}

// RecordNotifyFailure учитывает событие, которое не удалось передать нотификатору.
func (m *EngineMetrics) RecordNotifyFailure(event domain.ChangeEventType) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(string(event)).Inc()
}
