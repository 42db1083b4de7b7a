package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vladislavdragonenkov/drops/internal/domain"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()

	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)

	var total float64
	for metric := range ch {
		var m dto.Metric
		if err := metric.Write(&m); err != nil {
			t.Fatalf("write metric: %v", err)
		}
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		}
	}
	return total
}

func TestNewEngineMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewEngineMetricsWithRegisterer(reg)
	second := NewEngineMetricsWithRegisterer(reg)

	first.RecordSweep(SweepResultOK, 2)
	if got := counterValue(t, second.sweepExpired); got != 2 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestRecordOperation_LabelsByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetricsWithRegisterer(reg)

	m.RecordOperation(OperationReserve, nil, 3*time.Millisecond)
	m.RecordOperation(OperationReserve, domain.ErrOutOfStock, time.Millisecond)
	m.RecordOperation(OperationReserve, domain.ErrOutOfStock, time.Millisecond)

	if got := counterValue(t, m.operations.WithLabelValues(OperationReserve, "ok")); got != 1 {
		t.Fatalf("expected 1 ok reserve, got %v", got)
	}
	if got := counterValue(t, m.operations.WithLabelValues(OperationReserve, string(domain.CodeOutOfStock))); got != 2 {
		t.Fatalf("expected 2 OUT_OF_STOCK reserves, got %v", got)
	}
}

func TestResultLabel(t *testing.T) {
	if got := ResultLabel(nil); got != "ok" {
		t.Fatalf("expected ok, got %s", got)
	}
	if got := ResultLabel(domain.ErrReservationExpired); got != "RESERVATION_EXPIRED" {
		t.Fatalf("unexpected label %s", got)
	}
	if got := ResultLabel(errors.New("db down")); got != "INTERNAL" {
		t.Fatalf("unexpected label %s", got)
	}
}

func TestRecordRestockAndSweepGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetricsWithRegisterer(reg)

	m.RecordRestock(RestockSweep, 3)
	m.RecordRestock(RestockSweep, 0)
	if got := counterValue(t, m.stockRestored.WithLabelValues(RestockSweep)); got != 3 {
		t.Fatalf("expected 3 restored units, got %v", got)
	}

	m.SweepStarted()
	if got := counterValue(t, m.sweepInFlight); got != 1 {
		t.Fatalf("expected in-flight gauge 1, got %v", got)
	}
	m.SweepFinished()
	if got := counterValue(t, m.sweepInFlight); got != 0 {
		t.Fatalf("expected in-flight gauge 0, got %v", got)
	}
}

func TestNilEngineMetricsIsNoop(t *testing.T) {
	var m *EngineMetrics

	m.RecordOperation(OperationCancel, nil, time.Millisecond)
	m.RecordRestock(RestockCancel, 1)
	m.RecordSweep(SweepResultSkipped, 0)
	m.SweepStarted()
	m.SweepFinished()
	m.RecordNotifyFailure(domain.EventStockUpdated)
}
